package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"framepipe/internal/retry"
	"framepipe/internal/runstore"
)

// InputFunc computes a stage payload from the run input and the results of
// every earlier stage. It must be a pure function of its arguments.
type InputFunc func(source string, prior []runstore.StageResult) (json.RawMessage, error)

// StageSpec configures one stage of a pipeline.
type StageSpec struct {
	Name             string
	Input            InputFunc
	Timeout          time.Duration
	HeartbeatTimeout time.Duration
	Retry            retry.Policy
}

// Pipeline is a fixed, ordered list of stages.
type Pipeline struct {
	Name       string
	Stages     []StageSpec
	RunTimeout time.Duration
}

// Validate checks that stage names are unique and every policy is usable.
func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %s: no stages", p.Name)
	}
	seen := make(map[string]struct{}, len(p.Stages))
	for i, spec := range p.Stages {
		if strings.TrimSpace(spec.Name) == "" {
			return fmt.Errorf("pipeline %s: stage %d has no name", p.Name, i)
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("pipeline %s: duplicate stage %q", p.Name, spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if spec.Input == nil {
			return fmt.Errorf("pipeline %s: stage %s has no input function", p.Name, spec.Name)
		}
		if spec.Timeout < 0 || spec.HeartbeatTimeout < 0 {
			return fmt.Errorf("pipeline %s: stage %s has a negative timeout", p.Name, spec.Name)
		}
		if err := spec.Retry.Validate(); err != nil {
			return fmt.Errorf("pipeline %s: stage %s: %w", p.Name, spec.Name, err)
		}
	}
	if p.RunTimeout < 0 {
		return fmt.Errorf("pipeline %s: negative run timeout", p.Name)
	}
	return nil
}

// StageNames lists the stage names in order.
func (p Pipeline) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, spec := range p.Stages {
		names[i] = spec.Name
	}
	return names
}

// stageLabel turns a stage name such as "frame_extract" into "Frame Extract".
func stageLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return cases.Title(language.Und).String(strings.NewReplacer("_", " ", "-", " ").Replace(name))
}
