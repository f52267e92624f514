package video

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"framepipe/internal/config"
	"framepipe/internal/retry"
	"framepipe/internal/runstore"
	"framepipe/internal/services"
	"framepipe/internal/workflow"
)

// NewPipeline builds the analyze → extract → process pipeline with timeouts
// and retry policies taken from cfg.
func NewPipeline(cfg *config.Config) workflow.Pipeline {
	spec := func(name string, input workflow.InputFunc) workflow.StageSpec {
		return workflow.StageSpec{
			Name:             name,
			Input:            input,
			Timeout:          cfg.StageTimeout(name),
			HeartbeatTimeout: cfg.StageHeartbeatTimeout(name),
			Retry:            StagePolicy(cfg, name),
		}
	}
	return workflow.Pipeline{
		Name: PipelineName,
		Stages: []workflow.StageSpec{
			spec(StageAnalyze, analyzeInput),
			spec(StageExtract, extractInput),
			spec(StageProcess, processInput),
		},
		RunTimeout: cfg.RunTimeout(),
	}
}

// StagePolicy converts the configured retry settings for one stage.
func StagePolicy(cfg *config.Config, name string) retry.Policy {
	policy := retry.Policy{
		InitialInterval: time.Duration(cfg.Retry.InitialInterval) * time.Second,
		MaximumInterval: time.Duration(cfg.Retry.MaximumInterval) * time.Second,
		MaximumAttempts: cfg.StageMaxAttempts(name),
		Jitter:          cfg.Retry.Jitter,
	}
	for _, kind := range cfg.Retry.NonRetryable {
		policy.NonRetryable = append(policy.NonRetryable, services.ParseKind(kind))
	}
	return policy
}

func analyzeInput(source string, _ []runstore.StageResult) (json.RawMessage, error) {
	return json.Marshal(AnalyzeInput{Source: strings.TrimSpace(source)})
}

func extractInput(source string, prior []runstore.StageResult) (json.RawMessage, error) {
	if len(prior) < 1 {
		return nil, fmt.Errorf("extract needs the analyze result")
	}
	var meta Metadata
	if err := json.Unmarshal(prior[0].Output, &meta); err != nil {
		return nil, fmt.Errorf("decode analyze result: %w", err)
	}
	return json.Marshal(ExtractInput{Source: strings.TrimSpace(source), Metadata: meta})
}

func processInput(_ string, prior []runstore.StageResult) (json.RawMessage, error) {
	if len(prior) < 2 {
		return nil, fmt.Errorf("process needs the extract result")
	}
	var frames FrameList
	if err := json.Unmarshal(prior[1].Output, &frames); err != nil {
		return nil, fmt.Errorf("decode extract result: %w", err)
	}
	return json.Marshal(frames)
}

// ProcessedFrames returns the published frame locations from a completed
// run's stage outputs.
func ProcessedFrames(outputs []json.RawMessage) ([]string, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("run has no outputs")
	}
	var frames FrameList
	if err := json.Unmarshal(outputs[len(outputs)-1], &frames); err != nil {
		return nil, fmt.Errorf("decode process result: %w", err)
	}
	return frames.Frames, nil
}
