package workflow

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"framepipe/internal/retry"
	"framepipe/internal/runstore"
)

func noopInput(string, []runstore.StageResult) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func validPipeline() Pipeline {
	return Pipeline{
		Name: "video",
		Stages: []StageSpec{
			{Name: "analyze", Input: noopInput, Retry: retry.DefaultPolicy()},
			{Name: "extract", Input: noopInput, Retry: retry.DefaultPolicy()},
		},
		RunTimeout: time.Hour,
	}
}

func TestPipelineValidate(t *testing.T) {
	if err := validPipeline().Validate(); err != nil {
		t.Fatalf("expected valid pipeline, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Pipeline)
		want   string
	}{
		{"missing name", func(p *Pipeline) { p.Name = " " }, "name is required"},
		{"no stages", func(p *Pipeline) { p.Stages = nil }, "no stages"},
		{"duplicate stage", func(p *Pipeline) { p.Stages[1].Name = "analyze" }, "duplicate stage"},
		{"missing input", func(p *Pipeline) { p.Stages[0].Input = nil }, "no input function"},
		{"negative timeout", func(p *Pipeline) { p.Stages[0].Timeout = -time.Second }, "negative timeout"},
		{"bad retry", func(p *Pipeline) { p.Stages[1].Retry.InitialInterval = 0 }, "initial interval"},
		{"negative run timeout", func(p *Pipeline) { p.RunTimeout = -1 }, "negative run timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			tt.mutate(&p)
			err := p.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestStageLabel(t *testing.T) {
	cases := map[string]string{
		"analyze":       "Analyze",
		"frame_extract": "Frame Extract",
		"post-process":  "Post Process",
		"  ":            "",
	}
	for in, want := range cases {
		if got := stageLabel(in); got != want {
			t.Fatalf("stageLabel(%q) = %q, want %q", in, got, want)
		}
	}
	if got := validPipeline().StageNames(); strings.Join(got, ",") != "analyze,extract" {
		t.Fatalf("unexpected stage names %v", got)
	}
}
