package logging

import (
	"strings"
	"sync"
)

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when a run moves to a new stage or crosses a percentage bucket. It tracks
// each run independently and is safe for concurrent use.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	runs       map[string]sampleState
}

type sampleState struct {
	stage  string
	bucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the stage changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, runs: make(map[string]sampleState)}
}

// ShouldLog reports whether a progress event for runID should be logged.
// Percent can be negative to indicate "unknown"; stage is trimmed before
// comparison.
func (s *ProgressSampler) ShouldLog(runID string, percent float64, stage string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, seen := s.runs[runID]
	if !seen {
		state = sampleState{bucket: -1}
	}
	stage = strings.TrimSpace(stage)
	emit := false
	if stage != "" && stage != state.stage {
		state.stage = stage
		state.bucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > state.bucket {
			state.bucket = bucket
			emit = true
		}
	}
	s.runs[runID] = state
	return emit
}

// Forget clears the sampler state for a run once it stops.
func (s *ProgressSampler) Forget(runID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}
