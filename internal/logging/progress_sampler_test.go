package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 5},
		{"default bucket size for negative", -1, 5},
		{"custom bucket size", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
		})
	}
}

func TestProgressSampler_NilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("run", 50, "stage") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Forget("run") // should not panic
}

func TestProgressSampler_StageChange(t *testing.T) {
	s := NewProgressSampler(10)

	if !s.ShouldLog("run", 0, "extract") {
		t.Error("first stage should log")
	}
	if s.ShouldLog("run", 0, "extract") {
		t.Error("same stage and percent should not log again")
	}
	if !s.ShouldLog("run", 0, "process") {
		t.Error("different stage should log")
	}
}

func TestProgressSampler_Buckets(t *testing.T) {
	s := NewProgressSampler(10)
	s.ShouldLog("run", 0, "extract")

	if s.ShouldLog("run", 9.9, "extract") {
		t.Error("progress within the same bucket should not log")
	}
	if !s.ShouldLog("run", 10, "extract") {
		t.Error("crossing a bucket boundary should log")
	}
	if s.ShouldLog("run", 5, "extract") {
		t.Error("moving backwards should not log")
	}
	if !s.ShouldLog("run", 100, "extract") {
		t.Error("completion should log")
	}
	if s.ShouldLog("run", 120, "extract") {
		t.Error("values past 100 clamp to the final bucket")
	}
}

func TestProgressSampler_TracksRunsIndependently(t *testing.T) {
	s := NewProgressSampler(10)
	s.ShouldLog("a", 50, "extract")
	if !s.ShouldLog("b", 50, "extract") {
		t.Error("a second run should not inherit the first run's bucket")
	}
	s.Forget("a")
	if !s.ShouldLog("a", 50, "extract") {
		t.Error("forgotten run should log again")
	}
}
