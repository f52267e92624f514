package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"framepipe/internal/artifacts"
	"framepipe/internal/config"
	"framepipe/internal/logging"
	"framepipe/internal/media/ffmpeg"
	"framepipe/internal/media/ffprobe"
	"framepipe/internal/stage"
	"framepipe/internal/testsupport"
)

// fakeMedia stands in for ffprobe/ffmpeg and writes placeholder frames.
type fakeMedia struct {
	mu        sync.Mutex
	probe     ffprobe.Result
	probeErr  error
	frames    int
	filterErr map[string]error
	probes    int
	filtered  []string
}

func probeResult(frames int, rate string) ffprobe.Result {
	return ffprobe.Result{Streams: []ffprobe.Stream{{
		CodecType:    "video",
		Width:        64,
		Height:       48,
		AvgFrameRate: rate,
		NBFrames:     fmt.Sprint(frames),
	}}}
}

func (f *fakeMedia) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.probe, f.probeErr
}

func (f *fakeMedia) ExtractFrames(ctx context.Context, req ffmpeg.ExtractRequest, progress func(int)) ([]string, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, err
	}
	for i := 0; i < f.frames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := filepath.Join(req.OutputDir, fmt.Sprintf(ffmpeg.FramePattern, i))
		if err := os.WriteFile(name, []byte("frame"), 0o644); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(i + 1)
		}
	}
	return ffmpeg.ListFrames(req.OutputDir)
}

func (f *fakeMedia) FilterImage(ctx context.Context, req ffmpeg.FilterRequest) error {
	f.mu.Lock()
	err := f.filterErr[req.Input]
	f.filtered = append(f.filtered, req.Input)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(req.Output, []byte("edges:"+req.Graph), 0o644)
}

type fixture struct {
	cfg       *config.Config
	media     *fakeMedia
	store     *artifacts.Local
	executors map[string]stage.Executor
}

func newFixture(t *testing.T, media *fakeMedia) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := artifacts.NewLocal(cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	executors, err := Executors(Dependencies{Config: cfg, Media: media, Artifacts: store, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("Executors: %v", err)
	}
	return &fixture{cfg: cfg, media: media, store: store, executors: executors}
}

// recorder collects emitted heartbeats.
type recorder struct {
	mu      sync.Mutex
	records []stage.HeartbeatRecord
}

func (r *recorder) sink(record stage.HeartbeatRecord) {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()
}

func (r *recorder) progress() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Progress
	}
	return out
}

func (f *fixture) run(t *testing.T, stageName, payload string) (stage.Output, *recorder, error) {
	t.Helper()
	rec := &recorder{}
	hb := stage.NewHeartbeat("run-1", stageName, "test", 1, 0, rec.sink)
	in := stage.Input{RunID: "run-1", Stage: stageName, Attempt: 1, Payload: []byte(payload)}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := f.executors[stageName].Execute(ctx, in, hb)
	return out, rec, err
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

var errProbe = errors.New("moov atom not found")

func configStage(timeout, attempts int) config.Stage {
	return config.Stage{Timeout: timeout, MaximumAttempts: attempts}
}
