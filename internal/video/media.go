package video

import (
	"context"

	"framepipe/internal/config"
	"framepipe/internal/deps"
	"framepipe/internal/media/ffmpeg"
	"framepipe/internal/media/ffprobe"
)

// Media is the tooling the stages drive. The default implementation shells
// out to ffprobe and ffmpeg.
type Media interface {
	Probe(ctx context.Context, path string) (ffprobe.Result, error)
	ExtractFrames(ctx context.Context, req ffmpeg.ExtractRequest, progress func(frames int)) ([]string, error)
	FilterImage(ctx context.Context, req ffmpeg.FilterRequest) error
}

// requirer is implemented by Media backends that depend on external binaries.
type requirer interface {
	Requirements() []deps.Requirement
}

type cliMedia struct {
	cfg     *config.Config
	ffprobe string
	ffmpeg  *ffmpeg.Client
}

// NewMedia returns the ffprobe/ffmpeg backed Media configured by cfg.
func NewMedia(cfg *config.Config, opts ...ffmpeg.Option) Media {
	return &cliMedia{
		cfg:     cfg,
		ffprobe: cfg.Media.FFprobeBinary,
		ffmpeg:  ffmpeg.New(cfg.Media.FFmpegBinary, opts...),
	}
}

func (m *cliMedia) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	return ffprobe.Inspect(ctx, m.ffprobe, path)
}

func (m *cliMedia) ExtractFrames(ctx context.Context, req ffmpeg.ExtractRequest, progress func(int)) ([]string, error) {
	return m.ffmpeg.ExtractFrames(ctx, req, progress)
}

func (m *cliMedia) FilterImage(ctx context.Context, req ffmpeg.FilterRequest) error {
	return m.ffmpeg.FilterImage(ctx, req)
}

func (m *cliMedia) Requirements() []deps.Requirement {
	return deps.MediaRequirements(m.cfg)
}
