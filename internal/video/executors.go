package video

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"framepipe/internal/artifacts"
	"framepipe/internal/config"
	"framepipe/internal/deps"
	"framepipe/internal/logging"
	"framepipe/internal/media/ffmpeg"
	"framepipe/internal/media/ffprobe"
	"framepipe/internal/services"
	"framepipe/internal/stage"
	"framepipe/internal/workdir"
)

// Dependencies wires the video stages to their collaborators.
type Dependencies struct {
	Config    *config.Config
	Media     Media
	Artifacts artifacts.Store
	Logger    *slog.Logger
}

type activities struct {
	cfg     *config.Config
	media   Media
	store   artifacts.Store
	logger  *slog.Logger
	schemas payloadSchemas
	every   int
	graph   string
}

// Executors returns the analyze, extract, and process executors keyed by
// stage name, ready for worker registration.
func Executors(d Dependencies) (map[string]stage.Executor, error) {
	if d.Config == nil {
		return nil, errors.New("video executors: config required")
	}
	if d.Artifacts == nil {
		return nil, errors.New("video executors: artifact store required")
	}
	if d.Media == nil {
		d.Media = NewMedia(d.Config)
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	every := d.Config.Media.HeartbeatEveryFrames
	if every <= 0 {
		every = 10
	}
	a := &activities{
		cfg:     d.Config,
		media:   d.Media,
		store:   d.Artifacts,
		logger:  logging.NewComponentLogger(d.Logger, "video"),
		schemas: schemas,
		every:   every,
		graph:   ffmpeg.EdgeGraph(d.Config.Media.BlurSigma, d.Config.Media.EdgeLow, d.Config.Media.EdgeHigh),
	}
	return map[string]stage.Executor{
		StageAnalyze: &executor{name: StageAnalyze, run: a.analyze, media: d.Media, binaries: []string{"FFprobe"}},
		StageExtract: &executor{name: StageExtract, run: a.extract, media: d.Media, binaries: []string{"FFmpeg"}},
		StageProcess: &executor{name: StageProcess, run: a.process, media: d.Media, binaries: []string{"FFmpeg"}},
	}, nil
}

// executor adapts one activity to stage.Executor and stage.HealthChecker.
type executor struct {
	name     string
	run      stage.ExecutorFunc
	media    Media
	binaries []string
}

func (e *executor) Execute(ctx context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
	return e.run(ctx, in, hb)
}

func (e *executor) HealthCheck(context.Context) stage.Health {
	r, ok := e.media.(requirer)
	if !ok {
		return stage.Health{Name: e.name, Ready: true}
	}
	var needed []deps.Requirement
	for _, req := range r.Requirements() {
		for _, name := range e.binaries {
			if req.Name == name {
				needed = append(needed, req)
			}
		}
	}
	if missing := deps.Missing(deps.CheckBinaries(needed)); len(missing) > 0 {
		return stage.Health{Name: e.name, Ready: false, Detail: missing[0].Detail}
	}
	return stage.Health{Name: e.name, Ready: true}
}

func (a *activities) analyze(ctx context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
	var req AnalyzeInput
	if err := a.schemas.decode(in, &req); err != nil {
		return nil, err
	}
	if err := checkFile(in.Stage, req.Source); err != nil {
		return nil, err
	}
	hb.Report(0, "probing "+filepath.Base(req.Source))

	result, err := a.media.Probe(ctx, req.Source)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrExecution, in.Stage, "probe", "ffprobe failed", err)
	}
	if result.VideoStreamCount() == 0 {
		return nil, services.Wrap(services.ErrInvalidInput, in.Stage, "probe", "no video stream in "+filepath.Base(req.Source), nil)
	}
	meta := metadataFrom(result)
	if meta.FPS <= 0 || meta.FrameCount <= 0 {
		return nil, services.Wrap(services.ErrInvalidInput, in.Stage, "probe",
			fmt.Sprintf("video reports fps=%.3f frames=%d", meta.FPS, meta.FrameCount), nil)
	}
	hb.Report(1, fmt.Sprintf("%dx%d, %d frames", meta.Width, meta.Height, meta.FrameCount))

	logging.WithContext(ctx, a.logger).Info("video analyzed",
		logging.String("source", req.Source),
		logging.Int("width", meta.Width),
		logging.Int("height", meta.Height),
		logging.Float64("fps", meta.FPS),
		logging.Int("frame_count", meta.FrameCount),
		logging.Int64("size_bytes", result.SizeBytes()),
		logging.String(logging.FieldEventType, "video_analyzed"),
	)
	return stage.EncodeOutput(in.Stage, meta)
}

func metadataFrom(result ffprobe.Result) Metadata {
	width, height := result.Dimensions()
	meta := Metadata{
		Width:      width,
		Height:     height,
		FPS:        result.FrameRate(),
		FrameCount: result.FrameCount(),
	}
	if meta.FPS > 0 {
		meta.Duration = float64(meta.FrameCount) / meta.FPS
	}
	return meta
}

func (a *activities) extract(ctx context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
	var req ExtractInput
	if err := a.schemas.decode(in, &req); err != nil {
		return nil, err
	}
	if err := checkFile(in.Stage, req.Source); err != nil {
		return nil, err
	}
	total := req.Metadata.FrameCount
	next := a.every
	report := func(done int) {
		if done < next {
			return
		}
		hb.ReportCount(done, total, fmt.Sprintf("extracted %d/%d frames", done, total))
		next = (done/a.every + 1) * a.every
	}

	dir := filepath.Join(workdir.RunDir(a.cfg.Paths.WorkDir, in.RunID), "frames")
	frames, err := a.media.ExtractFrames(ctx, ffmpeg.ExtractRequest{Source: req.Source, OutputDir: dir}, report)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrExecution, in.Stage, "extract frames", "ffmpeg failed", err)
	}
	if len(frames) == 0 {
		return nil, services.Wrap(services.ErrInvalidInput, in.Stage, "extract frames", "no frames decoded", nil)
	}
	hb.ReportCount(len(frames), len(frames), fmt.Sprintf("extracted %d frames", len(frames)))

	logging.WithContext(ctx, a.logger).Info("frames extracted",
		logging.String("source", req.Source),
		logging.Int("frames", len(frames)),
		logging.Int("expected_frames", total),
		logging.String("frame_dir", dir),
		logging.String(logging.FieldEventType, "frames_extracted"),
	)
	return stage.EncodeOutput(in.Stage, FrameList{Frames: frames})
}

func (a *activities) process(ctx context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
	var req FrameList
	if err := a.schemas.decode(in, &req); err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, a.logger)
	scratch := filepath.Join(workdir.RunDir(a.cfg.Paths.WorkDir, in.RunID), "processed")
	total := len(req.Frames)

	published := make([]string, 0, total)
	missing := 0
	for i, frame := range req.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if (i+1)%a.every == 0 {
			hb.ReportCount(i+1, total, fmt.Sprintf("processing frame %d/%d", i+1, total))
		}
		if err := checkFile(in.Stage, frame); err != nil {
			missing++
			logger.Warn("frame unreadable; skipping",
				logging.String("frame", frame),
				logging.Error(err),
				logging.String(logging.FieldEventType, "frame_skipped"),
			)
			continue
		}
		name := fmt.Sprintf("processed_%06d.png", i)
		tmp := filepath.Join(scratch, name)
		if err := a.media.FilterImage(ctx, ffmpeg.FilterRequest{Input: frame, Output: tmp, Graph: a.graph}); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("frame could not be filtered; skipping",
				logging.String("frame", frame),
				logging.Error(err),
				logging.String(logging.FieldEventType, "frame_skipped"),
			)
			continue
		}
		location, err := a.store.PutFile(ctx, in.RunID+"/"+name, tmp)
		if err != nil {
			return nil, services.Wrap(services.ErrExecution, in.Stage, "publish frame", name, err)
		}
		published = append(published, location)
	}

	switch {
	case len(published) > 0:
	case missing == total:
		return nil, services.Wrap(services.ErrNotFound, in.Stage, "process frames", "none of the input frames exist", nil)
	default:
		return nil, services.Wrap(services.ErrExecution, in.Stage, "process frames", "no frame could be processed", nil)
	}
	hb.ReportCount(total, total, fmt.Sprintf("processed %d frames", len(published)))

	logger.Info("frames processed",
		logging.Int("frames", total),
		logging.Int("published", len(published)),
		logging.Int("skipped", total-len(published)),
		logging.String(logging.FieldEventType, "frames_processed"),
	)
	return stage.EncodeOutput(in.Stage, FrameList{Frames: published})
}

// checkFile verifies that path names a readable regular file.
func checkFile(stageName, path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return services.Wrap(services.ErrNotFound, stageName, "open", fmt.Sprintf("%s does not exist", path), nil)
	case err != nil:
		return services.Wrap(services.ErrExecution, stageName, "open", fmt.Sprintf("stat %s", path), err)
	case info.IsDir():
		return services.Wrap(services.ErrInvalidInput, stageName, "open", fmt.Sprintf("%s is a directory", path), nil)
	}
	return nil
}
