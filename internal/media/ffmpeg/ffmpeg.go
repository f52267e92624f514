package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FramePattern is the file name pattern for extracted frames.
const FramePattern = "frame_%06d.png"

// Option configures the client.
type Option func(*Client)

// WithRunner injects a custom runner (primarily for tests).
func WithRunner(r Runner) Option {
	return func(c *Client) {
		if r != nil {
			c.runner = r
		}
	}
}

// Client wraps ffmpeg CLI interactions.
type Client struct {
	binary string
	runner Runner
}

// New constructs an ffmpeg client.
func New(binary string, opts ...Option) *Client {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	c := &Client{binary: binary, runner: commandRunner{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExtractRequest describes a frame extraction.
type ExtractRequest struct {
	Source    string
	OutputDir string
}

// ExtractFrames decodes every frame of req.Source into req.OutputDir as
// frame_000000.png, frame_000001.png, ... and returns the paths in frame
// order. progress receives the running frame count as ffmpeg reports it.
func (c *Client) ExtractFrames(ctx context.Context, req ExtractRequest, progress func(frames int)) ([]string, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, errors.New("extract frames: source required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, errors.New("extract frames: output directory required")
	}
	if err := os.RemoveAll(req.OutputDir); err != nil {
		return nil, fmt.Errorf("prepare frame directory: %w", err)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}

	args := []string{
		"-hide_banner", "-nostdin", "-v", "error", "-y",
		"-i", req.Source,
		"-fps_mode", "passthrough",
		"-start_number", "0",
		"-progress", "pipe:1", "-nostats",
		filepath.Join(req.OutputDir, FramePattern),
	}
	last := -1
	err := c.runner.Run(ctx, c.binary, args, func(line string) {
		frames, ok := ParseProgressFrame(line)
		if !ok || frames == last || progress == nil {
			return
		}
		last = frames
		progress(frames)
	})
	if err != nil {
		return nil, fmt.Errorf("ffmpeg extract frames: %w", err)
	}
	return ListFrames(req.OutputDir)
}

// ParseProgressFrame extracts the frame counter from a -progress line such
// as "frame=120".
func ParseProgressFrame(line string) (int, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found || key != "frame" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ListFrames returns the extracted frame files in dir sorted by frame number.
func ListFrames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// FilterRequest describes a single image filter pass.
type FilterRequest struct {
	Input  string
	Output string
	Graph  string
}

// FilterImage applies req.Graph to one image and writes req.Output.
func (c *Client) FilterImage(ctx context.Context, req FilterRequest) error {
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
		return errors.New("filter image: input and output required")
	}
	if dir := filepath.Dir(req.Output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create filter output directory: %w", err)
		}
	}
	args := []string{"-hide_banner", "-nostdin", "-v", "error", "-y", "-i", req.Input}
	if graph := strings.TrimSpace(req.Graph); graph != "" {
		args = append(args, "-vf", graph)
	}
	args = append(args, "-frames:v", "1", req.Output)
	if err := c.runner.Run(ctx, c.binary, args, nil); err != nil {
		return fmt.Errorf("ffmpeg filter image: %w", err)
	}
	return nil
}

// EdgeGraph builds the grayscale, Gaussian blur, and edge detection filter
// graph. low and high are thresholds in the 0..1 range.
func EdgeGraph(sigma, low, high float64) string {
	parts := []string{"format=gray"}
	if sigma > 0 {
		parts = append(parts, "gblur=sigma="+formatFloat(sigma))
	}
	parts = append(parts, fmt.Sprintf("edgedetect=low=%s:high=%s:mode=wires", formatFloat(low), formatFloat(high)))
	return strings.Join(parts, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
