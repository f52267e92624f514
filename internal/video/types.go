package video

import "framepipe/internal/config"

// Stage names of the video pipeline.
const (
	StageAnalyze = config.StageAnalyze
	StageExtract = config.StageExtract
	StageProcess = config.StageProcess
)

// PipelineName is the name the video pipeline registers under.
const PipelineName = "video"

// Metadata describes the source video. Duration is in seconds.
type Metadata struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Duration   float64 `json:"duration"`
}

// AnalyzeInput is the analyze stage payload.
type AnalyzeInput struct {
	Source string `json:"source"`
}

// ExtractInput is the extract stage payload.
type ExtractInput struct {
	Source   string   `json:"source"`
	Metadata Metadata `json:"metadata"`
}

// FrameList is the extract output and the process payload and output.
type FrameList struct {
	Frames []string `json:"frames"`
}
