// Package ffmpeg wraps the ffmpeg CLI for the frame pipeline.
//
// ExtractFrames decodes every frame of a video into numbered PNG files and
// streams frame counts from ffmpeg's -progress output. FilterImage runs a
// single-image filter graph, used for the blur and edge detection pass.
// Command execution goes through a Runner so tests can substitute a fake.
package ffmpeg
