// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe against a single file and decodes the first video
// stream together with the container format. Helper methods on Result turn
// the string-typed ffprobe fields into frame rate, frame count, dimensions,
// and duration values usable by the analyze stage.
package ffprobe
