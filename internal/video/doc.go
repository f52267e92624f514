// Package video implements the analyze, extract, and process stages of the
// frame pipeline and the pipeline definition that chains them.
//
// analyze probes a source video with ffprobe and returns its Metadata.
// extract decodes every frame into the run's work directory. process applies
// a Gaussian blur and edge detection to each frame and publishes the result
// through an artifacts.Store. Payloads are validated against embedded JSON
// schemas before any work starts, so malformed input fails as invalid_input
// and is never retried.
package video
