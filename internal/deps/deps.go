package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"framepipe/internal/config"
)

// Requirement defines an external dependency framepipe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// MediaRequirements lists the binaries the video stages execute.
func MediaRequirements(cfg *config.Config) []Requirement {
	ffprobe, ffmpeg := "ffprobe", "ffmpeg"
	if cfg != nil {
		ffprobe, ffmpeg = cfg.Media.FFprobeBinary, cfg.Media.FFmpegBinary
	}
	return []Requirement{
		{Name: "FFprobe", Command: ffprobe, Description: "Reads video metadata for the analyze stage"},
		{Name: "FFmpeg", Command: ffmpeg, Description: "Decodes and filters frames for the extract and process stages"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
