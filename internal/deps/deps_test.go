package deps

import (
	"os"
	"path/filepath"
	"testing"

	"framepipe/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestMediaRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Media.FFmpegBinary = "/opt/ffmpeg/bin/ffmpeg"
	reqs := MediaRequirements(&cfg)
	if len(reqs) != 2 || reqs[0].Command != "ffprobe" || reqs[1].Command != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("unexpected requirements %#v", reqs)
	}
	if got := MediaRequirements(nil); got[1].Command != "ffmpeg" {
		t.Fatalf("unexpected default requirements %#v", got)
	}
}
