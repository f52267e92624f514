// Package workdir manages the per-run scratch directories that hold extracted
// and processed frames under the configured work_dir.
package workdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"framepipe/internal/logging"
)

// CleanResult contains the outcome of a cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// RunDir returns the scratch directory for a run.
func RunDir(root, runID string) string {
	return filepath.Join(root, runID)
}

// RemoveRun deletes the scratch directory of a single run. A missing
// directory is not an error.
func RemoveRun(root, runID string) error {
	root = strings.TrimSpace(root)
	runID = strings.TrimSpace(runID)
	if root == "" || runID == "" {
		return nil
	}
	if runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("invalid run id %q", runID)
	}
	if err := os.RemoveAll(RunDir(root, runID)); err != nil {
		return fmt.Errorf("remove work dir for %s: %w", runID, err)
	}
	return nil
}

// CleanStale removes run directories not modified within maxAge. Directories
// named in keep belong to active runs and are never removed. A non-positive
// maxAge disables the pass.
func CleanStale(ctx context.Context, root string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	if maxAge <= 0 {
		return result
	}
	entries, ok := readRoot(root, &result)
	if !ok {
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		if _, active := keep[entry.Name()]; active {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if removeDir(dirPath, "stale", &result, logger) && logger != nil {
			logger.Info("removed stale work directory",
				logging.String(logging.FieldRunID, entry.Name()),
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "workdir_cleanup"))
		}
	}
	return result
}

// CleanOrphaned removes run directories whose run id is not in known.
func CleanOrphaned(ctx context.Context, root string, known map[string]struct{}, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	entries, ok := readRoot(root, &result)
	if !ok {
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		if _, found := known[entry.Name()]; found {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		if removeDir(dirPath, "orphaned", &result, logger) && logger != nil {
			logger.Info("removed orphaned work directory",
				logging.String(logging.FieldRunID, entry.Name()),
				logging.String("path", dirPath),
				logging.String(logging.FieldEventType, "workdir_cleanup"))
		}
	}
	return result
}

func readRoot(root string, result *CleanResult) ([]os.DirEntry, bool) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, false
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return nil, false
	}
	return entries, true
}

func removeDir(dirPath, reason string, result *CleanResult, logger *slog.Logger) bool {
	if err := os.RemoveAll(dirPath); err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
		if logger != nil {
			logger.Warn("failed to remove "+reason+" work directory",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workdir_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String("impact", "disk space not reclaimed"))
		}
		return false
	}
	result.Removed = append(result.Removed, dirPath)
	return true
}
