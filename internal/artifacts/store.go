package artifacts

import (
	"context"
	"fmt"
	"path"
	"strings"

	"framepipe/internal/config"
	"framepipe/internal/services"
)

// Store reads and writes artifacts by key.
type Store interface {
	// Read returns the artifact bytes.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write stores data under key and returns its location.
	Write(ctx context.Context, key string, data []byte) (string, error)
	// PutFile uploads the file at src under key and returns its location.
	PutFile(ctx context.Context, key, src string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Location renders where key lives without touching the backend.
	Location(key string) string
}

// Open builds the backend selected in cfg.Artifacts.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("artifacts: config required")
	}
	switch cfg.Artifacts.Backend {
	case "", config.ArtifactsLocal:
		return NewLocal(cfg.Paths.OutputDir)
	case config.ArtifactsMinio:
		return NewMinio(ctx, MinioConfig{
			Endpoint:  cfg.Artifacts.Endpoint,
			AccessKey: cfg.Artifacts.AccessKey,
			SecretKey: cfg.Artifacts.SecretKey,
			Bucket:    cfg.Artifacts.Bucket,
			Region:    cfg.Artifacts.Region,
			Prefix:    cfg.Artifacts.Prefix,
			UseSSL:    cfg.Artifacts.UseSSL,
		})
	default:
		return nil, fmt.Errorf("artifacts: unknown backend %q", cfg.Artifacts.Backend)
	}
}

// cleanKey normalizes key and rejects keys that escape the store root.
func cleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", services.Wrap(services.ErrInvalidInput, "", "artifact key", fmt.Sprintf("invalid key %q", key), nil)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+trimmed), "/")
	if cleaned == "" {
		return "", services.Wrap(services.ErrInvalidInput, "", "artifact key", "empty key", nil)
	}
	return cleaned, nil
}

func notFound(key string, cause error) error {
	return services.Wrap(services.ErrNotFound, "", "artifact read", fmt.Sprintf("artifact %q not found", key), cause)
}
