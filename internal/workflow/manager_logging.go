package workflow

import (
	"context"
	"log/slog"

	"framepipe/internal/logging"
	"framepipe/internal/services"
)

func (m *Manager) runLogger(ctx context.Context, runID string) *slog.Logger {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := services.RunIDFromContext(ctx); !ok {
		ctx = services.WithRunID(ctx, runID)
	}
	return logging.WithContext(ctx, base)
}
