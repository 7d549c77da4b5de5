package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/engine"
)

// ErrMissingVersion — стадия версионирования не вернула версию.
var ErrMissingVersion = errors.New("stage output has no model version")

// VersionPublisher — финализатор version_model: публикует новую
// версию как текущую.
type VersionPublisher struct {
	Store  Store
	Now    func() time.Time
	Logger *slog.Logger
}

// Finalize реализует engine.Finalizer.
func (p *VersionPublisher) Finalize(ctx context.Context, req engine.FinalizeRequest) (map[string]any, error) {
	version := VersionFrom(req.Output)
	if version == "" {
		return nil, ErrMissingVersion
	}

	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	if err := p.Store.SetCurrentVersion(ctx, ModelVersion{
		Version:     version,
		ExecutionID: req.ExecutionID,
		UpdatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("publish model version: %w", err)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("model version published",
		"execution_id", req.ExecutionID,
		"model_version", version,
	)

	return map[string]any{InputModelVersion: version}, nil
}
