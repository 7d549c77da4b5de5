package objects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/Conveyor/internal/engine"
)

// Ошибки публикации.
var (
	// ErrMissingJobID — в результате стадии нет jobId.
	ErrMissingJobID = errors.New("stage output has no jobId")

	// ErrEmptyPrefix — префикс назначения не задан.
	ErrEmptyPrefix = errors.New("destination prefix is empty")
)

// IdentityPublisher — финализатор identity resolution.
//
// Копирует успешный результат matching-job
// ({Source}/{jobId}/success/*) в префикс интегрированных данных.
// Перед копированием префикс назначения полностью очищается.
type IdentityPublisher struct {
	Store  Store
	Bucket string

	// SourcePrefix — префикс, куда сервис пишет результаты job.
	SourcePrefix string

	// DestPrefix — префикс интегрированных данных.
	DestPrefix string

	Logger *slog.Logger
}

// Finalize реализует engine.Finalizer.
func (p *IdentityPublisher) Finalize(ctx context.Context, req engine.FinalizeRequest) (map[string]any, error) {
	jobID, _ := req.Output["jobId"].(string)
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	if strings.Trim(p.DestPrefix, "/") == "" {
		return nil, ErrEmptyPrefix
	}

	logger := p.logger().With("execution_id", req.ExecutionID, "stage", req.Stage)
	src := strings.TrimRight(p.SourcePrefix, "/") + "/" + jobID + "/success/"
	dst := dirPrefix(p.DestPrefix)

	// 1. Очищаем назначение
	existing, err := p.Store.List(ctx, p.Bucket, dst)
	if err != nil {
		return nil, fmt.Errorf("list destination: %w", err)
	}
	if len(existing) > 0 {
		if err := p.Store.Delete(ctx, p.Bucket, existing); err != nil {
			return nil, fmt.Errorf("clear destination: %w", err)
		}
		logger.Info("cleared integrated prefix", "prefix", dst, "deleted", len(existing))
	}

	// 2. Копируем результат job
	keys, err := p.Store.List(ctx, p.Bucket, src)
	if err != nil {
		return nil, fmt.Errorf("list job output: %w", err)
	}

	copied := 0
	for _, key := range keys {
		target := dst + strings.TrimPrefix(key, src)
		if err := p.Store.Copy(ctx, p.Bucket, key, target); err != nil {
			return nil, err
		}
		copied++
	}

	logger.Info("published identity resolution output",
		"source", URI(p.Bucket, src),
		"destination", URI(p.Bucket, dst),
		"copied", copied,
	)

	return map[string]any{
		"integratedLocation": URI(p.Bucket, dst),
		"copiedObjects":      copied,
	}, nil
}

func (p *IdentityPublisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
