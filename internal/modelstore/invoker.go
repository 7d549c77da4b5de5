package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Ключи входа и результата batch inference.
const (
	InputModelVersion = "modelVersion"
	InputTargets      = "targets"
)

// ErrVersionRequired — версия не передана и не опубликована.
var ErrVersionRequired = errors.New("model version is required for batch inference")

// CurrentVersionInvoker — обёртка над сервисом batch inference.
//
// При запуске:
//  1. Если во входе нет modelVersion, берёт текущую версию из Store
//  2. Если последний segment job с той же версией и теми же целями
//     выполняется или завершён, возвращает {skipped, isCompleted}
//     без обращения к сервису
//  3. Иначе запускает job и записывает его в Store
//
// При poll обновляет статус записанного job.
type CurrentVersionInvoker struct {
	inner  engine.Service
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewCurrentVersionInvoker создаёт обёртку.
func NewCurrentVersionInvoker(inner engine.Service, store Store, logger *slog.Logger) *CurrentVersionInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CurrentVersionInvoker{
		inner:  inner,
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// Invoke реализует engine.Invoker.
func (c *CurrentVersionInvoker) Invoke(ctx context.Context, req engine.InvokeRequest) (domain.InvokeResult, error) {
	input := make(map[string]any, len(req.Input)+1)
	for k, v := range req.Input {
		input[k] = v
	}

	version := VersionFrom(input)
	if version == "" {
		current, err := c.store.CurrentVersion(ctx)
		if err != nil {
			if errors.Is(err, ErrNoVersion) {
				return domain.InvokeResult{}, ErrVersionRequired
			}
			return domain.InvokeResult{}, fmt.Errorf("read current version: %w", err)
		}
		version = current.Version
	}
	input[InputModelVersion] = version
	targets := stringList(input[InputTargets])

	last, err := c.store.LastSegmentJob(ctx)
	switch {
	case err == nil && last.Covers(version, targets):
		c.logger.Info("segment job already covers request, skipping",
			"execution_id", req.ExecutionID,
			"job_id", last.JobID,
			"model_version", version,
			"job_status", last.Status,
		)
		return domain.InvokeResult{
			Skipped:   true,
			Completed: true,
			Fields: map[string]any{
				"skipped":           true,
				"isCompleted":       true,
				InputModelVersion:   version,
				"coveringJobId":     last.JobID,
				"coveringJobStatus": last.Status,
			},
		}, nil
	case err != nil && !errors.Is(err, ErrNoSegmentJob):
		return domain.InvokeResult{}, fmt.Errorf("read last segment job: %w", err)
	}

	req.Input = input
	result, err := c.inner.Invoke(ctx, req)
	if err != nil {
		return domain.InvokeResult{}, err
	}

	status := SegmentJobRunning
	if result.AlreadySatisfied() {
		status = SegmentJobCompleted
	}
	job := SegmentJob{
		JobID:        result.Handle.ID,
		ModelVersion: version,
		Targets:      targets,
		Status:       status,
		ExecutionID:  req.ExecutionID,
		CreatedAt:    c.now(),
	}
	if err := c.store.RecordSegmentJob(ctx, job); err != nil {
		// Job уже запущен, ошибка учёта только логируется
		c.logger.Error("failed to record segment job",
			"execution_id", req.ExecutionID,
			"job_id", job.JobID,
			"error", err,
		)
	}

	if result.Fields == nil {
		result.Fields = map[string]any{}
	}
	result.Fields[InputModelVersion] = version
	return result, nil
}

// Poll реализует engine.Poller и обновляет учёт job.
func (c *CurrentVersionInvoker) Poll(ctx context.Context, handle domain.JobHandle) (domain.PollResult, error) {
	result, err := c.inner.Poll(ctx, handle)
	if err != nil {
		return result, err
	}

	var status string
	switch result.State {
	case domain.JobSucceeded:
		status = SegmentJobCompleted
	case domain.JobFailed:
		status = SegmentJobFailed
	default:
		return result, nil
	}

	last, err := c.store.LastSegmentJob(ctx)
	if err != nil || last.JobID != handle.ID || last.Status == status {
		return result, nil
	}

	now := c.now()
	last.Status = status
	last.CompletedAt = &now
	last.ErrorMessage = result.FailureReason
	if err := c.store.RecordSegmentJob(ctx, last); err != nil {
		c.logger.Error("failed to update segment job", "job_id", handle.ID, "error", err)
	}
	return result, nil
}

// VersionFrom извлекает версию модели из результата стадии.
func VersionFrom(fields map[string]any) string {
	for _, key := range []string{InputModelVersion, "solutionVersionArn"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// stringList приводит []any / []string к []string.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}
