package modelstore

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Ошибки хранилища.
var (
	// ErrNoVersion — текущая версия модели ещё не опубликована.
	ErrNoVersion = errors.New("no current model version")

	// ErrNoSegmentJob — segment job ещё не запускался.
	ErrNoSegmentJob = errors.New("no segment job recorded")
)

// Статусы segment job.
const (
	SegmentJobRunning   = "RUNNING"
	SegmentJobCompleted = "COMPLETED"
	SegmentJobFailed    = "FAILED"
)

// ModelVersion — указатель на текущую версию модели.
// Единственная запись, которая переживает execution.
type ModelVersion struct {
	// Version — идентификатор версии (например, ARN solution version).
	Version string `json:"version"`

	// ExecutionID — execution, опубликовавший версию.
	ExecutionID string `json:"execution_id,omitempty"`

	// UpdatedAt — время публикации.
	UpdatedAt time.Time `json:"updated_at"`
}

// SegmentJob — учёт последнего batch inference job.
type SegmentJob struct {
	JobID        string     `json:"job_id"`
	ModelVersion string     `json:"model_version"`
	Targets      []string   `json:"targets,omitempty"`
	Status       string     `json:"status"`
	ExecutionID  string     `json:"execution_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Covers проверяет, покрывает ли job запрос (та же версия и те же цели)
// и жив ли он (выполняется или завершён успешно).
func (j SegmentJob) Covers(version string, targets []string) bool {
	if j.ModelVersion != version {
		return false
	}
	if j.Status != SegmentJobRunning && j.Status != SegmentJobCompleted {
		return false
	}
	return slices.Equal(normalize(j.Targets), normalize(targets))
}

// Store — хранилище указателя версии и учёта segment job.
type Store interface {
	CurrentVersion(ctx context.Context) (ModelVersion, error)
	SetCurrentVersion(ctx context.Context, v ModelVersion) error
	RecordSegmentJob(ctx context.Context, job SegmentJob) error
	LastSegmentJob(ctx context.Context) (SegmentJob, error)
}

// normalize сортирует и убирает дубликаты.
func normalize(targets []string) []string {
	out := slices.Clone(targets)
	slices.Sort(out)
	return slices.Compact(out)
}
