package engine

import (
	"context"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Имена стадий. Имя стадии одновременно её ключ в Context.
const (
	StageIdentityResolution = string(domain.JobKindIdentityResolution)
	StageDatasetImport      = string(domain.JobKindDatasetImport)
	StageTrainModel         = string(domain.JobKindModelTraining)
	StageVersionModel       = string(domain.JobKindModelVersion)
	StageBatchInference     = string(domain.JobKindBatchInference)
)

// InvokeRequest — запрос на запуск job.
type InvokeRequest struct {
	// ExecutionID — execution, от имени которого запускается job.
	ExecutionID string

	// Stage — имя стадии.
	Stage string

	// Input — read-only проекция Context.
	Input map[string]any
}

// IdempotencyKey возвращает ключ, по которому сервис может отбросить
// повторный запуск той же стадии.
func (r InvokeRequest) IdempotencyKey() string {
	return r.ExecutionID + "/" + r.Stage
}

// Invoker запускает внешний job.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (domain.InvokeResult, error)
}

// Poller опрашивает состояние job по handle.
type Poller interface {
	Poll(ctx context.Context, handle domain.JobHandle) (domain.PollResult, error)
}

// Service — внешний job-сервис с контрактом start/status.
type Service interface {
	Invoker
	Poller
}

// FinalizeRequest — вход финализатора стадии.
type FinalizeRequest struct {
	ExecutionID string
	Stage       string

	// Output — накопленный результат стадии (acceptance + poll).
	Output map[string]any
}

// Finalizer обрабатывает результат завершённой стадии
// (копирование файлов, публикация версии модели и т.п.).
// Возвращённые поля дописываются в ключ стадии.
type Finalizer interface {
	Finalize(ctx context.Context, req FinalizeRequest) (map[string]any, error)
}

// FinalizerFunc — адаптер функции к Finalizer.
type FinalizerFunc func(ctx context.Context, req FinalizeRequest) (map[string]any, error)

// Finalize вызывает f.
func (f FinalizerFunc) Finalize(ctx context.Context, req FinalizeRequest) (map[string]any, error) {
	return f(ctx, req)
}

// CompletionFunc — предикат завершения job.
type CompletionFunc func(domain.PollResult) bool

// SkipFunc — skip-ahead gate: true означает "работа уже выполнена".
type SkipFunc func(domain.InvokeResult) bool

// Succeeded — предикат завершения по умолчанию.
func Succeeded(r domain.PollResult) bool {
	return r.State == domain.JobSucceeded
}

// SkipWhenSatisfied — gate по полю "already satisfied" результата запуска.
func SkipWhenSatisfied(r domain.InvokeResult) bool {
	return r.AlreadySatisfied()
}

// StageDescriptor — описание одной стадии pipeline.
type StageDescriptor struct {
	// Name — имя стадии.
	Name string

	// Kind — тип job, который запускает стадия.
	Kind domain.JobKind

	// Invoke — запуск job.
	Invoke Invoker

	// Poll — опрос job. Nil — стадия fire-and-forget.
	Poll Poller

	// Completed — предикат завершения (default: Succeeded).
	Completed CompletionFunc

	// InputPath — ключ Context, из которого берётся вход.
	// Пустой — payload триггера.
	InputPath string

	// OutputKey — ключ Context для результата (default: Name).
	OutputKey string

	// Skip — skip-ahead gate. Nil — gate нет.
	Skip SkipFunc

	// Finalize — обработка результата перед запечатыванием ключа.
	Finalize Finalizer

	// Next — индекс следующей стадии (Terminal для последней).
	Next int
}

// Key возвращает ключ Context стадии.
func (s *StageDescriptor) Key() string {
	if s.OutputKey != "" {
		return s.OutputKey
	}
	return s.Name
}

// completed возвращает предикат с учётом default.
func (s *StageDescriptor) completed() CompletionFunc {
	if s.Completed != nil {
		return s.Completed
	}
	return Succeeded
}
