package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// cancelAttempts — сколько раз Cancel перечитывает запись при конфликте версий.
const cancelAttempts = 3

// StartExecution создаёт PENDING execution для триггера и сразу возвращается.
//
// Повторный триггер с тем же ключом идемпотентности возвращает
// существующий execution (created = false).
func (o *Orchestrator) StartExecution(ctx context.Context, trigger domain.Trigger) (exec *domain.Execution, created bool, err error) {
	if _, ok := o.pipelines.Get(trigger.Pipeline); !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownPipeline, trigger.Pipeline)
	}

	if trigger.IdempotencyKey != "" {
		existing, err := o.store.GetByIdempotencyKey(ctx, trigger.Pipeline, trigger.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	exec = domain.NewExecution(trigger, o.now())
	if err := o.store.Create(ctx, exec); err != nil {
		// Гонка двух триггеров с одним ключом
		if errors.Is(err, repo.ErrAlreadyExists) && trigger.IdempotencyKey != "" {
			existing, gerr := o.store.GetByIdempotencyKey(ctx, trigger.Pipeline, trigger.IdempotencyKey)
			if gerr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create execution: %w", err)
	}

	source := trigger.Source
	if source == "" {
		source = "unknown"
	}
	telemetry.ExecutionsStarted.WithLabelValues(exec.Pipeline, source).Inc()

	o.logger.Info("execution created",
		"execution_id", exec.ID,
		"pipeline", exec.Pipeline,
		"source", source,
		"idempotency_key", exec.IdempotencyKey,
	)

	o.notify(ctx, exec.ID)
	return exec, true, nil
}

// notify будит оркестратор: через очередь, если есть publisher,
// иначе локальным kick. Без доставки execution всё равно подхватит tick.
func (o *Orchestrator) notify(ctx context.Context, id uuid.UUID) {
	if o.publisher == nil {
		o.kick()
		return
	}
	if err := o.publisher.PublishExecutionPending(ctx, id); err != nil {
		o.logger.Warn("failed to publish execution.pending", "execution_id", id, "error", err)
	}
}

// Status возвращает execution со статусом, последней стадией и Context.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return o.store.GetByID(ctx, id)
}

// List возвращает executions по фильтру.
func (o *Orchestrator) List(ctx context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error) {
	return o.store.List(ctx, filter)
}

// Cancel переводит нетерминальный execution в FAILED ("execution cancelled")
// и прерывает его текущий шаг в этом процессе. Внешний job не
// останавливается.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		exec, err := o.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.IsFinished() {
			return exec, ErrExecutionFinished
		}

		exec.MarkFailed(o.now(), exec.CurrentStage, ErrCancelled.Error())
		err = o.store.Update(ctx, exec)
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cancel execution: %w", err)
		}

		o.active.cancel(id)
		o.logger.Info("execution cancelled", "execution_id", id, "stage", exec.FailedStage)
		o.finished(ctx, exec)
		return exec, nil
	}
	return nil, fmt.Errorf("cancel execution: %w", repo.ErrConflict)
}

// Pipelines возвращает реестр pipeline.
func (o *Orchestrator) Pipelines() Pipelines {
	return o.pipelines
}
