package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// step — чем закончился один шаг продвижения.
type step int

const (
	stepContinue step = iota // курсор сдвинут, продолжаем
	stepSuspend              // ждём следующего poll
	stepDone                 // execution в терминальном статусе
)

// advance продвигает execution, пока оно не приостановится на poll
// или не завершится.
//
// Ошибка возвращается только для инфраструктурных проблем (запись,
// конфликт версий, отмена ctx). Отказ стадии записывается в execution
// как FAILED и ошибкой не считается.
func (o *Orchestrator) advance(ctx context.Context, exec *domain.Execution, logger *slog.Logger) error {
	p, ok := o.pipelines.Get(exec.Pipeline)
	if !ok {
		_, err := o.fail(ctx, exec, "", fmt.Errorf("%w: %s", ErrUnknownPipeline, exec.Pipeline), logger)
		return err
	}

	if exec.Status == domain.ExecutionStatusPending {
		exec.MarkRunning(o.now())
		exec.Cursor = p.Entry()
		if err := o.save(ctx, exec); err != nil {
			return err
		}
		logger.Info("execution started", "stages", p.StageNames())
	}

	for exec.Cursor != engine.Terminal {
		if err := ctx.Err(); err != nil {
			return err
		}

		stage, err := stageAt(p, exec)
		if err != nil {
			_, err = o.fail(ctx, exec, exec.CurrentStage, err, logger)
			return err
		}

		var next step
		if exec.PendingJob == nil {
			next, err = o.invoke(ctx, p, exec, stage, logger)
		} else {
			next, err = o.check(ctx, p, exec, stage, logger)
		}
		if err != nil || next != stepContinue {
			return err
		}
	}

	return o.succeed(ctx, exec, logger)
}

// stageAt возвращает стадию под курсором и сверяет записанную позицию
// с текущей топологией pipeline: курсор должен указывать либо на
// стадию в работе, либо на преемника последней завершённой стадии.
func stageAt(p *engine.Pipeline, exec *domain.Execution) (*engine.StageDescriptor, error) {
	stage, ok := p.Stage(exec.Cursor)
	if !ok {
		return nil, fmt.Errorf("%w: cursor %d is out of range", ErrTopologyChanged, exec.Cursor)
	}

	switch {
	case exec.CurrentStage != "":
		if exec.CurrentStage != stage.Name {
			return nil, fmt.Errorf("%w: cursor %d is %q, recorded stage %q",
				ErrTopologyChanged, exec.Cursor, stage.Name, exec.CurrentStage)
		}
	case exec.LastStage != "":
		prev, ok := p.Index(exec.LastStage)
		if !ok || p.Stages[prev].Next != exec.Cursor {
			return nil, fmt.Errorf("%w: %q does not follow completed stage %q",
				ErrTopologyChanged, stage.Name, exec.LastStage)
		}
	case exec.Cursor != p.Entry():
		return nil, fmt.Errorf("%w: cursor %d is not the entry stage", ErrTopologyChanged, exec.Cursor)
	}
	return stage, nil
}

// invoke запускает стадию под курсором.
//
// Маркер Invoking записывается до вызова сервиса: если процесс упадёт
// до записи handle, повторного запуска не будет. Сам вызов и запись его
// результата не прерываются ни Stop, ни Cancel: ограничены они только
// арендой.
func (o *Orchestrator) invoke(ctx context.Context, p *engine.Pipeline, exec *domain.Execution, stage *engine.StageDescriptor, logger *slog.Logger) (step, error) {
	if exec.Invoking {
		return o.fail(ctx, exec, stage.Name, &engine.StageError{Stage: stage.Name, Err: ErrInvokeIndeterminate}, logger)
	}

	started := o.now()
	exec.EnterStage(stage.Name)
	exec.StageStartedAt = &started
	exec.Invoking = true
	if err := o.save(ctx, exec); err != nil {
		return stepDone, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.lease)
	defer cancel()

	spanCtx, span := o.startSpan(ctx, "stage.invoke", exec, stage.Name)
	outcome, err := p.InvokeStage(spanCtx, exec.ID.String(), exec.Cursor, exec.Context)
	endSpan(span, err)

	if err != nil {
		telemetry.StageInvocations.WithLabelValues(stage.Name, "error").Inc()
		return o.fail(ctx, exec, stage.Name, err, logger)
	}

	if outcome.Done {
		if outcome.Skipped {
			telemetry.StageInvocations.WithLabelValues(stage.Name, "skipped").Inc()
			logger.Info("stage already satisfied, skipping to terminal", "stage", stage.Name)
		} else {
			telemetry.StageInvocations.WithLabelValues(stage.Name, "completed").Inc()
			telemetry.ObserveStageDuration(stage.Name, started, o.now())
			logger.Info("stage completed without polling", "stage", stage.Name)
		}
		exec.Advance(outcome.Next)
		if err := o.save(ctx, exec); err != nil {
			return stepDone, err
		}
		return stepContinue, nil
	}

	telemetry.StageInvocations.WithLabelValues(stage.Name, "started").Inc()
	exec.Suspend(outcome.Handle, p.NextWake(o.now()))
	if err := o.save(ctx, exec); err != nil {
		return stepDone, err
	}

	logger.Info("stage invoked",
		"stage", stage.Name,
		"job_id", outcome.Handle.ID,
		"job_kind", outcome.Handle.Kind,
		"next_wake_at", exec.NextWakeAt,
	)
	return stepSuspend, nil
}

// check выполняет одну итерацию WaitPollLoop для pending job.
func (o *Orchestrator) check(ctx context.Context, p *engine.Pipeline, exec *domain.Execution, stage *engine.StageDescriptor, logger *slog.Logger) (step, error) {
	loop := p.Loop(exec.Cursor)
	if loop == nil {
		err := fmt.Errorf("%w: stage %s has a pending job but no poller", ErrTopologyChanged, stage.Name)
		return o.fail(ctx, exec, stage.Name, err, logger)
	}

	spanCtx, span := o.startSpan(ctx, "stage.poll", exec, stage.Name)
	res, err := loop.Check(spanCtx, *exec.PendingJob)
	span.SetAttributes(attribute.String("conveyor.outcome", res.Outcome.String()))
	endSpan(span, err)

	exec.Polls += res.Attempts

	if err != nil {
		if ctx.Err() != nil {
			return stepDone, ctx.Err()
		}
		telemetry.StagePolls.WithLabelValues(stage.Name, "error").Inc()
		return o.fail(ctx, exec, stage.Name, &engine.StageError{Stage: stage.Name, Err: err}, logger)
	}
	telemetry.StagePolls.WithLabelValues(stage.Name, res.Outcome.String()).Inc()

	switch res.Outcome {
	case engine.OutcomePending:
		if res.TransientErr != nil {
			logger.Warn("poll failed transiently, rescheduling",
				"stage", stage.Name,
				"attempts", res.Attempts,
				"error", res.TransientErr,
			)
		}
		exec.Reschedule(p.NextWake(o.now()))
		if err := o.save(ctx, exec); err != nil {
			return stepDone, err
		}
		logger.Debug("job still running", "stage", stage.Name, "polls", exec.Polls)
		return stepSuspend, nil

	case engine.OutcomeFailed:
		err := &engine.StageError{Stage: stage.Name, Err: engine.JobFailure(res.Result)}
		return o.fail(ctx, exec, stage.Name, err, logger)
	}

	spanCtx, span = o.startSpan(ctx, "stage.finalize", exec, stage.Name)
	next, err := p.CompleteStage(spanCtx, exec.ID.String(), exec.Cursor, exec.Context, res.Result)
	endSpan(span, err)
	if err != nil {
		if ctx.Err() != nil {
			return stepDone, ctx.Err()
		}
		return o.fail(ctx, exec, stage.Name, err, logger)
	}

	if exec.StageStartedAt != nil {
		telemetry.ObserveStageDuration(stage.Name, *exec.StageStartedAt, o.now())
	}
	logger.Info("stage completed", "stage", stage.Name, "polls", exec.Polls)

	exec.Advance(next)
	if err := o.save(ctx, exec); err != nil {
		return stepDone, err
	}
	return stepContinue, nil
}

func (o *Orchestrator) succeed(ctx context.Context, exec *domain.Execution, logger *slog.Logger) error {
	exec.MarkSucceeded(o.now())
	if err := o.save(ctx, exec); err != nil {
		return err
	}
	logger.Info("execution succeeded",
		"last_stage", exec.LastStage,
		"duration", exec.Duration(),
	)
	o.finished(ctx, exec)
	return nil
}

// fail записывает FAILED со стадией и текстом ошибки.
func (o *Orchestrator) fail(ctx context.Context, exec *domain.Execution, stage string, cause error, logger *slog.Logger) (step, error) {
	if s := engine.FailedStage(cause); s != "" {
		stage = s
	}
	exec.MarkFailed(o.now(), stage, cause.Error())
	if err := o.save(ctx, exec); err != nil {
		return stepDone, err
	}
	logger.Error("execution failed", "stage", stage, "error", cause)
	o.finished(ctx, exec)
	return stepDone, nil
}

// finished публикует событие о терминальном execution.
func (o *Orchestrator) finished(ctx context.Context, exec *domain.Execution) {
	telemetry.ExecutionsFinished.WithLabelValues(exec.Pipeline, string(exec.Status)).Inc()
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishExecutionFinished(ctx, exec); err != nil {
		o.logger.Warn("failed to publish execution.finished", "execution_id", exec.ID, "error", err)
	}
}

// save записывает переход с проверкой версии.
func (o *Orchestrator) save(ctx context.Context, exec *domain.Execution) error {
	exec.UpdatedAt = o.now()
	if err := o.store.Update(ctx, exec); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrSuperseded, exec.ID)
		}
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, exec *domain.Execution, stage string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("conveyor.execution_id", exec.ID.String()),
		attribute.String("conveyor.pipeline", exec.Pipeline),
		attribute.String("conveyor.stage", stage),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
