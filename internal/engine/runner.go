package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Runner выполняет pipeline целиком в текущем процессе.
//
// Используется командой "local run" и в тестах. В отличие от
// оркестратора, состояние между poll не сохраняется: если процесс
// упадёт, execution будет потерян.
type Runner struct {
	// Sleep — функция ожидания между poll (default: таймер).
	Sleep SleepFunc

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	// OnStage вызывается при входе в каждую стадию.
	OnStage func(exec *domain.Execution, stage string)

	// Logger (default: slog.Default()).
	Logger *slog.Logger
}

// Run запускает pipeline p для trigger и ждёт terminal.
//
// Возвращает execution в статусе SUCCEEDED или FAILED. Ошибка
// возвращается вместе с FAILED execution; отмена ctx тоже даёт FAILED.
func (r *Runner) Run(ctx context.Context, p *Pipeline, trigger domain.Trigger) (*domain.Execution, error) {
	logger := r.logger()
	trigger.Pipeline = p.Name

	exec := domain.NewExecution(trigger, r.now())
	exec.MarkRunning(r.now())
	exec.Cursor = p.Entry()
	exec.NextWakeAt = nil

	logger = logger.With("execution_id", exec.ID, "pipeline", p.Name)
	logger.Info("local execution started", "stages", len(p.Stages))

	for exec.Cursor != Terminal {
		stage, ok := p.Stage(exec.Cursor)
		if !ok {
			return r.fail(exec, "", ErrTopologyOutOfRange, logger)
		}
		exec.EnterStage(stage.Name)
		if r.OnStage != nil {
			r.OnStage(exec, stage.Name)
		}

		next, err := r.runStage(ctx, p, exec)
		if err != nil {
			return r.fail(exec, stage.Name, err, logger)
		}
		exec.Advance(next)
	}

	exec.MarkSucceeded(r.now())
	logger.Info("local execution succeeded",
		"last_stage", exec.LastStage,
		"duration", exec.Duration(),
	)
	return exec, nil
}

// runStage выполняет одну стадию: invoke, затем WaitPollLoop.
func (r *Runner) runStage(ctx context.Context, p *Pipeline, exec *domain.Execution) (int, error) {
	i := exec.Cursor
	stage, _ := p.Stage(i)
	execID := exec.ID.String()

	outcome, err := p.InvokeStage(ctx, execID, i, exec.Context)
	if err != nil {
		return Terminal, err
	}
	if outcome.Done {
		if outcome.Skipped {
			r.logger().Info("stage already satisfied, skipping to terminal",
				"execution_id", exec.ID,
				"stage", stage.Name,
			)
		}
		return outcome.Next, nil
	}

	handle := outcome.Handle
	exec.PendingJob = &handle

	loop := p.Loop(i)
	loop.Sleep = r.Sleep

	next := Terminal
	polls, err := loop.Run(ctx, handle, func(result domain.PollResult) error {
		n, err := p.CompleteStage(ctx, execID, i, exec.Context, result)
		next = n
		return err
	})
	exec.Polls = polls
	if err != nil {
		// Ошибки CompleteStage уже привязаны к стадии.
		if FailedStage(err) != "" {
			return Terminal, err
		}
		return Terminal, &StageError{Stage: stage.Name, Err: err}
	}
	return next, nil
}

func (r *Runner) fail(exec *domain.Execution, stage string, err error, logger *slog.Logger) (*domain.Execution, error) {
	if s := FailedStage(err); s != "" {
		stage = s
	}
	exec.MarkFailed(r.now(), stage, err.Error())
	logger.Error("local execution failed",
		"stage", stage,
		"error", err,
	)
	return exec, err
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
