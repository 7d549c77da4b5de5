package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Starter создаёт execution из триггера. Реализуется orchestrator.Orchestrator.
type Starter interface {
	StartExecution(ctx context.Context, trigger domain.Trigger) (*domain.Execution, bool, error)
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules repo.ScheduleStore
	starter   Starter
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules repo.ScheduleStore
	Starter   Starter
	Logger    *slog.Logger
	BatchSize int // количество schedules за один тик (default: 100)
	Now       func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		schedules: cfg.Schedules,
		starter:   cfg.Starter,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого создаёт execution с ключом "{schedule_id}_{next_due_unix}"
// 3. Сдвигает next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		execCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if execCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"executions_created", created,
	)
	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если execution был создан (не дубликат).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// Один execution на пару (schedule, due-момент), даже если тик повторился
	key := fmt.Sprintf("%s_%d", sched.ID, sched.NextDueAt.Unix())

	exec, created, err := s.starter.StartExecution(ctx, sched.Trigger(key))
	switch {
	case errors.Is(err, orchestrator.ErrUnknownPipeline):
		telemetry.SchedulerTriggers.WithLabelValues(sched.Pipeline, "unknown_pipeline").Inc()
		s.logger.Warn("schedule refers to unknown pipeline, skipping occurrence",
			"schedule_id", sched.ID,
			"pipeline", sched.Pipeline,
		)
	case err != nil:
		telemetry.SchedulerTriggers.WithLabelValues(sched.Pipeline, "error").Inc()
		return false, fmt.Errorf("start execution: %w", err)
	case created:
		telemetry.SchedulerTriggers.WithLabelValues(sched.Pipeline, "created").Inc()
		s.logger.Info("created execution from schedule",
			"execution_id", exec.ID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"pipeline", sched.Pipeline,
		)
	default:
		telemetry.SchedulerTriggers.WithLabelValues(sched.Pipeline, "duplicate").Inc()
		s.logger.Debug("execution already exists (idempotency)",
			"schedule_id", sched.ID,
			"execution_id", exec.ID,
			"idempotency_key", key,
		)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Некорректное расписание: next_due_at не трогаем
		s.logger.Error("failed to calculate next due", "schedule_id", sched.ID, "error", err)
		return created, nil
	}

	if exec != nil {
		sched.RecordTrigger(exec.ID, now, nextDue)
	} else {
		sched.NextDueAt = &nextDue
		sched.UpdatedAt = now
	}
	if err := s.schedules.Update(ctx, sched); err != nil {
		return created, fmt.Errorf("update schedule: %w", err)
	}
	return created, nil
}
