// Package scheduler запускает pipelines по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и создаёт executions через orchestrator.StartExecution.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Starter:   orch,
//	    Logger:    logger,
//	})
//
//	if err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Leader election делается в cmd/conveyor-scheduler через
// pg_try_advisory_lock. Tick() вызывается только лидером.
package scheduler
