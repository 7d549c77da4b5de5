package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматического запуска pipeline.
//
// Например, ежедневная интеграция новых данных:
//
//	pipeline: integration, cron_expr: "0 3 * * *"
//
// Scheduler проверяет next_due_at и создаёт execution, когда время подошло.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// Pipeline — имя pipeline, который нужно запускать.
	Pipeline string `json:"pipeline"`

	// Name — имя расписания.
	Name string `json:"name,omitempty"`

	// CronExpr — cron-выражение (5 полей).
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию "UTC".
	Timezone string `json:"timezone"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastTriggeredAt — время последнего запуска.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	// LastExecutionID — ID последнего созданного execution.
	LastExecutionID *uuid.UUID `json:"last_execution_id,omitempty"`

	// Payload — payload триггера для каждого execution.
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt — время создания schedule.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// Trigger строит триггер для due-момента. Ключ идемпотентности
// гарантирует один execution на пару (schedule, момент).
func (s *Schedule) Trigger(idempotencyKey string) Trigger {
	return Trigger{
		Pipeline:       s.Pipeline,
		Payload:        cloneMap(s.Payload),
		IdempotencyKey: idempotencyKey,
		Source:         "scheduler",
	}
}

// RecordTrigger записывает информацию о запуске.
func (s *Schedule) RecordTrigger(executionID uuid.UUID, now, nextDue time.Time) {
	s.LastTriggeredAt = &now
	s.LastExecutionID = &executionID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
