package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Execution DTOs

// CreateExecutionRequest — запрос на запуск pipeline.
type CreateExecutionRequest struct {
	Pipeline       string         `json:"pipeline"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ExecutionResponse — ответ с execution.
type ExecutionResponse struct {
	ID             uuid.UUID       `json:"id"`
	Pipeline       string          `json:"pipeline"`
	Status         string          `json:"status"`
	CurrentStage   string          `json:"current_stage,omitempty"`
	LastStage      string          `json:"last_stage,omitempty"`
	FailedStage    string          `json:"failed_stage,omitempty"`
	Error          string          `json:"error,omitempty"`
	Polls          int             `json:"polls"`
	NextWakeAt     *time.Time      `json:"next_wake_at,omitempty"`
	Trigger        map[string]any  `json:"trigger,omitempty"`
	Context        *domain.Context `json:"context,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ExecutionFromDomain конвертирует domain.Execution в ExecutionResponse.
func ExecutionFromDomain(e *domain.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:             e.ID,
		Pipeline:       e.Pipeline,
		Status:         string(e.Status),
		CurrentStage:   e.CurrentStage,
		LastStage:      e.LastStage,
		FailedStage:    e.FailedStage,
		Error:          e.Error,
		Polls:          e.Polls,
		NextWakeAt:     e.NextWakeAt,
		Trigger:        e.Trigger,
		Context:        e.Context,
		IdempotencyKey: e.IdempotencyKey,
		StartedAt:      e.StartedAt,
		FinishedAt:     e.FinishedAt,
		DurationMs:     e.Duration().Milliseconds(),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// Pipeline DTOs

// PipelineResponse — описание собранного pipeline.
type PipelineResponse struct {
	Name         string             `json:"name"`
	PollInterval string             `json:"poll_interval"`
	Stages       []engine.StageInfo `json:"stages"`
}

// PipelineFromEngine конвертирует engine.Pipeline в PipelineResponse.
func PipelineFromEngine(p *engine.Pipeline) PipelineResponse {
	return PipelineResponse{
		Name:         p.Name,
		PollInterval: p.PollInterval.String(),
		Stages:       p.Describe(),
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Pipeline    string         `json:"pipeline"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Payload     *map[string]any `json:"payload,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID              uuid.UUID      `json:"id"`
	Pipeline        string         `json:"pipeline"`
	Name            string         `json:"name"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       *time.Time     `json:"next_due_at,omitempty"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty"`
	LastExecutionID *uuid.UUID     `json:"last_execution_id,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:              s.ID,
		Pipeline:        s.Pipeline,
		Name:            s.Name,
		CronExpr:        s.CronExpr,
		IntervalSec:     s.IntervalSec,
		Timezone:        s.Timezone,
		Enabled:         s.Enabled,
		NextDueAt:       s.NextDueAt,
		LastTriggeredAt: s.LastTriggeredAt,
		LastExecutionID: s.LastExecutionID,
		Payload:         s.Payload,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
