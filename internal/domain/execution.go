package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution — одно выполнение pipeline, durable write-ahead запись.
//
// Execution создаётся когда:
// - Клиент отправляет триггер через API/CLI
// - Внешняя система публикует триггер в RabbitMQ
// - Scheduler создаёт execution по расписанию
//
// Запись обновляется на каждом переходе (запуск стадии, poll, завершение),
// поэтому процесс оркестратора можно перезапустить в любой момент:
// между переходами в памяти ничего не держится.
type Execution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	// Pipeline — имя pipeline ("integration", "segment").
	Pipeline string `json:"pipeline"`

	// Status — текущий статус.
	Status ExecutionStatus `json:"status"`

	// Trigger — payload триггера.
	Trigger map[string]any `json:"trigger,omitempty"`

	// Context — накопленные результаты стадий.
	Context *Context `json:"context,omitempty"`

	// Cursor — индекс текущей стадии в pipeline (-1 — terminal).
	Cursor int `json:"cursor"`

	// CurrentStage — имя стадии под курсором.
	// Сверяется с pipeline после рестарта.
	CurrentStage string `json:"current_stage,omitempty"`

	// PendingJob — handle job, который сейчас опрашивается.
	// Nil, если стадия ещё не запущена.
	PendingJob *JobHandle `json:"pending_job,omitempty"`

	// Invoking — запуск стадии начат, но handle ещё не записан.
	// Если после рестарта флаг установлен, повторный запуск запрещён.
	Invoking bool `json:"invoking,omitempty"`

	// Polls — количество poll для текущего job.
	Polls int `json:"polls"`

	// NextWakeAt — когда execution нужно продвинуть снова.
	NextWakeAt *time.Time `json:"next_wake_at,omitempty"`

	// LeaseUntil — до какого момента execution захвачен оркестратором.
	LeaseUntil *time.Time `json:"-"`

	// LastStage — имя последней стадии, в которую вошёл execution.
	LastStage string `json:"last_stage,omitempty"`

	// StageStartedAt — когда была запущена текущая стадия.
	StageStartedAt *time.Time `json:"stage_started_at,omitempty"`

	// FailedStage — стадия, на которой произошла ошибка.
	FailedStage string `json:"failed_stage,omitempty"`

	// Error — текст ошибки для FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности триггера.
	// Для scheduled executions: "{schedule_id}_{next_due_at}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Version — версия записи для optimistic locking.
	Version int `json:"version"`

	// StartedAt — когда execution перешёл в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — когда execution завершился.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего перехода.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExecution создаёт PENDING execution из триггера.
// Первое продвижение запланировано сразу.
func NewExecution(trigger Trigger, now time.Time) *Execution {
	wake := now
	return &Execution{
		ID:             uuid.New(),
		Pipeline:       trigger.Pipeline,
		Status:         ExecutionStatusPending,
		Trigger:        cloneMap(trigger.Payload),
		Context:        NewContext(trigger.Payload),
		NextWakeAt:     &wake,
		IdempotencyKey: trigger.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если execution ещё не завершён.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// IsFinished возвращает true, если execution завершён.
func (e *Execution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// MarkRunning переводит execution в RUNNING.
func (e *Execution) MarkRunning(now time.Time) {
	e.Status = ExecutionStatusRunning
	e.StartedAt = &now
	e.UpdatedAt = now
}

// EnterStage фиксирует вход в стадию под курсором.
func (e *Execution) EnterStage(name string) {
	e.CurrentStage = name
	e.LastStage = name
}

// Suspend записывает handle и время следующего poll.
func (e *Execution) Suspend(handle JobHandle, wake time.Time) {
	e.PendingJob = &handle
	e.Invoking = false
	e.NextWakeAt = &wake
	e.LeaseUntil = nil
}

// Reschedule откладывает следующий poll того же handle.
func (e *Execution) Reschedule(wake time.Time) {
	e.NextWakeAt = &wake
	e.LeaseUntil = nil
}

// Advance переводит курсор на следующую стадию.
func (e *Execution) Advance(next int) {
	e.Cursor = next
	e.CurrentStage = ""
	e.PendingJob = nil
	e.Invoking = false
	e.Polls = 0
	e.StageStartedAt = nil
}

// MarkSucceeded переводит execution в SUCCEEDED.
func (e *Execution) MarkSucceeded(now time.Time) {
	e.Status = ExecutionStatusSucceeded
	e.finish(now)
}

// MarkFailed переводит execution в FAILED с ошибкой и стадией.
func (e *Execution) MarkFailed(now time.Time, stage, err string) {
	e.Status = ExecutionStatusFailed
	e.FailedStage = stage
	e.Error = err
	if stage != "" {
		e.LastStage = stage
	}
	e.finish(now)
}

func (e *Execution) finish(now time.Time) {
	e.FinishedAt = &now
	e.UpdatedAt = now
	e.NextWakeAt = nil
	e.LeaseUntil = nil
	e.PendingJob = nil
	e.Invoking = false
}

// Clone возвращает глубокую копию execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Trigger = cloneMap(e.Trigger)
	cp.Context = e.Context.Clone()
	if e.PendingJob != nil {
		h := *e.PendingJob
		cp.PendingJob = &h
	}
	cp.NextWakeAt = cloneTime(e.NextWakeAt)
	cp.LeaseUntil = cloneTime(e.LeaseUntil)
	cp.StageStartedAt = cloneTime(e.StageStartedAt)
	cp.StartedAt = cloneTime(e.StartedAt)
	cp.FinishedAt = cloneTime(e.FinishedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
