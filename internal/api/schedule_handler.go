package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
)

// ListSchedules возвращает список schedules с фильтрацией.
// GET /api/v1/schedules?pipeline=...&enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := repo.ScheduleFilter{
		Pipeline: r.URL.Query().Get("pipeline"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}

	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		enabled := enabledStr == "true"
		filter.Enabled = &enabled
	}

	schedules, err := h.schedules.List(r.Context(), filter)
	if HandleError(w, r, err, "") {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт новый schedule для pipeline.
// POST /api/v1/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if _, ok := h.executions.Pipelines().Get(req.Pipeline); !ok {
		BadRequest(w, "unknown pipeline "+req.Pipeline)
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	now := time.Now().UTC()
	schedule := &domain.Schedule{
		ID:          uuid.New(),
		Pipeline:    req.Pipeline,
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		IntervalSec: req.IntervalSec,
		Timezone:    timezone,
		Enabled:     req.Enabled,
		Payload:     req.Payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !h.planNextDue(w, schedule, now) {
		return
	}

	if err := h.schedules.Create(r.Context(), schedule); err != nil {
		HandleError(w, r, err, "")
		return
	}

	Created(w, ScheduleFromDomain(schedule))
}

// GetSchedule возвращает schedule по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleError(w, r, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// UpdateSchedule обновляет schedule. Изменение cadence пересчитывает next_due_at.
// PUT /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleError(w, r, err, "schedule not found") {
		return
	}

	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.CronExpr != nil {
		schedule.CronExpr = *req.CronExpr
	}
	if req.IntervalSec != nil {
		schedule.IntervalSec = *req.IntervalSec
	}
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
	}
	if req.Payload != nil {
		schedule.Payload = *req.Payload
	}

	now := time.Now().UTC()
	if req.CronExpr != nil || req.IntervalSec != nil || req.Timezone != nil {
		if !h.planNextDue(w, schedule, now) {
			return
		}
	}
	schedule.UpdatedAt = now

	if err := h.schedules.Update(r.Context(), schedule); err != nil {
		HandleError(w, r, err, "schedule not found")
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// DeleteSchedule удаляет schedule.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if HandleError(w, r, h.schedules.Delete(r.Context(), id), "schedule not found") {
		return
	}

	NoContent(w)
}

// SetScheduleEnabled включает или выключает schedule.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if HandleError(w, r, h.schedules.SetEnabled(r.Context(), id, req.Enabled), "schedule not found") {
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleError(w, r, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// planNextDue проверяет cadence и ставит первый запуск.
// При ошибке пишет 400 и возвращает false.
func (h *Handler) planNextDue(w http.ResponseWriter, schedule *domain.Schedule, now time.Time) bool {
	if err := scheduler.Validate(schedule); err != nil {
		BadRequest(w, err.Error())
		return false
	}
	next, err := scheduler.CalculateNextDue(schedule, now)
	if err != nil {
		BadRequest(w, err.Error())
		return false
	}
	schedule.NextDueAt = &next
	return true
}
