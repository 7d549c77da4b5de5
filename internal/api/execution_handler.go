package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListExecutions возвращает список executions с фильтрацией.
// GET /api/v1/executions?pipeline=...&status=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := repo.ExecutionFilter{
		Pipeline: r.URL.Query().Get("pipeline"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := domain.ParseExecutionStatus(s)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = &status
	}

	executions, err := h.executions.List(r.Context(), filter)
	if HandleError(w, r, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(executions))
	for i := range executions {
		result[i] = ExecutionFromDomain(&executions[i])
	}

	List(w, result, len(result))
}

// CreateExecution запускает pipeline.
// POST /api/v1/executions
//
// Повторный запрос с тем же idempotency_key возвращает существующий
// execution (200 вместо 201).
func (h *Handler) CreateExecution(w http.ResponseWriter, r *http.Request) {
	var req CreateExecutionRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Pipeline == "" {
		BadRequest(w, "pipeline is required")
		return
	}

	exec, created, err := h.executions.StartExecution(r.Context(), domain.Trigger{
		Pipeline:       req.Pipeline,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Source:         "api",
	})
	if HandleError(w, r, err, "") {
		return
	}

	if !created {
		Success(w, ExecutionFromDomain(exec))
		return
	}
	Created(w, ExecutionFromDomain(exec))
}

// GetExecution возвращает execution со статусом, последней стадией и Context.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.executions.Status(r.Context(), id)
	if HandleError(w, r, err, "execution not found") {
		return
	}

	Success(w, ExecutionFromDomain(exec))
}

// CancelExecution отменяет execution.
// POST /api/v1/executions/{id}/cancel
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.executions.Cancel(r.Context(), id)
	if HandleError(w, r, err, "execution not found") {
		return
	}

	Success(w, ExecutionFromDomain(exec))
}
