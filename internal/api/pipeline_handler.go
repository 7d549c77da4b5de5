package api

import (
	"net/http"
)

// ListPipelines возвращает собранные pipelines и их стадии.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines := h.executions.Pipelines().List()

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromEngine(p)
	}

	List(w, result, len(result))
}

// GetPipeline возвращает pipeline по имени.
// GET /api/v1/pipelines/{name}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	p, ok := h.executions.Pipelines().Get(r.PathValue("name"))
	if !ok {
		NotFound(w, "pipeline not found")
		return
	}
	Success(w, PipelineFromEngine(p))
}
