package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
)

// stubService принимает запуск и сразу сообщает успех.
type stubService struct{}

func (stubService) Invoke(_ context.Context, req engine.InvokeRequest) (domain.InvokeResult, error) {
	return domain.InvokeResult{Handle: domain.JobHandle{ID: "job-" + req.ExecutionID}}, nil
}

func (stubService) Poll(_ context.Context, _ domain.JobHandle) (domain.PollResult, error) {
	return domain.PollResult{State: domain.JobSucceeded}, nil
}

type testServer struct {
	srv       *httptest.Server
	execs     *repo.MemoryExecutionStore
	schedules *repo.MemoryScheduleStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	p, err := engine.BuildIntegration(
		engine.Flags{IdentityResolution: true},
		engine.Services{IdentityResolution: stubService{}},
		engine.Finalizers{},
		engine.Options{PollInterval: time.Minute},
	)
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{
		execs:     repo.NewMemoryExecutionStore(),
		schedules: repo.NewMemoryScheduleStore(),
	}
	orch := orchestrator.New(orchestrator.Config{
		Store:     ts.execs,
		Pipelines: engine.NewRegistry(p),
		Logger:    logger,
	})

	mux := http.NewServeMux()
	NewHandler(Config{Executions: orch, Schedules: ts.schedules, Logger: logger}).RegisterRoutes(mux)
	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decodeData[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode response %s: %v", raw, err)
	}
	return envelope.Data
}

func errorCode(t *testing.T, raw []byte) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode error %s: %v", raw, err)
	}
	return resp.Error.Code
}

// --- Execution Tests ---

func TestCreateExecution(t *testing.T) {
	ts := newTestServer(t)
	req := CreateExecutionRequest{
		Pipeline:       domain.PipelineIntegration,
		Payload:        map[string]any{"dataset": "users"},
		IdempotencyKey: "k1",
	}

	resp, body := ts.do(t, http.MethodPost, "/api/v1/executions", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	first := decodeData[ExecutionResponse](t, body)
	if first.Status != string(domain.ExecutionStatusPending) || first.Trigger["dataset"] != "users" {
		t.Errorf("unexpected execution %+v", first)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/v1/executions", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate should return 200, got %d", resp.StatusCode)
	}
	if second := decodeData[ExecutionResponse](t, body); second.ID != first.ID {
		t.Error("duplicate should return the same execution")
	}
}

func TestCreateExecution_Invalid(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   ErrorCode
	}{
		{"missing pipeline", map[string]any{}, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad body", "text", http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown pipeline", map[string]any{"pipeline": "nope"}, http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/api/v1/executions", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.StatusCode, body)
			}
			if code := errorCode(t, body); code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, code)
			}
		})
	}
}

func TestGetExecution(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(t, http.MethodPost, "/api/v1/executions", CreateExecutionRequest{Pipeline: domain.PipelineIntegration})
	created := decodeData[ExecutionResponse](t, body)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/executions/"+created.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decodeData[ExecutionResponse](t, body); got.ID != created.ID || got.Context == nil {
		t.Errorf("unexpected execution %+v", got)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/executions/"+uuid.NewString(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/v1/executions/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListExecutions(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.do(t, http.MethodPost, "/api/v1/executions", CreateExecutionRequest{Pipeline: domain.PipelineIntegration})
	}

	resp, body := ts.do(t, http.MethodGet, "/api/v1/executions?status=PENDING&limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if list := decodeData[[]ExecutionResponse](t, body); len(list) != 2 {
		t.Errorf("expected 2 executions, got %d", len(list))
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/executions?status=DONE", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status should be 400, got %d", resp.StatusCode)
	}
}

func TestCancelExecution(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(t, http.MethodPost, "/api/v1/executions", CreateExecutionRequest{Pipeline: domain.PipelineIntegration})
	created := decodeData[ExecutionResponse](t, body)
	path := "/api/v1/executions/" + created.ID.String() + "/cancel"

	resp, body := ts.do(t, http.MethodPost, path, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if got := decodeData[ExecutionResponse](t, body); got.Status != string(domain.ExecutionStatusFailed) {
		t.Errorf("expected FAILED, got %s", got.Status)
	}

	resp, body = ts.do(t, http.MethodPost, path, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity || errorCode(t, body) != ErrCodeInvalidState {
		t.Errorf("second cancel should be 422, got %d", resp.StatusCode)
	}
}

// --- Pipeline Tests ---

func TestPipelines(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.do(t, http.MethodGet, "/api/v1/pipelines", nil)
	list := decodeData[[]PipelineResponse](t, body)
	if len(list) != 1 || list[0].Name != domain.PipelineIntegration {
		t.Fatalf("unexpected pipelines %+v", list)
	}
	if len(list[0].Stages) != 1 || list[0].Stages[0].Name != engine.StageIdentityResolution {
		t.Errorf("unexpected stages %+v", list[0].Stages)
	}

	resp, _ := ts.do(t, http.MethodGet, "/api/v1/pipelines/segment", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unassembled pipeline, got %d", resp.StatusCode)
	}
}

// --- Schedule Tests ---

func TestScheduleLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		Pipeline: domain.PipelineIntegration,
		Name:     "yearly",
		CronExpr: "0 3 1 1 *",
		Enabled:  true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	created := decodeData[ScheduleResponse](t, body)
	if created.Timezone != "UTC" || created.NextDueAt == nil {
		t.Errorf("defaults not applied: %+v", created)
	}
	path := "/api/v1/schedules/" + created.ID.String()

	interval := 600
	_, body = ts.do(t, http.MethodPut, path, UpdateScheduleRequest{CronExpr: new(string), IntervalSec: &interval})
	updated := decodeData[ScheduleResponse](t, body)
	if updated.CronExpr != "" || updated.IntervalSec != 600 || !updated.NextDueAt.Before(*created.NextDueAt) {
		t.Errorf("cadence change should replan next due: %+v", updated)
	}

	_, body = ts.do(t, http.MethodPut, path+"/enabled", SetEnabledRequest{Enabled: false})
	if got := decodeData[ScheduleResponse](t, body); got.Enabled {
		t.Error("schedule should be disabled")
	}

	_, body = ts.do(t, http.MethodGet, "/api/v1/schedules?enabled=false", nil)
	if list := decodeData[[]ScheduleResponse](t, body); len(list) != 1 {
		t.Errorf("expected 1 disabled schedule, got %d", len(list))
	}

	resp, _ = ts.do(t, http.MethodDelete, path, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, path, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestCreateSchedule_Invalid(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  CreateScheduleRequest
	}{
		{"no name", CreateScheduleRequest{Pipeline: domain.PipelineIntegration, IntervalSec: 60}},
		{"unknown pipeline", CreateScheduleRequest{Pipeline: "nope", Name: "x", IntervalSec: 60}},
		{"no cadence", CreateScheduleRequest{Pipeline: domain.PipelineIntegration, Name: "x"}},
		{"bad cron", CreateScheduleRequest{Pipeline: domain.PipelineIntegration, Name: "x", CronExpr: "daily"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, http.MethodPost, "/api/v1/schedules", tt.req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

// --- Response Tests ---

func TestHandleError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    ErrorCode
		message string
	}{
		{"not found with message", repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, "schedule not found"},
		{"wrapped conflict", fmt.Errorf("update: %w", repo.ErrConflict), http.StatusConflict, ErrCodeConflict, ""},
		{"finished execution", orchestrator.ErrExecutionFinished, http.StatusUnprocessableEntity, ErrCodeInvalidState, ""},
		{"unknown pipeline", orchestrator.ErrUnknownPipeline, http.StatusNotFound, ErrCodeNotFound, ""},
		{"unexpected", errors.New("pool closed"), http.StatusInternalServerError, ErrCodeInternalError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if !HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, "schedule not found") {
				t.Fatal("HandleError should report a handled error")
			}
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, resp.Error.Code)
			}
			if tt.message != "" && resp.Error.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, resp.Error.Message)
			}
		})
	}

	if HandleError(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil, "") {
		t.Error("nil error should not be handled")
	}
}

// --- Middleware Tests ---

func TestRecovery(t *testing.T) {
	h := Recovery(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrap(rec)
	NotFound(rw, "missing")

	if rw.status != http.StatusNotFound {
		t.Errorf("expected captured 404, got %d", rw.status)
	}
	if wrap(rw) != rw {
		t.Error("wrap should not nest writers")
	}
}
