package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ExecutionResponse — execution из API.
type ExecutionResponse struct {
	ID             string         `json:"id"`
	Pipeline       string         `json:"pipeline"`
	Status         string         `json:"status"`
	CurrentStage   string         `json:"current_stage,omitempty"`
	LastStage      string         `json:"last_stage,omitempty"`
	FailedStage    string         `json:"failed_stage,omitempty"`
	Error          string         `json:"error,omitempty"`
	Polls          int            `json:"polls"`
	NextWakeAt     string         `json:"next_wake_at,omitempty"`
	Trigger        map[string]any `json:"trigger,omitempty"`
	Context        *ContextDoc    `json:"context,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	FinishedAt     string         `json:"finished_at,omitempty"`
	DurationMs     int64          `json:"duration_ms,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// IsFinished возвращает true для SUCCEEDED и FAILED.
func (e *ExecutionResponse) IsFinished() bool {
	return e.Status == "SUCCEEDED" || e.Status == "FAILED"
}

// ContextDoc — Context execution из API.
type ContextDoc struct {
	Trigger map[string]any            `json:"trigger,omitempty"`
	Outputs map[string]map[string]any `json:"outputs,omitempty"`
	Order   []string                  `json:"order,omitempty"`
	Sealed  map[string]bool           `json:"sealed,omitempty"`
}

// StageInfo — стадия pipeline из API.
type StageInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	InputPath string `json:"input_path,omitempty"`
	OutputKey string `json:"output_key"`
	Polls     bool   `json:"polls"`
	Skippable bool   `json:"skippable,omitempty"`
	Finalizer bool   `json:"finalizer,omitempty"`
	Next      int    `json:"next"`
}

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	Name         string      `json:"name"`
	PollInterval string      `json:"poll_interval"`
	Stages       []StageInfo `json:"stages"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID              string         `json:"id"`
	Pipeline        string         `json:"pipeline"`
	Name            string         `json:"name"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       string         `json:"next_due_at,omitempty"`
	LastTriggeredAt string         `json:"last_triggered_at,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// --- Request types ---

// StartExecutionRequest — запуск pipeline.
type StartExecutionRequest struct {
	Pipeline       string         `json:"pipeline"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Pipeline    string         `json:"pipeline"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// ListExecutionsOpts — параметры фильтрации executions.
type ListExecutionsOpts struct {
	Pipeline string
	Status   string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ответ API с кодом ошибки.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return e.Code + ": " + e.Message
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Executions ---

// StartExecution запускает pipeline.
func (c *Client) StartExecution(req StartExecutionRequest) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/executions", req, &exec)
	return &exec, err
}

// ListExecutions возвращает список executions с фильтрацией.
func (c *Client) ListExecutions(opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	if opts.Pipeline != "" {
		params.Set("pipeline", opts.Pipeline)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var execs []ExecutionResponse
	err := c.list("/api/v1/executions", params, &execs)
	return execs, err
}

// GetExecution возвращает execution по ID.
func (c *Client) GetExecution(id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.get("/api/v1/executions/"+id, &exec)
	return &exec, err
}

// CancelExecution отменяет execution.
func (c *Client) CancelExecution(id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/executions/"+id+"/cancel", nil, &exec)
	return &exec, err
}

// --- Pipelines ---

// ListPipelines возвращает собранные pipelines.
func (c *Client) ListPipelines() ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// GetPipeline возвращает pipeline по имени.
func (c *Client) GetPipeline(name string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/pipelines/"+url.PathEscape(name), &p)
	return &p, err
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если pipeline не пустой — фильтрует.
func (c *Client) ListSchedules(pipeline string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if pipeline != "" {
		params.Set("pipeline", pipeline)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule.
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
