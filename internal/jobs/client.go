package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

const defaultTimeout = 30 * time.Second

// Client — HTTP-клиент одного job-сервиса.
//
// Контракт сервиса:
//
//	POST {base}/jobs        {executionId, stage, input} → {jobId, skipped?, isCompleted?, ...}
//	GET  {base}/jobs/{id}   → {status?, isCompleted?, failureReason?, ...}
//
// Запуск отправляет заголовок Idempotency-Key = "{executionId}/{stage}".
// Ошибки транспорта, 5xx и 429 при poll помечаются как временные.
type Client struct {
	kind       domain.JobKind
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// Config — конфигурация Client.
type Config struct {
	// Kind — тип job, который выдаёт сервис.
	Kind domain.JobKind

	// BaseURL — адрес сервиса (обязательно).
	BaseURL string

	// Timeout — таймаут одного запроса (default: 30s).
	Timeout time.Duration

	// Headers — дополнительные заголовки (например, Authorization).
	Headers map[string]string

	// HTTPClient (опционально).
	HTTPClient *http.Client
}

// New создаёт Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		kind:       cfg.Kind,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    cfg.Headers,
		httpClient: httpClient,
	}
}

// invokeBody — тело запроса на запуск.
type invokeBody struct {
	ExecutionID string         `json:"executionId"`
	Stage       string         `json:"stage"`
	Input       map[string]any `json:"input"`
}

// Invoke запускает job. Любая ошибка — ошибка запуска, retry нет.
func (c *Client) Invoke(ctx context.Context, req engine.InvokeRequest) (domain.InvokeResult, error) {
	body, err := json.Marshal(invokeBody{
		ExecutionID: req.ExecutionID,
		Stage:       req.Stage,
		Input:       req.Input,
	})
	if err != nil {
		return domain.InvokeResult{}, fmt.Errorf("%w: marshal body: %v", ErrRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return domain.InvokeResult{}, fmt.Errorf("%w: create request: %v", ErrRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey())

	status, fields, err := c.do(httpReq)
	if err != nil {
		return domain.InvokeResult{}, err
	}
	if status >= 300 {
		return domain.InvokeResult{}, statusError(status, fields)
	}

	result := domain.InvokeResult{
		Handle:    domain.JobHandle{ID: getString(fields, "jobId"), Kind: c.kind},
		Skipped:   getBool(fields, "skipped"),
		Completed: getBool(fields, "isCompleted"),
		Fields:    fields,
	}
	if result.Handle.IsZero() && !result.AlreadySatisfied() {
		return domain.InvokeResult{}, engine.ErrMissingJobID
	}
	return result, nil
}

// Poll запрашивает состояние job.
func (c *Client) Poll(ctx context.Context, handle domain.JobHandle) (domain.PollResult, error) {
	if handle.IsZero() {
		return domain.PollResult{}, fmt.Errorf("%w: empty job id", ErrRequest)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(handle.ID), nil)
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("%w: create request: %v", ErrRequest, err)
	}

	status, fields, err := c.do(httpReq)
	if err != nil {
		// Транспорт: сеть, таймаут, обрыв соединения
		return domain.PollResult{}, engine.Transient(err)
	}

	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		return domain.PollResult{}, engine.Transient(statusError(status, fields))
	case status >= 300:
		return domain.PollResult{}, statusError(status, fields)
	}

	return domain.PollResult{
		State:         State(getString(fields, "status"), getBool(fields, "isCompleted")),
		FailureReason: failureReason(fields),
		Fields:        fields,
	}, nil
}

// do выполняет запрос и разбирает JSON-тело ответа.
func (c *Client) do(req *http.Request) (int, map[string]any, error) {
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrRequest, err)
	}

	fields := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			if resp.StatusCode >= 300 {
				// Тело ошибки может быть текстом
				return resp.StatusCode, map[string]any{"message": truncate(string(data), 200)}, nil
			}
			return resp.StatusCode, nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	return resp.StatusCode, fields, nil
}

// State переводит статус сервиса в трёхзначный исход.
//
//	SUCCEEDED, ACTIVE, COMPLETED       → succeeded
//	FAILED, CREATE FAILED, CANCELLED   → failed
//	остальное                          → pending (succeeded при isCompleted)
func State(status string, isCompleted bool) domain.JobState {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCEEDED", "ACTIVE", "COMPLETED":
		return domain.JobSucceeded
	case "FAILED", "CREATE FAILED", "CANCELLED", "CANCELED":
		return domain.JobFailed
	}
	if isCompleted {
		return domain.JobSucceeded
	}
	return domain.JobPending
}

func failureReason(fields map[string]any) string {
	for _, key := range []string{"failureReason", "errorMessage", "error"} {
		if s := getString(fields, key); s != "" {
			return s
		}
	}
	return ""
}

func statusError(status int, fields map[string]any) error {
	msg := getString(fields, "message")
	if msg == "" {
		msg = getString(fields, "error")
	}
	if msg == "" {
		return fmt.Errorf("%w: HTTP %d", ErrStatus, status)
	}
	return fmt.Errorf("%w: HTTP %d: %s", ErrStatus, status, msg)
}

// getString извлекает строку из map.
func getString(m map[string]any, key string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// getBool извлекает bool из map. Строка "true" тоже считается true.
func getBool(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
