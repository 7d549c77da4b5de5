package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Executions — операции над executions. Реализация: *orchestrator.Orchestrator.
type Executions interface {
	StartExecution(ctx context.Context, trigger domain.Trigger) (*domain.Execution, bool, error)
	Status(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	List(ctx context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	Pipelines() orchestrator.Pipelines
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	executions Executions
	schedules  repo.ScheduleStore
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Executions Executions
	Schedules  repo.ScheduleStore
	Logger     *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		executions: cfg.Executions,
		schedules:  cfg.Schedules,
		logger:     logger,
	}
}

// decode читает JSON тело запроса. Пустое тело допустимо.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// queryInt читает неотрицательный query параметр, иначе def.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return def
	}
	return n
}
