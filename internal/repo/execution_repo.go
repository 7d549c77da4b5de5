package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// ExecutionStore — хранилище execution.
//
// Реализации: ExecutionRepo (PostgreSQL) и MemoryExecutionStore.
type ExecutionStore interface {
	// Create сохраняет новый execution.
	// Повторный ключ идемпотентности в том же pipeline → ErrAlreadyExists.
	Create(ctx context.Context, exec *domain.Execution) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	GetByIdempotencyKey(ctx context.Context, pipeline, key string) (*domain.Execution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error)

	// Update записывает переход. Запись обновляется, только если её
	// версия совпадает с exec.Version, иначе ErrConflict.
	// После успешной записи exec.Version увеличивается.
	//
	// Аренду Update только снимает (exec.LeaseUntil == nil), но не
	// выставляет: её срок ведут ClaimDue и ExtendLease.
	Update(ctx context.Context, exec *domain.Execution) error

	// ClaimDue захватывает до limit нетерминальных execution,
	// у которых next_wake_at <= now и нет действующей аренды.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Execution, error)

	// ExtendLease продлевает аренду до until, если execution не
	// завершён и его аренда всё ещё равна held. Иначе ErrConflict.
	// Версия не меняется.
	ExtendLease(ctx context.Context, id uuid.UUID, held, until time.Time) error
}

// ExecutionFilter — параметры фильтрации executions.
type ExecutionFilter struct {
	Pipeline string
	Status   *domain.ExecutionStatus
	Limit    int
	Offset   int
}

const executionColumns = `
	id, pipeline, status, trigger, context, cursor, current_stage, pending_job,
	invoking, polls, next_wake_at, lease_until, last_stage, stage_started_at, failed_stage,
	error, idempotency_key, version, started_at, finished_at, created_at, updated_at
`

// ExecutionRepo — репозиторий для работы с executions.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// Create создаёт новый execution.
func (r *ExecutionRepo) Create(ctx context.Context, exec *domain.Execution) error {
	doc, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (id, pipeline, status, trigger, context, cursor, current_stage,
		                        pending_job, invoking, polls, next_wake_at, lease_until,
		                        last_stage, stage_started_at, failed_stage, error, idempotency_key,
		                        version, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22)
	`
	_, err = r.pool.Exec(ctx, query,
		exec.ID,
		exec.Pipeline,
		exec.Status,
		doc.trigger,
		doc.context,
		exec.Cursor,
		nullString(exec.CurrentStage),
		doc.pendingJob,
		exec.Invoking,
		exec.Polls,
		exec.NextWakeAt,
		exec.LeaseUntil,
		nullString(exec.LastStage),
		exec.StageStartedAt,
		nullString(exec.FailedStage),
		nullString(exec.Error),
		nullString(exec.IdempotencyKey),
		exec.Version,
		exec.StartedAt,
		exec.FinishedAt,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetByID возвращает execution по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	return scanExecution(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает execution по ключу идемпотентности.
func (r *ExecutionRepo) GetByIdempotencyKey(ctx context.Context, pipeline, key string) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE pipeline = $1 AND idempotency_key = $2
	`
	return scanExecution(r.pool.QueryRow(ctx, query, pipeline, key))
}

// List возвращает executions, новые первыми.
func (r *ExecutionRepo) List(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE ($1::text IS NULL OR pipeline = $1)
		  AND ($2::execution_status IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Pipeline),
		status,
		limitOrDefault(filter.Limit),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

// Update записывает переход с проверкой версии.
func (r *ExecutionRepo) Update(ctx context.Context, exec *domain.Execution) error {
	doc, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions
		SET status = $3, context = $4, cursor = $5, current_stage = $6, pending_job = $7,
		    invoking = $8, polls = $9, next_wake_at = $10,
		    lease_until = CASE WHEN $11::timestamptz IS NULL THEN NULL ELSE lease_until END,
		    last_stage = $12, stage_started_at = $13, failed_stage = $14, error = $15,
		    started_at = $16, finished_at = $17, updated_at = $18, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.Version,
		exec.Status,
		doc.context,
		exec.Cursor,
		nullString(exec.CurrentStage),
		doc.pendingJob,
		exec.Invoking,
		exec.Polls,
		exec.NextWakeAt,
		exec.LeaseUntil,
		nullString(exec.LastStage),
		exec.StageStartedAt,
		nullString(exec.FailedStage),
		nullString(exec.Error),
		exec.StartedAt,
		exec.FinishedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)`, exec.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check execution: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	exec.Version++
	return nil
}

// ClaimDue захватывает due executions.
//
// FOR UPDATE SKIP LOCKED позволяет нескольким оркестраторам
// захватывать записи параллельно, не пересекаясь.
func (r *ExecutionRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Execution, error) {
	query := `
		UPDATE executions
		SET lease_until = $2
		WHERE id IN (
			SELECT id FROM executions
			WHERE status IN ('PENDING', 'RUNNING')
			  AND next_wake_at IS NOT NULL
			  AND next_wake_at <= $1
			  AND (lease_until IS NULL OR lease_until < $1)
			ORDER BY next_wake_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + executionColumns

	rows, err := r.pool.Query(ctx, query, now, now.Add(lease), limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("claim due executions: %w", err)
	}
	return collectExecutions(rows)
}

// ExtendLease продлевает аренду, которую держит вызывающий.
func (r *ExecutionRepo) ExtendLease(ctx context.Context, id uuid.UUID, held, until time.Time) error {
	query := `
		UPDATE executions
		SET lease_until = $3
		WHERE id = $1
		  AND lease_until = $2
		  AND status IN ('PENDING', 'RUNNING')
	`
	result, err := r.pool.Exec(ctx, query, id, held, until)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// --- Helpers ---

type executionDoc struct {
	trigger    []byte
	context    []byte
	pendingJob []byte
}

func encodeExecution(exec *domain.Execution) (executionDoc, error) {
	var doc executionDoc
	var err error

	if doc.trigger, err = json.Marshal(exec.Trigger); err != nil {
		return doc, fmt.Errorf("marshal trigger: %w", err)
	}
	if doc.context, err = json.Marshal(exec.Context); err != nil {
		return doc, fmt.Errorf("marshal context: %w", err)
	}
	if exec.PendingJob != nil {
		if doc.pendingJob, err = json.Marshal(exec.PendingJob); err != nil {
			return doc, fmt.Errorf("marshal pending job: %w", err)
		}
	}
	return doc, nil
}

func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	var status string
	var currentStage, lastStage, failedStage, errMsg, idemKey *string
	var triggerJSON, contextJSON, pendingJSON []byte

	err := row.Scan(
		&e.ID,
		&e.Pipeline,
		&status,
		&triggerJSON,
		&contextJSON,
		&e.Cursor,
		&currentStage,
		&pendingJSON,
		&e.Invoking,
		&e.Polls,
		&e.NextWakeAt,
		&e.LeaseUntil,
		&lastStage,
		&e.StageStartedAt,
		&failedStage,
		&errMsg,
		&idemKey,
		&e.Version,
		&e.StartedAt,
		&e.FinishedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.Status = domain.ExecutionStatus(status)
	e.CurrentStage = deref(currentStage)
	e.LastStage = deref(lastStage)
	e.FailedStage = deref(failedStage)
	e.Error = deref(errMsg)
	e.IdempotencyKey = deref(idemKey)

	if triggerJSON != nil {
		if err := json.Unmarshal(triggerJSON, &e.Trigger); err != nil {
			return nil, fmt.Errorf("unmarshal trigger: %w", err)
		}
	}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if e.Context == nil {
		e.Context = domain.NewContext(e.Trigger)
	}
	if pendingJSON != nil {
		var h domain.JobHandle
		if err := json.Unmarshal(pendingJSON, &h); err != nil {
			return nil, fmt.Errorf("unmarshal pending job: %w", err)
		}
		e.PendingJob = &h
	}

	return &e, nil
}

func collectExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *exec)
	}
	return executions, rows.Err()
}

// limitOrDefault ограничивает выборку, если лимит не задан.
func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
