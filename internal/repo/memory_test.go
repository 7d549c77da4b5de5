package repo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newExecution(key string, created time.Time) *domain.Execution {
	return domain.NewExecution(domain.Trigger{
		Pipeline:       domain.PipelineIntegration,
		Payload:        map[string]any{"dataset": "d1"},
		IdempotencyKey: key,
	}, created)
}

// --- MemoryExecutionStore Tests ---

func TestMemoryExecutionStore_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()

	first := newExecution("k1", t0)
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.Create(ctx, newExecution("k1", t0)); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if err := s.Create(ctx, newExecution("", t0)); err != nil {
		t.Errorf("empty key must not collide: %v", err)
	}
	if err := s.Create(ctx, newExecution("", t0)); err != nil {
		t.Errorf("empty key must not collide: %v", err)
	}

	got, err := s.GetByIdempotencyKey(ctx, domain.PipelineIntegration, "k1")
	if err != nil || got.ID != first.ID {
		t.Errorf("lookup by key failed: %v", err)
	}
	if _, err := s.GetByIdempotencyKey(ctx, domain.PipelineSegment, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("key is scoped by pipeline, got %v", err)
	}
}

func TestMemoryExecutionStore_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()
	exec := newExecution("", t0)
	_ = s.Create(ctx, exec)

	a, _ := s.GetByID(ctx, exec.ID)
	b, _ := s.GetByID(ctx, exec.ID)

	a.MarkRunning(t0)
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if a.Version != 1 {
		t.Errorf("version should be bumped, got %d", a.Version)
	}

	b.MarkFailed(t0, "", "execution cancelled")
	if err := s.Update(ctx, b); !errors.Is(err, ErrConflict) {
		t.Errorf("stale update should conflict, got %v", err)
	}

	stored, _ := s.GetByID(ctx, exec.ID)
	if stored.Status != domain.ExecutionStatusRunning {
		t.Errorf("stale write must not land, got %s", stored.Status)
	}

	missing := newExecution("", t0)
	if err := s.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryExecutionStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()
	exec := newExecution("", t0)
	_ = s.Create(ctx, exec)

	got, _ := s.GetByID(ctx, exec.ID)
	_ = got.Context.Open("mutated", nil)
	got.Status = domain.ExecutionStatusFailed

	again, _ := s.GetByID(ctx, exec.ID)
	if again.Status != domain.ExecutionStatusPending || again.Context.Len() != 0 {
		t.Error("callers must not mutate stored state")
	}
}

func TestMemoryExecutionStore_ClaimDue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()

	due := newExecution("", t0)
	later := newExecution("", t0)
	wake := t0.Add(time.Hour)
	later.NextWakeAt = &wake
	done := newExecution("", t0)
	done.MarkSucceeded(t0)

	for _, e := range []*domain.Execution{due, later, done} {
		_ = s.Create(ctx, e)
	}

	claimed, err := s.ClaimDue(ctx, t0, time.Minute, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("expected only the due execution, got %d", len(claimed))
	}
	if claimed[0].LeaseUntil == nil || !claimed[0].LeaseUntil.Equal(t0.Add(time.Minute)) {
		t.Errorf("lease not set: %v", claimed[0].LeaseUntil)
	}

	again, _ := s.ClaimDue(ctx, t0.Add(30*time.Second), time.Minute, 10)
	if len(again) != 0 {
		t.Error("leased execution must not be claimed twice")
	}

	expired, _ := s.ClaimDue(ctx, t0.Add(2*time.Minute), time.Minute, 10)
	if len(expired) != 1 {
		t.Errorf("expired lease should be claimable, got %d", len(expired))
	}
}

func TestMemoryExecutionStore_ExtendLease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()

	exec := newExecution("", t0)
	_ = s.Create(ctx, exec)

	claimed, _ := s.ClaimDue(ctx, t0, time.Minute, 10)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed execution, got %d", len(claimed))
	}
	held := *claimed[0].LeaseUntil

	extended := t0.Add(3 * time.Minute)
	if err := s.ExtendLease(ctx, exec.ID, held, extended); err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if err := s.ExtendLease(ctx, exec.ID, held, t0.Add(time.Hour)); !errors.Is(err, ErrConflict) {
		t.Errorf("stale lease holder should get ErrConflict, got %v", err)
	}
	if err := s.ExtendLease(ctx, uuid.New(), held, extended); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Запись шага не откатывает продлённую аренду
	step := claimed[0]
	step.MarkRunning(t0)
	if err := s.Update(ctx, &step); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := s.GetByID(ctx, exec.ID)
	if got.LeaseUntil == nil || !got.LeaseUntil.Equal(extended) {
		t.Errorf("update must keep the extended lease, got %v", got.LeaseUntil)
	}
	if again, _ := s.ClaimDue(ctx, t0.Add(2*time.Minute), time.Minute, 10); len(again) != 0 {
		t.Error("extended lease must block other claims")
	}

	// Приостановка снимает аренду
	step.Reschedule(t0.Add(time.Minute))
	if err := s.Update(ctx, &step); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ = s.GetByID(ctx, exec.ID)
	if got.LeaseUntil != nil {
		t.Errorf("suspend should clear the lease, got %v", got.LeaseUntil)
	}
	if err := s.ExtendLease(ctx, exec.ID, extended, t0.Add(time.Hour)); !errors.Is(err, ErrConflict) {
		t.Errorf("released lease cannot be extended, got %v", err)
	}
}

func TestMemoryExecutionStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()

	for i := 0; i < 5; i++ {
		_ = s.Create(ctx, newExecution("", t0.Add(time.Duration(i)*time.Minute)))
	}
	seg := domain.NewExecution(domain.Trigger{Pipeline: domain.PipelineSegment}, t0.Add(time.Hour))
	_ = s.Create(ctx, seg)

	all, _ := s.List(ctx, ExecutionFilter{})
	if len(all) != 6 || all[0].ID != seg.ID {
		t.Errorf("expected newest first, got %d items", len(all))
	}

	integration, _ := s.List(ctx, ExecutionFilter{Pipeline: domain.PipelineIntegration, Limit: 2, Offset: 1})
	if len(integration) != 2 {
		t.Errorf("expected page of 2, got %d", len(integration))
	}

	status := domain.ExecutionStatusSucceeded
	none, _ := s.List(ctx, ExecutionFilter{Status: &status})
	if len(none) != 0 {
		t.Errorf("expected no succeeded executions, got %d", len(none))
	}
}

// --- MemoryScheduleStore Tests ---

func TestMemoryScheduleStore_ListDue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryScheduleStore()

	past := t0.Add(-time.Minute)
	future := t0.Add(time.Minute)
	due := &domain.Schedule{ID: uuid.New(), Pipeline: "integration", Enabled: true, NextDueAt: &past}
	notYet := &domain.Schedule{ID: uuid.New(), Pipeline: "integration", Enabled: true, NextDueAt: &future}
	disabled := &domain.Schedule{ID: uuid.New(), Pipeline: "integration", Enabled: false, NextDueAt: &past}
	for _, sc := range []*domain.Schedule{due, notYet, disabled} {
		_ = s.Create(ctx, sc)
	}

	got, _ := s.ListDue(ctx, t0, 10)
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("expected only the due schedule, got %d", len(got))
	}

	if err := s.SetEnabled(ctx, due.ID, false); err != nil {
		t.Fatalf("set enabled failed: %v", err)
	}
	if got, _ := s.ListDue(ctx, t0, 10); len(got) != 0 {
		t.Error("disabled schedule must not be due")
	}

	if err := s.Delete(ctx, due.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.Delete(ctx, due.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Open Tests ---

func TestOpen_Memory(t *testing.T) {
	stores, err := Open(context.Background(), KindMemory, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stores.Close()

	if stores.Pool != nil {
		t.Error("memory store must not open a pool")
	}
	if _, ok := stores.Executions.(*MemoryExecutionStore); !ok {
		t.Errorf("expected MemoryExecutionStore, got %T", stores.Executions)
	}
	if _, ok := stores.Schedules.(*MemoryScheduleStore); !ok {
		t.Errorf("expected MemoryScheduleStore, got %T", stores.Schedules)
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	if _, err := Open(context.Background(), "sqlite", slog.New(slog.DiscardHandler)); err == nil {
		t.Error("expected error for unknown store kind")
	}
}

// --- SessionLock Tests ---

// Требует Postgres: DB_URL=postgresql://... go test ./internal/repo
func TestSessionLock(t *testing.T) {
	if os.Getenv("DB_URL") == "" {
		t.Skip("DB_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	const key int64 = 99_424_242
	first := NewSessionLock(pool, key)
	second := NewSessionLock(pool, key)

	if ok, err := first.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, err := first.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("holder should keep the lock: ok=%v err=%v", ok, err)
	}
	if ok, _ := second.TryAcquire(ctx); ok {
		t.Fatal("second holder must not get the lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if first.Held() {
		t.Error("lock should not be held after release")
	}
	if ok, err := second.TryAcquire(ctx); err != nil || !ok {
		t.Errorf("lock should be free after release: ok=%v err=%v", ok, err)
	}
	_ = second.Release(ctx)
}
