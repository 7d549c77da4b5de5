package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// MemoryExecutionStore — ExecutionStore в памяти процесса.
// Используется при CONVEYOR_STORE=memory и в тестах.
type MemoryExecutionStore struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*domain.Execution
}

// NewMemoryExecutionStore создаёт пустое хранилище.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[uuid.UUID]*domain.Execution)}
}

func (s *MemoryExecutionStore) Create(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; ok {
		return ErrAlreadyExists
	}
	if exec.IdempotencyKey != "" {
		if s.findByKey(exec.Pipeline, exec.IdempotencyKey) != nil {
			return ErrAlreadyExists
		}
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryExecutionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return exec.Clone(), nil
}

func (s *MemoryExecutionStore) GetByIdempotencyKey(_ context.Context, pipeline, key string) (*domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec := s.findByKey(pipeline, key)
	if exec == nil {
		return nil, ErrNotFound
	}
	return exec.Clone(), nil
}

func (s *MemoryExecutionStore) List(_ context.Context, filter ExecutionFilter) ([]domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Execution
	for _, exec := range s.executions {
		if filter.Pipeline != "" && exec.Pipeline != filter.Pipeline {
			continue
		}
		if filter.Status != nil && exec.Status != *filter.Status {
			continue
		}
		out = append(out, *exec.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Execution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(out, filter.Offset, limitOrDefault(filter.Limit)), nil
}

func (s *MemoryExecutionStore) Update(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[exec.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != exec.Version {
		return ErrConflict
	}

	exec.Version++
	next := exec.Clone()
	if next.LeaseUntil != nil {
		next.LeaseUntil = stored.LeaseUntil
	}
	s.executions[exec.ID] = next
	return nil
}

func (s *MemoryExecutionStore) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Execution
	for _, exec := range s.executions {
		if exec.Status.IsTerminal() || exec.NextWakeAt == nil || exec.NextWakeAt.After(now) {
			continue
		}
		if exec.LeaseUntil != nil && !exec.LeaseUntil.Before(now) {
			continue
		}
		due = append(due, exec)
	}
	slices.SortFunc(due, func(a, b *domain.Execution) int {
		return a.NextWakeAt.Compare(*b.NextWakeAt)
	})

	limit = limitOrDefault(limit)
	if len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]domain.Execution, 0, len(due))
	for _, exec := range due {
		exec.LeaseUntil = &until
		out = append(out, *exec.Clone())
	}
	return out, nil
}

func (s *MemoryExecutionStore) ExtendLease(_ context.Context, id uuid.UUID, held, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return ErrNotFound
	}
	if exec.Status.IsTerminal() || exec.LeaseUntil == nil || !exec.LeaseUntil.Equal(held) {
		return ErrConflict
	}
	exec.LeaseUntil = &until
	return nil
}

func (s *MemoryExecutionStore) findByKey(pipeline, key string) *domain.Execution {
	for _, exec := range s.executions {
		if exec.Pipeline == pipeline && exec.IdempotencyKey == key {
			return exec
		}
	}
	return nil
}

// MemoryScheduleStore — ScheduleStore в памяти процесса.
type MemoryScheduleStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*domain.Schedule
}

// NewMemoryScheduleStore создаёт пустое хранилище расписаний.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[uuid.UUID]*domain.Schedule)}
}

func (s *MemoryScheduleStore) Create(_ context.Context, schedule *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *schedule
	s.schedules[schedule.ID] = &cp
	return nil
}

func (s *MemoryScheduleStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *schedule
	return &cp, nil
}

func (s *MemoryScheduleStore) List(_ context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Schedule
	for _, schedule := range s.schedules {
		if filter.Pipeline != "" && schedule.Pipeline != filter.Pipeline {
			continue
		}
		if filter.Enabled != nil && schedule.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, *schedule)
	}
	slices.SortFunc(out, func(a, b domain.Schedule) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(out, filter.Offset, limitOrDefault(filter.Limit)), nil
}

func (s *MemoryScheduleStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Schedule
	for _, schedule := range s.schedules {
		if schedule.IsDue(now) {
			out = append(out, *schedule)
		}
	}
	slices.SortFunc(out, func(a, b domain.Schedule) int {
		return a.NextDueAt.Compare(*b.NextDueAt)
	})
	return page(out, 0, limitOrDefault(limit)), nil
}

func (s *MemoryScheduleStore) Update(_ context.Context, schedule *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; !ok {
		return ErrNotFound
	}
	cp := *schedule
	s.schedules[schedule.ID] = &cp
	return nil
}

func (s *MemoryScheduleStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *MemoryScheduleStore) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	schedule.Enabled = enabled
	schedule.UpdatedAt = time.Now()
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
