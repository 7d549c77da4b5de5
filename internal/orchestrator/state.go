package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// activeSet — executions, которые сейчас продвигает этот процесс.
//
// Для каждого хранится cancel: Cancel прерывает текущий poll или
// финализацию, не дожидаясь следующей записи в хранилище. Уже
// отправленный invoke доводится до записи результата.
type activeSet struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func newActiveSet() *activeSet {
	return &activeSet{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// acquire регистрирует execution. false — он уже продвигается.
func (s *activeSet) acquire(id uuid.UUID, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cancels[id]; exists {
		return false
	}
	s.cancels[id] = cancel
	return true
}

func (s *activeSet) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

// cancel прерывает продвижение execution, если оно идёт в этом процессе.
func (s *activeSet) cancel(id uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *activeSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}
