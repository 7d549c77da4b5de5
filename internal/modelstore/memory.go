package modelstore

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore — Store в памяти процесса. Используется для локального
// запуска и в тестах.
type MemoryStore struct {
	mu      sync.RWMutex
	version *ModelVersion
	job     *SegmentJob
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CurrentVersion(_ context.Context) (ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.version == nil {
		return ModelVersion{}, ErrNoVersion
	}
	return *s.version, nil
}

func (s *MemoryStore) SetCurrentVersion(_ context.Context, v ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = &v
	return nil
}

func (s *MemoryStore) RecordSegmentJob(_ context.Context, job SegmentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Targets = slices.Clone(job.Targets)
	s.job = &job
	return nil
}

func (s *MemoryStore) LastSegmentJob(_ context.Context) (SegmentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.job == nil {
		return SegmentJob{}, ErrNoSegmentJob
	}
	job := *s.job
	job.Targets = slices.Clone(job.Targets)
	return job, nil
}
