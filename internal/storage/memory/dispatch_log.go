package memory

import (
	"context"
	"sync"
	"time"

	"mbbank-monitor/internal/storage"
)

// DispatchLog is an in-memory implementation of storage.DispatchLogStore.
// Used in tests and with --use-memory; forgets everything on restart.
type DispatchLog struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewDispatchLog creates a new in-memory dispatch log.
func NewDispatchLog() *DispatchLog {
	return &DispatchLog{
		seen: make(map[string]time.Time),
	}
}

// Contains reports whether id has already been dispatched.
func (s *DispatchLog) Contains(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok, nil
}

// MarkDispatched records an id. Returns ErrDuplicateKey if already recorded.
func (s *DispatchLog) MarkDispatched(_ context.Context, id string, at time.Time) error {
	if id == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return storage.ErrDuplicateKey
	}
	s.seen[id] = at
	return nil
}

// Len returns the number of recorded ids.
func (s *DispatchLog) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen), nil
}
