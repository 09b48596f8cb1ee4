package memory

import (
	"context"
	"sync"
	"time"

	"mbbank-monitor/internal/domain"
	"mbbank-monitor/internal/storage"
)

// ArchivedBatch is one archived fetch cycle.
type ArchivedBatch struct {
	CycleID   string
	FetchedAt time.Time
	Records   []*domain.TransactionRecord
}

// ArchiveStore is an in-memory implementation of
// storage.TransactionArchiveStore.
type ArchiveStore struct {
	mu      sync.RWMutex
	batches []ArchivedBatch
}

// NewArchiveStore creates a new in-memory archive store.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{}
}

// InsertBulk appends all records of one fetch cycle.
func (s *ArchiveStore) InsertBulk(_ context.Context, cycleID string, fetchedAt time.Time, records []*domain.TransactionRecord) error {
	if cycleID == "" {
		return storage.ErrInvalidInput
	}

	// Copy records to prevent external mutation
	copied := make([]*domain.TransactionRecord, len(records))
	for i, r := range records {
		rc := *r
		copied[i] = &rc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, ArchivedBatch{
		CycleID:   cycleID,
		FetchedAt: fetchedAt,
		Records:   copied,
	})
	return nil
}

// Batches returns all archived batches in insertion order.
func (s *ArchiveStore) Batches() []ArchivedBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ArchivedBatch, len(s.batches))
	copy(out, s.batches)
	return out
}
