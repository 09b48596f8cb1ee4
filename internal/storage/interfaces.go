package storage

import (
	"context"
	"time"

	"mbbank-monitor/internal/domain"
)

// DispatchLogStore is the append-only record of transaction ids that have
// been handed to the dispatch gateway. It is the authority for "is this new?".
// Ids are added only after a dispatch attempt, never speculatively.
type DispatchLogStore interface {
	// Contains reports whether id has already been dispatched.
	Contains(ctx context.Context, id string) (bool, error)

	// MarkDispatched durably records an id. Returns ErrDuplicateKey if the
	// id was already recorded.
	MarkDispatched(ctx context.Context, id string, at time.Time) error

	// Len returns the number of recorded ids.
	Len(ctx context.Context) (int, error)
}

// TransactionArchiveStore keeps an audit trail of every row fetched from the
// portal, keyed by poll cycle. Archiving is best-effort: failures must never
// block dispatch.
type TransactionArchiveStore interface {
	// InsertBulk appends all records of one fetch cycle.
	InsertBulk(ctx context.Context, cycleID string, fetchedAt time.Time, records []*domain.TransactionRecord) error
}
