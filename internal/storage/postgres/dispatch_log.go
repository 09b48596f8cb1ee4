package postgres

import (
	"context"
	"fmt"
	"time"

	"mbbank-monitor/internal/storage"
)

// DispatchLog implements storage.DispatchLogStore using PostgreSQL. Used when
// the monitor runs somewhere without a durable local filesystem.
type DispatchLog struct {
	pool *Pool
}

// NewDispatchLog creates a new DispatchLog.
func NewDispatchLog(pool *Pool) *DispatchLog {
	return &DispatchLog{pool: pool}
}

// Compile-time interface check.
var _ storage.DispatchLogStore = (*DispatchLog)(nil)

// Contains reports whether id has already been dispatched.
func (s *DispatchLog) Contains(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM dispatch_log WHERE txn_id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check dispatch log: %w", err)
	}
	return exists, nil
}

// MarkDispatched records an id. Returns ErrDuplicateKey if already recorded.
func (s *DispatchLog) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	if id == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO dispatch_log (txn_id, dispatched_at) VALUES ($1, $2)`

	if _, err := s.pool.Exec(ctx, query, id, at.UTC()); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert dispatch log: %w", err)
	}
	return nil
}

// Len returns the number of recorded ids.
func (s *DispatchLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispatch_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dispatch log: %w", err)
	}
	return n, nil
}
