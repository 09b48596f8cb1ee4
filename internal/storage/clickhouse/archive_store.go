package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mbbank-monitor/internal/domain"
	"mbbank-monitor/internal/storage"
)

// ArchiveStore implements storage.TransactionArchiveStore using ClickHouse.
// Every fetched row is appended for audit; re-fetched rows from overlapping
// windows are expected and deduplicated at read time by (txn_id, cycle_id).
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TransactionArchiveStore = (*ArchiveStore)(nil)

// InsertBulk appends all records of one fetch cycle.
func (s *ArchiveStore) InsertBulk(ctx context.Context, cycleID string, fetchedAt time.Time, records []*domain.TransactionRecord) error {
	if cycleID == "" {
		return storage.ErrInvalidInput
	}
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO transaction_archive (
			cycle_id, fetched_at, txn_id, txn_time, amount, direction,
			counterparty, description, balance, raw_row
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			cycleID,
			fetchedAt.UTC(),
			r.ID,
			r.Timestamp.UTC(),
			r.Amount,
			string(r.Direction),
			r.Counterparty,
			r.Description,
			r.Balance,
			strings.Join(r.RawCells, "|"),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
