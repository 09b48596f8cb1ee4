// Package dedup filters already-dispatched transactions out of a fetched
// batch. The dispatch log is the authority; this package never writes to it.
package dedup

import (
	"context"
	"fmt"

	"mbbank-monitor/internal/domain"
	"mbbank-monitor/internal/storage"
)

// FilterNew returns the records whose id is absent from the dispatch log,
// preserving input order. It also drops intra-batch duplicates: overlapping
// pagination can return the same row twice within one cycle.
func FilterNew(ctx context.Context, log storage.DispatchLogStore, records []*domain.TransactionRecord) ([]*domain.TransactionRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	inBatch := make(map[string]struct{}, len(records))
	var fresh []*domain.TransactionRecord

	for _, r := range records {
		if r == nil || r.ID == "" {
			continue
		}
		if _, dup := inBatch[r.ID]; dup {
			continue
		}
		inBatch[r.ID] = struct{}{}

		seen, err := log.Contains(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("check seen %s: %w", r.ID, err)
		}
		if !seen {
			fresh = append(fresh, r)
		}
	}

	return fresh, nil
}
