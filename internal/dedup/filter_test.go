package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mbbank-monitor/internal/domain"
	"mbbank-monitor/internal/storage/memory"
)

func rec(id string) *domain.TransactionRecord {
	return &domain.TransactionRecord{ID: id}
}

func TestFilterNewSplitsSeenFromFresh(t *testing.T) {
	ctx := context.Background()
	log := memory.NewDispatchLog()

	var records []*domain.TransactionRecord
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("FT%03d", i)
		records = append(records, rec(id))
		if i%2 == 0 {
			require.NoError(t, log.MarkDispatched(ctx, id, time.Now()))
		}
	}

	fresh, err := FilterNew(ctx, log, records)
	require.NoError(t, err)
	require.Len(t, fresh, 50)
	for _, r := range fresh {
		seen, err := log.Contains(ctx, r.ID)
		require.NoError(t, err)
		assert.False(t, seen)
	}
}

func TestFilterNewPreservesOrder(t *testing.T) {
	ctx := context.Background()
	log := memory.NewDispatchLog()

	fresh, err := FilterNew(ctx, log, []*domain.TransactionRecord{
		rec("FT3"), rec("FT1"), rec("FT2"),
	})
	require.NoError(t, err)
	require.Len(t, fresh, 3)
	assert.Equal(t, "FT3", fresh[0].ID)
	assert.Equal(t, "FT1", fresh[1].ID)
	assert.Equal(t, "FT2", fresh[2].ID)
}

func TestFilterNewDropsIntraBatchDuplicates(t *testing.T) {
	ctx := context.Background()
	log := memory.NewDispatchLog()

	fresh, err := FilterNew(ctx, log, []*domain.TransactionRecord{
		rec("FT1"), rec("FT1"), rec("FT2"),
	})
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "FT1", fresh[0].ID)
	assert.Equal(t, "FT2", fresh[1].ID)
}

func TestFilterNewSkipsEmptyIDs(t *testing.T) {
	ctx := context.Background()
	log := memory.NewDispatchLog()

	fresh, err := FilterNew(ctx, log, []*domain.TransactionRecord{
		rec(""), nil, rec("FT1"),
	})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "FT1", fresh[0].ID)
}

func TestFilterNewNeverWritesTheLog(t *testing.T) {
	ctx := context.Background()
	log := memory.NewDispatchLog()

	_, err := FilterNew(ctx, log, []*domain.TransactionRecord{rec("FT1")})
	require.NoError(t, err)

	n, err := log.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFilterNewEmptyBatch(t *testing.T) {
	fresh, err := FilterNew(context.Background(), memory.NewDispatchLog(), nil)
	require.NoError(t, err)
	assert.Nil(t, fresh)
}
