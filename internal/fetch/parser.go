// Package fetch pulls the transaction history table from an authenticated
// portal session and parses it into domain records.
package fetch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mbbank-monitor/internal/domain"
)

// Column order of the portal's transaction history table.
const (
	colSeq = iota
	colAction
	colEntryNo
	colDebit
	colCredit
	colBalance
	colCounterparty
	colDescription
	colTxnDate
	colBookingDate

	rowCells = 10
)

// ErrShortRow means the row did not carry the full cell set. Header and
// spacer rows do this; they are skipped, not failed.
var ErrShortRow = errors.New("row has too few cells")

// Timestamp layouts the portal renders, most specific first.
var txnTimeLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseRow converts one table row into a TransactionRecord. Rows without an
// entry number are rejected with ErrShortRow semantics: skip, don't fail the
// page. An unparseable timestamp leaves Timestamp zero rather than dropping
// the record, so a layout change degrades ordering instead of losing money
// movements.
func ParseRow(cells []string) (*domain.TransactionRecord, error) {
	if len(cells) < rowCells {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShortRow, len(cells), rowCells)
	}

	id := strings.TrimSpace(cells[colEntryNo])
	if id == "" {
		return nil, fmt.Errorf("%w: empty entry number", ErrShortRow)
	}

	debit := domain.ParseAmount(cells[colDebit])
	credit := domain.ParseAmount(cells[colCredit])

	rec := &domain.TransactionRecord{
		ID:           id,
		Counterparty: strings.TrimSpace(cells[colCounterparty]),
		Description:  strings.TrimSpace(cells[colDescription]),
		Balance:      strings.TrimSpace(cells[colBalance]),
		RawCells:     append([]string(nil), cells...),
	}
	if credit > 0 {
		rec.Amount = credit
		rec.Direction = domain.DirectionCredit
	} else {
		rec.Amount = debit
		rec.Direction = domain.DirectionDebit
	}

	rec.Timestamp = parseTxnTime(cells[colTxnDate])
	return rec, nil
}

// parseTxnTime parses the transaction date cell in the bank's zone. A
// date-only cell resolves to end of day so inclusive window filters keep it.
// Returns the zero time when no layout matches.
func parseTxnTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range txnTimeLayouts {
		t, err := time.ParseInLocation(layout, s, domain.BankZone())
		if err != nil {
			continue
		}
		if layout == "02/01/2006" {
			t = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		}
		return t
	}
	return time.Time{}
}
