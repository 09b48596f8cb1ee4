package domain

import (
	"regexp"
	"strings"
	"time"
)

// Direction represents the money flow of a transaction.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is a valid value.
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// TransactionRecord represents one parsed row of the portal's transaction
// history table. Identity is ID (the bank-assigned entry number); records are
// immutable once created.
type TransactionRecord struct {
	ID           string    // bank entry number, unique per transaction
	Timestamp    time.Time // transaction time, bank-local zone
	Amount       int64     // absolute amount in VND
	Direction    Direction // CREDIT | DEBIT
	Counterparty string    // beneficiary / remitter unit
	Description  string    // free-text transfer description
	Balance      string    // running balance column, kept verbatim
	RawCells     []string  // original row cells for archiving
}

// IsCredit reports whether the record increases the account balance.
func (r *TransactionRecord) IsCredit() bool {
	return r.Direction == DirectionCredit
}

// orderRefPattern matches an e-commerce order reference embedded in a
// transfer description: "GH" followed by exactly six digits, at the start or
// preceded by a separator.
var orderRefPattern = regexp.MustCompile(`(?:^|[\s.,\-])(GH\d{6})`)

// OrderRef extracts the order reference from the transfer description.
// Returns the reference and true, or "" and false when the description does
// not carry one.
func (r *TransactionRecord) OrderRef() (string, bool) {
	m := orderRefPattern.FindStringSubmatch(r.Description)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseAmount converts a portal amount string ("1.234.567") to VND.
// Returns 0 for empty, "0" or malformed input.
func ParseAmount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var n int64
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int64(c-'0')
		case c == '.' || c == ',':
			// thousands separator
		default:
			return 0
		}
	}
	return n
}
