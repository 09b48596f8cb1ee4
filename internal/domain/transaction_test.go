package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1.500.000", 1500000},
		{"1,500,000", 1500000},
		{"999", 999},
		{" 2.000 ", 2000},
		{"12a34", 0},
		{"-500", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAmount(tt.in), "input %q", tt.in)
	}
}

func TestOrderRef(t *testing.T) {
	tests := []struct {
		desc string
		want string
		ok   bool
	}{
		{"GH123456", "GH123456", true},
		{"thanh toan GH123456", "GH123456", true},
		{"don hang.GH654321 chuyen khoan", "GH654321", true},
		{"ref-GH000001", "GH000001", true},
		{"ma,GH999999", "GH999999", true},
		{"xGH123456", "", false},       // no separator before GH
		{"GH12345", "", false},         // five digits
		{"GH1234567", "GH123456", true}, // first six digits match
		{"chuyen tien an trua", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		rec := &TransactionRecord{Description: tt.desc}
		got, ok := rec.OrderRef()
		assert.Equal(t, tt.ok, ok, "description %q", tt.desc)
		assert.Equal(t, tt.want, got, "description %q", tt.desc)
	}
}

func TestDirection(t *testing.T) {
	assert.True(t, DirectionCredit.IsValid())
	assert.True(t, DirectionDebit.IsValid())
	assert.False(t, Direction("SIDEWAYS").IsValid())

	credit := &TransactionRecord{Direction: DirectionCredit}
	debit := &TransactionRecord{Direction: DirectionDebit}
	require.True(t, credit.IsCredit())
	require.False(t, debit.IsCredit())
}
