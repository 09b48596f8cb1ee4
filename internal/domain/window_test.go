package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeWindow(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 30, 500, time.UTC)
	w := ComputeWindow(now, 30*time.Minute)

	assert.Equal(t, BankZone(), w.From.Location())
	assert.Equal(t, 0, w.From.Second(), "window start is truncated to the minute")
	assert.True(t, w.To.Equal(now))
	assert.True(t, w.From.Before(w.To))
}

func TestFromFilterFormat(t *testing.T) {
	w := PollWindow{From: time.Date(2025, 3, 14, 9, 30, 0, 0, BankZone())}
	assert.Equal(t, "14/03/2025 - 09:30", w.FromFilter())
}

func TestWindowContains(t *testing.T) {
	from := time.Date(2025, 3, 14, 9, 30, 0, 0, BankZone())
	to := time.Date(2025, 3, 14, 10, 0, 0, 0, BankZone())
	w := PollWindow{From: from, To: to}

	assert.True(t, w.Contains(from), "inclusive start")
	assert.True(t, w.Contains(to), "inclusive end")
	assert.True(t, w.Contains(from.Add(time.Minute)))
	assert.False(t, w.Contains(from.Add(-time.Second)))
	assert.False(t, w.Contains(to.Add(time.Second)))
}

func TestSessionAge(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	var s Session
	assert.Zero(t, s.Age(now), "unestablished session has no age")

	s.EstablishedAt = now.Add(-5 * time.Minute)
	assert.Equal(t, 5*time.Minute, s.Age(now))

	s.Touch(now)
	assert.True(t, s.LastActivityAt.Equal(now))
}
