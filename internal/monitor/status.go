// Package monitor runs the polling scheduler: the state machine that owns
// the browser session, drives login and fetch cycles, and pushes new
// transactions through the dispatch gateway exactly once each.
package monitor

import (
	"sync"
	"time"

	"mbbank-monitor/internal/domain"
)

// State is the scheduler's lifecycle state.
type State string

const (
	StateIdle          State = "IDLE"
	StateLoggingIn     State = "LOGGING_IN"
	StateActivePolling State = "ACTIVE_POLLING"
	StateExpired       State = "EXPIRED"
	StateStopped       State = "STOPPED"
)

// String returns the string representation of State.
func (s State) String() string {
	return string(s)
}

// gaugeValue maps a state to its metric encoding.
func (s State) gaugeValue() float64 {
	switch s {
	case StateIdle:
		return 0
	case StateLoggingIn:
		return 1
	case StateActivePolling:
		return 2
	case StateExpired:
		return 3
	case StateStopped:
		return 4
	}
	return -1
}

// Status is a point-in-time snapshot of the scheduler, safe to serve from
// the HTTP API while the scheduler keeps running.
type Status struct {
	State            State                `json:"state"`
	SessionStatus    domain.SessionStatus `json:"session_status"`
	SessionStartedAt time.Time            `json:"session_started_at,omitempty"`
	LastCycleAt      time.Time            `json:"last_cycle_at,omitempty"`
	LastCycleError   string               `json:"last_cycle_error,omitempty"`
	CyclesCompleted  int64                `json:"cycles_completed"`
	CyclesFailed     int64                `json:"cycles_failed"`
	TransactionsSeen int64                `json:"transactions_seen"`
	Dispatched       int64                `json:"dispatched"`
	CurrentBackoff   time.Duration        `json:"current_backoff_ns"`
}

// statusTracker guards the snapshot. The scheduler goroutine writes, HTTP
// handlers read.
type statusTracker struct {
	mu     sync.RWMutex
	status Status
}

func newStatusTracker() *statusTracker {
	return &statusTracker{status: Status{
		State:         StateIdle,
		SessionStatus: domain.SessionUnauthenticated,
	}}
}

func (t *statusTracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *statusTracker) setState(s State, session domain.SessionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = s
	t.status.SessionStatus = session
}

func (t *statusTracker) sessionStarted(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SessionStartedAt = at
}

func (t *statusTracker) cycleDone(at time.Time, seen, dispatched int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastCycleAt = at
	t.status.TransactionsSeen += int64(seen)
	t.status.Dispatched += int64(dispatched)
	if err != nil {
		t.status.CyclesFailed++
		t.status.LastCycleError = err.Error()
	} else {
		t.status.CyclesCompleted++
		t.status.LastCycleError = ""
	}
}

func (t *statusTracker) setBackoff(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.CurrentBackoff = d
}
