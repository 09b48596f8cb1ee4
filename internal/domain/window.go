package domain

import "time"

// bankZone is the portal's local timezone. All dates shown by the portal are
// in Asia/Ho_Chi_Minh regardless of where the monitor runs.
var bankZone = loadBankZone()

func loadBankZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.FixedZone("ICT", 7*3600)
	}
	return loc
}

// BankZone returns the portal's local timezone.
func BankZone() *time.Location {
	return bankZone
}

// PollWindow is the sliding date window requested from the portal each cycle.
// It is recomputed from the current time and never persisted; the lookback
// plus the dispatch log together prevent duplicate dispatch across restarts.
type PollWindow struct {
	From time.Time
	To   time.Time
}

// ComputeWindow derives the window for a cycle: [now-lookback, now] in the
// bank's timezone, truncated to the minute raster the portal's date filter
// accepts.
func ComputeWindow(now time.Time, lookback time.Duration) PollWindow {
	local := now.In(bankZone)
	return PollWindow{
		From: local.Add(-lookback).Truncate(time.Minute),
		To:   local,
	}
}

// FromFilter formats the window start the way the portal's from-date input
// expects: "DD/MM/YYYY - HH:MM".
func (w PollWindow) FromFilter() string {
	return w.From.Format("02/01/2006 - 15:04")
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w PollWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}
