package domain

import "time"

// SessionStatus represents the authentication state against the portal.
type SessionStatus string

const (
	SessionUnauthenticated SessionStatus = "UNAUTHENTICATED"
	SessionAuthenticating  SessionStatus = "AUTHENTICATING"
	SessionActive          SessionStatus = "ACTIVE"
	SessionExpired         SessionStatus = "EXPIRED"
)

// String returns the string representation of SessionStatus.
func (s SessionStatus) String() string {
	return string(s)
}

// Session is the authenticated state with the banking portal. It is owned
// exclusively by the monitoring scheduler; no other component mutates it.
type Session struct {
	Status         SessionStatus
	EstablishedAt  time.Time
	LastActivityAt time.Time
}

// Age returns how long the session has been established.
func (s *Session) Age(now time.Time) time.Duration {
	if s.EstablishedAt.IsZero() {
		return 0
	}
	return now.Sub(s.EstablishedAt)
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}
