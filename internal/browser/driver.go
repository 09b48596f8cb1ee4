// Package browser wraps a remote browser automation endpoint behind a small
// set of page primitives. One Remote owns at most one browser session at a
// time; higher layers never talk to the hub directly.
package browser

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSuchElement is returned by element-scoped operations when the selector
// matches nothing on the current page.
var ErrNoSuchElement = errors.New("no such element")

// ErrNoSession is returned when an operation is attempted without a started
// browser session.
var ErrNoSession = errors.New("no active browser session")

// DriverError wraps failures of the remote automation endpoint itself
// (hub unreachable, session killed, protocol errors).
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Driver exposes the page primitives the login controller and the transaction
// fetcher are written against. All operations are blocking network calls and
// must be given a bounded context.
type Driver interface {
	// Navigate loads the given URL in the current session.
	Navigate(ctx context.Context, url string) error

	// Find probes for an element. Returns false (not an error) when the
	// selector matches nothing.
	Find(ctx context.Context, selector string) (bool, error)

	// Text returns the visible text of the first element matching selector.
	// Returns ErrNoSuchElement when absent.
	Text(ctx context.Context, selector string) (string, error)

	// Fill clears the first matching input and types text into it.
	Fill(ctx context.Context, selector, text string) error

	// Click clicks the first matching element.
	Click(ctx context.Context, selector string) error

	// Screenshot captures the first matching element as PNG bytes.
	Screenshot(ctx context.Context, selector string) ([]byte, error)

	// CurrentURL returns the URL of the current page.
	CurrentURL(ctx context.Context) (string, error)
}

// SessionDriver is a Driver whose underlying browser session can be created
// and torn down. The monitoring scheduler recreates sessions on re-login.
type SessionDriver interface {
	Driver

	// Start creates a fresh browser session on the remote endpoint,
	// replacing any previous one.
	Start(ctx context.Context) error

	// Quit tears down the current browser session. Safe to call when no
	// session is active.
	Quit(ctx context.Context) error
}
