// Package captcha abstracts the OCR model that reads the portal's login
// captcha. The model is a black box: it returns a best guess with no
// correctness guarantee, so callers must validate against portal feedback.
package captcha

import (
	"context"
	"errors"
)

// ErrUnreadable is returned when the solver cannot produce any guess for the
// image (empty model output, unsupported format).
var ErrUnreadable = errors.New("captcha unreadable")

// Solver produces a best-guess text for a captcha image.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, image []byte) (string, error)

// Solve implements Solver.
func (f SolverFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}
