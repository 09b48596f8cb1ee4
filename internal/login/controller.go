// Package login drives the portal authentication flow: captcha capture and
// solving, form submission, and outcome classification. Captcha rejections
// are retried, credential and lockout rejections are not, and a page the
// controller cannot classify gets one retry before the run is abandoned.
package login

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"mbbank-monitor/internal/browser"
	"mbbank-monitor/internal/captcha"
	"mbbank-monitor/internal/config"
)

// Portal error codes surfaced in the rejection dialog.
const (
	codeBadCaptcha    = "GW715"
	codeAccountLocked = "GW18"
)

// Login outcome errors.
var (
	// ErrInvalidCaptcha means the portal rejected the solved captcha.
	// Retryable with a fresh captcha.
	ErrInvalidCaptcha = errors.New("captcha rejected")

	// ErrAccountLocked means the portal reported a temporary lockout.
	// Further attempts would extend the lockout.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrInvalidCredentials means the portal rejected the credentials.
	// Retrying with the same credentials cannot succeed.
	ErrInvalidCredentials = errors.New("credentials rejected")

	// ErrAttemptsExhausted means every allowed attempt failed with a
	// retryable outcome.
	ErrAttemptsExhausted = errors.New("login attempts exhausted")

	// ErrUnknownPageState means submission twice left the page in a state
	// that is neither success nor a known rejection. The portal DOM has
	// likely changed; retrying cannot help and an operator must look.
	ErrUnknownPageState = errors.New("unrecognized page state after submit")
)

// Default page wait timings.
const (
	DefaultElementWait = 10 * time.Second
	DefaultOutcomeWait = 12 * time.Second
	DefaultPollEvery   = 250 * time.Millisecond

	clickGrace = 300 * time.Millisecond
)

// Credentials for the corporate banking portal.
type Credentials struct {
	CorpID   string
	Username string
	Password string
}

// Controller runs login attempts against the portal through a browser driver.
type Controller struct {
	driver   browser.Driver
	solver   captcha.Solver
	portal   config.Portal
	creds    Credentials
	attempts int
	logger   *log.Logger

	elementWait time.Duration
	outcomeWait time.Duration
	pollEvery   time.Duration
}

// Options configures a Controller.
type Options struct {
	Driver      browser.Driver
	Solver      captcha.Solver
	Portal      config.Portal
	Credentials Credentials
	MaxAttempts int
	Logger      *log.Logger

	// Page wait overrides; zero values use the defaults.
	ElementWait time.Duration
	OutcomeWait time.Duration
	PollEvery   time.Duration
}

// NewController creates a login controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Driver == nil {
		return nil, errors.New("login: driver is required")
	}
	if opts.Solver == nil {
		return nil, errors.New("login: captcha solver is required")
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = config.DefaultMaxLoginAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		driver:      opts.Driver,
		solver:      opts.Solver,
		portal:      opts.Portal,
		creds:       opts.Credentials,
		attempts:    attempts,
		logger:      logger,
		elementWait: opts.ElementWait,
		outcomeWait: opts.OutcomeWait,
		pollEvery:   opts.PollEvery,
	}
	if c.elementWait <= 0 {
		c.elementWait = DefaultElementWait
	}
	if c.outcomeWait <= 0 {
		c.outcomeWait = DefaultOutcomeWait
	}
	if c.pollEvery <= 0 {
		c.pollEvery = DefaultPollEvery
	}
	return c, nil
}

// Login runs the attempt loop. It returns nil once authenticated, a fatal
// classification error (ErrAccountLocked, ErrInvalidCredentials,
// ErrUnknownPageState) as soon as one is observed, or ErrAttemptsExhausted
// after the last retryable failure. An unrecognized page state is retried
// exactly once: a second one means the portal no longer looks like the
// portal, and hammering it would only mask that.
func (c *Controller) Login(ctx context.Context) error {
	var lastErr error
	unknownPages := 0
	for attempt := 1; attempt <= c.attempts; attempt++ {
		c.logger.Printf("login attempt %d/%d", attempt, c.attempts)

		err := c.attempt(ctx)
		if err == nil {
			c.logger.Printf("login succeeded on attempt %d", attempt)
			return nil
		}
		if errors.Is(err, ErrAccountLocked) || errors.Is(err, ErrInvalidCredentials) {
			return err
		}
		if errors.Is(err, ErrUnknownPageState) {
			unknownPages++
			if unknownPages > 1 {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Printf("login attempt %d failed: %v", attempt, err)
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, c.attempts, lastErr)
}

// attempt performs one full login round.
func (c *Controller) attempt(ctx context.Context) error {
	// A dialog left over from the previous attempt blocks the form.
	c.dismissDialog(ctx)

	if err := c.driver.Navigate(ctx, c.portal.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	c.dismissDialog(ctx)

	sel := c.portal.Selectors
	if err := c.waitVisible(ctx, sel.CaptchaImage, c.elementWait); err != nil {
		return fmt.Errorf("captcha image: %w", err)
	}

	image, err := c.driver.Screenshot(ctx, sel.CaptchaImage)
	if err != nil {
		return fmt.Errorf("capture captcha: %w", err)
	}
	answer, err := c.solver.Solve(ctx, image)
	if err != nil {
		return fmt.Errorf("solve captcha: %w", err)
	}
	c.logger.Printf("captcha solved (%d chars)", len(answer))

	fields := []struct {
		selector string
		value    string
	}{
		{sel.CorpIDInput, c.creds.CorpID},
		{sel.UsernameInput, c.creds.Username},
		{sel.PasswordInput, c.creds.Password},
		{sel.CaptchaInput, answer},
	}
	for _, f := range fields {
		if err := c.driver.Fill(ctx, f.selector, f.value); err != nil {
			return fmt.Errorf("fill %s: %w", f.selector, err)
		}
	}

	if err := c.driver.Click(ctx, sel.SubmitButton); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	return c.classifyOutcome(ctx)
}

// classifyOutcome polls the page after submit until it resolves to success,
// a rejection dialog, or the wait expires.
func (c *Controller) classifyOutcome(ctx context.Context) error {
	deadline := time.Now().Add(c.outcomeWait)
	for {
		url, err := c.driver.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("read url: %w", err)
		}
		if loggedInURL(url) {
			return nil
		}

		if text, ok := c.dialogText(ctx); ok {
			c.dismissDialog(ctx)
			switch {
			case strings.Contains(text, codeBadCaptcha):
				return fmt.Errorf("%w: %s", ErrInvalidCaptcha, text)
			case strings.Contains(text, codeAccountLocked):
				return fmt.Errorf("%w: %s", ErrAccountLocked, text)
			default:
				return fmt.Errorf("%w: %s", ErrInvalidCredentials, text)
			}
		}

		if time.Now().After(deadline) {
			return ErrUnknownPageState
		}
		if err := sleep(ctx, c.pollEvery); err != nil {
			return err
		}
	}
}

// SessionActive reports whether the browser still holds an authenticated
// portal session, judged from the current URL.
func (c *Controller) SessionActive(ctx context.Context) (bool, error) {
	url, err := c.driver.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	return loggedInURL(url), nil
}

// Logout clicks the portal logout control. Best effort: a missing button
// (already logged out, session dead) is not an error.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.driver.Click(ctx, c.portal.Selectors.LogoutButton)
	if err != nil && !errors.Is(err, browser.ErrNoSuchElement) {
		return err
	}
	return nil
}

// dialogText returns the visible text of the rejection dialog, if present.
func (c *Controller) dialogText(ctx context.Context) (string, bool) {
	text, err := c.driver.Text(ctx, c.portal.Selectors.ErrorDialog)
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

// dismissDialog closes any open dialog. Best effort.
func (c *Controller) dismissDialog(ctx context.Context) {
	if err := c.driver.Click(ctx, c.portal.Selectors.PopupClose); err == nil {
		_ = sleep(ctx, clickGrace)
	}
}

// waitVisible polls until the selector matches something.
func (c *Controller) waitVisible(ctx context.Context, selector string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		found, err := c.driver.Find(ctx, selector)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", browser.ErrNoSuchElement, selector)
		}
		if err := sleep(ctx, c.pollEvery); err != nil {
			return err
		}
	}
}

// loggedInURL reports whether the URL looks like an authenticated portal page.
func loggedInURL(url string) bool {
	return strings.Contains(url, "/cp/") && !strings.Contains(url, "login")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
