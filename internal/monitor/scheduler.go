package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"mbbank-monitor/internal/browser"
	"mbbank-monitor/internal/config"
	"mbbank-monitor/internal/dedup"
	"mbbank-monitor/internal/dispatch"
	"mbbank-monitor/internal/domain"
	"mbbank-monitor/internal/fetch"
	"mbbank-monitor/internal/login"
	"mbbank-monitor/internal/observability"
	"mbbank-monitor/internal/storage"
)

// ErrFatalLogin wraps login outcomes the scheduler must not retry
// (locked account, rejected credentials).
var ErrFatalLogin = errors.New("unrecoverable login failure")

// Listener observes every dispatch result. Called synchronously from the
// scheduler goroutine; implementations must not block.
type Listener func(dispatch.Result)

// Scheduler owns the browser session and the polling loop.
type Scheduler struct {
	driver  browser.SessionDriver
	login   *login.Controller
	fetcher *fetch.Fetcher
	seenLog storage.DispatchLogStore
	archive storage.TransactionArchiveStore
	gateway *dispatch.Service
	metrics *observability.Metrics
	tun     config.Tunables
	logger  *log.Logger

	listeners []Listener
	tracker   *statusTracker
	session   domain.Session
	backoff   time.Duration
	now       func() time.Time
}

// SchedulerOptions contains configuration for creating a Scheduler.
type SchedulerOptions struct {
	Driver      browser.SessionDriver
	Login       *login.Controller
	Fetcher     *fetch.Fetcher
	DispatchLog storage.DispatchLogStore
	Archive     storage.TransactionArchiveStore // optional
	Gateway     *dispatch.Service
	Metrics     *observability.Metrics // optional
	Tunables    config.Tunables
	Logger      *log.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// NewScheduler creates a scheduler. Driver, login controller, fetcher,
// dispatch log and gateway are required.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	switch {
	case opts.Driver == nil:
		return nil, errors.New("monitor: driver is required")
	case opts.Login == nil:
		return nil, errors.New("monitor: login controller is required")
	case opts.Fetcher == nil:
		return nil, errors.New("monitor: fetcher is required")
	case opts.DispatchLog == nil:
		return nil, errors.New("monitor: dispatch log is required")
	case opts.Gateway == nil:
		return nil, errors.New("monitor: dispatch gateway is required")
	}

	tun := opts.Tunables
	if tun.PollInterval <= 0 {
		tun.PollInterval = config.DefaultPollInterval
	}
	if tun.Lookback <= 0 {
		tun.Lookback = config.DefaultLookback
	}
	if tun.SessionMaxAge <= 0 {
		tun.SessionMaxAge = config.DefaultSessionMaxAge
	}
	if tun.CallTimeout <= 0 {
		tun.CallTimeout = config.DefaultCallTimeout
	}
	if tun.BackoffInitial <= 0 {
		tun.BackoffInitial = config.DefaultBackoffInitial
	}
	if tun.BackoffMax <= 0 {
		tun.BackoffMax = config.DefaultBackoffMax
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		driver:  opts.Driver,
		login:   opts.Login,
		fetcher: opts.Fetcher,
		seenLog: opts.DispatchLog,
		archive: opts.Archive,
		gateway: opts.Gateway,
		metrics: opts.Metrics,
		tun:     tun,
		logger:  logger,
		tracker: newStatusTracker(),
		now:     now,
	}, nil
}

// AddListener registers a dispatch observer. Not safe to call after Run has
// started.
func (s *Scheduler) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	return s.tracker.Snapshot()
}

// Run drives the monitor until the context is cancelled or a fatal login
// failure occurs. It blocks.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Println("Starting monitor scheduler...")

	if err := s.establishSession(ctx); err != nil {
		return s.stop(err)
	}

	ticker := time.NewTicker(s.tun.PollInterval)
	defer ticker.Stop()

	s.logger.Printf("Scheduler started, poll interval: %v, lookback: %v, session max age: %v",
		s.tun.PollInterval, s.tun.Lookback, s.tun.SessionMaxAge)

	for {
		select {
		case <-ctx.Done():
			s.shutdownSession()
			return s.stop(ctx.Err())

		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				return s.stop(err)
			}
		}
	}
}

// tick runs one scheduled round: proactive session restart if the session is
// old, then a polling cycle. Returns an error only for unrecoverable
// conditions; transient failures back off and keep the loop alive.
func (s *Scheduler) tick(ctx context.Context) error {
	if s.session.Age(s.now()) >= s.tun.SessionMaxAge {
		s.logger.Printf("session age %v exceeds %v, restarting session",
			s.session.Age(s.now()).Round(time.Second), s.tun.SessionMaxAge)
		if s.metrics != nil {
			s.metrics.SessionRestarts.Inc()
		}
		if err := s.establishSession(ctx); err != nil {
			return err
		}
	}

	err := s.runCycle(ctx)
	switch {
	case err == nil:
		s.resetBackoff()
		return nil

	case errors.Is(err, fetch.ErrSessionExpired):
		s.logger.Println("portal expired the session, re-authenticating")
		if s.metrics != nil {
			s.metrics.SessionExpiries.Inc()
		}
		s.session.Status = domain.SessionExpired
		s.tracker.setState(StateExpired, s.session.Status)
		if s.metrics != nil {
			s.metrics.MonitorState.Set(StateExpired.gaugeValue())
		}
		return s.establishSession(ctx)

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return nil // outer select observes cancellation
		}
		fallthrough

	default:
		s.logger.Printf("polling cycle failed: %v", err)
		return s.backOff(ctx)
	}
}

// establishSession tears down any existing browser session, starts a fresh
// one and logs in, backing off between retryable failures. Fatal login
// outcomes are returned wrapped in ErrFatalLogin.
func (s *Scheduler) establishSession(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.session = domain.Session{Status: domain.SessionAuthenticating}
		s.tracker.setState(StateLoggingIn, s.session.Status)
		if s.metrics != nil {
			s.metrics.MonitorState.Set(StateLoggingIn.gaugeValue())
		}

		loginStarted := s.now()
		err := s.startAndLogin(ctx)
		if s.metrics != nil {
			s.metrics.LoginDuration.Observe(s.now().Sub(loginStarted).Seconds())
		}
		if err == nil {
			now := s.now()
			s.session = domain.Session{
				Status:         domain.SessionActive,
				EstablishedAt:  now,
				LastActivityAt: now,
			}
			s.tracker.setState(StateActivePolling, s.session.Status)
			s.tracker.sessionStarted(now)
			if s.metrics != nil {
				s.metrics.MonitorState.Set(StateActivePolling.gaugeValue())
				s.metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
			}
			s.resetBackoff()
			return nil
		}

		if errors.Is(err, login.ErrAccountLocked) || errors.Is(err, login.ErrInvalidCredentials) ||
			errors.Is(err, login.ErrUnknownPageState) {
			if s.metrics != nil {
				s.metrics.LoginAttemptsTotal.WithLabelValues("fatal").Inc()
			}
			return fmt.Errorf("%w: %w", ErrFatalLogin, err)
		}
		if ctx.Err() != nil {
			return nil
		}

		if s.metrics != nil {
			s.metrics.LoginAttemptsTotal.WithLabelValues("retryable").Inc()
		}
		s.logger.Printf("login round failed: %v", err)
		if err := s.backOff(ctx); err != nil {
			return err
		}
	}
}

// startAndLogin replaces the browser session and runs one login flow.
func (s *Scheduler) startAndLogin(ctx context.Context) error {
	quitCtx, cancel := context.WithTimeout(ctx, s.tun.CallTimeout)
	_ = s.driver.Quit(quitCtx)
	cancel()

	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("start browser session: %w", err)
	}
	return s.login.Login(ctx)
}

// runCycle executes one polling cycle: fetch, archive, dedup, dispatch in
// ascending timestamp order, mark dispatched.
func (s *Scheduler) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	started := s.now()
	window := domain.ComputeWindow(started, s.tun.Lookback)

	fetchCtx, cancel := context.WithTimeout(ctx, s.tun.CallTimeout)
	records, err := s.fetcher.Fetch(fetchCtx, window)
	cancel()
	if err != nil {
		s.tracker.cycleDone(s.now(), 0, 0, err)
		if s.metrics != nil {
			s.metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		}
		return err
	}
	s.session.Touch(s.now())

	if s.metrics != nil {
		s.metrics.RowsFetched.Add(float64(len(records)))
		s.metrics.FetchDuration.Observe(s.now().Sub(started).Seconds())
	}

	// Archive is an audit trail; its failure never blocks dispatch.
	if s.archive != nil && len(records) > 0 {
		archiveCtx, cancel := context.WithTimeout(ctx, s.tun.CallTimeout)
		err := s.archive.InsertBulk(archiveCtx, cycleID, started, records)
		cancel()
		if err != nil {
			s.logger.Printf("archive insert failed for cycle %s: %v", cycleID, err)
			if s.metrics != nil {
				s.metrics.ArchiveInsertErrors.Inc()
			}
		}
	}

	dedupCtx, cancel := context.WithTimeout(ctx, s.tun.CallTimeout)
	fresh, err := dedup.FilterNew(dedupCtx, s.seenLog, records)
	cancel()
	if err != nil {
		s.tracker.cycleDone(s.now(), len(records), 0, err)
		if s.metrics != nil {
			s.metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("dedup cycle %s: %w", cycleID, err)
	}
	if s.metrics != nil {
		s.metrics.NewTransactions.Add(float64(len(fresh)))
		s.metrics.DuplicatesSkipped.Add(float64(len(records) - len(fresh)))
	}

	// Oldest first, so downstream consumers observe bank order. Records
	// with unparseable timestamps sort first and still go out.
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Timestamp.Before(fresh[j].Timestamp)
	})

	dispatched := 0
	for _, rec := range fresh {
		s.dispatchOne(ctx, rec)
		dispatched++
	}

	s.tracker.cycleDone(s.now(), len(records), dispatched, nil)
	if s.metrics != nil {
		s.metrics.PollCyclesTotal.WithLabelValues("success").Inc()
		s.metrics.LastSuccessfulPoll.Set(float64(s.now().Unix()))
		s.metrics.SessionAgeSeconds.Set(s.session.Age(s.now()).Seconds())
		lenCtx, cancel := context.WithTimeout(ctx, s.tun.CallTimeout)
		if n, err := s.seenLog.Len(lenCtx); err == nil {
			s.metrics.DispatchLogSize.Set(float64(n))
		}
		cancel()
	}
	if dispatched > 0 {
		s.logger.Printf("cycle %s: %d fetched, %d dispatched", cycleID, len(records), dispatched)
	}
	return nil
}

// dispatchOne pushes one record downstream and marks it seen. The mark
// happens regardless of dispatch outcome: a transaction is attempted at most
// once, and a failed push is visible in logs and metrics, not retried.
func (s *Scheduler) dispatchOne(ctx context.Context, rec *domain.TransactionRecord) {
	callStarted := s.now()
	callCtx, cancel := context.WithTimeout(ctx, s.tun.CallTimeout)
	res := s.gateway.Process(callCtx, rec)
	cancel()

	if s.metrics != nil {
		s.metrics.DispatchDuration.Observe(s.now().Sub(callStarted).Seconds())
		outcome := "success"
		if res.Err != nil {
			outcome = "error"
		}
		s.metrics.NotificationsSent.WithLabelValues(outcome).Inc()
		if res.OrderRef != "" {
			s.metrics.OrdersCreated.WithLabelValues("success").Inc()
		} else if _, ok := rec.OrderRef(); ok && rec.IsCredit() {
			s.metrics.OrdersCreated.WithLabelValues("error").Inc()
		}
	}

	markCtx, cancel := context.WithTimeout(ctx, s.tun.CallTimeout)
	err := s.seenLog.MarkDispatched(markCtx, rec.ID, s.now())
	cancel()
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.logger.Printf("marking %s dispatched failed: %v", rec.ID, err)
	}

	for _, l := range s.listeners {
		l(res)
	}
}

// backOff sleeps for the current backoff and doubles it up to the cap.
func (s *Scheduler) backOff(ctx context.Context) error {
	if s.backoff <= 0 {
		s.backoff = s.tun.BackoffInitial
	}
	s.tracker.setBackoff(s.backoff)
	if s.metrics != nil {
		s.metrics.BackoffSeconds.Set(s.backoff.Seconds())
	}
	s.logger.Printf("backing off %v", s.backoff)

	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
	}

	s.backoff *= 2
	if s.backoff > s.tun.BackoffMax {
		s.backoff = s.tun.BackoffMax
	}
	return nil
}

func (s *Scheduler) resetBackoff() {
	s.backoff = 0
	s.tracker.setBackoff(0)
	if s.metrics != nil {
		s.metrics.BackoffSeconds.Set(0)
	}
}

// shutdownSession logs out and quits the browser on a short context,
// detached from the cancelled run context.
func (s *Scheduler) shutdownSession() {
	ctx, cancel := context.WithTimeout(context.Background(), s.tun.CallTimeout)
	defer cancel()

	if s.session.Status == domain.SessionActive {
		if err := s.login.Logout(ctx); err != nil {
			s.logger.Printf("logout failed: %v", err)
		}
	}
	if err := s.driver.Quit(ctx); err != nil {
		s.logger.Printf("browser quit failed: %v", err)
	}
}

// stop records the terminal state and returns the final error.
func (s *Scheduler) stop(err error) error {
	s.session.Status = domain.SessionUnauthenticated
	s.tracker.setState(StateStopped, s.session.Status)
	if s.metrics != nil {
		s.metrics.MonitorState.Set(StateStopped.gaugeValue())
	}
	s.logger.Println("Scheduler stopped")
	return err
}
