package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mbbank-monitor/internal/browser"
	"mbbank-monitor/internal/captcha"
	"mbbank-monitor/internal/config"
	"mbbank-monitor/internal/dispatch"
	"mbbank-monitor/internal/domain"
	"mbbank-monitor/internal/fetch"
	"mbbank-monitor/internal/login"
	"mbbank-monitor/internal/storage/memory"
)

const (
	loginURL   = "https://ebank.mbbank.com.vn/cp/pl/login"
	inquiryURL = "https://ebank.mbbank.com.vn/cp/account-info/transaction-inquiry"
)

// portalFake simulates the portal end to end: login page, redirects for dead
// sessions, and a single-page transaction table.
type portalFake struct {
	mu  sync.Mutex
	sel config.Selectors

	url         string
	loggedIn    bool
	failLogin   string // dialog text shown after submit; "" logs in
	stallSubmit bool   // submit neither redirects nor shows a dialog
	submits     int
	rows        [][]string

	// Session drops after this many inquiry navigations (0 = never).
	expireAfterFetches int
	fetchNavs          int

	starts int
	quits  int
}

func newPortalFake(rows [][]string) *portalFake {
	return &portalFake{
		sel:  config.Default().Portal.Selectors,
		url:  loginURL,
		rows: rows,
	}
}

func (p *portalFake) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	p.loggedIn = false
	p.url = "about:blank"
	return nil
}

func (p *portalFake) Quit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quits++
	p.loggedIn = false
	return nil
}

func (p *portalFake) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url == inquiryURL {
		p.fetchNavs++
		if p.expireAfterFetches > 0 && p.fetchNavs > p.expireAfterFetches {
			p.loggedIn = false
			p.expireAfterFetches = 0 // next login repairs the session
		}
		if !p.loggedIn {
			p.url = loginURL + "?sessionExpired=true"
			return nil
		}
	}
	p.url = url
	return nil
}

func (p *portalFake) Find(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case selector == p.sel.CaptchaImage:
		return p.url == loginURL, nil
	case selector == p.sel.EmptyMarker:
		return p.onInquiry() && len(p.rows) == 0, nil
	case selector == p.sel.NextPageButton:
		return false, nil
	}
	if p.onInquiry() {
		for i := 1; i <= len(p.rows); i++ {
			if selector == fmt.Sprintf(p.sel.TransactionRow, i) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *portalFake) onInquiry() bool {
	return p.loggedIn && p.url == inquiryURL
}

func (p *portalFake) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector == p.sel.ErrorDialog {
		if p.failLogin != "" {
			return p.failLogin, nil
		}
		return "", browser.ErrNoSuchElement
	}
	if p.onInquiry() {
		for i, row := range p.rows {
			rowSel := fmt.Sprintf(p.sel.TransactionRow, i+1)
			for j, cell := range row {
				if selector == fmt.Sprintf("%s td:nth-child(%d)", rowSel, j+1) {
					return cell, nil
				}
			}
		}
	}
	return "", browser.ErrNoSuchElement
}

func (p *portalFake) Fill(ctx context.Context, selector, text string) error {
	return nil
}

func (p *portalFake) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch selector {
	case p.sel.SubmitButton:
		p.submits++
		if p.failLogin == "" && !p.stallSubmit {
			p.loggedIn = true
			p.url = "https://ebank.mbbank.com.vn/cp/account-info"
		}
	case p.sel.PopupClose:
		if p.failLogin == "" {
			return browser.ErrNoSuchElement
		}
	}
	return nil
}

func (p *portalFake) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	return []byte("captcha-png"), nil
}

func (p *portalFake) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *portalFake) stats() (starts, quits int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.quits
}

func tableRow(id, credit, ts string) []string {
	return []string{"1", "", id, "", credit, "1.000", "ACME", "chuyen khoan", ts, ""}
}

type countingNotifier struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (n *countingNotifier) Notify(ctx context.Context, rec *domain.TransactionRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, rec.ID)
	return n.err
}

func (n *countingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

func newTestScheduler(t *testing.T, p *portalFake, notifier dispatch.Notifier) *Scheduler {
	t.Helper()

	ctrl, err := login.NewController(login.Options{
		Driver: p,
		Solver: captcha.SolverFunc(func(ctx context.Context, image []byte) (string, error) {
			return "AB12", nil
		}),
		Portal:      config.Default().Portal,
		Credentials: login.Credentials{CorpID: "CORP", Username: "u", Password: "p"},
		MaxAttempts: 3,
		ElementWait: 100 * time.Millisecond,
		OutcomeWait: 100 * time.Millisecond,
		PollEvery:   2 * time.Millisecond,
	})
	require.NoError(t, err)

	fetcher, err := fetch.NewFetcher(fetch.FetcherOptions{
		Driver:     p,
		Portal:     config.Default().Portal,
		ResultWait: 100 * time.Millisecond,
		PollEvery:  2 * time.Millisecond,
	})
	require.NoError(t, err)

	sched, err := NewScheduler(SchedulerOptions{
		Driver:      p,
		Login:       ctrl,
		Fetcher:     fetcher,
		DispatchLog: memory.NewDispatchLog(),
		Gateway:     dispatch.NewService(dispatch.ServiceOptions{Notifier: notifier}),
		Tunables: config.Tunables{
			PollInterval:   10 * time.Millisecond,
			Lookback:       24 * time.Hour,
			SessionMaxAge:  time.Hour,
			CallTimeout:    time.Second,
			BackoffInitial: 5 * time.Millisecond,
			BackoffMax:     20 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return sched
}

// runUntil runs the scheduler until cond holds or the deadline passes.
func runUntil(t *testing.T, sched *Scheduler, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("condition never reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func recentTS(minutesAgo int) string {
	t := time.Now().In(domain.BankZone()).Add(-time.Duration(minutesAgo) * time.Minute)
	return t.Format("02/01/2006 15:04:05")
}

func TestSchedulerDispatchesInAscendingOrder(t *testing.T) {
	rows := [][]string{
		tableRow("FT3", "300.000", recentTS(1)),
		tableRow("FT1", "100.000", recentTS(9)),
		tableRow("FT2", "200.000", recentTS(5)),
	}
	p := newPortalFake(rows)
	notifier := &countingNotifier{}
	sched := newTestScheduler(t, p, notifier)

	runUntil(t, sched, func() bool { return len(notifier.seen()) >= 3 })
	assert.Equal(t, []string{"FT1", "FT2", "FT3"}, notifier.seen()[:3])
}

func TestSchedulerNeverRedispatches(t *testing.T) {
	rows := [][]string{tableRow("FT100", "100.000", recentTS(2))}
	p := newPortalFake(rows)
	notifier := &countingNotifier{}
	sched := newTestScheduler(t, p, notifier)

	runUntil(t, sched, func() bool { return sched.Status().CyclesCompleted >= 4 })
	assert.Equal(t, []string{"FT100"}, notifier.seen())
}

func TestSchedulerMarksSeenEvenWhenDispatchFails(t *testing.T) {
	rows := [][]string{tableRow("FT200", "100.000", recentTS(2))}
	p := newPortalFake(rows)
	notifier := &countingNotifier{err: errors.New("lark down")}
	sched := newTestScheduler(t, p, notifier)

	runUntil(t, sched, func() bool { return sched.Status().CyclesCompleted >= 4 })
	assert.Equal(t, []string{"FT200"}, notifier.seen(),
		"a failed dispatch attempt still consumes the transaction")
}

func TestSchedulerRecoversFromSessionExpiry(t *testing.T) {
	rows := [][]string{tableRow("FT300", "100.000", recentTS(2))}
	p := newPortalFake(rows)
	p.expireAfterFetches = 1
	notifier := &countingNotifier{}
	sched := newTestScheduler(t, p, notifier)

	runUntil(t, sched, func() bool {
		starts, _ := p.stats()
		return starts >= 2 && sched.Status().State == StateActivePolling &&
			sched.Status().CyclesCompleted >= 2
	})

	starts, quits := p.stats()
	assert.GreaterOrEqual(t, starts, 2, "expiry must force a fresh browser session")
	assert.GreaterOrEqual(t, quits, 1)
	assert.Equal(t, []string{"FT300"}, notifier.seen(), "re-login must not cause redispatch")
}

func TestSchedulerStopsOnFatalLogin(t *testing.T) {
	p := newPortalFake(nil)
	p.failLogin = "GW18: Tai khoan tam khoa"
	sched := newTestScheduler(t, p, &countingNotifier{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sched.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalLogin)
	assert.Equal(t, StateStopped, sched.Status().State)
}

func TestSchedulerStopsWhenPortalPageUnrecognized(t *testing.T) {
	p := newPortalFake(nil)
	p.stallSubmit = true
	sched := newTestScheduler(t, p, &countingNotifier{})

	// Safety deadline only; the scheduler must escalate on its own.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sched.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalLogin)
	assert.ErrorIs(t, err, login.ErrUnknownPageState)
	assert.Equal(t, StateStopped, sched.Status().State)

	p.mu.Lock()
	submits := p.submits
	p.mu.Unlock()
	assert.Equal(t, 2, submits, "one retry, then operator escalation")
}

func TestSchedulerListenerObservesDispatches(t *testing.T) {
	rows := [][]string{tableRow("FT400", "100.000", recentTS(2))}
	p := newPortalFake(rows)
	sched := newTestScheduler(t, p, &countingNotifier{})

	var mu sync.Mutex
	var results []dispatch.Result
	sched.AddListener(func(r dispatch.Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	runUntil(t, sched, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) >= 1
	})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, results)
	assert.Equal(t, "FT400", results[0].Record.ID)
	assert.True(t, results[0].Notified)
}

// hangingDispatchLog blocks every call until its context expires, like a
// database that accepts connections but never answers.
type hangingDispatchLog struct{}

func (hangingDispatchLog) Contains(ctx context.Context, id string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (hangingDispatchLog) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingDispatchLog) Len(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestSchedulerSurvivesHungDispatchLog(t *testing.T) {
	rows := [][]string{tableRow("FT500", "100.000", recentTS(2))}
	p := newPortalFake(rows)

	ctrl, err := login.NewController(login.Options{
		Driver: p,
		Solver: captcha.SolverFunc(func(ctx context.Context, image []byte) (string, error) {
			return "AB12", nil
		}),
		Portal:      config.Default().Portal,
		Credentials: login.Credentials{CorpID: "CORP", Username: "u", Password: "p"},
		ElementWait: 100 * time.Millisecond,
		OutcomeWait: 100 * time.Millisecond,
		PollEvery:   2 * time.Millisecond,
	})
	require.NoError(t, err)

	fetcher, err := fetch.NewFetcher(fetch.FetcherOptions{
		Driver:     p,
		Portal:     config.Default().Portal,
		ResultWait: 100 * time.Millisecond,
		PollEvery:  2 * time.Millisecond,
	})
	require.NoError(t, err)

	sched, err := NewScheduler(SchedulerOptions{
		Driver:      p,
		Login:       ctrl,
		Fetcher:     fetcher,
		DispatchLog: hangingDispatchLog{},
		Gateway:     dispatch.NewService(dispatch.ServiceOptions{Notifier: &countingNotifier{}}),
		Tunables: config.Tunables{
			PollInterval:   10 * time.Millisecond,
			Lookback:       24 * time.Hour,
			SessionMaxAge:  time.Hour,
			CallTimeout:    25 * time.Millisecond,
			BackoffInitial: 5 * time.Millisecond,
			BackoffMax:     20 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	// Each cycle must time out on the store and come back for another one
	// instead of blocking the loop forever. Snapshot the error before
	// runUntil cancels the scheduler, or a canceled in-flight cycle can
	// overwrite it.
	var lastCycleError string
	runUntil(t, sched, func() bool {
		st := sched.Status()
		if st.CyclesFailed >= 2 {
			lastCycleError = st.LastCycleError
			return true
		}
		return false
	})
	assert.Contains(t, lastCycleError, "context deadline exceeded")
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(SchedulerOptions{})
	require.Error(t, err)
}
