package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"mbbank-monitor/internal/browser"
	"mbbank-monitor/internal/config"
	"mbbank-monitor/internal/domain"
)

// ErrSessionExpired means the portal bounced the browser back to the login
// page. The caller must re-authenticate before fetching again.
var ErrSessionExpired = errors.New("portal session expired")

// Default page wait timings.
const (
	DefaultResultWait = 10 * time.Second
	DefaultPollEvery  = 250 * time.Millisecond

	pageGrace = 500 * time.Millisecond
)

// Fetcher reads the transaction inquiry table through a browser driver.
// Fetch is idempotent: it only reads the page, never dispatches.
type Fetcher struct {
	driver   browser.Driver
	portal   config.Portal
	maxPages int
	logger   *log.Logger

	resultWait time.Duration
	pollEvery  time.Duration
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Driver   browser.Driver
	Portal   config.Portal
	MaxPages int
	Logger   *log.Logger

	// Page wait overrides; zero values use the defaults.
	ResultWait time.Duration
	PollEvery  time.Duration
}

// NewFetcher creates a transaction fetcher.
func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	if opts.Driver == nil {
		return nil, errors.New("fetch: driver is required")
	}
	f := &Fetcher{
		driver:     opts.Driver,
		portal:     opts.Portal,
		maxPages:   opts.MaxPages,
		logger:     opts.Logger,
		resultWait: opts.ResultWait,
		pollEvery:  opts.PollEvery,
	}
	if f.maxPages <= 0 {
		f.maxPages = config.DefaultMaxPages
	}
	if f.logger == nil {
		f.logger = log.Default()
	}
	if f.resultWait <= 0 {
		f.resultWait = DefaultResultWait
	}
	if f.pollEvery <= 0 {
		f.pollEvery = DefaultPollEvery
	}
	return f, nil
}

// Fetch loads the inquiry page, applies the window's from-date filter and
// returns every parsed row whose timestamp falls on or after the window
// start. Rows with unparseable timestamps are kept. An empty result is
// normal, not an error.
func (f *Fetcher) Fetch(ctx context.Context, window domain.PollWindow) ([]*domain.TransactionRecord, error) {
	if err := f.checkSession(ctx); err != nil {
		return nil, err
	}

	if err := f.driver.Navigate(ctx, f.portal.InquiryURL); err != nil {
		return nil, fmt.Errorf("open inquiry page: %w", err)
	}
	// The portal redirects dead sessions to the login page on navigation.
	if err := f.checkSession(ctx); err != nil {
		return nil, err
	}

	sel := f.portal.Selectors
	if err := f.driver.Click(ctx, sel.PeriodRadio); err != nil {
		return nil, fmt.Errorf("select period filter: %w", err)
	}
	if err := f.driver.Fill(ctx, sel.FromDateInput, window.FromFilter()); err != nil {
		return nil, fmt.Errorf("set from date: %w", err)
	}
	if err := f.driver.Click(ctx, sel.QueryButton); err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}

	if err := f.waitForResults(ctx); err != nil {
		return nil, err
	}

	var all []*domain.TransactionRecord
	for page := 1; page <= f.maxPages; page++ {
		records, err := f.readPage(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", page, err)
		}
		all = append(all, records...)

		if len(records) == 0 || page == f.maxPages {
			break
		}
		more, err := f.nextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("advance to page %d: %w", page+1, err)
		}
		if !more {
			break
		}
	}

	f.logger.Printf("fetched %d transactions since %s", len(all), window.FromFilter())
	return all, nil
}

// checkSession fails with ErrSessionExpired when the browser sits on the
// login or session-expired page.
func (f *Fetcher) checkSession(ctx context.Context) error {
	url, err := f.driver.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("read url: %w", err)
	}
	lower := strings.ToLower(url)
	if strings.Contains(lower, "login") || strings.Contains(lower, "session-expired") {
		return ErrSessionExpired
	}
	return nil
}

// waitForResults polls until the table shows rows or the empty marker.
func (f *Fetcher) waitForResults(ctx context.Context) error {
	sel := f.portal.Selectors
	firstRow := fmt.Sprintf(sel.TransactionRow, 1)
	deadline := time.Now().Add(f.resultWait)
	for {
		found, err := f.driver.Find(ctx, firstRow)
		if err != nil {
			return fmt.Errorf("probe results: %w", err)
		}
		if found {
			return nil
		}
		empty, err := f.driver.Find(ctx, sel.EmptyMarker)
		if err != nil {
			return fmt.Errorf("probe empty marker: %w", err)
		}
		if empty {
			return nil
		}
		if time.Now().After(deadline) {
			// Neither rows nor the marker: the session may have died
			// between the URL check and the query.
			if err := f.checkSession(ctx); err != nil {
				return err
			}
			return fmt.Errorf("query results never appeared")
		}
		if err := sleep(ctx, f.pollEvery); err != nil {
			return err
		}
	}
}

// readPage reads rows top to bottom until the first missing row, filtering
// out records older than the window start.
func (f *Fetcher) readPage(ctx context.Context, window domain.PollWindow) ([]*domain.TransactionRecord, error) {
	sel := f.portal.Selectors
	var records []*domain.TransactionRecord
	for i := 1; ; i++ {
		rowSel := fmt.Sprintf(sel.TransactionRow, i)
		found, err := f.driver.Find(ctx, rowSel)
		if err != nil {
			return nil, err
		}
		if !found {
			return records, nil
		}

		cells, err := f.readCells(ctx, rowSel)
		if err != nil {
			return nil, err
		}
		rec, err := ParseRow(cells)
		if err != nil {
			if errors.Is(err, ErrShortRow) {
				continue
			}
			return nil, err
		}
		// Keep unparseable timestamps: losing a record is worse than an
		// occasional stale one, and the dispatch log absorbs repeats.
		if !rec.Timestamp.IsZero() && rec.Timestamp.Before(window.From) {
			continue
		}
		records = append(records, rec)
	}
}

// readCells reads the ten cell texts of one row.
func (f *Fetcher) readCells(ctx context.Context, rowSel string) ([]string, error) {
	cells := make([]string, rowCells)
	for i := range cells {
		cellSel := fmt.Sprintf("%s td:nth-child(%d)", rowSel, i+1)
		text, err := f.driver.Text(ctx, cellSel)
		if err != nil {
			if errors.Is(err, browser.ErrNoSuchElement) {
				return cells[:i], nil
			}
			return nil, err
		}
		cells[i] = text
	}
	return cells, nil
}

// nextPage advances pagination. Returns false when there is no further page.
func (f *Fetcher) nextPage(ctx context.Context) (bool, error) {
	sel := f.portal.Selectors
	found, err := f.driver.Find(ctx, sel.NextPageButton)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := f.driver.Click(ctx, sel.NextPageButton); err != nil {
		if errors.Is(err, browser.ErrNoSuchElement) {
			return false, nil
		}
		return false, err
	}
	return true, sleep(ctx, pageGrace)
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
