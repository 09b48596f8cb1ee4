package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultPageTimeout = 30 * time.Second
	elementIDKey       = "element-6066-11e4-a52e-4f735466cecf"
)

// desktopUserAgent is forced on every session: the portal serves a different
// DOM to mobile browsers and the selectors assume the desktop layout.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"

// Remote implements SessionDriver over the W3C WebDriver wire protocol
// against a Selenium hub.
type Remote struct {
	hubURL   string
	client   *http.Client
	headless bool

	mu        sync.Mutex
	sessionID string
}

// RemoteOption configures Remote.
type RemoteOption func(*Remote)

// WithTimeout sets the HTTP timeout for every hub call.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		r.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = client
	}
}

// WithHeadless toggles headless mode (default true).
func WithHeadless(headless bool) RemoteOption {
	return func(r *Remote) {
		r.headless = headless
	}
}

// NewRemote creates a WebDriver client for the given hub URL
// (e.g. http://selenium-hub:4444/wd/hub).
func NewRemote(hubURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		hubURL:   hubURL,
		client:   &http.Client{Timeout: DefaultTimeout},
		headless: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// wdResponse is the generic W3C response envelope.
type wdResponse struct {
	Value json.RawMessage `json:"value"`
}

// wdError is the error payload inside a non-2xx response value.
type wdError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Start creates a fresh browser session, replacing any previous one.
func (r *Remote) Start(ctx context.Context) error {
	// Tear down a leftover session first; the hub rejects concurrent ones.
	_ = r.Quit(ctx)

	args := []string{
		"--window-size=1920,1080",
		"--disable-notifications",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-blink-features=AutomationControlled",
		"--user-agent=" + desktopUserAgent,
	}
	if r.headless {
		args = append(args, "--headless")
	}

	payload := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName": "MicrosoftEdge",
				"ms:edgeOptions": map[string]any{
					"args": args,
				},
				"timeouts": map[string]any{
					"pageLoad": DefaultPageTimeout.Milliseconds(),
					"script":   DefaultPageTimeout.Milliseconds(),
				},
			},
		},
	}

	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.do(ctx, http.MethodPost, "/session", payload, &result); err != nil {
		return &DriverError{Op: "start session", Err: err}
	}
	if result.SessionID == "" {
		return &DriverError{Op: "start session", Err: fmt.Errorf("hub returned empty session id")}
	}

	r.mu.Lock()
	r.sessionID = result.SessionID
	r.mu.Unlock()
	return nil
}

// Quit tears down the current browser session. Safe to call when none is
// active.
func (r *Remote) Quit(ctx context.Context) error {
	r.mu.Lock()
	id := r.sessionID
	r.sessionID = ""
	r.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := r.do(ctx, http.MethodDelete, "/session/"+id, nil, nil); err != nil {
		return &DriverError{Op: "quit session", Err: err}
	}
	return nil
}

// SessionID returns the current WebDriver session id, or "" when no session
// is active.
func (r *Remote) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Navigate loads the given URL.
func (r *Remote) Navigate(ctx context.Context, url string) error {
	id, err := r.requireSession()
	if err != nil {
		return err
	}
	if err := r.do(ctx, http.MethodPost, "/session/"+id+"/url", map[string]string{"url": url}, nil); err != nil {
		return &DriverError{Op: "navigate", Err: err}
	}
	return nil
}

// CurrentURL returns the URL of the current page.
func (r *Remote) CurrentURL(ctx context.Context) (string, error) {
	id, err := r.requireSession()
	if err != nil {
		return "", err
	}
	var url string
	if err := r.do(ctx, http.MethodGet, "/session/"+id+"/url", nil, &url); err != nil {
		return "", &DriverError{Op: "current url", Err: err}
	}
	return url, nil
}

// Find probes for an element by CSS selector. Absence is not an error.
func (r *Remote) Find(ctx context.Context, selector string) (bool, error) {
	_, err := r.findElement(ctx, selector)
	if errors.Is(err, ErrNoSuchElement) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Text returns the visible text of the first matching element.
func (r *Remote) Text(ctx context.Context, selector string) (string, error) {
	elem, err := r.findElement(ctx, selector)
	if err != nil {
		return "", err
	}
	id, _ := r.requireSession()
	var text string
	if err := r.do(ctx, http.MethodGet, "/session/"+id+"/element/"+elem+"/text", nil, &text); err != nil {
		return "", &DriverError{Op: "text", Err: err}
	}
	return text, nil
}

// Fill clears the first matching input and types text into it.
func (r *Remote) Fill(ctx context.Context, selector, text string) error {
	elem, err := r.findElement(ctx, selector)
	if err != nil {
		return err
	}
	id, _ := r.requireSession()
	if err := r.do(ctx, http.MethodPost, "/session/"+id+"/element/"+elem+"/clear", map[string]any{}, nil); err != nil {
		return &DriverError{Op: "clear", Err: err}
	}
	payload := map[string]string{"text": text}
	if err := r.do(ctx, http.MethodPost, "/session/"+id+"/element/"+elem+"/value", payload, nil); err != nil {
		return &DriverError{Op: "fill", Err: err}
	}
	return nil
}

// Click clicks the first matching element.
func (r *Remote) Click(ctx context.Context, selector string) error {
	elem, err := r.findElement(ctx, selector)
	if err != nil {
		return err
	}
	id, _ := r.requireSession()
	if err := r.do(ctx, http.MethodPost, "/session/"+id+"/element/"+elem+"/click", map[string]any{}, nil); err != nil {
		return &DriverError{Op: "click", Err: err}
	}
	return nil
}

// Screenshot captures the first matching element as PNG bytes.
func (r *Remote) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	elem, err := r.findElement(ctx, selector)
	if err != nil {
		return nil, err
	}
	id, _ := r.requireSession()
	var encoded string
	if err := r.do(ctx, http.MethodGet, "/session/"+id+"/element/"+elem+"/screenshot", nil, &encoded); err != nil {
		return nil, &DriverError{Op: "screenshot", Err: err}
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &DriverError{Op: "screenshot", Err: fmt.Errorf("decode image: %w", err)}
	}
	return img, nil
}

// findElement resolves a CSS selector to a W3C element id.
func (r *Remote) findElement(ctx context.Context, selector string) (string, error) {
	id, err := r.requireSession()
	if err != nil {
		return "", err
	}
	payload := map[string]string{"using": "css selector", "value": selector}
	var elem map[string]string
	if err := r.do(ctx, http.MethodPost, "/session/"+id+"/element", payload, &elem); err != nil {
		var pe *protocolError
		if errors.As(err, &pe) && pe.kind == "no such element" {
			return "", ErrNoSuchElement
		}
		return "", &DriverError{Op: "find", Err: err}
	}
	elemID, ok := elem[elementIDKey]
	if !ok || elemID == "" {
		return "", &DriverError{Op: "find", Err: fmt.Errorf("missing element id in response")}
	}
	return elemID, nil
}

func (r *Remote) requireSession() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		return "", &DriverError{Op: "session", Err: ErrNoSession}
	}
	return r.sessionID, nil
}

// protocolError is a structured error reported by the hub.
type protocolError struct {
	kind    string
	message string
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("webdriver: %s: %s", e.kind, e.message)
}

// do performs one hub request and decodes the W3C response envelope.
func (r *Remote) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.hubURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("hub request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope wdResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
		}
	}

	if resp.StatusCode >= 400 {
		var wdErr wdError
		if len(envelope.Value) > 0 {
			_ = json.Unmarshal(envelope.Value, &wdErr)
		}
		if wdErr.Error == "" {
			wdErr.Error = http.StatusText(resp.StatusCode)
		}
		return &protocolError{kind: wdErr.Error, message: wdErr.Message}
	}

	if result != nil && len(envelope.Value) > 0 {
		if err := json.Unmarshal(envelope.Value, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
