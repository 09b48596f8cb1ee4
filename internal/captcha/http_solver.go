package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one OCR call. Model inference on CPU can be slow but
// a stuck sidecar must not stall the login loop.
const DefaultTimeout = 30 * time.Second

// HTTPSolver calls the OCR sidecar service that wraps the captcha model.
// The sidecar accepts a base64-encoded image and answers with its best guess.
type HTTPSolver struct {
	endpoint string
	client   *http.Client
}

// HTTPSolverOption configures HTTPSolver.
type HTTPSolverOption func(*HTTPSolver)

// WithTimeout sets the HTTP timeout for solve calls.
func WithTimeout(d time.Duration) HTTPSolverOption {
	return func(s *HTTPSolver) {
		s.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) HTTPSolverOption {
	return func(s *HTTPSolver) {
		s.client = client
	}
}

// NewHTTPSolver creates a solver client for the given endpoint
// (e.g. http://ocr:8000/read_captcha).
func NewHTTPSolver(endpoint string, opts ...HTTPSolverOption) *HTTPSolver {
	s := &HTTPSolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type solveRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type solveResponse struct {
	CaptchaText string `json:"captcha_text"`
}

// Solve sends the captcha image to the OCR service and returns its guess with
// whitespace stripped. The guess carries no correctness guarantee; the portal
// is the only validator.
func (s *HTTPSolver) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrUnreadable
	}

	body, err := json.Marshal(solveRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("marshal solve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("solve request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("solver returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode solve response: %w", err)
	}

	guess := strings.ReplaceAll(strings.TrimSpace(result.CaptchaText), " ", "")
	if guess == "" {
		return "", ErrUnreadable
	}
	return guess, nil
}
