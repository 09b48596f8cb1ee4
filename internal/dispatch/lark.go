package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"mbbank-monitor/internal/domain"
)

const (
	defaultLarkBaseURL = "https://open.larksuite.com"
	larkTimeout        = 15 * time.Second

	// Tenant tokens live ~2h; refresh with margin.
	larkTokenTTL = 90 * time.Minute
)

// LarkNotifier pushes transaction notifications to a Lark group chat.
// It acquires a tenant access token on demand and caches it until expiry.
type LarkNotifier struct {
	baseURL    string
	appID      string
	appSecret  string
	chatID     string
	httpClient *http.Client
	logger     *log.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// LarkOption configures a LarkNotifier.
type LarkOption func(*LarkNotifier)

// WithLarkBaseURL overrides the API base URL (tests).
func WithLarkBaseURL(u string) LarkOption {
	return func(n *LarkNotifier) { n.baseURL = strings.TrimRight(u, "/") }
}

// WithLarkHTTPClient sets a custom HTTP client.
func WithLarkHTTPClient(c *http.Client) LarkOption {
	return func(n *LarkNotifier) { n.httpClient = c }
}

// WithLarkLogger sets the logger.
func WithLarkLogger(l *log.Logger) LarkOption {
	return func(n *LarkNotifier) { n.logger = l }
}

// NewLarkNotifier creates a notifier for the given app credentials and chat.
func NewLarkNotifier(appID, appSecret, chatID string, opts ...LarkOption) *LarkNotifier {
	n := &LarkNotifier{
		baseURL:    defaultLarkBaseURL,
		appID:      appID,
		appSecret:  appSecret,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: larkTimeout},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var _ Notifier = (*LarkNotifier)(nil)

// Notify formats the record and pushes it as a text message to the chat.
func (n *LarkNotifier) Notify(ctx context.Context, rec *domain.TransactionRecord) error {
	token, err := n.tenantToken(ctx)
	if err != nil {
		return fmt.Errorf("acquire tenant token: %w", err)
	}

	content, err := json.Marshal(map[string]string{"text": FormatMessage(rec)})
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	payload, err := json.Marshal(map[string]string{
		"receive_id": n.chatID,
		"msg_type":   "text",
		"content":    string(content),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := n.baseURL + "/open-apis/im/v1/messages?receive_id_type=chat_id"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode send response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("send message: api code %d: %s", result.Code, result.Msg)
	}
	return nil
}

// tenantToken returns a valid tenant access token, refreshing when the
// cached one is near expiry.
func (n *LarkNotifier) tenantToken(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.token != "" && time.Now().Before(n.tokenExpiry) {
		return n.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"app_id":     n.appID,
		"app_secret": n.appSecret,
	})
	if err != nil {
		return "", err
	}

	url := n.baseURL + "/open-apis/auth/v3/tenant_access_token/internal/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("api code %d: %s", result.Code, result.Msg)
	}
	if result.TenantAccessToken == "" {
		return "", fmt.Errorf("empty tenant access token")
	}

	n.token = result.TenantAccessToken
	n.tokenExpiry = time.Now().Add(larkTokenTTL)
	return n.token, nil
}

// FormatMessage renders a transaction as the notification text.
func FormatMessage(rec *domain.TransactionRecord) string {
	var b strings.Builder
	if rec.IsCredit() {
		b.WriteString("[+] Tien vao: ")
	} else {
		b.WriteString("[-] Tien ra: ")
	}
	b.WriteString(formatVND(rec.Amount))
	b.WriteString(" VND")
	fmt.Fprintf(&b, "\nThoi gian: %s", rec.Timestamp.Format("02/01/2006 15:04:05"))
	if rec.Counterparty != "" {
		fmt.Fprintf(&b, "\nDoi tac: %s", rec.Counterparty)
	}
	if rec.Description != "" {
		fmt.Fprintf(&b, "\nNoi dung: %s", rec.Description)
	}
	fmt.Fprintf(&b, "\nSo but toan: %s", rec.ID)
	return b.String()
}

// formatVND inserts dot thousand separators, the local convention.
func formatVND(amount int64) string {
	s := fmt.Sprintf("%d", amount)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ".")
	if neg {
		out = "-" + out
	}
	return out
}
