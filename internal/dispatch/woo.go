package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mbbank-monitor/internal/domain"
)

const wooTimeout = 20 * time.Second

// WooClient creates and confirms orders against a WooCommerce REST API.
// The order is created from the transaction (customer from the counterparty
// column, total from the credit amount) and then immediately marked completed,
// since the money has already arrived.
type WooClient struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	confirm        bool
	httpClient     *http.Client
	logger         *log.Logger
}

// WooOption configures a WooClient.
type WooOption func(*WooClient)

// WithWooHTTPClient sets a custom HTTP client.
func WithWooHTTPClient(c *http.Client) WooOption {
	return func(w *WooClient) { w.httpClient = c }
}

// WithWooLogger sets the logger.
func WithWooLogger(l *log.Logger) WooOption {
	return func(w *WooClient) { w.logger = l }
}

// WithWooConfirm controls whether created orders are immediately completed.
func WithWooConfirm(confirm bool) WooOption {
	return func(w *WooClient) { w.confirm = confirm }
}

// NewWooClient creates a client for the store at baseURL using HTTP Basic
// auth with the consumer key pair.
func NewWooClient(baseURL, consumerKey, consumerSecret string, opts ...WooOption) *WooClient {
	w := &WooClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		confirm:        true,
		httpClient:     &http.Client{Timeout: wooTimeout},
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var _ OrderClient = (*WooClient)(nil)

type wooOrderPayload struct {
	PaymentMethod      string       `json:"payment_method"`
	PaymentMethodTitle string       `json:"payment_method_title"`
	SetPaid            bool         `json:"set_paid"`
	Billing            wooBilling   `json:"billing"`
	FeeLines           []wooFeeLine `json:"fee_lines"`
}

type wooBilling struct {
	FirstName string `json:"first_name"`
}

type wooFeeLine struct {
	Name  string `json:"name"`
	Total string `json:"total"`
}

// CreateOrder creates a bank-transfer order for the transaction and, unless
// disabled, confirms it as completed. The confirmation step is best-effort:
// a created-but-unconfirmed order still returns its ref along with the error.
func (w *WooClient) CreateOrder(ctx context.Context, rec *domain.TransactionRecord) (OrderRef, error) {
	payload := wooOrderPayload{
		PaymentMethod:      "bacs",
		PaymentMethodTitle: "Bank Transfer",
		SetPaid:            false,
		Billing:            wooBilling{FirstName: rec.Counterparty},
		FeeLines: []wooFeeLine{
			{Name: "Bank Transaction", Total: fmt.Sprintf("%d.00", rec.Amount)},
		},
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := w.do(ctx, http.MethodPost, "/wp-json/wc/v3/orders", payload, &created); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	if created.ID == 0 {
		return "", fmt.Errorf("create order: response carried no order id")
	}
	ref := OrderRef(strconv.FormatInt(created.ID, 10))

	if !w.confirm {
		return ref, nil
	}
	if err := w.ConfirmOrder(ctx, ref); err != nil {
		w.logger.Printf("order %s created but confirmation failed: %v", ref, err)
		return ref, fmt.Errorf("confirm order %s: %w", ref, err)
	}
	return ref, nil
}

// ConfirmOrder marks an existing order completed.
func (w *WooClient) ConfirmOrder(ctx context.Context, ref OrderRef) error {
	var confirmed struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	path := "/wp-json/wc/v3/orders/" + string(ref)
	if err := w.do(ctx, http.MethodPost, path, map[string]string{"status": "completed"}, &confirmed); err != nil {
		return err
	}
	if confirmed.Status != "completed" {
		return fmt.Errorf("unexpected status %q", confirmed.Status)
	}
	return nil
}

func (w *WooClient) do(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(w.consumerKey, w.consumerSecret)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
