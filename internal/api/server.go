// Package api serves the monitor's HTTP surface: health, status, Prometheus
// metrics, and a websocket feed of dispatched transactions.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"mbbank-monitor/internal/dispatch"
	"mbbank-monitor/internal/monitor"
	"mbbank-monitor/internal/observability"
)

// StatusSource provides the scheduler snapshot served on /status.
type StatusSource interface {
	Status() monitor.Status
}

// Server is the monitor's HTTP API.
type Server struct {
	addr    string
	status  StatusSource
	feed    *Feed
	logger  *log.Logger
	httpSrv *http.Server
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Addr   string
	Status StatusSource
	Feed   *Feed
	Logger *log.Logger
}

// NewServer creates the API server. The feed is optional; without it /ws
// responds 404.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		addr:   addr,
		status: opts.Status,
		feed:   opts.Feed,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	if s.feed != nil {
		mux.HandleFunc("/ws", s.feed.handleWS)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler (tests).
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving in the calling goroutine. Blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Printf("Starting HTTP server on %s", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and closes the websocket feed.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.feed != nil {
		s.feed.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleStatus returns the scheduler snapshot as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.status == nil {
		json.NewEncoder(w).Encode(map[string]string{"state": "unknown"})
		return
	}
	json.NewEncoder(w).Encode(s.status.Status())
}

// DispatchEvent is the wire format pushed to websocket subscribers for every
// dispatched transaction.
type DispatchEvent struct {
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Amount        int64     `json:"amount"`
	Direction     string    `json:"direction"`
	Counterparty  string    `json:"counterparty,omitempty"`
	Description   string    `json:"description,omitempty"`
	Notified      bool      `json:"notified"`
	OrderRef      string    `json:"order_ref,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// eventFromResult converts a dispatch result to its wire form.
func eventFromResult(res dispatch.Result) DispatchEvent {
	ev := DispatchEvent{
		TransactionID: res.Record.ID,
		Timestamp:     res.Record.Timestamp,
		Amount:        res.Record.Amount,
		Direction:     res.Record.Direction.String(),
		Counterparty:  res.Record.Counterparty,
		Description:   res.Record.Description,
		Notified:      res.Notified,
		OrderRef:      string(res.OrderRef),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}
