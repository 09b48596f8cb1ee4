// Package dispatch forwards confirmed new transactions to the downstream
// collaborators: the notification channel and the e-commerce order API.
package dispatch

import (
	"context"
	"errors"
	"log"

	"mbbank-monitor/internal/domain"
)

// Sentinel errors for the two downstream failure classes.
var (
	ErrNotifyFailed = errors.New("notification push failed")
	ErrOrderFailed  = errors.New("order creation failed")
)

// OrderRef identifies an order created downstream.
type OrderRef string

// Notifier pushes one transaction notification.
type Notifier interface {
	Notify(ctx context.Context, rec *domain.TransactionRecord) error
}

// OrderClient creates an e-commerce order from a matching transaction.
type OrderClient interface {
	CreateOrder(ctx context.Context, rec *domain.TransactionRecord) (OrderRef, error)
}

// Gateway is the full dispatch surface consumed by the scheduler.
type Gateway interface {
	Notifier
	OrderClient
}

// Result records what happened to one dispatched transaction.
type Result struct {
	Record   *domain.TransactionRecord
	Notified bool
	OrderRef OrderRef // "" when no order was created
	Err      error    // first downstream error, nil on full success
}

// Service implements Gateway by fanning out to a Notifier and an OrderClient.
// Either collaborator may be nil (disabled).
type Service struct {
	notifier Notifier
	orders   OrderClient
	logger   *log.Logger
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Notifier Notifier
	Orders   OrderClient
	Logger   *log.Logger
}

// NewService creates a dispatch service.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		notifier: opts.Notifier,
		orders:   opts.Orders,
		logger:   logger,
	}
}

// Notify pushes a notification for the record.
func (s *Service) Notify(ctx context.Context, rec *domain.TransactionRecord) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Notify(ctx, rec)
}

// CreateOrder creates a downstream order for the record.
func (s *Service) CreateOrder(ctx context.Context, rec *domain.TransactionRecord) (OrderRef, error) {
	if s.orders == nil {
		return "", nil
	}
	return s.orders.CreateOrder(ctx, rec)
}

// Process applies the dispatch policy to one new record: always notify, and
// create an order only for credit transactions whose description carries an
// order reference. Both calls are attempted even if the first fails; the
// caller marks the id seen regardless of outcome.
func (s *Service) Process(ctx context.Context, rec *domain.TransactionRecord) Result {
	res := Result{Record: rec}

	if err := s.Notify(ctx, rec); err != nil {
		s.logger.Printf("notify %s failed: %v", rec.ID, err)
		res.Err = errors.Join(ErrNotifyFailed, err)
	} else if s.notifier != nil {
		res.Notified = true
	}

	if _, ok := rec.OrderRef(); ok && rec.IsCredit() {
		ref, err := s.CreateOrder(ctx, rec)
		if err != nil {
			s.logger.Printf("create order for %s failed: %v", rec.ID, err)
			if res.Err == nil {
				res.Err = errors.Join(ErrOrderFailed, err)
			}
		} else {
			res.OrderRef = ref
		}
	}

	return res
}
