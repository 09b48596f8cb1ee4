package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mbbank-monitor/internal/domain"
)

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(ctx context.Context, rec *domain.TransactionRecord) error {
	s.calls++
	return s.err
}

type stubOrders struct {
	calls int
	ref   OrderRef
	err   error
}

func (s *stubOrders) CreateOrder(ctx context.Context, rec *domain.TransactionRecord) (OrderRef, error) {
	s.calls++
	return s.ref, s.err
}

func TestProcessNotifiesAndCreatesOrderForMatchingCredit(t *testing.T) {
	notifier := &stubNotifier{}
	orders := &stubOrders{ref: "123"}
	svc := NewService(ServiceOptions{Notifier: notifier, Orders: orders})

	res := svc.Process(context.Background(), sampleCredit())
	require.NoError(t, res.Err)
	assert.True(t, res.Notified)
	assert.Equal(t, OrderRef("123"), res.OrderRef)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, 1, orders.calls)
}

func TestProcessSkipsOrderWithoutReference(t *testing.T) {
	orders := &stubOrders{ref: "123"}
	svc := NewService(ServiceOptions{Notifier: &stubNotifier{}, Orders: orders})

	rec := sampleCredit()
	rec.Description = "chuyen tien an trua"
	res := svc.Process(context.Background(), rec)

	require.NoError(t, res.Err)
	assert.Zero(t, orders.calls)
	assert.Empty(t, res.OrderRef)
}

func TestProcessSkipsOrderForDebit(t *testing.T) {
	orders := &stubOrders{ref: "123"}
	svc := NewService(ServiceOptions{Notifier: &stubNotifier{}, Orders: orders})

	rec := sampleCredit()
	rec.Direction = domain.DirectionDebit
	res := svc.Process(context.Background(), rec)

	require.NoError(t, res.Err)
	assert.Zero(t, orders.calls, "debits never create orders even with a reference")
}

func TestProcessNotifyFailureStillAttemptsOrder(t *testing.T) {
	notifier := &stubNotifier{err: errors.New("lark down")}
	orders := &stubOrders{ref: "55"}
	svc := NewService(ServiceOptions{Notifier: notifier, Orders: orders})

	res := svc.Process(context.Background(), sampleCredit())
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrNotifyFailed)
	assert.False(t, res.Notified)
	assert.Equal(t, 1, orders.calls)
	assert.Equal(t, OrderRef("55"), res.OrderRef)
}

func TestProcessOrderFailure(t *testing.T) {
	svc := NewService(ServiceOptions{
		Notifier: &stubNotifier{},
		Orders:   &stubOrders{err: errors.New("store down")},
	})

	res := svc.Process(context.Background(), sampleCredit())
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrOrderFailed)
	assert.True(t, res.Notified)
}

func TestProcessNilCollaborators(t *testing.T) {
	svc := NewService(ServiceOptions{})
	res := svc.Process(context.Background(), sampleCredit())
	require.NoError(t, res.Err)
	assert.False(t, res.Notified)
	assert.Empty(t, res.OrderRef)
}
