package actors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/notify"
	"escrowflow/order"
)

// TestLifecycleDriver_CompletesUnderReviewPolicy walks the driver over an
// in-memory store with payment review switched on. The approve step is
// admin-only, so the order can only reach completion if the driver presents
// the admin principal there; a wrong principal aborts the driver with
// ErrForbidden and fails the test.
func TestLifecycleDriver_CompletesUnderReviewPolicy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &memStore{}
	svc := order.NewService(&fakePool{}, store, nopStats{}, nopNotifier{}, order.DefaultFeeSchedule(), true)
	d := Deps{Orders: svc}

	buyer := auth.Principal{UserID: "buyer-1", Role: auth.RoleBuyer}
	merchant := auth.Principal{UserID: "merchant-1", Role: auth.RoleMerchant}
	admin := auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}

	done := make(chan string, 1)
	stop := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- LifecycleDriver(ctx, d, buyer, merchant, admin, "offer-1", done, stop)
	}()

	select {
	case id := <-done:
		if id == "" {
			t.Fatal("completed order with empty id")
		}
	case err := <-errc:
		t.Fatalf("driver aborted before completing an order: %v", err)
	case <-ctx.Done():
		t.Fatal("driver never completed an order")
	}

	close(stop)
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("driver error: %v", err)
	}
}

func TestTolerable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"invalid state", order.ErrInvalidState, true},
		{"disputed", order.ErrDisputed, true},
		{"forbidden is a bug", order.ErrForbidden, false},
		{"wrapped forbidden is a bug", fmt.Errorf("step: %w", order.ErrForbidden), false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"plain failure", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tolerable(tc.err); got != tc.want {
				t.Fatalf("tolerable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// memStore drives a single order through the lifecycle in memory. Only the
// calls LifecycleDriver provokes are implemented; all access is from the one
// driver goroutine.
type memStore struct {
	order   order.Order
	counter int
}

func (m *memStore) GetOfferQuote(_ context.Context, _ pgx.Tx, offerID string) (order.OfferQuote, error) {
	return order.OfferQuote{
		ID:         offerID,
		MerchantID: "merchant-1",
		Rate:       decimal.RequireFromString("1.05"),
		MinAmount:  decimal.NewFromInt(10),
		MaxAmount:  decimal.NewFromInt(1000),
		IsActive:   true,
	}, nil
}

func (m *memStore) Insert(_ context.Context, _ pgx.Tx, buyerID string, quote order.OfferQuote, amount, total decimal.Decimal) (order.Order, error) {
	m.counter++
	m.order = order.Order{
		ID:           fmt.Sprintf("ord-%d", m.counter),
		BuyerID:      buyerID,
		MerchantID:   quote.MerchantID,
		OfferID:      quote.ID,
		Amount:       amount,
		ExchangeRate: quote.Rate,
		TotalAmount:  total,
		Status:       order.StatusPendingQuote,
	}
	return m.order, nil
}

func (m *memStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (order.Order, error) {
	if id != m.order.ID {
		return order.Order{}, order.ErrNotFound
	}
	return m.order, nil
}

func (m *memStore) SetStatus(_ context.Context, _ pgx.Tx, id string, from, to order.Status) error {
	if m.order.ID != id || m.order.Status != from {
		return order.ErrInvalidState
	}
	m.order.Status = to
	return nil
}

func (m *memStore) RecordPaymentProof(_ context.Context, _ pgx.Tx, p order.PaymentProofParams, next order.Status) error {
	return m.SetStatus(nil, nil, p.OrderID, order.StatusWaitingPayment, next)
}

func (m *memStore) RecordDeliveryProof(_ context.Context, _ pgx.Tx, p order.DeliveryProofParams) error {
	if m.order.ID != p.OrderID {
		return order.ErrInvalidState
	}
	m.order.Status = order.StatusWaitingBuyerConfirm
	return nil
}

func (m *memStore) Complete(_ context.Context, _ pgx.Tx, id string, from order.Status, _ order.Settlement) error {
	return m.SetStatus(nil, nil, id, from, order.StatusCompleted)
}

func (m *memStore) HasOpenDispute(context.Context, pgx.Tx, string) (bool, error) {
	return false, nil
}

func (m *memStore) Cancel(context.Context, pgx.Tx, string, order.Status) error {
	panic("not implemented")
}

func (m *memStore) RejectPayment(context.Context, pgx.Tx, string, string) error {
	panic("not implemented")
}

func (m *memStore) MarkDisputed(context.Context, pgx.Tx, string, string) error {
	panic("not implemented")
}

func (m *memStore) InsertRating(context.Context, pgx.Tx, string, string, int, string) (order.Rating, error) {
	panic("not implemented")
}

func (m *memStore) Get(context.Context, string) (order.Order, error) {
	panic("not implemented")
}

func (m *memStore) ListForUser(context.Context, string, int) ([]order.Order, error) {
	panic("not implemented")
}

func (m *memStore) ExpireStale(context.Context, time.Time) (int64, error) {
	panic("not implemented")
}

type nopStats struct{}

func (nopStats) RecordOrder(context.Context, pgx.Tx, string) error       { return nil }
func (nopStats) RecordCompletion(context.Context, pgx.Tx, string) error  { return nil }
func (nopStats) RecordRating(context.Context, pgx.Tx, string, int) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Enqueue(context.Context, pgx.Tx, notify.Notification) error { return nil }

type fakePool struct{}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

type fakeTx struct{}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error   { return nil }
func (f *fakeTx) Rollback(context.Context) error { return nil }

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn { return nil }
