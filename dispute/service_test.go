package dispute

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/auth"
	"escrowflow/notify"
	"escrowflow/order"
)

func newTestService(repo *fakeRepo, engine *fakeEngine) (*Service, *fakePool, *fakeNotifier) {
	pool := &fakePool{}
	notifier := &fakeNotifier{}
	svc := NewService(pool, repo, engine, notifier)
	return svc, pool, notifier
}

func waitingOrder() order.Order {
	return order.Order{
		ID:         "order-1",
		BuyerID:    "buyer-1",
		MerchantID: "merchant-1",
		Status:     order.StatusWaitingBuyerConfirm,
	}
}

func TestCreate_OpensDispute(t *testing.T) {
	engine := &fakeEngine{order: waitingOrder()}
	repo := &fakeRepo{}
	svc, pool, notifier := newTestService(repo, engine)

	buyer := auth.Principal{UserID: "buyer-1", Role: auth.RoleBuyer}
	rec, err := svc.Create(context.Background(), buyer, CreateParams{
		OrderID:   "order-1",
		Reason:    "wrong_amount",
		Statement: "Recipient received 90 instead of 100.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusPending {
		t.Errorf("expected pending dispute, got %s", rec.Status)
	}
	if !engine.markedDisputed {
		t.Error("expected order flagged as disputed")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(notifier.sent) != 1 || notifier.sent[0].RecipientID != "merchant-1" {
		t.Errorf("expected merchant notified, got %+v", notifier.sent)
	}
}

func TestCreate_OrderNotAwaitingConfirmation(t *testing.T) {
	o := waitingOrder()
	o.Status = order.StatusEscrowed
	engine := &fakeEngine{order: o}
	svc, pool, _ := newTestService(&fakeRepo{}, engine)

	buyer := auth.Principal{UserID: "buyer-1", Role: auth.RoleBuyer}
	_, err := svc.Create(context.Background(), buyer, CreateParams{
		OrderID:   "order-1",
		Reason:    "wrong_amount",
		Statement: "statement",
	})
	if !errors.Is(err, ErrOrderNotDisputable) {
		t.Fatalf("expected ErrOrderNotDisputable, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback")
	}
}

func TestCreate_OnlyOrderBuyer(t *testing.T) {
	engine := &fakeEngine{order: waitingOrder()}
	svc, _, _ := newTestService(&fakeRepo{}, engine)

	stranger := auth.Principal{UserID: "other-buyer", Role: auth.RoleBuyer}
	if _, err := svc.Create(context.Background(), stranger, CreateParams{
		OrderID:   "order-1",
		Reason:    "wrong_amount",
		Statement: "statement",
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreate_StatementBounds(t *testing.T) {
	engine := &fakeEngine{order: waitingOrder()}
	svc, _, _ := newTestService(&fakeRepo{}, engine)
	buyer := auth.Principal{UserID: "buyer-1", Role: auth.RoleBuyer}

	cases := map[string]CreateParams{
		"empty statement": {OrderID: "order-1", Reason: "r", Statement: "   "},
		"missing reason":  {OrderID: "order-1", Statement: "statement"},
		"oversized":       {OrderID: "order-1", Reason: "r", Statement: strings.Repeat("x", maxStatementLen+1)},
	}
	for name, params := range cases {
		_, err := svc.Create(context.Background(), buyer, params)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestCreate_SecondDisputeConflicts(t *testing.T) {
	engine := &fakeEngine{order: waitingOrder()}
	repo := &fakeRepo{insertErr: ErrAlreadyExists}
	svc, pool, _ := newTestService(repo, engine)

	buyer := auth.Principal{UserID: "buyer-1", Role: auth.RoleBuyer}
	_, err := svc.Create(context.Background(), buyer, CreateParams{
		OrderID:   "order-1",
		Reason:    "wrong_amount",
		Statement: "statement",
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback")
	}
}

func TestResolve_BuyerCancelsOrder(t *testing.T) {
	engine := &fakeEngine{order: waitingOrder()}
	repo := &fakeRepo{record: Record{ID: "dispute-1", OrderID: "order-1", BuyerID: "buyer-1", Status: StatusUnderReview}}
	svc, pool, notifier := newTestService(repo, engine)

	admin := auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
	rec, err := svc.Resolve(context.Background(), admin, ResolveParams{
		DisputeID:  "dispute-1",
		Resolution: ResolutionBuyer,
		Notes:      "refund the buyer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusResolvedBuyer {
		t.Errorf("expected resolved_buyer, got %s", rec.Status)
	}
	if !engine.cancelled {
		t.Error("expected order cancellation")
	}
	if engine.completed {
		t.Error("buyer resolution must not settle the order")
	}
	if repo.finalized != StatusResolvedBuyer {
		t.Errorf("expected finalize resolved_buyer, got %s", repo.finalized)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(notifier.sent) != 2 {
		t.Errorf("expected both parties notified, got %d", len(notifier.sent))
	}
}

func TestResolve_MerchantSettlesOrder(t *testing.T) {
	engine := &fakeEngine{order: waitingOrder()}
	repo := &fakeRepo{record: Record{ID: "dispute-1", OrderID: "order-1", BuyerID: "buyer-1", Status: StatusPending}}
	svc, _, _ := newTestService(repo, engine)

	admin := auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
	rec, err := svc.Resolve(context.Background(), admin, ResolveParams{
		DisputeID:  "dispute-1",
		Resolution: ResolutionMerchant,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusResolvedMerchant {
		t.Errorf("expected resolved_merchant, got %s", rec.Status)
	}
	if !engine.completed {
		t.Error("merchant resolution must settle through the completion path")
	}
	if engine.cancelled {
		t.Error("merchant resolution must not cancel")
	}
}

func TestResolve_AlreadyResolved(t *testing.T) {
	engine := &fakeEngine{order: waitingOrder()}
	repo := &fakeRepo{record: Record{ID: "dispute-1", OrderID: "order-1", Status: StatusResolvedBuyer}}
	svc, pool, _ := newTestService(repo, engine)

	admin := auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
	_, err := svc.Resolve(context.Background(), admin, ResolveParams{
		DisputeID:  "dispute-1",
		Resolution: ResolutionMerchant,
	})
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
	if engine.completed || engine.cancelled {
		t.Error("re-resolution must not touch the order")
	}
	if pool.tx.committed {
		t.Error("expected rollback")
	}
}

func TestResolve_AdminOnly(t *testing.T) {
	svc, _, _ := newTestService(&fakeRepo{}, &fakeEngine{})

	buyer := auth.Principal{UserID: "buyer-1", Role: auth.RoleBuyer}
	if _, err := svc.Resolve(context.Background(), buyer, ResolveParams{
		DisputeID:  "dispute-1",
		Resolution: ResolutionBuyer,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestResolve_InvalidChoice(t *testing.T) {
	svc, _, _ := newTestService(&fakeRepo{}, &fakeEngine{})

	admin := auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
	_, err := svc.Resolve(context.Background(), admin, ResolveParams{
		DisputeID:  "dispute-1",
		Resolution: Resolution("SPLIT"),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "resolution" {
		t.Fatalf("expected resolution validation error, got %v", err)
	}
}

func TestStartReview(t *testing.T) {
	repo := &fakeRepo{record: Record{ID: "dispute-1", Status: StatusPending}}
	svc, pool, _ := newTestService(repo, &fakeEngine{})

	admin := auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
	if err := svc.StartReview(context.Background(), admin, "dispute-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}

	repo.record.Status = StatusUnderReview
	if err := svc.StartReview(context.Background(), admin, "dispute-1"); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
}

// --- fakes ---

type fakeRepo struct {
	record    Record
	insertErr error
	finalized Status
	reviewed  bool
}

func (f *fakeRepo) Get(ctx context.Context, id string) (Record, error) {
	if f.record.ID == "" {
		return Record{}, ErrNotFound
	}
	return f.record, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	if f.record.ID == "" {
		return Record{}, ErrNotFound
	}
	return f.record, nil
}

func (f *fakeRepo) List(ctx context.Context, buyerID string, limit int) ([]Record, error) {
	return nil, nil
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, orderID, buyerID, reason, statement string) (Record, error) {
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	return Record{
		ID:             "dispute-new",
		OrderID:        orderID,
		BuyerID:        buyerID,
		Reason:         reason,
		BuyerStatement: statement,
		Status:         StatusPending,
	}, nil
}

func (f *fakeRepo) SetMerchantStatement(ctx context.Context, tx pgx.Tx, id, statement string) error {
	return nil
}

func (f *fakeRepo) StartReview(ctx context.Context, tx pgx.Tx, id string) error {
	f.reviewed = true
	return nil
}

func (f *fakeRepo) Finalize(ctx context.Context, tx pgx.Tx, id string, terminal Status, adminID, notes string) error {
	f.finalized = terminal
	return nil
}

type fakeEngine struct {
	order          order.Order
	markedDisputed bool
	completed      bool
	cancelled      bool
}

func (f *fakeEngine) GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error) {
	if f.order.ID == "" {
		return order.Order{}, order.ErrNotFound
	}
	return f.order, nil
}

func (f *fakeEngine) MarkDisputedTx(ctx context.Context, tx pgx.Tx, o order.Order, reason string) error {
	f.markedDisputed = true
	return nil
}

func (f *fakeEngine) CompleteTx(ctx context.Context, tx pgx.Tx, o order.Order) error {
	f.completed = true
	return nil
}

func (f *fakeEngine) CancelTx(ctx context.Context, tx pgx.Tx, o order.Order) error {
	f.cancelled = true
	return nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Enqueue(ctx context.Context, tx pgx.Tx, n notify.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

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

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
