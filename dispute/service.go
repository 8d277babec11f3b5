package dispute

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"escrowflow/auth"
	"escrowflow/notify"
	"escrowflow/order"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the dispute data access required by the service.
type Repository interface {
	Get(ctx context.Context, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	List(ctx context.Context, buyerID string, limit int) ([]Record, error)
	Insert(ctx context.Context, tx pgx.Tx, orderID, buyerID, reason, statement string) (Record, error)
	SetMerchantStatement(ctx context.Context, tx pgx.Tx, id, statement string) error
	StartReview(ctx context.Context, tx pgx.Tx, id string) error
	Finalize(ctx context.Context, tx pgx.Tx, id string, terminal Status, adminID, notes string) error
}

// OrderEngine is the slice of the order lifecycle that arbitration drives.
// Resolution reuses the exact completion and cancellation paths a normal
// order takes, inside the arbitration transaction.
type OrderEngine interface {
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error)
	MarkDisputedTx(ctx context.Context, tx pgx.Tx, o order.Order, reason string) error
	CompleteTx(ctx context.Context, tx pgx.Tx, o order.Order) error
	CancelTx(ctx context.Context, tx pgx.Tx, o order.Order) error
}

// Notifier enqueues fire-and-forget notifications inside the transaction.
type Notifier interface {
	Enqueue(ctx context.Context, tx pgx.Tx, n notify.Notification) error
}

// Service governs dispute creation and admin arbitration.
type Service struct {
	pool     TxBeginner
	repo     Repository
	orders   OrderEngine
	notifier Notifier
}

func NewService(pool TxBeginner, repo Repository, orders OrderEngine, notifier Notifier) *Service {
	return &Service{pool: pool, repo: repo, orders: orders, notifier: notifier}
}

// Get returns one dispute; parties and admins only.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !p.IsAdmin() && p.UserID != rec.BuyerID {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

// List returns the caller's disputes, or all disputes for an admin.
func (s *Service) List(ctx context.Context, p auth.Principal, limit int) ([]Record, error) {
	if p.IsAdmin() {
		return s.repo.List(ctx, "", limit)
	}
	return s.repo.List(ctx, p.UserID, limit)
}

// Create opens a dispute over an order awaiting buyer confirmation. The
// order's buyer-confirmed flag flips off and the reason is recorded, but the
// order status stays waiting_buyer_confirm until an admin resolves. Racing a
// concurrent confirm-received, whichever locks the order row first wins.
func (s *Service) Create(ctx context.Context, p auth.Principal, params CreateParams) (Record, error) {
	if params.OrderID == "" {
		return Record{}, &ValidationError{Field: "order_id", Reason: "required"}
	}
	if strings.TrimSpace(params.Reason) == "" {
		return Record{}, &ValidationError{Field: "reason", Reason: "required"}
	}
	statement := strings.TrimSpace(params.Statement)
	if statement == "" {
		return Record{}, &ValidationError{Field: "statement", Reason: "required"}
	}
	if len(statement) > maxStatementLen {
		return Record{}, &ValidationError{Field: "statement", Reason: fmt.Sprintf("longer than %d characters", maxStatementLen)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.orders.GetForUpdateTx(ctx, tx, params.OrderID)
	if err != nil {
		return Record{}, err
	}
	if o.BuyerID != p.UserID {
		return Record{}, ErrForbidden
	}
	if o.Status != order.StatusWaitingBuyerConfirm {
		return Record{}, ErrOrderNotDisputable
	}

	rec, err := s.repo.Insert(ctx, tx, o.ID, p.UserID, params.Reason, statement)
	if err != nil {
		return Record{}, err
	}
	if err := s.orders.MarkDisputedTx(ctx, tx, o, params.Reason); err != nil {
		return Record{}, err
	}

	if err := s.notifier.Enqueue(ctx, tx, notify.Notification{
		RecipientID: o.MerchantID,
		Kind:        notify.KindDisputeOpened,
		Title:       "Order disputed",
		Body:        fmt.Sprintf("The buyer disputed order %s: %s", o.ID, params.Reason),
		Link:        "/disputes/" + rec.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit create: %w", err)
	}
	return rec, nil
}

// AddMerchantStatement records the merchant's side while the dispute is open.
func (s *Service) AddMerchantStatement(ctx context.Context, p auth.Principal, disputeID, statement string) error {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return &ValidationError{Field: "statement", Reason: "required"}
	}
	if len(statement) > maxStatementLen {
		return &ValidationError{Field: "statement", Reason: fmt.Sprintf("longer than %d characters", maxStatementLen)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	o, err := s.orders.GetForUpdateTx(ctx, tx, rec.OrderID)
	if err != nil {
		return err
	}
	if o.MerchantID != p.UserID {
		return ErrForbidden
	}
	if err := s.repo.SetMerchantStatement(ctx, tx, rec.ID, statement); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit statement: %w", err)
	}
	return nil
}

// StartReview moves a pending dispute under admin review.
func (s *Service) StartReview(ctx context.Context, p auth.Principal, disputeID string) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return ErrBadStatus
	}
	if err := s.repo.StartReview(ctx, tx, rec.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit review: %w", err)
	}
	return nil
}

// Resolve is the admin's terminal arbitration. BUYER cancels the order with
// no settlement written; MERCHANT completes it through the same settlement
// path as a buyer confirmation. Either branch is first-wins: a second
// resolution attempt fails with ErrBadStatus and never re-applies settlement.
func (s *Service) Resolve(ctx context.Context, p auth.Principal, params ResolveParams) (Record, error) {
	if !p.IsAdmin() {
		return Record{}, ErrForbidden
	}
	if params.Resolution != ResolutionBuyer && params.Resolution != ResolutionMerchant {
		return Record{}, &ValidationError{Field: "resolution", Reason: "must be BUYER or MERCHANT"}
	}
	notes := strings.TrimSpace(params.Notes)
	if len(notes) > maxStatementLen {
		return Record{}, &ValidationError{Field: "notes", Reason: fmt.Sprintf("longer than %d characters", maxStatementLen)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.IsTerminal() {
		return Record{}, ErrBadStatus
	}

	o, err := s.orders.GetForUpdateTx(ctx, tx, rec.OrderID)
	if err != nil {
		return Record{}, err
	}

	var terminal Status
	switch params.Resolution {
	case ResolutionBuyer:
		terminal = StatusResolvedBuyer
		if err := s.orders.CancelTx(ctx, tx, o); err != nil {
			return Record{}, err
		}
	case ResolutionMerchant:
		terminal = StatusResolvedMerchant
		if err := s.orders.CompleteTx(ctx, tx, o); err != nil {
			return Record{}, err
		}
	}

	if err := s.repo.Finalize(ctx, tx, rec.ID, terminal, p.UserID, notes); err != nil {
		return Record{}, err
	}

	for _, recipient := range []string{o.BuyerID, o.MerchantID} {
		if err := s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: recipient,
			Kind:        notify.KindDisputeResolved,
			Title:       "Dispute resolved",
			Body:        fmt.Sprintf("Dispute over order %s was resolved in favor of the %s.", o.ID, strings.ToLower(string(params.Resolution))),
			Link:        "/disputes/" + rec.ID,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	rec.Status = terminal
	return rec, nil
}

// Close ends a dispute without picking a side, leaving the order in
// waiting_buyer_confirm so the normal flow can resume.
func (s *Service) Close(ctx context.Context, p auth.Principal, disputeID, notes string) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return ErrBadStatus
	}
	if err := s.repo.Finalize(ctx, tx, rec.ID, StatusClosed, p.UserID, notes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit close: %w", err)
	}
	return nil
}
