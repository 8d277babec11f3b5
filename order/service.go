package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/notify"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the lifecycle service. Every
// transition method takes the transaction opened by the service so the row
// lock from GetForUpdate covers the whole transition.
type Store interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	GetOfferQuote(ctx context.Context, tx pgx.Tx, offerID string) (OfferQuote, error)
	Insert(ctx context.Context, tx pgx.Tx, buyerID string, quote OfferQuote, amount, total decimal.Decimal) (Order, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error
	RecordPaymentProof(ctx context.Context, tx pgx.Tx, p PaymentProofParams, next Status) error
	RejectPayment(ctx context.Context, tx pgx.Tx, id, reason string) error
	RecordDeliveryProof(ctx context.Context, tx pgx.Tx, p DeliveryProofParams) error
	Complete(ctx context.Context, tx pgx.Tx, id string, from Status, st Settlement) error
	Cancel(ctx context.Context, tx pgx.Tx, id string, from Status) error
	MarkDisputed(ctx context.Context, tx pgx.Tx, id, reason string) error
	HasOpenDispute(ctx context.Context, tx pgx.Tx, orderID string) (bool, error)
	InsertRating(ctx context.Context, tx pgx.Tx, orderID, buyerID string, score int, comment string) (Rating, error)
	Get(ctx context.Context, id string) (Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Order, error)
	ExpireStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// StatsRecorder updates merchant aggregates inside the transition transaction.
type StatsRecorder interface {
	RecordOrder(ctx context.Context, tx pgx.Tx, merchantUserID string) error
	RecordCompletion(ctx context.Context, tx pgx.Tx, merchantUserID string) error
	RecordRating(ctx context.Context, tx pgx.Tx, merchantUserID string, score int) error
}

// Notifier enqueues fire-and-forget notifications inside the transaction.
type Notifier interface {
	Enqueue(ctx context.Context, tx pgx.Tx, n notify.Notification) error
}

// Service drives the order state machine. One method per command; each opens
// a transaction, locks the order row, re-checks the status precondition, and
// commits the transition together with its side effects.
type Service struct {
	pool     TxBeginner
	store    Store
	stats    StatsRecorder
	notifier Notifier
	fees     FeeSchedule

	// requireReview routes buyer payment proofs through admin approval
	// instead of escrowing them directly.
	requireReview bool
}

func NewService(pool TxBeginner, store Store, stats StatsRecorder, notifier Notifier, fees FeeSchedule, requireReview bool) *Service {
	return &Service{
		pool:          pool,
		store:         store,
		stats:         stats,
		notifier:      notifier,
		fees:          fees,
		requireReview: requireReview,
	}
}

// Get returns one order; parties and admins only.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !p.IsAdmin() && p.UserID != o.BuyerID && p.UserID != o.MerchantID {
		return Order{}, ErrForbidden
	}
	return o, nil
}

// List returns the caller's orders, newest first.
func (s *Service) List(ctx context.Context, p auth.Principal, limit int) ([]Order, error) {
	return s.store.ListForUser(ctx, p.UserID, limit)
}

// Create opens a pending-quote order against an active offer, snapshotting
// the offer's rate into the order.
func (s *Service) Create(ctx context.Context, p auth.Principal, params CreateParams) (Order, error) {
	if !p.IsBuyer() {
		return Order{}, ErrForbidden
	}
	if params.OfferID == "" {
		return Order{}, &ValidationError{Field: "offer_id", Reason: "required"}
	}
	if !params.Amount.IsPositive() {
		return Order{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	quote, err := s.store.GetOfferQuote(ctx, tx, params.OfferID)
	if err != nil {
		return Order{}, err
	}
	if !quote.IsActive {
		return Order{}, ErrOfferInactive
	}
	if quote.MerchantID == p.UserID {
		return Order{}, ErrForbidden
	}
	if params.Amount.LessThan(quote.MinAmount) || params.Amount.GreaterThan(quote.MaxAmount) {
		return Order{}, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %s and %s", quote.MinAmount, quote.MaxAmount),
		}
	}

	// Round to the cent; the stored total is the settlement base.
	total := params.Amount.Mul(quote.Rate).Round(2)
	o, err := s.store.Insert(ctx, tx, p.UserID, quote, params.Amount, total)
	if err != nil {
		return Order{}, err
	}

	if err := s.stats.RecordOrder(ctx, tx, o.MerchantID); err != nil {
		return Order{}, err
	}

	if err := s.notifier.Enqueue(ctx, tx, notify.Notification{
		RecipientID: o.MerchantID,
		Kind:        notify.KindOrderCreated,
		Title:       "New order",
		Body:        fmt.Sprintf("A buyer opened order %s for %s.", o.ID, o.Amount),
		Link:        "/orders/" + o.ID,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}
	return o, nil
}

// Confirm moves the buyer's quote into waiting_payment.
func (s *Service) Confirm(ctx context.Context, p auth.Principal, orderID string) error {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.BuyerID != p.UserID {
			return ErrForbidden
		}
		if o.Status != StatusPendingQuote {
			return ErrInvalidState
		}
		if err := s.store.SetStatus(ctx, tx, o.ID, StatusPendingQuote, StatusWaitingPayment); err != nil {
			return err
		}
		return s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: o.MerchantID,
			Kind:        notify.KindOrderConfirmed,
			Title:       "Order confirmed",
			Body:        fmt.Sprintf("Order %s was confirmed and awaits payment.", o.ID),
			Link:        "/orders/" + o.ID,
		})
	})
}

// UploadPaymentProof records the buyer's funding evidence. Depending on the
// review policy the order escrows immediately or waits for admin approval.
func (s *Service) UploadPaymentProof(ctx context.Context, p auth.Principal, params PaymentProofParams) error {
	if strings.TrimSpace(params.TransactionID) == "" {
		return &ValidationError{Field: "transaction_id", Reason: "required"}
	}
	if params.BeforeProofRef == "" {
		return &ValidationError{Field: "before_proof_ref", Reason: "required"}
	}
	if params.AfterProofRef == "" {
		return &ValidationError{Field: "after_proof_ref", Reason: "required"}
	}

	next := StatusEscrowed
	if s.requireReview {
		next = StatusProofsSubmitted
	}

	return s.transition(ctx, params.OrderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.BuyerID != p.UserID {
			return ErrForbidden
		}
		if o.Status != StatusWaitingPayment {
			return ErrInvalidState
		}
		if err := s.store.RecordPaymentProof(ctx, tx, params, next); err != nil {
			return err
		}
		kind := notify.KindPaymentSubmitted
		body := fmt.Sprintf("Payment proof submitted for order %s.", o.ID)
		if next == StatusEscrowed {
			kind = notify.KindPaymentApproved
			body = fmt.Sprintf("Order %s is escrowed and ready to process.", o.ID)
		}
		return s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: o.MerchantID,
			Kind:        kind,
			Title:       "Payment received",
			Body:        body,
			Link:        "/orders/" + o.ID,
		})
	})
}

// ApprovePayment is the admin review step moving submitted proofs to escrow.
func (s *Service) ApprovePayment(ctx context.Context, p auth.Principal, orderID string) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.Status != StatusProofsSubmitted {
			return ErrInvalidState
		}
		if err := s.store.SetStatus(ctx, tx, o.ID, StatusProofsSubmitted, StatusEscrowed); err != nil {
			return err
		}
		return s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: o.MerchantID,
			Kind:        notify.KindPaymentApproved,
			Title:       "Escrow funded",
			Body:        fmt.Sprintf("Order %s is escrowed and ready to process.", o.ID),
			Link:        "/orders/" + o.ID,
		})
	})
}

// RejectPayment reopens the order for proof resubmission with the admin's
// reason recorded for the buyer.
func (s *Service) RejectPayment(ctx context.Context, p auth.Principal, orderID, reason string) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	if strings.TrimSpace(reason) == "" {
		return &ValidationError{Field: "reason", Reason: "required"}
	}
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.Status != StatusProofsSubmitted {
			return ErrInvalidState
		}
		if err := s.store.RejectPayment(ctx, tx, o.ID, reason); err != nil {
			return err
		}
		return s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: o.BuyerID,
			Kind:        notify.KindPaymentRejected,
			Title:       "Payment proof rejected",
			Body:        fmt.Sprintf("Order %s: %s", o.ID, reason),
			Link:        "/orders/" + o.ID,
		})
	})
}

// StartProcessing lets the merchant flag the transfer as in flight. Optional:
// delivery proof is accepted straight from escrowed as well.
func (s *Service) StartProcessing(ctx context.Context, p auth.Principal, orderID string) error {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.MerchantID != p.UserID {
			return ErrForbidden
		}
		if o.Status != StatusEscrowed {
			return ErrInvalidState
		}
		if err := s.store.SetStatus(ctx, tx, o.ID, StatusEscrowed, StatusMerchantProcessing); err != nil {
			return err
		}
		return s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: o.BuyerID,
			Kind:        notify.KindProcessing,
			Title:       "Transfer in progress",
			Body:        fmt.Sprintf("The merchant started processing order %s.", o.ID),
			Link:        "/orders/" + o.ID,
		})
	})
}

// UploadDeliveryProof records the merchant's transfer evidence and hands the
// order to the buyer for confirmation.
func (s *Service) UploadDeliveryProof(ctx context.Context, p auth.Principal, params DeliveryProofParams) error {
	if strings.TrimSpace(params.TransactionID) == "" {
		return &ValidationError{Field: "transaction_id", Reason: "required"}
	}
	if strings.TrimSpace(params.RecipientAddress) == "" {
		return &ValidationError{Field: "recipient_address", Reason: "required"}
	}
	if params.ProofRef == "" {
		return &ValidationError{Field: "proof_ref", Reason: "required"}
	}

	return s.transition(ctx, params.OrderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.MerchantID != p.UserID {
			return ErrForbidden
		}
		if o.Status != StatusEscrowed && o.Status != StatusMerchantProcessing {
			return ErrInvalidState
		}
		if err := s.store.RecordDeliveryProof(ctx, tx, params); err != nil {
			return err
		}
		return s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: o.BuyerID,
			Kind:        notify.KindDelivered,
			Title:       "Transfer delivered",
			Body:        fmt.Sprintf("The merchant delivered order %s. Please confirm receipt.", o.ID),
			Link:        "/orders/" + o.ID,
		})
	})
}

// ConfirmReceived is the buyer's acceptance, completing the order and
// settling fees. Mutually exclusive with opening a dispute: whichever command
// locks the row first wins and the other observes the changed state.
func (s *Service) ConfirmReceived(ctx context.Context, p auth.Principal, orderID string) error {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.BuyerID != p.UserID {
			return ErrForbidden
		}
		if o.Status != StatusWaitingBuyerConfirm {
			return ErrInvalidState
		}
		disputed, err := s.store.HasOpenDispute(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if disputed {
			return ErrDisputed
		}
		return s.CompleteTx(ctx, tx, o)
	})
}

// Cancel aborts a non-terminal order. Buyer, merchant, or admin. Calling it
// on a terminal order surfaces ErrInvalidState rather than silently no-oping.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, orderID string) error {
	return s.transition(ctx, orderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if !p.IsAdmin() && p.UserID != o.BuyerID && p.UserID != o.MerchantID {
			return ErrForbidden
		}
		if !o.Status.IsCancellable() {
			return ErrInvalidState
		}
		disputed, err := s.store.HasOpenDispute(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if disputed {
			return ErrDisputed
		}
		return s.CancelTx(ctx, tx, o)
	})
}

// Rate records the buyer's one-shot score for a completed order and folds it
// into the merchant aggregates.
func (s *Service) Rate(ctx context.Context, p auth.Principal, params RateParams) (Rating, error) {
	if params.Score < 1 || params.Score > 5 {
		return Rating{}, &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}

	var rec Rating
	err := s.transition(ctx, params.OrderID, func(ctx context.Context, tx pgx.Tx, o Order) error {
		if o.BuyerID != p.UserID {
			return ErrForbidden
		}
		if o.Status != StatusCompleted {
			return ErrInvalidState
		}
		var err error
		rec, err = s.store.InsertRating(ctx, tx, o.ID, p.UserID, params.Score, params.Comment)
		if err != nil {
			return err
		}
		if err := s.stats.RecordRating(ctx, tx, o.MerchantID, params.Score); err != nil {
			return err
		}
		return s.notifier.Enqueue(ctx, tx, notify.Notification{
			RecipientID: o.MerchantID,
			Kind:        notify.KindRated,
			Title:       "Order rated",
			Body:        fmt.Sprintf("Order %s was rated %d/5.", o.ID, params.Score),
			Link:        "/orders/" + o.ID,
		})
	})
	if err != nil {
		return Rating{}, err
	}
	return rec, nil
}

// ExpireStale sweeps overdue non-terminal orders into expired. Maintenance
// entry point; disputed orders are left for arbitration.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.store.ExpireStale(ctx, olderThan)
}

// GetForUpdateTx exposes the locked read to collaborating services (dispute
// arbitration) that run their own transaction.
func (s *Service) GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	return s.store.GetForUpdate(ctx, tx, orderID)
}

// MarkDisputedTx flips the buyer confirmation off and records the contest
// reason inside the caller's transaction.
func (s *Service) MarkDisputedTx(ctx context.Context, tx pgx.Tx, o Order, reason string) error {
	return s.store.MarkDisputed(ctx, tx, o.ID, reason)
}

// CompleteTx finalizes o inside the caller's transaction: settlement split,
// terminal status, completion timestamp, merchant counters, notifications.
// Shared by buyer confirmation and merchant-favored dispute resolution.
func (s *Service) CompleteTx(ctx context.Context, tx pgx.Tx, o Order) error {
	st, err := CalculateSettlement(o.TotalAmount, s.fees)
	if err != nil {
		return err
	}
	if err := s.store.Complete(ctx, tx, o.ID, o.Status, st); err != nil {
		return err
	}
	if err := s.stats.RecordCompletion(ctx, tx, o.MerchantID); err != nil {
		return err
	}
	if err := s.notifier.Enqueue(ctx, tx, notify.Notification{
		RecipientID: o.MerchantID,
		Kind:        notify.KindCompleted,
		Title:       "Order completed",
		Body:        fmt.Sprintf("Order %s settled; payout %s.", o.ID, st.MerchantNetFinal.StringFixed(2)),
		Link:        "/orders/" + o.ID,
	}); err != nil {
		return err
	}
	return s.notifier.Enqueue(ctx, tx, notify.Notification{
		RecipientID: o.BuyerID,
		Kind:        notify.KindCompleted,
		Title:       "Order completed",
		Body:        fmt.Sprintf("Order %s is complete.", o.ID),
		Link:        "/orders/" + o.ID,
	})
}

// CancelTx cancels o inside the caller's transaction with no settlement
// written. Shared by the cancel command and buyer-favored dispute resolution.
func (s *Service) CancelTx(ctx context.Context, tx pgx.Tx, o Order) error {
	if err := s.store.Cancel(ctx, tx, o.ID, o.Status); err != nil {
		return err
	}
	if err := s.notifier.Enqueue(ctx, tx, notify.Notification{
		RecipientID: o.BuyerID,
		Kind:        notify.KindCancelled,
		Title:       "Order cancelled",
		Body:        fmt.Sprintf("Order %s was cancelled.", o.ID),
		Link:        "/orders/" + o.ID,
	}); err != nil {
		return err
	}
	return s.notifier.Enqueue(ctx, tx, notify.Notification{
		RecipientID: o.MerchantID,
		Kind:        notify.KindCancelled,
		Title:       "Order cancelled",
		Body:        fmt.Sprintf("Order %s was cancelled.", o.ID),
		Link:        "/orders/" + o.ID,
	})
}

// transition wraps one lifecycle command: begin, lock the row, apply, commit.
func (s *Service) transition(ctx context.Context, orderID string, apply func(ctx context.Context, tx pgx.Tx, o Order) error) error {
	if orderID == "" {
		return &ValidationError{Field: "order_id", Reason: "required"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.store.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if err := apply(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("order: commit transition: %w", err)
	}
	return nil
}
