package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const orderColumns = `
	id, buyer_id, merchant_id, offer_id, amount, exchange_rate, total_amount,
	status::text,
	payment_txn_id, payment_proof_before, payment_proof_after, payment_note,
	delivery_txn_id, delivery_proof_ref, recipient_address, delivery_note,
	buyer_confirmed_received, rejection_reason,
	gross_in, paypal_fee_in, net_in, platform_fee, merchant_receivable,
	paypal_fee_out, merchant_net_final,
	created_at, updated_at, completed_at, cancelled_at`

// PGRepository owns all SQL touching the orders and ratings tables. Methods
// that participate in a lifecycle transition take the caller's transaction so
// the row lock taken by GetForUpdate covers every write of the transition.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type row interface {
	Scan(dest ...any) error
}

func scanOrder(r row) (Order, error) {
	var (
		o          Order
		grossIn    decimal.NullDecimal
		feeIn      decimal.NullDecimal
		netIn      decimal.NullDecimal
		platform   decimal.NullDecimal
		receivable decimal.NullDecimal
		feeOut     decimal.NullDecimal
		netFinal   decimal.NullDecimal
	)
	err := r.Scan(
		&o.ID, &o.BuyerID, &o.MerchantID, &o.OfferID,
		&o.Amount, &o.ExchangeRate, &o.TotalAmount,
		&o.Status,
		&o.PaymentTxnID, &o.PaymentProofBefore, &o.PaymentProofAfter, &o.PaymentNote,
		&o.DeliveryTxnID, &o.DeliveryProofRef, &o.RecipientAddress, &o.DeliveryNote,
		&o.BuyerConfirmedReceived, &o.RejectionReason,
		&grossIn, &feeIn, &netIn, &platform, &receivable, &feeOut, &netFinal,
		&o.CreatedAt, &o.UpdatedAt, &o.CompletedAt, &o.CancelledAt,
	)
	if err != nil {
		return Order{}, err
	}
	if grossIn.Valid {
		o.Settlement = &Settlement{
			GrossIn:            grossIn.Decimal,
			PaypalFeeIn:        feeIn.Decimal,
			NetIn:              netIn.Decimal,
			PlatformFee:        platform.Decimal,
			MerchantReceivable: receivable.Decimal,
			PaypalFeeOut:       feeOut.Decimal,
			MerchantNetFinal:   netFinal.Decimal,
		}
	}
	return o, nil
}

// Get loads a single order outside any transaction.
func (r *PGRepository) Get(ctx context.Context, id string) (Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

// GetForUpdate locks the order row for the remainder of the transaction.
// Every lifecycle transition starts here so concurrent commands against the
// same order serialize on the row lock and re-check status afterwards.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	o, err := scanOrder(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: lock row: %w", err)
	}
	return o, nil
}

// ListForUser returns orders where the user is buyer or merchant, newest first.
func (r *PGRepository) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + orderColumns + ` FROM orders
		WHERE buyer_id = $1 OR merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 8)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

// OfferQuote is the subset of an offer needed to open an order against it.
type OfferQuote struct {
	ID         string
	MerchantID string
	Rate       decimal.Decimal
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	IsActive   bool
}

// GetOfferQuote locks the offer row so the rate snapshot and the active check
// observe the same committed state.
func (r *PGRepository) GetOfferQuote(ctx context.Context, tx pgx.Tx, offerID string) (OfferQuote, error) {
	const q = `
		SELECT id, merchant_id, exchange_rate, min_amount, max_amount, is_active
		FROM offers WHERE id = $1
		FOR UPDATE`
	var oq OfferQuote
	err := tx.QueryRow(ctx, q, offerID).
		Scan(&oq.ID, &oq.MerchantID, &oq.Rate, &oq.MinAmount, &oq.MaxAmount, &oq.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OfferQuote{}, ErrNotFound
		}
		return OfferQuote{}, fmt.Errorf("order: load offer: %w", err)
	}
	return oq, nil
}

// Insert creates a fresh pending-quote order with the rate snapshot applied.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, buyerID string, quote OfferQuote, amount, total decimal.Decimal) (Order, error) {
	const q = `
		INSERT INTO orders (buyer_id, merchant_id, offer_id, amount, exchange_rate, total_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending_quote')
		RETURNING ` + orderColumns
	o, err := scanOrder(tx.QueryRow(ctx, q, buyerID, quote.MerchantID, quote.ID, amount, quote.Rate, total))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return o, nil
}

// SetStatus applies a plain status move guarded by the expected current
// status. The WHERE clause re-checks the precondition against the committed
// row even though the caller holds the lock.
func (r *PGRepository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1::order_status, updated_at = now()
		WHERE id = $2 AND status = $3::order_status
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("order: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RecordPaymentProof stores the buyer's proof artifacts alongside the status
// move out of waiting_payment.
func (r *PGRepository) RecordPaymentProof(ctx context.Context, tx pgx.Tx, p PaymentProofParams, next Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1::order_status,
		    payment_txn_id = $2,
		    payment_proof_before = $3,
		    payment_proof_after = $4,
		    payment_note = NULLIF($5, ''),
		    rejection_reason = NULL,
		    updated_at = now()
		WHERE id = $6 AND status = 'waiting_payment'
	`, next, p.TransactionID, p.BeforeProofRef, p.AfterProofRef, p.Confirmation, p.OrderID)
	if err != nil {
		return fmt.Errorf("order: record payment proof: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RejectPayment reopens the order for proof resubmission, keeping the reason
// visible to the buyer.
func (r *PGRepository) RejectPayment(ctx context.Context, tx pgx.Tx, id, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'waiting_payment',
		    rejection_reason = $1,
		    updated_at = now()
		WHERE id = $2 AND status = 'proofs_submitted'
	`, reason, id)
	if err != nil {
		return fmt.Errorf("order: reject payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RecordDeliveryProof stores the merchant's transfer evidence and moves the
// order to waiting_buyer_confirm. Legal from escrowed or merchant_processing.
func (r *PGRepository) RecordDeliveryProof(ctx context.Context, tx pgx.Tx, p DeliveryProofParams) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'waiting_buyer_confirm',
		    delivery_txn_id = $1,
		    delivery_proof_ref = $2,
		    recipient_address = $3,
		    delivery_note = NULLIF($4, ''),
		    updated_at = now()
		WHERE id = $5 AND status IN ('escrowed', 'merchant_processing')
	`, p.TransactionID, p.ProofRef, p.RecipientAddress, p.Confirmation, p.OrderID)
	if err != nil {
		return fmt.Errorf("order: record delivery proof: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Complete writes the settlement breakdown, the completion timestamp, and the
// terminal status in one statement. The status guard makes the write
// first-wins: settlement fields are populated exactly once.
func (r *PGRepository) Complete(ctx context.Context, tx pgx.Tx, id string, from Status, st Settlement) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'completed',
		    buyer_confirmed_received = true,
		    gross_in = $1,
		    paypal_fee_in = $2,
		    net_in = $3,
		    platform_fee = $4,
		    merchant_receivable = $5,
		    paypal_fee_out = $6,
		    merchant_net_final = $7,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $8 AND status = $9::order_status AND completed_at IS NULL
	`, st.GrossIn, st.PaypalFeeIn, st.NetIn, st.PlatformFee,
		st.MerchantReceivable, st.PaypalFeeOut, st.MerchantNetFinal, id, from)
	if err != nil {
		return fmt.Errorf("order: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Cancel moves the order to cancelled from the expected status.
func (r *PGRepository) Cancel(ctx context.Context, tx pgx.Tx, id string, from Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'cancelled', cancelled_at = now(), updated_at = now()
		WHERE id = $1 AND status = $2::order_status
	`, id, from)
	if err != nil {
		return fmt.Errorf("order: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkDisputed flips the buyer confirmation off and records the contest
// reason without moving the status; the order stays in waiting_buyer_confirm
// until an admin resolves the dispute.
func (r *PGRepository) MarkDisputed(ctx context.Context, tx pgx.Tx, id, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET buyer_confirmed_received = false,
		    rejection_reason = $1,
		    updated_at = now()
		WHERE id = $2 AND status = 'waiting_buyer_confirm'
	`, reason, id)
	if err != nil {
		return fmt.Errorf("order: mark disputed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// InsertRating records the buyer's one-shot score. The unique index on
// order_id turns a duplicate into ErrAlreadyRated.
func (r *PGRepository) InsertRating(ctx context.Context, tx pgx.Tx, orderID, buyerID string, score int, comment string) (Rating, error) {
	const q = `
		INSERT INTO ratings (order_id, buyer_id, score, comment)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, order_id, buyer_id, score, COALESCE(comment, ''), created_at`
	var rec Rating
	err := tx.QueryRow(ctx, q, orderID, buyerID, score, comment).
		Scan(&rec.ID, &rec.OrderID, &rec.BuyerID, &rec.Score, &rec.Comment, &rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Rating{}, ErrAlreadyRated
		}
		return Rating{}, fmt.Errorf("order: insert rating: %w", err)
	}
	return rec, nil
}

// HasOpenDispute reports whether a pending or in-review dispute holds the
// order. Callers already hold the order row lock, which serializes this
// check against dispute creation.
func (r *PGRepository) HasOpenDispute(ctx context.Context, tx pgx.Tx, orderID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM disputes
			WHERE order_id = $1 AND status IN ('pending', 'under_review')
		)
	`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("order: check open dispute: %w", err)
	}
	return exists, nil
}

// ExpireStale sweeps non-terminal orders older than the cutoff into expired.
// Invoked by an operator or scheduler outside the request path; returns the
// number of orders moved.
func (r *PGRepository) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = 'expired', updated_at = now()
		WHERE created_at < $1
		  AND status NOT IN ('completed', 'cancelled', 'expired')
		  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = orders.id AND d.status IN ('pending', 'under_review'))
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("order: expire stale: %w", err)
	}
	return tag.RowsAffected(), nil
}
