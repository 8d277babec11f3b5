package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const offerColumns = `
	id, merchant_id, offer_type, exchange_rate, min_amount, max_amount,
	is_active, created_at, updated_at`

// PGRepository owns the SQL for offers and the merchant activation guard
// fields. Guard-related methods take the caller's transaction so the profile
// row lock serializes concurrent activation attempts.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func scanOffer(r pgx.Row) (Offer, error) {
	var o Offer
	err := r.Scan(&o.ID, &o.MerchantID, &o.OfferType, &o.ExchangeRate,
		&o.MinAmount, &o.MaxAmount, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Offer{}, err
	}
	return o, nil
}

// GetByID loads a single offer.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	o, err := scanOffer(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get: %w", err)
	}
	return o, nil
}

// GetForUpdate locks the offer row within the caller's transaction.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 FOR UPDATE`
	o, err := scanOffer(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: lock row: %w", err)
	}
	return o, nil
}

// ListActive returns active offers, optionally narrowed to one corridor.
func (r *PGRepository) ListActive(ctx context.Context, offerType string, limit int) ([]Offer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + offerColumns + ` FROM offers WHERE is_active`
	args := []any{}
	if offerType != "" {
		query += ` AND offer_type = $1`
		args = append(args, offerType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("offer: list active: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}
	return out, nil
}

// ListForMerchant returns all of a merchant's offers, newest first.
func (r *PGRepository) ListForMerchant(ctx context.Context, merchantID string) ([]Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE merchant_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, merchantID)
	if err != nil {
		return nil, fmt.Errorf("offer: list for merchant: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}
	return out, nil
}

// LockActivationState locks the merchant profile row and returns the cooldown
// timestamp. Every activation attempt starts here so two concurrent attempts
// by the same merchant serialize.
func (r *PGRepository) LockActivationState(ctx context.Context, tx pgx.Tx, merchantID string) (*time.Time, error) {
	var last *time.Time
	err := tx.QueryRow(ctx, `
		SELECT last_offer_activated_at FROM merchant_profiles
		WHERE user_id = $1
		FOR UPDATE
	`, merchantID).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("offer: merchant profile missing for %s", merchantID)
		}
		return nil, fmt.Errorf("offer: lock activation state: %w", err)
	}
	return last, nil
}

// HasOtherActive reports whether the merchant has an active offer besides
// excludeID (empty to count all).
func (r *PGRepository) HasOtherActive(ctx context.Context, tx pgx.Tx, merchantID, excludeID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM offers
			WHERE merchant_id = $1 AND is_active AND id <> COALESCE(NULLIF($2, '')::uuid, '00000000-0000-0000-0000-000000000000'::uuid)
		)
	`, merchantID, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("offer: check active offers: %w", err)
	}
	return exists, nil
}

// Insert creates an offer. The partial unique index on (merchant_id) WHERE
// is_active backs the singleton invariant at the schema level; a violation
// maps to ErrActiveOfferExists.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, merchantID string, p CreateParams, active bool) (Offer, error) {
	q := `
		INSERT INTO offers (merchant_id, offer_type, exchange_rate, min_amount, max_amount, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + offerColumns
	o, err := scanOffer(tx.QueryRow(ctx, q, merchantID, p.OfferType, p.Rate, p.MinAmount, p.MaxAmount, active))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Offer{}, ErrActiveOfferExists
		}
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}
	return o, nil
}

// SetActive flips the active flag on one offer.
func (r *PGRepository) SetActive(ctx context.Context, tx pgx.Tx, id string, active bool) error {
	tag, err := tx.Exec(ctx, `
		UPDATE offers SET is_active = $1, updated_at = now() WHERE id = $2
	`, active, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveOfferExists
		}
		return fmt.Errorf("offer: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchActivation refreshes the cooldown timestamp; committed together with
// the SetActive write of the same transaction.
func (r *PGRepository) TouchActivation(ctx context.Context, tx pgx.Tx, merchantID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE merchant_profiles SET last_offer_activated_at = now(), updated_at = now()
		WHERE user_id = $1
	`, merchantID)
	if err != nil {
		return fmt.Errorf("offer: touch activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("offer: merchant profile missing for %s", merchantID)
	}
	return nil
}
