package merchant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound is returned when no merchant profile row exists.
var ErrProfileNotFound = errors.New("merchant: profile not found")

// Stats maintains the merchant aggregate counters. The tx-scoped methods run
// inside the order transition that triggered them so counters move together
// with the order row.
type Stats struct {
	pool *pgxpool.Pool
}

func NewStats(pool *pgxpool.Pool) *Stats {
	return &Stats{pool: pool}
}

const profileColumns = `
	id, user_id, total_orders, completed_orders, rating_sum, rating_count,
	average_rating, tier::text, last_offer_activated_at, created_at, updated_at`

func scanProfile(r pgx.Row) (Profile, error) {
	var p Profile
	err := r.Scan(&p.ID, &p.UserID, &p.TotalOrders, &p.CompletedOrders,
		&p.RatingSum, &p.RatingCount, &p.AverageRating, &p.Tier,
		&p.LastOfferActivatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// GetByUserID loads a merchant profile by its owning user.
func (s *Stats) GetByUserID(ctx context.Context, userID string) (Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM merchant_profiles WHERE user_id = $1`
	p, err := scanProfile(s.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, fmt.Errorf("merchant: get profile: %w", err)
	}
	return p, nil
}

// RecordOrder bumps the order counter when a buyer opens an order against
// one of the merchant's offers.
func (s *Stats) RecordOrder(ctx context.Context, tx pgx.Tx, merchantUserID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE merchant_profiles
		SET total_orders = total_orders + 1,
		    updated_at = now()
		WHERE user_id = $1
	`, merchantUserID)
	if err != nil {
		return fmt.Errorf("merchant: record order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// RecordCompletion bumps the completion counter and refreshes the tier, which
// can move on volume alone when a merchant crosses a threshold.
func (s *Stats) RecordCompletion(ctx context.Context, tx pgx.Tx, merchantUserID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE merchant_profiles
		SET completed_orders = completed_orders + 1,
		    tier = CASE
		        WHEN average_rating >= 4.5 AND completed_orders + 1 >= 50 THEN 'gold'::merchant_tier
		        WHEN average_rating >= 4.0 AND completed_orders + 1 >= 20 THEN 'silver'::merchant_tier
		        ELSE 'bronze'::merchant_tier
		    END,
		    updated_at = now()
		WHERE user_id = $1
	`, merchantUserID)
	if err != nil {
		return fmt.Errorf("merchant: record completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// RecordRating folds one score into the aggregates and refreshes the derived
// average and tier cache in a single conditional update. The tier CASE
// mirrors TierFor; both must change together.
func (s *Stats) RecordRating(ctx context.Context, tx pgx.Tx, merchantUserID string, score int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE merchant_profiles
		SET rating_sum = rating_sum + $2,
		    rating_count = rating_count + 1,
		    average_rating = (rating_sum + $2)::float8 / (rating_count + 1),
		    tier = CASE
		        WHEN (rating_sum + $2)::float8 / (rating_count + 1) >= 4.5 AND completed_orders >= 50 THEN 'gold'::merchant_tier
		        WHEN (rating_sum + $2)::float8 / (rating_count + 1) >= 4.0 AND completed_orders >= 20 THEN 'silver'::merchant_tier
		        ELSE 'bronze'::merchant_tier
		    END,
		    updated_at = now()
		WHERE user_id = $1
	`, merchantUserID, score)
	if err != nil {
		return fmt.Errorf("merchant: record rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// EnsureProfile creates the aggregate row for a new merchant if missing.
func (s *Stats) EnsureProfile(ctx context.Context, userID string) (Profile, error) {
	q := `
		INSERT INTO merchant_profiles (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = merchant_profiles.updated_at
		RETURNING ` + profileColumns
	p, err := scanProfile(s.pool.QueryRow(ctx, q, userID))
	if err != nil {
		return Profile{}, fmt.Errorf("merchant: ensure profile: %w", err)
	}
	return p, nil
}
