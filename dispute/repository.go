package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const disputeColumns = `
	id, order_id, buyer_id, reason, buyer_statement, merchant_statement,
	status::text, admin_notes, resolved_by, resolved_at, created_at, updated_at`

// PGRepository owns the SQL touching the disputes table. Arbitration methods
// take the caller's transaction because dispute and order rows must move
// together.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func scanRecord(r pgx.Row) (Record, error) {
	var rec Record
	err := r.Scan(&rec.ID, &rec.OrderID, &rec.BuyerID, &rec.Reason,
		&rec.BuyerStatement, &rec.MerchantStatement, &rec.Status,
		&rec.AdminNotes, &rec.ResolvedBy, &rec.ResolvedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get loads one dispute.
func (r *PGRepository) Get(ctx context.Context, id string) (Record, error) {
	q := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// GetForUpdate locks the dispute row for arbitration.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	q := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: lock row: %w", err)
	}
	return rec, nil
}

// List returns disputes, optionally narrowed to one buyer, newest first.
func (r *PGRepository) List(ctx context.Context, buyerID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []any{}
	if buyerID != "" {
		query += ` WHERE buyer_id = $1`
		args = append(args, buyerID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Insert creates a pending dispute. The unique index on order_id turns a
// second dispute into ErrAlreadyExists regardless of interleaving.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, orderID, buyerID, reason, statement string) (Record, error) {
	q := `
		INSERT INTO disputes (order_id, buyer_id, reason, buyer_statement, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING ` + disputeColumns
	rec, err := scanRecord(tx.QueryRow(ctx, q, orderID, buyerID, reason, statement))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyExists
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return rec, nil
}

// SetMerchantStatement records the merchant's side while the dispute is open.
func (r *PGRepository) SetMerchantStatement(ctx context.Context, tx pgx.Tx, id, statement string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET merchant_statement = $1, updated_at = now()
		WHERE id = $2 AND status IN ('pending', 'under_review')
	`, statement, id)
	if err != nil {
		return fmt.Errorf("dispute: set merchant statement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBadStatus
	}
	return nil
}

// StartReview moves a pending dispute under admin review.
func (r *PGRepository) StartReview(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = 'under_review', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("dispute: start review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBadStatus
	}
	return nil
}

// Finalize writes the terminal dispute status. The status guard in the WHERE
// clause makes resolution first-wins and irreversible.
func (r *PGRepository) Finalize(ctx context.Context, tx pgx.Tx, id string, terminal Status, adminID, notes string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = $1::dispute_status,
		    admin_notes = NULLIF($2, ''),
		    resolved_by = $3,
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $4 AND status IN ('pending', 'under_review')
	`, terminal, notes, adminID, id)
	if err != nil {
		return fmt.Errorf("dispute: finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBadStatus
	}
	return nil
}
