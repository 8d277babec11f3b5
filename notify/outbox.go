package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sender delivers one notification to the external channel (mail, push, ...).
// Errors are recorded, never propagated into the producing transaction.
type Sender func(ctx context.Context, n Notification) error

// Outbox stores notifications transactionally and hands them to a delivery
// worker in batches.
type Outbox struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool, maxAttempts: 5}
}

// Enqueue inserts a pending notification inside the caller's transaction, so
// it becomes visible only if the transition that produced it commits.
func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, n Notification) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notifications (recipient_id, kind, title, body, link)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, n.RecipientID, n.Kind, n.Title, n.Body, n.Link)
	if err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// Dispatch claims up to limit pending notifications with SKIP LOCKED,
// attempts delivery for each, and records the outcome. Safe to run from
// several workers concurrently. Returns the number of rows handled.
func (o *Outbox) Dispatch(ctx context.Context, send Sender, limit int) (int, error) {
	if limit <= 0 {
		limit = 20
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := claimBatch(ctx, tx, limit)
	if err != nil {
		return 0, err
	}

	for _, n := range batch {
		if sendErr := send(ctx, n); sendErr != nil {
			if err := o.markFailed(ctx, tx, n); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE notifications
			SET status = 'sent', sent_at = now(), attempts = attempts + 1
			WHERE id = $1
		`, n.ID); err != nil {
			return 0, fmt.Errorf("notify: mark sent: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("notify: commit dispatch: %w", err)
	}
	return len(batch), nil
}

func claimBatch(ctx context.Context, tx pgx.Tx, limit int) ([]Notification, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, recipient_id, kind, title, body, COALESCE(link, ''), status::text, attempts, created_at, sent_at
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: claim batch: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Body, &n.Link, &n.Status, &n.Attempts, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return out, nil
}

func (o *Outbox) markFailed(ctx context.Context, tx pgx.Tx, n Notification) error {
	if _, err := tx.Exec(ctx, `
		UPDATE notifications
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'failed'::notification_status ELSE 'pending'::notification_status END
		WHERE id = $1
	`, n.ID, o.maxAttempts); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}

// ListForRecipient returns the newest notifications for one user.
func (o *Outbox) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := o.pool.Query(ctx, `
		SELECT id, recipient_id, kind, title, body, COALESCE(link, ''), status::text, attempts, created_at, sent_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Body, &n.Link, &n.Status, &n.Attempts, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return out, nil
}
