package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a SQL probe that must return zero rows on a healthy database.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_settlement_conservation",
			SQL: `SELECT id FROM orders
                  WHERE status = 'completed'
                    AND (paypal_fee_in + platform_fee + paypal_fee_out + merchant_net_final) <> gross_in`,
		},
		{
			Name: "O2_settlement_chain",
			SQL: `SELECT id FROM orders
                  WHERE status = 'completed'
                    AND (gross_in <> total_amount
                         OR net_in <> gross_in - paypal_fee_in
                         OR merchant_receivable <> net_in - platform_fee
                         OR merchant_net_final <> merchant_receivable - paypal_fee_out)`,
		},
		{
			Name: "O3_settlement_only_terminal",
			SQL: `SELECT id FROM orders
                  WHERE (status = 'completed') <> (gross_in IS NOT NULL)
                     OR (status = 'completed') <> (completed_at IS NOT NULL)
                     OR (status <> 'cancelled' AND cancelled_at IS NOT NULL)`,
		},
		{
			Name: "O4_single_active_offer",
			SQL: `SELECT merchant_id, COUNT(*) FROM offers
                  WHERE is_active
                  GROUP BY merchant_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_dispute_per_order",
			SQL: `SELECT order_id, COUNT(*) FROM disputes
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_dispute_resolution_consistency",
			SQL: `SELECT d.id FROM disputes d
                  JOIN orders o ON o.id = d.order_id
                  WHERE (d.status = 'resolved_buyer' AND o.status <> 'cancelled')
                     OR (d.status = 'resolved_merchant' AND o.status <> 'completed')`,
		},
		{
			Name: "O7_open_dispute_blocks_completion",
			SQL: `SELECT d.id FROM disputes d
                  JOIN orders o ON o.id = d.order_id
                  WHERE d.status IN ('pending', 'under_review')
                    AND o.status NOT IN ('waiting_buyer_confirm')`,
		},
		{
			Name: "O8_rating_requires_completion",
			SQL: `SELECT r.id FROM ratings r
                  JOIN orders o ON o.id = r.order_id
                  WHERE o.status <> 'completed'
                     OR r.score NOT BETWEEN 1 AND 5`,
		},
		{
			Name: "O9_merchant_counters",
			SQL: `SELECT mp.user_id FROM merchant_profiles mp
                  WHERE mp.total_orders <> (SELECT COUNT(*) FROM orders o
                                            WHERE o.merchant_id = mp.user_id)
                     OR mp.completed_orders <> (SELECT COUNT(*) FROM orders o
                                                WHERE o.merchant_id = mp.user_id AND o.status = 'completed')
                     OR mp.rating_count <> (SELECT COUNT(*) FROM ratings r
                                            JOIN orders o ON o.id = r.order_id
                                            WHERE o.merchant_id = mp.user_id)`,
		},
		{
			Name: "O10_tier_matches_aggregates",
			SQL: `SELECT user_id FROM merchant_profiles
                  WHERE tier <> CASE
                      WHEN average_rating >= 4.5 AND completed_orders >= 50 THEN 'gold'::merchant_tier
                      WHEN average_rating >= 4.0 AND completed_orders >= 20 THEN 'silver'::merchant_tier
                      ELSE 'bronze'::merchant_tier
                  END`,
		},
		{
			Name: "O11_outbox_not_stuck",
			SQL: `SELECT id FROM notifications
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
