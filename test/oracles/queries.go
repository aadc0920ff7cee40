// Package oracles defines the invariants the stress suite checks against the
// live database. Every query returns rows only when an invariant is violated.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_terminal_outcome_exclusive",
			SQL: `SELECT o.id FROM orders o
                  WHERE (o.confirmed_at IS NOT NULL AND o.auto_completed_at IS NOT NULL)
                     OR (o.confirmed_at IS NOT NULL AND EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id))
                     OR (o.auto_completed_at IS NOT NULL AND EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id))`,
		},
		{
			Name: "O2_dispute_matches_status",
			SQL: `SELECT o.id, o.status FROM orders o
                  WHERE (o.status = 'disputed') <> EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id)`,
		},
		{
			Name: "O3_no_early_auto_complete",
			SQL: `SELECT id FROM orders
                  WHERE auto_completed_at IS NOT NULL
                    AND auto_completed_at < delivered_at + interval '24 hours'`,
		},
		{
			Name: "O4_completion_stamps_consistent",
			SQL: `SELECT id, status FROM orders
                  WHERE (status = 'completed' AND confirmed_at IS NULL AND auto_completed_at IS NULL)
                     OR (status NOT IN ('completed') AND (confirmed_at IS NOT NULL OR auto_completed_at IS NOT NULL))
                     OR (status IN ('delivered', 'completed', 'disputed') AND delivered_at IS NULL)`,
		},
		{
			Name: "O5_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT order_id, seq,
                             LAG(seq) OVER (PARTITION BY order_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O6_slot_capacity_respected",
			SQL: `SELECT o.supplier_id, o.window_start, COUNT(*) AS booked, r.slot_capacity
                  FROM orders o
                  JOIN availability_rules r ON r.supplier_id = o.supplier_id
                  WHERE o.window_start IS NOT NULL
                    AND o.status <> 'disputed'
                    AND r.slot_capacity > 0
                  GROUP BY o.supplier_id, o.window_start, r.slot_capacity
                  HAVING COUNT(*) > r.slot_capacity`,
		},
		{
			Name: "O7_window_tristate",
			SQL: `SELECT id FROM orders
                  WHERE (window_start IS NULL) <> (window_end IS NULL)
                     OR (negotiable AND window_start IS NOT NULL)`,
		},
		{
			Name: "O8_outbox_not_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name when all pass.
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
