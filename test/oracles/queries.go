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

// All returns the invariant checks run against the database while the
// actors hammer it. Each query returns rows only when the invariant is
// violated.
func All() []Oracle {
	return []Oracle{
		{
			// A transaction reaches a terminal status at most once, so
			// funds are credited at most once.
			Name: "O1_single_terminal_transition",
			SQL: `SELECT transaction_id, COUNT(*) FROM transaction_events
                  WHERE type = 'STATUS_CHANGED'
                    AND payload->>'next_status' IN ('completed','refunded','cancelled')
                  GROUP BY transaction_id HAVING COUNT(*) > 1`,
		},
		{
			// No recorded transition may leave a terminal status.
			Name: "O2_no_exit_from_terminal",
			SQL: `SELECT id, transaction_id, payload FROM transaction_events
                  WHERE type = 'STATUS_CHANGED'
                    AND payload->>'previous_status' IN ('completed','refunded','cancelled')`,
		},
		{
			// Audit event sequence numbers are strictly increasing per
			// transaction with no duplicates.
			Name: "O3_event_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT transaction_id, seq,
                             LAG(seq) OVER (PARTITION BY transaction_id ORDER BY seq) AS prev
                      FROM transaction_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			// Message endpoints must both be parties of the transaction.
			Name: "O4_message_party_integrity",
			SQL: `SELECT m.id FROM messages m
                  JOIN transactions t ON t.id = m.transaction_id
                  WHERE m.sender_id NOT IN (t.buyer_id, t.seller_id, COALESCE(t.escrow_agent_id, t.buyer_id))
                     OR m.receiver_id NOT IN (t.buyer_id, t.seller_id, COALESCE(t.escrow_agent_id, t.buyer_id))`,
		},
		{
			// completed_at is set exactly for completed transactions.
			Name: "O5_completed_at_consistency",
			SQL: `SELECT id, status, completed_at FROM transactions
                  WHERE (status = 'completed' AND completed_at IS NULL)
                     OR (status <> 'completed' AND completed_at IS NOT NULL)`,
		},
		{
			// Funds never sit in escrow without an assigned agent.
			Name: "O6_escrow_requires_agent",
			SQL: `SELECT id FROM transactions
                  WHERE status IN ('in_escrow','disputed','completed') AND escrow_agent_id IS NULL`,
		},
		{
			// The outbox drains: entries neither processed nor dead must
			// not linger.
			Name: "O7_outbox_drains",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			// Balances only ever grow from the seeded zero; a negative
			// balance means a double debit slipped through.
			Name: "O8_no_negative_balance",
			SQL:  `SELECT id, balance FROM users WHERE balance < 0`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
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
