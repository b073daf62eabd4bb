package actors

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Releaser repeatedly tries to complete the transaction the way the escrow
// service does: lock the row, check it is still in escrow, write the status,
// credit the seller, append the audit event, enqueue the outbox entry.
// Under contention with Refunder exactly one of them may win.
func Releaser(ctx context.Context, pool *pgxpool.Pool, txID, agentID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = settle(ctx, pool, txID, agentID, "completed")
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Refunder races Releaser toward the refunded terminal.
func Refunder(ctx context.Context, pool *pgxpool.Pool, txID, agentID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = settle(ctx, pool, txID, agentID, "refunded")
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

func settle(ctx context.Context, pool *pgxpool.Pool, txID, agentID, next string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status, buyerID, sellerID string
	var amount, platformFee, escrowFee float64
	err = tx.QueryRow(ctx, `
		SELECT status::text, buyer_id, seller_id, amount, platform_fee, escrow_fee
		FROM transactions WHERE id = $1 FOR UPDATE`, txID,
	).Scan(&status, &buyerID, &sellerID, &amount, &platformFee, &escrowFee)
	if err != nil {
		return err
	}
	if status != "in_escrow" {
		// already settled by the other actor
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2::transaction_status,
		    updated_at = get_tx_timestamp(),
		    completed_at = CASE WHEN $2 = 'completed' THEN get_tx_timestamp() ELSE completed_at END
		WHERE id = $1`, txID, next); err != nil {
		return err
	}

	if next == "completed" {
		if _, err := tx.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, sellerID, amount-platformFee-escrowFee); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, buyerID, amount); err != nil {
			return err
		}
	}

	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM transaction_events WHERE transaction_id=$1`, txID).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO transaction_events (transaction_id, seq, type, actor_id, payload)
		VALUES ($1, $2, 'STATUS_CHANGED', $3, jsonb_build_object('previous_status','in_escrow','next_status',$4::text))`,
		txID, seq, agentID, next); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, payload)
		VALUES (CASE WHEN $2 = 'completed' THEN 'funds.released' ELSE 'funds.refunded' END,
		        jsonb_build_object('transaction_id',$1,'next',$2::text,'actor_id',$3::text))`,
		txID, next, agentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Messenger appends chat messages under the same row lock the transitions
// take, so a message is never attributed to a transaction mid-settlement.
func Messenger(ctx context.Context, pool *pgxpool.Pool, txID, senderID, receiverID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status string
		err = tx.QueryRow(ctx, `SELECT status::text FROM transactions WHERE id=$1 FOR UPDATE`, txID).Scan(&status)
		if err == nil {
			id := uuid.NewString()
			_, _ = tx.Exec(ctx, `
				INSERT INTO messages (id, transaction_id, sender_id, receiver_id, content)
				VALUES ($1, $2, $3, $4, $5)`,
				id, txID, senderID, receiverID, "stress message")
			_, _ = tx.Exec(ctx, `
				INSERT INTO outbox (topic, payload)
				VALUES ('message.sent', jsonb_build_object('transaction_id',$1,'message_id',$2::text,'receiver_id',$3::text))`,
				txID, id, receiverID)
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Disputer sometimes flips an in_escrow transaction into disputed, and
// plays staff resolving open disputes to refunded. Both settlement actors
// then lose the race, which is exactly what the oracles check.
func Disputer(ctx context.Context, pool *pgxpool.Pool, txID, buyerID, staffID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status, sellerID string
		var amount float64
		err = tx.QueryRow(ctx, `SELECT status::text, seller_id, amount FROM transactions WHERE id=$1 FOR UPDATE`, txID).Scan(&status, &sellerID, &amount)
		switch {
		case err == nil && status == "in_escrow" && rand.Intn(4) == 0:
			_, _ = tx.Exec(ctx, `UPDATE transactions SET status='disputed', updated_at=get_tx_timestamp() WHERE id=$1`, txID)
			appendStatusEvent(ctx, tx, txID, buyerID, "in_escrow", "disputed")
		case err == nil && status == "disputed":
			_, _ = tx.Exec(ctx, `UPDATE transactions SET status='refunded', updated_at=get_tx_timestamp() WHERE id=$1`, txID)
			var buyer string
			_ = tx.QueryRow(ctx, `SELECT buyer_id FROM transactions WHERE id=$1`, txID).Scan(&buyer)
			_, _ = tx.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, buyer, amount)
			appendStatusEvent(ctx, tx, txID, staffID, "disputed", "refunded")
		}
		_ = tx.Commit(ctx)
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

func appendStatusEvent(ctx context.Context, tx pgx.Tx, txID, actorID, prev, next string) {
	var seq int
	_ = tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM transaction_events WHERE transaction_id=$1`, txID).Scan(&seq)
	_, _ = tx.Exec(ctx, `
		INSERT INTO transaction_events (transaction_id, seq, type, actor_id, payload)
		VALUES ($1, $2, 'STATUS_CHANGED', $3, jsonb_build_object('previous_status',$4::text,'next_status',$5::text))`,
		txID, seq, actorID, prev, next)
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// processed, or dead after repeated simulated failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id, attempts FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		type claimed struct {
			id       int64
			attempts int
		}
		batch := make([]claimed, 0, 10)
		for rows.Next() {
			var c claimed
			_ = rows.Scan(&c.id, &c.attempts)
			batch = append(batch, c)
		}
		rows.Close()
		for _, c := range batch {
			// simulate random delivery failure
			if rand.Intn(10) == 0 {
				if c.attempts+1 >= 5 {
					_, _ = tx.Exec(ctx, `UPDATE outbox SET status='dead', attempts=attempts+1, last_attempt=get_tx_timestamp() WHERE id=$1`, c.id)
				} else {
					_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=get_tx_timestamp() WHERE id=$1`, c.id)
				}
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=get_tx_timestamp() WHERE id=$1`, c.id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
