package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentConfirmer is the view of the payment provider the coordinator
// consumes: whether funds for a transaction are confirmed, and for how much.
type PaymentConfirmer interface {
	Confirmed(ctx context.Context, transactionID string) (bool, float64, error)
}

// PGConfirmations stores confirmation signals delivered by the provider
// webhook and serves them to the escrow service.
type PGConfirmations struct {
	pool *pgxpool.Pool
}

func NewConfirmations(pool *pgxpool.Pool) *PGConfirmations {
	return &PGConfirmations{pool: pool}
}

// Record upserts the provider's signal for a transaction. Repeated webhook
// deliveries are harmless.
func (c *PGConfirmations) Record(ctx context.Context, transactionID string, confirmed bool, amount float64) error {
	if _, err := c.pool.Exec(ctx, `
		INSERT INTO payment_confirmations (transaction_id, confirmed, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id)
		DO UPDATE SET confirmed = EXCLUDED.confirmed, amount = EXCLUDED.amount, updated_at = get_tx_timestamp()
	`, transactionID, confirmed, amount); err != nil {
		return fmt.Errorf("transaction: record confirmation: %w", err)
	}
	return nil
}

// Confirmed reports the provider's latest signal. Absence of a row reads as
// unconfirmed, not as an error.
func (c *PGConfirmations) Confirmed(ctx context.Context, transactionID string) (bool, float64, error) {
	var (
		confirmed bool
		amount    float64
	)
	err := c.pool.QueryRow(ctx, `
		SELECT confirmed, amount FROM payment_confirmations WHERE transaction_id = $1
	`, transactionID).Scan(&confirmed, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("transaction: read confirmation: %w", err)
	}
	return confirmed, amount, nil
}
