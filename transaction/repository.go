package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/listing"
)

// PGStore implements Store backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const txColumns = `id, listing_id, buyer_id, seller_id, escrow_agent_id, amount, platform_fee, escrow_fee,
       crypto_type, crypto_amount, status::text, created_at, updated_at, completed_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID,
		&t.ListingID,
		&t.BuyerID,
		&t.SellerID,
		&t.EscrowAgentID,
		&t.Amount,
		&t.PlatformFee,
		&t.EscrowFee,
		&t.CryptoType,
		&t.CryptoAmount,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	return t, err
}

// GetByID loads a transaction without locking.
func (s *PGStore) GetByID(ctx context.Context, id string) (Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get by id: %w", err)
	}
	return t, nil
}

// ListByUser returns every transaction where the user is buyer, seller, or
// assigned agent, newest first.
func (s *PGStore) ListByUser(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE buyer_id = $1 OR seller_id = $1 OR escrow_agent_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("transaction: list by user: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, 8)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate: %w", err)
	}
	return out, nil
}

// GetForUpdate loads a transaction under a row lock, serializing all
// transitions and message appends for that transaction id.
func (s *PGStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get for update: %w", err)
	}
	return t, nil
}

// InsertParams enumerates the immutable fields written at creation.
type InsertParams struct {
	ListingID    string
	BuyerID      string
	SellerID     string
	Amount       float64
	PlatformFee  float64
	EscrowFee    float64
	CryptoType   *string
	CryptoAmount *float64
}

func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Transaction, error) {
	const insertSQL = `
		INSERT INTO transactions (listing_id, buyer_id, seller_id, amount, platform_fee, escrow_fee, crypto_type, crypto_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING ` + txColumns

	t, err := scanTransaction(tx.QueryRow(ctx, insertSQL,
		params.ListingID,
		params.BuyerID,
		params.SellerID,
		params.Amount,
		params.PlatformFee,
		params.EscrowFee,
		params.CryptoType,
		params.CryptoAmount,
	))
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: insert: %w", err)
	}
	return t, nil
}

// UpdateStatus writes the next status plus timestamps and returns the updated
// row. completedAt is set exactly once, when next is completed.
func (s *PGStore) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status) (Transaction, error) {
	const updateSQL = `
		UPDATE transactions
		SET status = $1::transaction_status,
		    updated_at = get_tx_timestamp(),
		    completed_at = CASE WHEN $1 = 'completed' THEN COALESCE(completed_at, get_tx_timestamp()) ELSE completed_at END
		WHERE id = $2
		RETURNING ` + txColumns

	t, err := scanTransaction(tx.QueryRow(ctx, updateSQL, next, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: update status: %w", err)
	}
	return t, nil
}

func (s *PGStore) AssignAgent(ctx context.Context, tx pgx.Tx, id, agentID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET escrow_agent_id = $1, updated_at = get_tx_timestamp() WHERE id = $2
	`, agentID, id); err != nil {
		return fmt.Errorf("transaction: assign agent: %w", err)
	}
	return nil
}

// CreditBalance adds amount to the user's balance inside the caller's
// transaction so the credit commits or rolls back with the status write.
func (s *PGStore) CreditBalance(ctx context.Context, tx pgx.Tx, userID string, amount float64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users SET balance = balance + $1, updated_at = get_tx_timestamp() WHERE id = $2
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("transaction: credit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction: credit balance: user %s missing", userID)
	}
	return nil
}

func (s *PGStore) IncrementCompletedDeals(ctx context.Context, tx pgx.Tx, agentID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE users SET completed_deals = completed_deals + 1, updated_at = get_tx_timestamp() WHERE id = $1
	`, agentID); err != nil {
		return fmt.Errorf("transaction: increment completed deals: %w", err)
	}
	return nil
}

func (s *PGStore) MarkListingSold(ctx context.Context, tx pgx.Tx, listingID string) error {
	return listing.MarkSold(ctx, tx, listingID)
}

// AppendEvent writes an append-only audit event. Seq assignment relies on the
// caller holding the transaction row lock.
func (s *PGStore) AppendEvent(ctx context.Context, tx pgx.Tx, txID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transaction: marshal event payload: %w", err)
	}

	var seq int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM transaction_events WHERE transaction_id = $1
	`, txID).Scan(&seq); err != nil {
		return fmt.Errorf("transaction: next event seq: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO transaction_events (transaction_id, seq, type, actor_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, txID, seq, eventType, actorID, body); err != nil {
		return fmt.Errorf("transaction: insert event: %w", err)
	}
	return nil
}

// ListEvents returns the audit timeline for a transaction, oldest first.
func (s *PGStore) ListEvents(ctx context.Context, txID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, seq, type, actor_id, payload, created_at
		FROM transaction_events
		WHERE transaction_id = $1
		ORDER BY seq ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("transaction: list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 8)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Seq, &e.Type, &e.ActorID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("transaction: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate events: %w", err)
	}
	return out, nil
}

// EnqueueOutbox writes a domain event for the dispatcher inside the caller's
// transaction, so emission is all-or-nothing with the status write.
func (s *PGStore) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transaction: marshal outbox payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, payload) VALUES ($1, $2)
	`, topic, body); err != nil {
		return fmt.Errorf("transaction: enqueue outbox: %w", err)
	}
	return nil
}

// IsEscrowAgent reports whether the user exists with the escrow_agent role.
func (s *PGStore) IsEscrowAgent(ctx context.Context, tx pgx.Tx, userID string) (bool, error) {
	var ok bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = 'escrow_agent')
	`, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("transaction: check agent role: %w", err)
	}
	return ok, nil
}

// AgentCandidates lists escrow agent ids ordered by current workload
// (fewest active assignments first, most completed deals as tiebreak).
func (s *PGStore) AgentCandidates(ctx context.Context, tx pgx.Tx) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT u.id
		FROM users u
		LEFT JOIN transactions t
		       ON t.escrow_agent_id = u.id AND t.status IN ('in_escrow', 'disputed')
		WHERE u.role = 'escrow_agent'
		GROUP BY u.id, u.completed_deals
		ORDER BY COUNT(t.id) ASC, u.completed_deals DESC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("transaction: agent candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("transaction: scan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate candidates: %w", err)
	}
	return ids, nil
}
