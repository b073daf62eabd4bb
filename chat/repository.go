package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals an unknown message id.
	ErrNotFound = errors.New("chat: message not found")
	// ErrForbidden signals a sender, reader, or receiver outside the
	// transaction's parties.
	ErrForbidden = errors.New("chat: forbidden")
)

// Repository handles message persistence.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, m Message) (Message, error)
	GetByID(ctx context.Context, id string) (Message, error)
	ListByTransaction(ctx context.Context, txID string) ([]Message, error)
	MarkRead(ctx context.Context, id string) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const messageColumns = `id, transaction_id, sender_id, receiver_id, content, read, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.TransactionID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.CreatedAt)
	return m, err
}

// Insert persists a message inside the caller's transaction so it commits
// together with the outbox notification event.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, m Message) (Message, error) {
	const insertSQL = `
		INSERT INTO messages (id, transaction_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + messageColumns

	out, err := scanMessage(tx.QueryRow(ctx, insertSQL, m.ID, m.TransactionID, m.SenderID, m.ReceiverID, m.Content))
	if err != nil {
		return Message{}, fmt.Errorf("chat: insert message: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Message, error) {
	m, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("chat: get message: %w", err)
	}
	return m, nil
}

// ListByTransaction returns the full history oldest-first, the order clients
// reconcile against after a reconnect.
func (r *PGRepository) ListByTransaction(ctx context.Context, txID string) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate messages: %w", err)
	}
	return out, nil
}

// MarkRead sets the read flag. Already-read messages are left untouched, so
// repeated calls are harmless.
func (r *PGRepository) MarkRead(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE WHERE id = $1 AND read = FALSE
	`, id); err != nil {
		return fmt.Errorf("chat: mark read: %w", err)
	}
	return nil
}
