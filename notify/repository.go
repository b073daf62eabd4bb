package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/db"
)

var (
	// ErrNotFound signals an unknown notification id.
	ErrNotFound = errors.New("notify: notification not found")
	// ErrForbidden signals a caller acting on someone else's notification.
	ErrForbidden = errors.New("notify: forbidden")
)

// Repository handles notification persistence.
type Repository interface {
	Insert(ctx context.Context, n Notification) (Notification, error)
	GetByID(ctx context.Context, id string) (Notification, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const notificationColumns = `id, user_id, type, title, content, metadata, read, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	var metadata []byte
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &metadata, &n.Read, &n.CreatedAt); err != nil {
		return Notification{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return Notification{}, fmt.Errorf("notify: decode metadata: %w", err)
		}
	}
	return n, nil
}

// Insert persists the notification, retrying on transient failures so a
// flaky connection does not lose feed entries.
func (r *PGRepository) Insert(ctx context.Context, n Notification) (Notification, error) {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return Notification{}, fmt.Errorf("notify: encode metadata: %w", err)
	}
	var out Notification
	err = db.WithRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO notifications (id, user_id, type, title, content, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+notificationColumns,
			n.ID, n.UserID, n.Type, n.Title, n.Content, metadata,
		)
		var scanErr error
		out, scanErr = scanNotification(row)
		return scanErr
	})
	if err != nil {
		return Notification{}, fmt.Errorf("notify: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Notification, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("notify: get notification: %w", err)
	}
	return n, nil
}

// ListByUser returns the user's feed newest-first.
func (r *PGRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("notify: list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PGRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notify: unread count: %w", err)
	}
	return count, nil
}

// MarkRead is owner-scoped and idempotent; marking someone else's
// notification, or one already read, changes nothing.
func (r *PGRepository) MarkRead(ctx context.Context, userID, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2 AND read = FALSE`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkAllRead(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("notify: mark all read: %w", err)
	}
	return nil
}
