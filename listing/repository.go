package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("listing: not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id string) (Listing, error) {
	const query = `
		SELECT id, seller_id, title, price, status::text, created_at, updated_at
		FROM listings
		WHERE id = $1
	`

	var l Listing
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&l.ID, &l.SellerID, &l.Title, &l.Price, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get by id: %w", err)
	}
	return l, nil
}

// MarkSold flips an approved listing to sold inside the caller's transaction.
// Used by the escrow coordinator when funds are released.
func MarkSold(ctx context.Context, tx pgx.Tx, id string) error {
	// No-op when the listing already left approved; the transaction row is
	// authoritative for fund custody either way.
	_, err := tx.Exec(ctx, `
		UPDATE listings
		SET status = 'sold', updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'approved'
	`, id)
	if err != nil {
		return fmt.Errorf("listing: mark sold: %w", err)
	}
	return nil
}
