package infra

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedUser inserts a marketplace user with the given role and returns its id.
// Email is randomized so repeated runs against a shared database never
// collide on the unique constraint.
func SeedUser(ctx context.Context, pool *pgxpool.Pool, role string) (string, error) {
	var id string
	email := fmt.Sprintf("%s-%d@example.com", role, rand.Int63())
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, role)
		VALUES ($1, $2, 'x', $3) RETURNING id`,
		email, role+"-stress", role,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("seed %s: %w", role, err)
	}
	return id, nil
}

// SeedSoldListing inserts a listing already marked sold, the state a listing
// holds while its transaction sits in escrow.
func SeedSoldListing(ctx context.Context, pool *pgxpool.Pool, sellerID, title string, price float64) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO listings (seller_id, title, price, status)
		VALUES ($1, $2, $3, 'sold') RETURNING id`,
		sellerID, title, price,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("seed listing: %w", err)
	}
	return id, nil
}

// SeedEscrowedTransaction inserts a transaction in in_escrow with an agent
// assigned, ready to be contested by release/refund actors.
func SeedEscrowedTransaction(ctx context.Context, pool *pgxpool.Pool, listingID, buyerID, sellerID, agentID string, amount, platformFee, escrowFee float64) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO transactions (listing_id, buyer_id, seller_id, escrow_agent_id, amount, platform_fee, escrow_fee, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'in_escrow') RETURNING id`,
		listingID, buyerID, sellerID, agentID, amount, platformFee, escrowFee,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("seed transaction: %w", err)
	}
	return id, nil
}
