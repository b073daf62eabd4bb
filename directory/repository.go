package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that the user id does not resolve to anyone.
var ErrNotFound = errors.New("directory: participant not found")

// Repository reads participant data from the users table.
type Repository interface {
	Get(ctx context.Context, userID string) (Participant, int, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get returns the participant view and the completed-deal count for userID.
func (r *PGRepository) Get(ctx context.Context, userID string) (Participant, int, error) {
	const selectSQL = `
		SELECT id, username, avatar, role, completed_deals
		FROM users
		WHERE id = $1
	`

	var (
		p     Participant
		deals int
	)
	err := r.pool.QueryRow(ctx, selectSQL, userID).Scan(&p.ID, &p.Username, &p.Avatar, &p.Role, &deals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Participant{}, 0, ErrNotFound
		}
		return Participant{}, 0, fmt.Errorf("directory: get participant: %w", err)
	}

	return p, deals, nil
}
