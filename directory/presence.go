package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 90 * time.Second

// Presence tracks which users currently hold a live connection. Backed by
// redis TTL keys so that entries expire on their own if a node dies without
// clearing them.
type Presence interface {
	Heartbeat(ctx context.Context, userID string) error
	Clear(ctx context.Context, userID string) error
	Online(ctx context.Context, userID string) (bool, error)
}

type redisPresence struct {
	rdb *redis.Client
}

func NewPresence(rdb *redis.Client) Presence {
	return &redisPresence{rdb: rdb}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

func (p *redisPresence) Heartbeat(ctx context.Context, userID string) error {
	if err := p.rdb.Set(ctx, presenceKey(userID), "1", presenceTTL).Err(); err != nil {
		return fmt.Errorf("directory: presence heartbeat: %w", err)
	}
	return nil
}

func (p *redisPresence) Clear(ctx context.Context, userID string) error {
	if err := p.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("directory: presence clear: %w", err)
	}
	return nil
}

func (p *redisPresence) Online(ctx context.Context, userID string) (bool, error) {
	err := p.rdb.Get(ctx, presenceKey(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory: presence check: %w", err)
	}
	return true, nil
}

// noopPresence is used when redis is not configured; every user reads as
// offline and heartbeats are dropped.
type noopPresence struct{}

func NewNoopPresence() Presence {
	return noopPresence{}
}

func (noopPresence) Heartbeat(ctx context.Context, userID string) error		{ return nil }
func (noopPresence) Clear(ctx context.Context, userID string) error		{ return nil }
func (noopPresence) Online(ctx context.Context, userID string) (bool, error)	{ return false, nil }
