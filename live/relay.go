package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const relayPrefix = "live:"

// Relay extends a Hub across processes with Redis pub/sub. Publish writes
// to a per-room Redis channel; Run subscribes to every room channel and
// feeds received events into the local hub, so each instance delivers to
// its own sockets regardless of which instance published.
type Relay struct {
	hub *Hub
	rdb *redis.Client
	log *slog.Logger
}

func NewRelay(hub *Hub, rdb *redis.Client, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{hub: hub, rdb: rdb, log: log}
}

// Publish sends the event through Redis. If Redis is unreachable the event
// is delivered to the local hub directly so a single-instance deployment
// degrades instead of going silent.
func (r *Relay) Publish(room string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.log.Error("relay: marshal event", "room", room, "error", err)
		return
	}
	if err := r.rdb.Publish(context.Background(), relayPrefix+room, payload).Err(); err != nil {
		r.log.Warn("relay: redis publish failed, delivering locally", "room", room, "error", err)
		r.hub.Publish(room, json.RawMessage(payload))
	}
}

// Run pumps Redis messages into the local hub until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, relayPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := strings.TrimPrefix(msg.Channel, relayPrefix)
			r.hub.Publish(room, json.RawMessage(msg.Payload))
		}
	}
}
