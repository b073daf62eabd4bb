package live

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber event queue depth. A subscriber
// that falls this far behind starts losing events; clients are expected to
// re-fetch persisted state after a gap, so dropped frames are safe.
const subscriberBuffer = 32

// Subscriber is one live listener on a room.
type Subscriber struct {
	room string
	ch   chan any
}

// Events is the stream of room events. It is closed when the subscriber
// leaves the room.
func (s *Subscriber) Events() <-chan any {
	return s.ch
}

// Hub routes events to in-process subscribers grouped by room. Rooms are
// plain strings: "tx:<id>" for a transaction's channel, "user:<id>" for a
// participant's notification feed. Rooms come and go with their
// subscribers; an empty room holds no state.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		log:   log,
	}
}

// Join registers a new subscriber on the room.
func (h *Hub) Join(room string) *Subscriber {
	sub := &Subscriber{room: room, ch: make(chan any, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[room]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Leave removes the subscriber and closes its event stream. Leaving twice
// is a no-op.
func (h *Hub) Leave(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[sub.room]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, sub.room)
	}
	close(sub.ch)
}

// Publish fans the event out to every subscriber of the room. Delivery is
// non-blocking: a subscriber whose buffer is full is skipped rather than
// stalling the publisher or its siblings.
func (h *Hub) Publish(room string, event any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[room] {
		select {
		case sub.ch <- event:
		default:
			h.log.Warn("dropping event for slow subscriber", "room", room)
		}
	}
}

// RoomSize reports the number of live subscribers on the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
