package notify

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Notification kinds surfaced to participants.
const (
	TypeTransaction = "transaction"
	TypeMessage     = "message"
	TypeDispute     = "dispute"
	TypeReminder    = "reminder"
	TypeSystem      = "system"
)

// Notification is one durable entry in a participant's feed. Metadata
// carries the ids needed to deep-link the client (transaction id, message
// id) without bloating the row schema.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// newID returns a ULID so notification ids sort by creation time.
func newID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Now(), entropy).String()
}
