package chat

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message mirrors the messages table. A message belongs to exactly one
// transaction and both endpoints must be parties of it. Persisted rows are
// the source of truth; live broadcast is a best-effort accelerator, so
// reconnecting clients re-fetch history instead of trusting socket delivery.
type Message struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	Content       string    `json:"content"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

// TopicMessageSent is published to the outbox whenever a message persists.
const TopicMessageSent = "message.sent"

// newID returns a ULID so message ids sort by creation time.
func newID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Now(), entropy).String()
}
