package transaction

import (
	"encoding/json"
	"math"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusInEscrow  Status = "in_escrow"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

// Terminal reports whether no further transitions may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Transaction mirrors the transactions table. Amount and fees are locked at
// creation; status is mutated only through the Service. Rows are never
// hard-deleted so terminal statuses remain for audit.
type Transaction struct {
	ID            string     `json:"id"`
	ListingID     string     `json:"listing_id"`
	BuyerID       string     `json:"buyer_id"`
	SellerID      string     `json:"seller_id"`
	EscrowAgentID *string    `json:"escrow_agent_id,omitempty"`
	Amount        float64    `json:"amount"`
	PlatformFee   float64    `json:"platform_fee"`
	EscrowFee     float64    `json:"escrow_fee"`
	CryptoType    *string    `json:"crypto_type,omitempty"`
	CryptoAmount  *float64   `json:"crypto_amount,omitempty"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsParty reports whether userID is the buyer, seller, or assigned agent.
func (t Transaction) IsParty(userID string) bool {
	if userID == t.BuyerID || userID == t.SellerID {
		return true
	}
	return t.EscrowAgentID != nil && *t.EscrowAgentID == userID
}

// Parties lists the buyer, seller, and assigned agent (when present).
func (t Transaction) Parties() []string {
	out := []string{t.BuyerID, t.SellerID}
	if t.EscrowAgentID != nil {
		out = append(out, *t.EscrowAgentID)
	}
	return out
}

// SellerPayout is the amount credited to the seller on release.
func (t Transaction) SellerPayout() float64 {
	return round2(t.Amount - t.PlatformFee - t.EscrowFee)
}

// Event captures an immutable business event for a transaction.
type Event struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Seq           int             `json:"seq"`
	Type          string          `json:"type"`
	ActorID       *string         `json:"actor_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Outbox topics published on successful transitions.
const (
	TopicCreated         = "transaction.created"
	TopicEscrowAssigned  = "escrow.assigned"
	TopicFundsReleased   = "funds.released"
	TopicFundsRefunded   = "funds.refunded"
	TopicCancelled       = "transaction.cancelled"
	TopicDisputeOpened   = "dispute.opened"
	TopicDisputeResolved = "dispute.resolved"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
