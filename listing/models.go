package listing

import "time"

type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusSold          Status = "sold"
	StatusRemoved       Status = "removed"
)

// Listing is the account offer a transaction is opened against. Only the
// fields the escrow coordinator reads are modeled; listing CRUD, search, and
// moderation live elsewhere.
type Listing struct {
	ID        string
	SellerID  string
	Title     string
	Price     float64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}
