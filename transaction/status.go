package transaction

import (
	"errors"

	"escrowflow/auth"
)

var (
	// ErrNotFound is returned when no transaction row exists for the id.
	ErrNotFound = errors.New("transaction: not found")
	// ErrUnauthorized signals the caller's role or identity fails the guard
	// for the attempted transition.
	ErrUnauthorized = errors.New("transaction: unauthorized")
	// ErrInvalidTransition signals a state machine rule violation, including
	// the loser of a concurrent release/refund race.
	ErrInvalidTransition = errors.New("transaction: invalid status transition")
	// ErrPaymentNotConfirmed signals escrow was requested before the payment
	// provider confirmed funds.
	ErrPaymentNotConfirmed = errors.New("transaction: payment not confirmed")
	// ErrNoAgentAvailable signals no escrow agent could be assigned.
	ErrNoAgentAvailable = errors.New("transaction: no escrow agent available")
)

// allowed enumerates the legal status edges. Statuses absent from the map are
// terminal.
var allowed = map[Status][]Status{
	StatusPending:  {StatusInEscrow, StatusCancelled},
	StatusInEscrow: {StatusCompleted, StatusRefunded, StatusCancelled, StatusDisputed},
	StatusDisputed: {StatusCompleted, StatusRefunded},
}

// CanTransition reports whether the edge from -> to exists in the state
// machine, regardless of who is asking.
func CanTransition(from, to Status) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Actor identifies the caller of an operation.
type Actor struct {
	ID   string
	Role auth.Role
}

// Authorize is the single authorization predicate for status transitions:
// given the locked transaction row, the caller, and the requested next
// status, it returns nil or the typed error to surface. Transition legality
// is checked before authorization so attempts from terminal states always
// read as InvalidTransition.
func Authorize(t Transaction, actor Actor, next Status) error {
	if !CanTransition(t.Status, next) {
		return ErrInvalidTransition
	}

	assignedAgent := t.EscrowAgentID != nil && *t.EscrowAgentID == actor.ID

	switch {
	case t.Status == StatusPending && next == StatusInEscrow:
		if actor.ID == t.BuyerID || actor.Role.Staff() {
			return nil
		}
	case t.Status == StatusPending && next == StatusCancelled:
		if actor.ID == t.BuyerID || actor.Role.Staff() {
			return nil
		}
	case t.Status == StatusInEscrow && next == StatusCompleted:
		if assignedAgent || actor.Role.Staff() {
			return nil
		}
	case t.Status == StatusInEscrow && (next == StatusRefunded || next == StatusCancelled):
		if assignedAgent || actor.Role == auth.RoleAdmin {
			return nil
		}
	case t.Status == StatusInEscrow && next == StatusDisputed:
		if actor.ID == t.BuyerID || actor.ID == t.SellerID {
			return nil
		}
	case t.Status == StatusDisputed:
		if actor.Role.Staff() {
			return nil
		}
	}

	return ErrUnauthorized
}
