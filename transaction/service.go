package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/auth"
	"escrowflow/listing"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the service. All mutating
// methods take the surrounding pgx transaction so every transition commits
// or rolls back as one unit.
type Store interface {
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListByUser(ctx context.Context, userID string) ([]Transaction, error)
	ListEvents(ctx context.Context, txID string) ([]Event, error)

	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error)
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Transaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status) (Transaction, error)
	AssignAgent(ctx context.Context, tx pgx.Tx, id, agentID string) error
	IsEscrowAgent(ctx context.Context, tx pgx.Tx, userID string) (bool, error)
	AgentCandidates(ctx context.Context, tx pgx.Tx) ([]string, error)
	CreditBalance(ctx context.Context, tx pgx.Tx, userID string, amount float64) error
	IncrementCompletedDeals(ctx context.Context, tx pgx.Tx, agentID string) error
	MarkListingSold(ctx context.Context, tx pgx.Tx, listingID string) error
	AppendEvent(ctx context.Context, tx pgx.Tx, txID, eventType string, actorID *string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// ListingReader is the slice of the listing repository the coordinator needs.
type ListingReader interface {
	GetByID(ctx context.Context, id string) (listing.Listing, error)
}

// PresenceChecker reports whether a user currently holds a live connection.
// Used to prefer online escrow agents during assignment.
type PresenceChecker interface {
	Online(ctx context.Context, userID string) (bool, error)
}

var (
	// ErrListingUnavailable signals the listing is not open for purchase.
	ErrListingUnavailable = errors.New("transaction: listing not available for purchase")
	// ErrOwnListing signals a buyer attempting to purchase their own listing.
	ErrOwnListing = errors.New("transaction: cannot buy own listing")
)

// Service owns every mutation of transaction state.
type Service struct {
	pool     TxBeginner
	store    Store
	listings ListingReader
	payments PaymentConfirmer
	presence PresenceChecker

	platformRate float64
	escrowRate   float64
}

// ServiceOptions bundles the collaborators and fee rates for NewService.
type ServiceOptions struct {
	Listings        ListingReader
	Payments        PaymentConfirmer
	Presence        PresenceChecker
	PlatformFeeRate float64
	EscrowFeeRate   float64
}

func NewService(pool TxBeginner, store Store, opts ServiceOptions) *Service {
	return &Service{
		pool:         pool,
		store:        store,
		listings:     opts.Listings,
		payments:     opts.Payments,
		presence:     opts.Presence,
		platformRate: opts.PlatformFeeRate,
		escrowRate:   opts.EscrowFeeRate,
	}
}

// CreateParams carries the caller-supplied fields for a new transaction.
type CreateParams struct {
	ListingID    string
	CryptoType   *string
	CryptoAmount *float64
}

// Create opens a pending transaction for the actor (as buyer) against an
// approved listing. Amount and fees are locked in from the listing price and
// the configured rates.
func (s *Service) Create(ctx context.Context, actor Actor, params CreateParams) (Transaction, error) {
	if params.ListingID == "" {
		return Transaction{}, fmt.Errorf("transaction: missing listing id")
	}

	l, err := s.listings.GetByID(ctx, params.ListingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	if l.Status != listing.StatusApproved {
		return Transaction{}, ErrListingUnavailable
	}
	if l.SellerID == actor.ID {
		return Transaction{}, ErrOwnListing
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.Insert(ctx, tx, InsertParams{
		ListingID:    l.ID,
		BuyerID:      actor.ID,
		SellerID:     l.SellerID,
		Amount:       l.Price,
		PlatformFee:  round2(l.Price * s.platformRate / 100),
		EscrowFee:    round2(l.Price * s.escrowRate / 100),
		CryptoType:   params.CryptoType,
		CryptoAmount: params.CryptoAmount,
	})
	if err != nil {
		return Transaction{}, err
	}

	if err := s.store.AppendEvent(ctx, tx, rec.ID, "TRANSACTION_CREATED", &actor.ID, map[string]any{
		"listing_id": l.ID,
		"amount":     rec.Amount,
	}); err != nil {
		return Transaction{}, err
	}

	if err := s.store.EnqueueOutbox(ctx, tx, TopicCreated, map[string]any{
		"transaction_id": rec.ID,
		"buyer_id":       rec.BuyerID,
		"seller_id":      rec.SellerID,
		"amount":         rec.Amount,
		"actor_id":       actor.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit create: %w", err)
	}
	return rec, nil
}

// RequestEscrow moves a pending transaction into escrow: the payment provider
// must have confirmed at least the full amount, and an escrow agent must be
// assignable. Online agents with the lightest workload are preferred.
func (s *Service) RequestEscrow(ctx context.Context, actor Actor, txID string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, txID)
	if err != nil {
		return Transaction{}, err
	}
	if err := Authorize(rec, actor, StatusInEscrow); err != nil {
		return Transaction{}, err
	}

	confirmed, confirmedAmount, err := s.payments.Confirmed(ctx, txID)
	if err != nil {
		return Transaction{}, err
	}
	if !confirmed || confirmedAmount < rec.Amount {
		return Transaction{}, ErrPaymentNotConfirmed
	}

	agentID, err := s.pickAgent(ctx, tx)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.store.AssignAgent(ctx, tx, txID, agentID); err != nil {
		return Transaction{}, err
	}
	updated, err := s.store.UpdateStatus(ctx, tx, txID, StatusInEscrow)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.store.AppendEvent(ctx, tx, txID, "ESCROW_ASSIGNED", &actor.ID, map[string]any{
		"agent_id": agentID,
	}); err != nil {
		return Transaction{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicEscrowAssigned, map[string]any{
		"transaction_id": txID,
		"agent_id":       agentID,
		"actor_id":       actor.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit escrow request: %w", err)
	}
	return updated, nil
}

func (s *Service) pickAgent(ctx context.Context, tx pgx.Tx) (string, error) {
	candidates, err := s.store.AgentCandidates(ctx, tx)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", ErrNoAgentAvailable
	}
	if s.presence != nil {
		for _, id := range candidates {
			online, err := s.presence.Online(ctx, id)
			if err == nil && online {
				return id, nil
			}
		}
	}
	return candidates[0], nil
}

// ReleaseFunds completes the transaction and credits the seller the amount
// minus both fees. Irreversible.
func (s *Service) ReleaseFunds(ctx context.Context, actor Actor, txID string) (Transaction, error) {
	return s.transition(ctx, actor, txID, StatusCompleted)
}

// RefundBuyer returns the full escrowed amount to the buyer. Irreversible.
func (s *Service) RefundBuyer(ctx context.Context, actor Actor, txID string) (Transaction, error) {
	return s.transition(ctx, actor, txID, StatusRefunded)
}

// Cancel voids the transaction. From escrow it refunds the buyer; from
// pending no funds are held so nothing moves.
func (s *Service) Cancel(ctx context.Context, actor Actor, txID string) (Transaction, error) {
	return s.transition(ctx, actor, txID, StatusCancelled)
}

// OpenDispute flags the transaction for staff review. Fund custody is
// unchanged and messaging stays open.
func (s *Service) OpenDispute(ctx context.Context, actor Actor, txID string) (Transaction, error) {
	return s.transition(ctx, actor, txID, StatusDisputed)
}

// ResolveDispute closes a disputed transaction as completed or refunded.
// Staff only.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, txID string, outcome Status) (Transaction, error) {
	if outcome != StatusCompleted && outcome != StatusRefunded {
		return Transaction{}, ErrInvalidTransition
	}
	return s.transition(ctx, actor, txID, outcome)
}

// transition applies one status change under the transaction's row lock.
// Status write, balance movement, audit event, and outbox emission commit
// atomically; any failure rolls back all of them.
func (s *Service) transition(ctx context.Context, actor Actor, txID string, next Status) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, txID)
	if err != nil {
		return Transaction{}, err
	}
	if err := Authorize(rec, actor, next); err != nil {
		return Transaction{}, err
	}
	prev := rec.Status

	updated, err := s.store.UpdateStatus(ctx, tx, txID, next)
	if err != nil {
		return Transaction{}, err
	}

	switch next {
	case StatusCompleted:
		if err := s.store.CreditBalance(ctx, tx, rec.SellerID, rec.SellerPayout()); err != nil {
			return Transaction{}, err
		}
		if rec.EscrowAgentID != nil {
			if err := s.store.IncrementCompletedDeals(ctx, tx, *rec.EscrowAgentID); err != nil {
				return Transaction{}, err
			}
		}
		if err := s.store.MarkListingSold(ctx, tx, rec.ListingID); err != nil {
			return Transaction{}, err
		}
	case StatusRefunded:
		if err := s.store.CreditBalance(ctx, tx, rec.BuyerID, rec.Amount); err != nil {
			return Transaction{}, err
		}
	case StatusCancelled:
		if prev == StatusInEscrow {
			if err := s.store.CreditBalance(ctx, tx, rec.BuyerID, rec.Amount); err != nil {
				return Transaction{}, err
			}
		}
	}

	if err := s.store.AppendEvent(ctx, tx, txID, "STATUS_CHANGED", &actor.ID, map[string]any{
		"previous_status": string(prev),
		"next_status":     string(next),
	}); err != nil {
		return Transaction{}, err
	}

	payload := map[string]any{
		"transaction_id": txID,
		"previous":       string(prev),
		"next":           string(next),
		"actor_id":       actor.ID,
	}
	if next == StatusCompleted {
		payload["seller_payout"] = rec.SellerPayout()
	}
	if err := s.store.EnqueueOutbox(ctx, tx, topicFor(prev, next), payload); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit transition: %w", err)
	}
	return updated, nil
}

func topicFor(prev, next Status) string {
	if prev == StatusDisputed {
		return TopicDisputeResolved
	}
	switch next {
	case StatusCompleted:
		return TopicFundsReleased
	case StatusRefunded:
		return TopicFundsRefunded
	case StatusCancelled:
		return TopicCancelled
	case StatusDisputed:
		return TopicDisputeOpened
	default:
		return TopicEscrowAssigned
	}
}

// ReassignAgent swaps the assigned escrow agent. There is no automatic
// timeout or reassignment when an agent goes dark; this is an explicit admin
// action.
func (s *Service) ReassignAgent(ctx context.Context, actor Actor, txID, newAgentID string) (Transaction, error) {
	if actor.Role != auth.RoleAdmin {
		return Transaction{}, ErrUnauthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, txID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.Status != StatusInEscrow && rec.Status != StatusDisputed {
		return Transaction{}, ErrInvalidTransition
	}

	isAgent, err := s.store.IsEscrowAgent(ctx, tx, newAgentID)
	if err != nil {
		return Transaction{}, err
	}
	if !isAgent {
		return Transaction{}, ErrNoAgentAvailable
	}

	if err := s.store.AssignAgent(ctx, tx, txID, newAgentID); err != nil {
		return Transaction{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, txID, "ESCROW_REASSIGNED", &actor.ID, map[string]any{
		"agent_id": newAgentID,
	}); err != nil {
		return Transaction{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicEscrowAssigned, map[string]any{
		"transaction_id": txID,
		"agent_id":       newAgentID,
		"actor_id":       actor.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit reassign: %w", err)
	}

	rec.EscrowAgentID = &newAgentID
	return rec, nil
}

// Get returns a transaction to one of its parties or staff.
func (s *Service) Get(ctx context.Context, actor Actor, txID string) (Transaction, error) {
	rec, err := s.store.GetByID(ctx, txID)
	if err != nil {
		return Transaction{}, err
	}
	if !rec.IsParty(actor.ID) && !actor.Role.Staff() {
		return Transaction{}, ErrUnauthorized
	}
	return rec, nil
}

// ListForUser returns the actor's transactions across all three relations
// (buyer, seller, agent).
func (s *Service) ListForUser(ctx context.Context, actor Actor) ([]Transaction, error) {
	return s.store.ListByUser(ctx, actor.ID)
}

// Events returns the audit timeline to a party or staff.
func (s *Service) Events(ctx context.Context, actor Actor, txID string) ([]Event, error) {
	rec, err := s.store.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !rec.IsParty(actor.ID) && !actor.Role.Staff() {
		return nil, ErrUnauthorized
	}
	return s.store.ListEvents(ctx, txID)
}
