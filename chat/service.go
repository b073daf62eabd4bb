package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"escrowflow/transaction"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionStore is the slice of the transaction store the channel needs:
// the row lock that serializes message appends with status transitions, and
// the shared outbox.
type TransactionStore interface {
	GetByID(ctx context.Context, id string) (transaction.Transaction, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (transaction.Transaction, error)
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Broadcaster pushes an event to every live subscriber of a room.
// Delivery is fire-and-forget.
type Broadcaster interface {
	Publish(room string, event any)
}

// Service is the per-transaction messaging channel.
type Service struct {
	pool TxBeginner
	repo Repository
	txs  TransactionStore
	hub  Broadcaster
}

func NewService(pool TxBeginner, repo Repository, txs TransactionStore, hub Broadcaster) *Service {
	return &Service{pool: pool, repo: repo, txs: txs, hub: hub}
}

// SendParams carries a message to deliver. ReceiverID is optional: when
// empty the counterpart is computed (buyer and seller address each other;
// agent messages default to the buyer).
type SendParams struct {
	TransactionID string
	Content       string
	ReceiverID    string
}

// Send persists the message, then broadcasts it to the transaction's live
// room. Messaging is never blocked by dispute state; only the sender's party
// membership is checked.
func (s *Service) Send(ctx context.Context, actor transaction.Actor, params SendParams) (Message, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return Message{}, fmt.Errorf("chat: empty message content")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("chat: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.txs.GetForUpdate(ctx, tx, params.TransactionID)
	if err != nil {
		return Message{}, err
	}
	if !rec.IsParty(actor.ID) {
		return Message{}, ErrForbidden
	}

	receiverID, err := resolveReceiver(rec, actor.ID, params.ReceiverID)
	if err != nil {
		return Message{}, err
	}

	msg, err := s.repo.Insert(ctx, tx, Message{
		ID:            newID(),
		TransactionID: rec.ID,
		SenderID:      actor.ID,
		ReceiverID:    receiverID,
		Content:       content,
	})
	if err != nil {
		return Message{}, err
	}

	if err := s.txs.EnqueueOutbox(ctx, tx, TopicMessageSent, map[string]any{
		"transaction_id": rec.ID,
		"message_id":     msg.ID,
		"sender_id":      msg.SenderID,
		"receiver_id":    msg.ReceiverID,
		"actor_id":       actor.ID,
	}); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("chat: commit send: %w", err)
	}

	// Best-effort live delivery; persisted history is authoritative.
	if s.hub != nil {
		s.hub.Publish("tx:"+rec.ID, map[string]any{
			"type":    "message",
			"message": msg,
		})
	}
	return msg, nil
}

// resolveReceiver picks the persisted counterpart for the message. The
// broadcast still reaches every connected party of the room.
func resolveReceiver(rec transaction.Transaction, senderID, explicit string) (string, error) {
	if explicit != "" {
		if explicit == senderID || !rec.IsParty(explicit) {
			return "", ErrForbidden
		}
		return explicit, nil
	}
	switch senderID {
	case rec.BuyerID:
		return rec.SellerID, nil
	case rec.SellerID:
		return rec.BuyerID, nil
	default:
		// Assigned agent without an explicit addressee.
		return rec.BuyerID, nil
	}
}

// History returns the persisted conversation oldest-first for a party or
// staff reviewer.
func (s *Service) History(ctx context.Context, actor transaction.Actor, txID string) ([]Message, error) {
	rec, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !rec.IsParty(actor.ID) && !actor.Role.Staff() {
		return nil, ErrForbidden
	}
	return s.repo.ListByTransaction(ctx, txID)
}

// CanJoin reports whether the actor may subscribe to the transaction's room.
func (s *Service) CanJoin(ctx context.Context, actor transaction.Actor, txID string) error {
	rec, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	if !rec.IsParty(actor.ID) && !actor.Role.Staff() {
		return ErrForbidden
	}
	return nil
}

// MarkRead records a read receipt. Only the message's receiver may mark it,
// and marking twice is a no-op.
func (s *Service) MarkRead(ctx context.Context, actor transaction.Actor, messageID string) error {
	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ReceiverID != actor.ID {
		return ErrForbidden
	}
	if msg.Read {
		return nil
	}
	if err := s.repo.MarkRead(ctx, messageID); err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.Publish("tx:"+msg.TransactionID, map[string]any{
			"type":       "read_receipt",
			"message_id": msg.ID,
			"reader_id":  actor.ID,
		})
	}
	return nil
}
