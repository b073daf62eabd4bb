package chat

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/auth"
	"escrowflow/transaction"
)

var (
	buyer  = transaction.Actor{ID: "buyer-1", Role: auth.RoleBuyer}
	seller = transaction.Actor{ID: "seller-1", Role: auth.RoleSeller}
	agent  = transaction.Actor{ID: "agent-1", Role: auth.RoleEscrowAgent}
)

func testTx(status transaction.Status) transaction.Transaction {
	agentID := "agent-1"
	return transaction.Transaction{
		ID:            "tx-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		EscrowAgentID: &agentID,
		Status:        status,
	}
}

func newTestChat(status transaction.Status) (*Service, *fakeChatRepo, *fakeTxStore, *fakeHub) {
	repo := &fakeChatRepo{messages: make(map[string]Message)}
	txs := &fakeTxStore{rec: testTx(status)}
	hub := &fakeHub{}
	svc := NewService(&fakePool{}, repo, txs, hub)
	return svc, repo, txs, hub
}

func TestSend_PersistsThenBroadcasts(t *testing.T) {
	svc, repo, txs, hub := newTestChat(transaction.StatusInEscrow)

	msg, err := svc.Send(context.Background(), buyer, SendParams{TransactionID: "tx-1", Content: "is the account still available?"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ReceiverID != "seller-1" {
		t.Fatalf("buyer message must go to seller, got %s", msg.ReceiverID)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}
	if _, ok := repo.messages[msg.ID]; !ok {
		t.Fatal("message must be persisted")
	}
	if len(hub.events) != 1 || hub.events[0].room != "tx:tx-1" {
		t.Fatalf("expected one broadcast to tx:tx-1, got %+v", hub.events)
	}
	if len(txs.outbox) != 1 || txs.outbox[0] != TopicMessageSent {
		t.Fatalf("expected %s outbox entry, got %v", TopicMessageSent, txs.outbox)
	}
}

func TestSend_StrangerForbidden(t *testing.T) {
	svc, repo, _, hub := newTestChat(transaction.StatusInEscrow)

	stranger := transaction.Actor{ID: "rando", Role: auth.RoleBuyer}
	_, err := svc.Send(context.Background(), stranger, SendParams{TransactionID: "tx-1", Content: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(repo.messages) != 0 {
		t.Fatal("forbidden send must not persist a message")
	}
	if len(hub.events) != 0 {
		t.Fatal("forbidden send must not broadcast")
	}
}

func TestSend_ReceiverResolution(t *testing.T) {
	svc, _, _, _ := newTestChat(transaction.StatusInEscrow)
	ctx := context.Background()

	msg, err := svc.Send(ctx, seller, SendParams{TransactionID: "tx-1", Content: "yes"})
	if err != nil {
		t.Fatalf("seller send: %v", err)
	}
	if msg.ReceiverID != "buyer-1" {
		t.Fatalf("seller message must go to buyer, got %s", msg.ReceiverID)
	}

	msg, err = svc.Send(ctx, agent, SendParams{TransactionID: "tx-1", Content: "please confirm delivery"})
	if err != nil {
		t.Fatalf("agent send: %v", err)
	}
	if msg.ReceiverID != "buyer-1" {
		t.Fatalf("agent message defaults to buyer, got %s", msg.ReceiverID)
	}

	msg, err = svc.Send(ctx, agent, SendParams{TransactionID: "tx-1", Content: "credentials look valid", ReceiverID: "seller-1"})
	if err != nil {
		t.Fatalf("agent addressed send: %v", err)
	}
	if msg.ReceiverID != "seller-1" {
		t.Fatalf("explicit receiver ignored, got %s", msg.ReceiverID)
	}

	if _, err := svc.Send(ctx, agent, SendParams{TransactionID: "tx-1", Content: "x", ReceiverID: "rando"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outside receiver, got %v", err)
	}
	if _, err := svc.Send(ctx, agent, SendParams{TransactionID: "tx-1", Content: "x", ReceiverID: "agent-1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for self receiver, got %v", err)
	}
}

func TestSend_NotBlockedByDispute(t *testing.T) {
	svc, repo, _, hub := newTestChat(transaction.StatusDisputed)

	if _, err := svc.Send(context.Background(), buyer, SendParams{TransactionID: "tx-1", Content: "escalating"}); err != nil {
		t.Fatalf("send during dispute: %v", err)
	}
	if len(repo.messages) != 1 || len(hub.events) != 1 {
		t.Fatal("disputed transactions still persist and broadcast messages")
	}
}

func TestMarkRead_ReceiverOnlyAndIdempotent(t *testing.T) {
	svc, repo, _, hub := newTestChat(transaction.StatusInEscrow)
	ctx := context.Background()

	msg, err := svc.Send(ctx, buyer, SendParams{TransactionID: "tx-1", Content: "ping"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	hub.events = nil

	if err := svc.MarkRead(ctx, buyer, msg.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("sender cannot mark own message read, got %v", err)
	}
	if err := svc.MarkRead(ctx, agent, msg.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-receiver cannot mark read, got %v", err)
	}

	if err := svc.MarkRead(ctx, seller, msg.ID); err != nil {
		t.Fatalf("receiver mark read: %v", err)
	}
	if err := svc.MarkRead(ctx, seller, msg.ID); err != nil {
		t.Fatalf("second mark read must be a no-op, got %v", err)
	}
	if repo.markReadCalls != 1 {
		t.Fatalf("expected exactly one store write, got %d", repo.markReadCalls)
	}
	if len(hub.events) != 1 {
		t.Fatalf("expected exactly one read receipt broadcast, got %d", len(hub.events))
	}
	if !repo.messages[msg.ID].Read {
		t.Fatal("message must end up read")
	}
}

func TestHistory_OrderAndAccess(t *testing.T) {
	svc, _, _, _ := newTestChat(transaction.StatusInEscrow)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		if _, err := svc.Send(ctx, buyer, SendParams{TransactionID: "tx-1", Content: content}); err != nil {
			t.Fatalf("send %q: %v", content, err)
		}
	}

	history, err := svc.History(ctx, seller, "tx-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Content != "first" || history[2].Content != "third" {
		t.Fatalf("history must be oldest-first, got %+v", history)
	}

	stranger := transaction.Actor{ID: "rando", Role: auth.RoleBuyer}
	if _, err := svc.History(ctx, stranger, "tx-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	support := transaction.Actor{ID: "staff-1", Role: auth.RoleSupport}
	if _, err := svc.History(ctx, support, "tx-1"); err != nil {
		t.Fatalf("staff history: %v", err)
	}
}

// --- fakes ---

type fakeChatRepo struct {
	messages      map[string]Message
	markReadCalls int
	clock         int
}

func (f *fakeChatRepo) Insert(ctx context.Context, tx pgx.Tx, m Message) (Message, error) {
	f.clock++
	m.CreatedAt = time.Unix(int64(f.clock), 0)
	f.messages[m.ID] = m
	return m, nil
}

func (f *fakeChatRepo) GetByID(ctx context.Context, id string) (Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (f *fakeChatRepo) ListByTransaction(ctx context.Context, txID string) ([]Message, error) {
	var out []Message
	for _, m := range f.messages {
		if m.TransactionID == txID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeChatRepo) MarkRead(ctx context.Context, id string) error {
	f.markReadCalls++
	m := f.messages[id]
	m.Read = true
	f.messages[id] = m
	return nil
}

type fakeTxStore struct {
	rec    transaction.Transaction
	outbox []string
}

func (f *fakeTxStore) GetByID(ctx context.Context, id string) (transaction.Transaction, error) {
	if id != f.rec.ID {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	return f.rec, nil
}

func (f *fakeTxStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (transaction.Transaction, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTxStore) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.outbox = append(f.outbox, topic)
	return nil
}

type hubEvent struct {
	room  string
	event any
}

type fakeHub struct {
	events []hubEvent
}

func (f *fakeHub) Publish(room string, event any) {
	f.events = append(f.events, hubEvent{room: room, event: event})
}

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct{}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}
func (f *fakeTx) Commit(context.Context) error   { return nil }
func (f *fakeTx) Rollback(context.Context) error { return nil }
func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { panic("not implemented") }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                         { panic("not implemented") }
func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { panic("not implemented") }
func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { panic("not implemented") }
func (f *fakeTx) Conn() *pgx.Conn                                         { return nil }
