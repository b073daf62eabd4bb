package outbox

import (
	"context"
	"errors"
	"testing"

	"escrowflow/chat"
	"escrowflow/notify"
	"escrowflow/transaction"
)

type fakeTxReader struct {
	rec transaction.Transaction
}

func (f *fakeTxReader) GetByID(ctx context.Context, id string) (transaction.Transaction, error) {
	if id != f.rec.ID {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	return f.rec, nil
}

type fakeNotifier struct {
	sent []notify.NotifyParams
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, params notify.NotifyParams) (notify.Notification, error) {
	if f.err != nil {
		return notify.Notification{}, f.err
	}
	f.sent = append(f.sent, params)
	return notify.Notification{ID: "n-1", UserID: params.UserID}, nil
}

type fakeRoomHub struct {
	rooms []string
}

func (f *fakeRoomHub) Publish(room string, event any) {
	f.rooms = append(f.rooms, room)
}

func seedReader() *fakeTxReader {
	agentID := "agent-1"
	return &fakeTxReader{rec: transaction.Transaction{
		ID:            "tx-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		EscrowAgentID: &agentID,
		Status:        transaction.StatusCompleted,
	}}
}

func newTestDispatcher(txs TransactionReader, n Notifier, hub Broadcaster) *Dispatcher {
	return NewDispatcher(nil, txs, n, hub, nil, Options{})
}

func TestDispatch_StatusTopicFansOutExceptActor(t *testing.T) {
	notifier := &fakeNotifier{}
	hub := &fakeRoomHub{}
	d := newTestDispatcher(seedReader(), notifier, hub)

	err := d.dispatch(context.Background(), Entry{
		ID:    1,
		Topic: transaction.TopicFundsReleased,
		Payload: map[string]any{
			"transaction_id": "tx-1",
			"actor_id":       "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.sent))
	}
	recipients := map[string]bool{}
	for _, p := range notifier.sent {
		recipients[p.UserID] = true
		if p.Type != notify.TypeTransaction {
			t.Fatalf("expected transaction type, got %s", p.Type)
		}
		if p.Metadata["transaction_id"] != "tx-1" {
			t.Fatalf("metadata must carry transaction id, got %v", p.Metadata)
		}
	}
	if recipients["agent-1"] || !recipients["buyer-1"] || !recipients["seller-1"] {
		t.Fatalf("actor must be excluded, got %v", recipients)
	}
	if len(hub.rooms) != 1 || hub.rooms[0] != "tx:tx-1" {
		t.Fatalf("expected room broadcast to tx:tx-1, got %v", hub.rooms)
	}
}

func TestDispatch_DisputeTopicUsesDisputeType(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(seedReader(), notifier, &fakeRoomHub{})

	err := d.dispatch(context.Background(), Entry{
		Topic:   transaction.TopicDisputeOpened,
		Payload: map[string]any{"transaction_id": "tx-1", "actor_id": "buyer-1"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, p := range notifier.sent {
		if p.Type != notify.TypeDispute {
			t.Fatalf("expected dispute type, got %s", p.Type)
		}
	}
}

func TestDispatch_MessageTopicNotifiesReceiverOnly(t *testing.T) {
	notifier := &fakeNotifier{}
	hub := &fakeRoomHub{}
	d := newTestDispatcher(seedReader(), notifier, hub)

	err := d.dispatch(context.Background(), Entry{
		Topic: chat.TopicMessageSent,
		Payload: map[string]any{
			"transaction_id": "tx-1",
			"message_id":     "msg-1",
			"sender_id":      "buyer-1",
			"receiver_id":    "seller-1",
			"actor_id":       "buyer-1",
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].UserID != "seller-1" {
		t.Fatalf("expected one notification to seller-1, got %+v", notifier.sent)
	}
	if notifier.sent[0].Metadata["message_id"] != "msg-1" {
		t.Fatalf("metadata must carry message id, got %v", notifier.sent[0].Metadata)
	}
	if len(hub.rooms) != 0 {
		t.Fatal("message events must not re-broadcast to the transaction room")
	}
}

func TestDispatch_MissingTransactionIDIsHandled(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newTestDispatcher(seedReader(), notifier, &fakeRoomHub{})

	if err := d.dispatch(context.Background(), Entry{Topic: transaction.TopicCreated, Payload: map[string]any{}}); err != nil {
		t.Fatalf("malformed entry must not be retried forever, got %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("no notifications expected")
	}
}

func TestDispatch_NotifierFailurePropagates(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("feed store down")}
	d := newTestDispatcher(seedReader(), notifier, &fakeRoomHub{})

	err := d.dispatch(context.Background(), Entry{
		Topic:   transaction.TopicCancelled,
		Payload: map[string]any{"transaction_id": "tx-1", "actor_id": "buyer-1"},
	})
	if err == nil {
		t.Fatal("expected notifier error to surface so the entry retries")
	}
}

func TestDescribeTopic(t *testing.T) {
	kind, title := describeTopic(transaction.TopicEscrowAssigned)
	if kind != notify.TypeTransaction || title != "Escrow agent assigned" {
		t.Fatalf("got %s / %s", kind, title)
	}
	kind, _ = describeTopic("something.unknown")
	if kind != notify.TypeSystem {
		t.Fatalf("unknown topics map to system, got %s", kind)
	}
}
