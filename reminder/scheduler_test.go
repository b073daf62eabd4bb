package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"escrowflow/notify"
	"escrowflow/transaction"
)

type stubTxReader struct {
	mu  sync.Mutex
	rec transaction.Transaction
}

func (s *stubTxReader) set(status transaction.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Status = status
}

func (s *stubTxReader) GetByID(ctx context.Context, id string) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, nil
}

type collectingNotifier struct {
	mu   sync.Mutex
	sent []notify.NotifyParams
}

func (c *collectingNotifier) Notify(ctx context.Context, params notify.NotifyParams) (notify.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, params)
	return notify.Notification{ID: "n", UserID: params.UserID}, nil
}

func (c *collectingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func seedScheduler(status transaction.Status) (*Scheduler, *stubTxReader, *collectingNotifier) {
	agentID := "agent-1"
	txs := &stubTxReader{rec: transaction.Transaction{
		ID:            "tx-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		EscrowAgentID: &agentID,
		Status:        status,
	}}
	notifier := &collectingNotifier{}
	return NewScheduler(txs, notifier, nil), txs, notifier
}

func TestScheduler_FiresWhenStateUnchanged(t *testing.T) {
	sched, _, notifier := seedScheduler(transaction.StatusPending)
	defer sched.Stop()

	sched.Schedule("tx-1", TriggerPaymentPending, time.Millisecond)
	waitFor(t, func() bool { return notifier.count() == 1 })
	waitFor(t, func() bool {
		_, ok := sched.LastRun("tx-1", TriggerPaymentPending)
		return ok
	})

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	got := notifier.sent[0]
	if got.UserID != "buyer-1" || got.Type != notify.TypeReminder {
		t.Fatalf("expected reminder to buyer, got %+v", got)
	}
	if sched.Pending() != 0 {
		t.Fatal("fired timer must be removed")
	}
}

func TestScheduler_StaleStateSkips(t *testing.T) {
	sched, txs, notifier := seedScheduler(transaction.StatusPending)
	defer sched.Stop()

	sched.Schedule("tx-1", TriggerPaymentPending, 20*time.Millisecond)
	txs.set(transaction.StatusCancelled)

	time.Sleep(100 * time.Millisecond)
	if notifier.count() != 0 {
		t.Fatal("stale reminder must not notify")
	}
	if _, ok := sched.LastRun("tx-1", TriggerPaymentPending); ok {
		t.Fatal("stale fire must not record a run")
	}
}

func TestScheduler_RearmReplacesTimer(t *testing.T) {
	sched, _, notifier := seedScheduler(transaction.StatusPending)
	defer sched.Stop()

	sched.Schedule("tx-1", TriggerPaymentPending, time.Millisecond)
	sched.Schedule("tx-1", TriggerPaymentPending, 10*time.Millisecond)
	if sched.Pending() != 1 {
		t.Fatalf("re-arm must replace, got %d timers", sched.Pending())
	}

	waitFor(t, func() bool { return notifier.count() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 1 {
		t.Fatalf("replaced timer must fire once, got %d", notifier.count())
	}
}

func TestScheduler_CancelDisarmsAllTriggers(t *testing.T) {
	sched, _, notifier := seedScheduler(transaction.StatusInEscrow)
	defer sched.Stop()

	sched.Schedule("tx-1", TriggerEscrowStalled, 20*time.Millisecond)
	sched.Schedule("tx-1", TriggerDisputeOpen, 20*time.Millisecond)
	sched.Schedule("tx-2", TriggerEscrowStalled, time.Hour)
	sched.Cancel("tx-1")

	if sched.Pending() != 1 {
		t.Fatalf("only tx-2 timer should remain, got %d", sched.Pending())
	}
	time.Sleep(100 * time.Millisecond)
	if notifier.count() != 0 {
		t.Fatal("cancelled reminders must not notify")
	}
}

func TestScheduler_DisputeNotifiesBothParties(t *testing.T) {
	sched, _, notifier := seedScheduler(transaction.StatusDisputed)
	defer sched.Stop()

	sched.Schedule("tx-1", TriggerDisputeOpen, time.Millisecond)
	waitFor(t, func() bool { return notifier.count() == 2 })

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	recipients := map[string]bool{}
	for _, p := range notifier.sent {
		recipients[p.UserID] = true
	}
	if !recipients["buyer-1"] || !recipients["seller-1"] {
		t.Fatalf("expected both parties, got %v", recipients)
	}
}
