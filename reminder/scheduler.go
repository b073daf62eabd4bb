package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"escrowflow/notify"
	"escrowflow/transaction"
)

// Trigger names a reminder condition. A trigger is armed against an
// expected status; if the transaction has moved on by the time the timer
// fires, the reminder is stale and nothing is sent.
type Trigger string

const (
	// TriggerPaymentPending nudges the buyer who created a transaction
	// but never confirmed payment.
	TriggerPaymentPending Trigger = "payment_pending"
	// TriggerEscrowStalled nudges the assigned agent when funds sit in
	// escrow without resolution.
	TriggerEscrowStalled Trigger = "escrow_stalled"
	// TriggerDisputeOpen nudges both trading parties while a dispute
	// awaits staff review.
	TriggerDisputeOpen Trigger = "dispute_open"
)

// expectedStatus is the status a trigger is armed against.
var expectedStatus = map[Trigger]transaction.Status{
	TriggerPaymentPending: transaction.StatusPending,
	TriggerEscrowStalled:  transaction.StatusInEscrow,
	TriggerDisputeOpen:    transaction.StatusDisputed,
}

// TransactionReader loads the current transaction state at fire time.
type TransactionReader interface {
	GetByID(ctx context.Context, id string) (transaction.Transaction, error)
}

// Notifier delivers the reminder.
type Notifier interface {
	Notify(ctx context.Context, params notify.NotifyParams) (notify.Notification, error)
}

type timerKey struct {
	txID    string
	trigger Trigger
}

// Scheduler holds in-process reminder timers. Timers do not survive a
// restart; the service re-arms on the next state transition, so a missed
// reminder costs one nudge, never correctness.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[timerKey]*time.Timer
	lastRun map[timerKey]time.Time

	txs      TransactionReader
	notifier Notifier
	log      *slog.Logger

	fireTimeout time.Duration
}

func NewScheduler(txs TransactionReader, notifier Notifier, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		timers:      make(map[timerKey]*time.Timer),
		lastRun:     make(map[timerKey]time.Time),
		txs:         txs,
		notifier:    notifier,
		log:         log,
		fireTimeout: 10 * time.Second,
	}
}

// Schedule arms the trigger to fire after the given delay. Re-arming an
// already scheduled trigger replaces the pending timer.
func (s *Scheduler) Schedule(txID string, trigger Trigger, after time.Duration) {
	key := timerKey{txID: txID, trigger: trigger}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	s.timers[key] = time.AfterFunc(after, func() { s.fire(txID, trigger) })
}

// CancelTrigger disarms one trigger. Unknown triggers are a no-op.
func (s *Scheduler) CancelTrigger(txID string, trigger Trigger) {
	key := timerKey{txID: txID, trigger: trigger}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Cancel disarms every trigger for the transaction, typically on a
// terminal transition.
func (s *Scheduler) Cancel(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		if key.txID == txID {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

// Stop disarms everything. Used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// Pending reports the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// LastRun reports when the trigger last delivered a reminder for the
// transaction. ok is false if it never fired or the fire was stale.
func (s *Scheduler) LastRun(txID string, trigger Trigger) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastRun[timerKey{txID: txID, trigger: trigger}]
	return t, ok
}

func (s *Scheduler) fire(txID string, trigger Trigger) {
	key := timerKey{txID: txID, trigger: trigger}
	s.mu.Lock()
	delete(s.timers, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	rec, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		s.log.Error("reminder fire: load transaction", "transaction_id", txID, "trigger", trigger, "error", err)
		return
	}
	if rec.Status != expectedStatus[trigger] {
		s.log.Debug("reminder stale, skipping", "transaction_id", txID, "trigger", trigger, "status", rec.Status)
		return
	}

	for _, params := range s.remindersFor(rec, trigger) {
		if _, err := s.notifier.Notify(ctx, params); err != nil {
			s.log.Error("reminder delivery failed", "transaction_id", txID, "trigger", trigger, "user_id", params.UserID, "error", err)
		}
	}

	s.mu.Lock()
	s.lastRun[key] = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) remindersFor(rec transaction.Transaction, trigger Trigger) []notify.NotifyParams {
	metadata := map[string]any{
		"transaction_id": rec.ID,
		"trigger":        string(trigger),
	}
	switch trigger {
	case TriggerPaymentPending:
		return []notify.NotifyParams{{
			UserID:   rec.BuyerID,
			Type:     notify.TypeReminder,
			Title:    "Payment reminder",
			Content:  "Your transaction is waiting for payment confirmation",
			Metadata: metadata,
		}}
	case TriggerEscrowStalled:
		if rec.EscrowAgentID == nil {
			return nil
		}
		return []notify.NotifyParams{{
			UserID:   *rec.EscrowAgentID,
			Type:     notify.TypeReminder,
			Title:    "Escrow needs attention",
			Content:  "A transaction assigned to you is still in escrow",
			Metadata: metadata,
		}}
	case TriggerDisputeOpen:
		return []notify.NotifyParams{
			{
				UserID:   rec.BuyerID,
				Type:     notify.TypeReminder,
				Title:    "Dispute still open",
				Content:  "Your dispute is awaiting staff review",
				Metadata: metadata,
			},
			{
				UserID:   rec.SellerID,
				Type:     notify.TypeReminder,
				Title:    "Dispute still open",
				Content:  "Your dispute is awaiting staff review",
				Metadata: metadata,
			},
		}
	default:
		return nil
	}
}
