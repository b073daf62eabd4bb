package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/chat"
	"escrowflow/notify"
	"escrowflow/transaction"
)

// Entry is one pending outbox row claimed by the dispatcher.
type Entry struct {
	ID       int64
	Topic    string
	Payload  map[string]any
	Attempts int
}

// Notifier is the slice of the notification service the dispatcher needs.
type Notifier interface {
	Notify(ctx context.Context, params notify.NotifyParams) (notify.Notification, error)
}

// TransactionReader resolves the parties of a transaction.
type TransactionReader interface {
	GetByID(ctx context.Context, id string) (transaction.Transaction, error)
}

// Broadcaster pushes an event to every live subscriber of a room.
type Broadcaster interface {
	Publish(room string, event any)
}

// Options tune the polling loop.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// Dispatcher drains the outbox table and turns domain events into
// notifications and live room broadcasts. Rows are claimed with
// FOR UPDATE SKIP LOCKED so multiple instances never double-deliver; a row
// that keeps failing is parked as dead instead of wedging the queue.
type Dispatcher struct {
	pool     *pgxpool.Pool
	txs      TransactionReader
	notifier Notifier
	hub      Broadcaster
	log      *slog.Logger

	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewDispatcher(pool *pgxpool.Pool, txs TransactionReader, notifier Notifier, hub Broadcaster, log *slog.Logger, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Dispatcher{
		pool:        pool,
		txs:         txs,
		notifier:    notifier,
		hub:         hub,
		log:         log,
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := d.DrainOnce(ctx); err != nil {
				d.log.Error("outbox drain failed", "error", err)
			} else if n > 0 {
				d.log.Debug("outbox drained", "entries", n)
			}
		}
	}
}

// DrainOnce claims and dispatches one batch. Returns the number of entries
// that finished, processed or dead.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`,
		d.batchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}
	entries := make([]Entry, 0, d.batchSize)
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Topic, &payload, &e.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				d.log.Error("outbox entry has malformed payload", "id", e.ID, "error", err)
			}
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}

	done := 0
	for _, e := range entries {
		if err := d.dispatch(ctx, e); err != nil {
			attempts := e.Attempts + 1
			status := "pending"
			if attempts >= d.maxAttempts {
				status = "dead"
				d.log.Error("outbox entry dead-lettered", "id", e.ID, "topic", e.Topic, "attempts", attempts, "error", err)
				done++
			} else {
				d.log.Warn("outbox dispatch failed, will retry", "id", e.ID, "topic", e.Topic, "attempts", attempts, "error", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE outbox SET attempts = $2, status = $3, last_attempt = get_tx_timestamp() WHERE id = $1`,
				e.ID, attempts, status,
			); err != nil {
				return done, fmt.Errorf("outbox: record failure: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE outbox SET status = 'processed', last_attempt = get_tx_timestamp() WHERE id = $1`,
			e.ID,
		); err != nil {
			return done, fmt.Errorf("outbox: mark processed: %w", err)
		}
		done++
	}

	if err := tx.Commit(ctx); err != nil {
		return done, fmt.Errorf("outbox: commit batch: %w", err)
	}
	return done, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, e Entry) error {
	txID, _ := e.Payload["transaction_id"].(string)
	if txID == "" {
		// Nothing to route; count it as handled rather than retrying forever.
		d.log.Warn("outbox entry without transaction_id", "id", e.ID, "topic", e.Topic)
		return nil
	}
	actorID, _ := e.Payload["actor_id"].(string)

	if e.Topic == chat.TopicMessageSent {
		return d.dispatchMessage(ctx, e, txID)
	}

	rec, err := d.txs.GetByID(ctx, txID)
	if err != nil {
		return fmt.Errorf("outbox: load transaction %s: %w", txID, err)
	}

	kind, title := describeTopic(e.Topic)
	for _, userID := range rec.Parties() {
		if userID == actorID {
			continue
		}
		if _, err := d.notifier.Notify(ctx, notify.NotifyParams{
			UserID:  userID,
			Type:    kind,
			Title:   title,
			Content: fmt.Sprintf("%s on transaction %s", title, rec.ID),
			Metadata: map[string]any{
				"transaction_id": rec.ID,
				"topic":          e.Topic,
			},
		}); err != nil {
			return err
		}
	}

	if d.hub != nil {
		d.hub.Publish("tx:"+rec.ID, map[string]any{
			"type":           "transaction",
			"topic":          e.Topic,
			"transaction_id": rec.ID,
			"status":         rec.Status,
		})
	}
	return nil
}

// dispatchMessage notifies only the persisted receiver; the chat service
// already broadcast the message to the transaction room on commit.
func (d *Dispatcher) dispatchMessage(ctx context.Context, e Entry, txID string) error {
	receiverID, _ := e.Payload["receiver_id"].(string)
	if receiverID == "" {
		d.log.Warn("message event without receiver_id", "id", e.ID)
		return nil
	}
	messageID, _ := e.Payload["message_id"].(string)
	_, err := d.notifier.Notify(ctx, notify.NotifyParams{
		UserID:  receiverID,
		Type:    notify.TypeMessage,
		Title:   "New message",
		Content: fmt.Sprintf("New message on transaction %s", txID),
		Metadata: map[string]any{
			"transaction_id": txID,
			"message_id":     messageID,
		},
	})
	return err
}

func describeTopic(topic string) (kind, title string) {
	switch topic {
	case transaction.TopicCreated:
		return notify.TypeTransaction, "Transaction created"
	case transaction.TopicEscrowAssigned:
		return notify.TypeTransaction, "Escrow agent assigned"
	case transaction.TopicFundsReleased:
		return notify.TypeTransaction, "Funds released"
	case transaction.TopicFundsRefunded:
		return notify.TypeTransaction, "Funds refunded"
	case transaction.TopicCancelled:
		return notify.TypeTransaction, "Transaction cancelled"
	case transaction.TopicDisputeOpened:
		return notify.TypeDispute, "Dispute opened"
	case transaction.TopicDisputeResolved:
		return notify.TypeDispute, "Dispute resolved"
	default:
		return notify.TypeSystem, "Transaction update"
	}
}
