package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"escrowflow/config"
	"escrowflow/reminder"
	"escrowflow/transaction"
)

// Reminders is the slice of the reminder scheduler the API drives: arm on
// entering a waiting state, disarm on leaving it.
type Reminders interface {
	Schedule(txID string, trigger reminder.Trigger, after time.Duration)
	CancelTrigger(txID string, trigger reminder.Trigger)
	Cancel(txID string)
}

// TransactionHandler surfaces the escrow lifecycle.
type TransactionHandler struct {
	svc       *transaction.Service
	reminders Reminders
	idle      config.ReminderConfig
	log       *slog.Logger
}

func NewTransactionHandler(svc *transaction.Service, reminders Reminders, idle config.ReminderConfig, log *slog.Logger) *TransactionHandler {
	return &TransactionHandler{svc: svc, reminders: reminders, idle: idle, log: log}
}

type createTransactionRequest struct {
	ListingID    string   `json:"listing_id" binding:"required"`
	CryptoType   *string  `json:"crypto_type"`
	CryptoAmount *float64 `json:"crypto_amount"`
}

func (h *TransactionHandler) Create(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := h.svc.Create(c.Request.Context(), actorFrom(c), transaction.CreateParams{
		ListingID:    req.ListingID,
		CryptoType:   req.CryptoType,
		CryptoAmount: req.CryptoAmount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.rearm(rec)
	h.log.Info("transaction created", "transaction_id", rec.ID, "buyer_id", rec.BuyerID, "amount", rec.Amount)
	c.JSON(http.StatusCreated, rec)
}

func (h *TransactionHandler) List(c *gin.Context) {
	recs, err := h.svc.ListForUser(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": recs})
}

func (h *TransactionHandler) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *TransactionHandler) Events(c *gin.Context) {
	events, err := h.svc.Events(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *TransactionHandler) RequestEscrow(c *gin.Context) {
	h.transition(c, h.svc.RequestEscrow)
}

func (h *TransactionHandler) ReleaseFunds(c *gin.Context) {
	h.transition(c, h.svc.ReleaseFunds)
}

func (h *TransactionHandler) RefundBuyer(c *gin.Context) {
	h.transition(c, h.svc.RefundBuyer)
}

func (h *TransactionHandler) Cancel(c *gin.Context) {
	h.transition(c, h.svc.Cancel)
}

func (h *TransactionHandler) OpenDispute(c *gin.Context) {
	h.transition(c, h.svc.OpenDispute)
}

type resolveDisputeRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

func (h *TransactionHandler) ResolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := h.svc.ResolveDispute(c.Request.Context(), actorFrom(c), c.Param("id"), transaction.Status(req.Outcome))
	if err != nil {
		respondError(c, err)
		return
	}

	h.rearm(rec)
	h.log.Info("dispute resolved", "transaction_id", rec.ID, "outcome", rec.Status)
	c.JSON(http.StatusOK, rec)
}

type reassignAgentRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

func (h *TransactionHandler) ReassignAgent(c *gin.Context) {
	var req reassignAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := h.svc.ReassignAgent(c.Request.Context(), actorFrom(c), c.Param("id"), req.AgentID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.log.Info("escrow agent reassigned", "transaction_id", rec.ID, "agent_id", req.AgentID)
	c.JSON(http.StatusOK, rec)
}

func (h *TransactionHandler) transition(c *gin.Context, op func(ctx context.Context, actor transaction.Actor, txID string) (transaction.Transaction, error)) {
	rec, err := op(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	h.rearm(rec)
	h.log.Info("transaction transitioned", "transaction_id", rec.ID, "status", rec.Status)
	c.JSON(http.StatusOK, rec)
}

// rearm keeps reminder timers in step with the transaction's new status.
func (h *TransactionHandler) rearm(rec transaction.Transaction) {
	if h.reminders == nil {
		return
	}
	switch rec.Status {
	case transaction.StatusPending:
		h.reminders.Schedule(rec.ID, reminder.TriggerPaymentPending, h.idle.IdlePayment)
	case transaction.StatusInEscrow:
		h.reminders.CancelTrigger(rec.ID, reminder.TriggerPaymentPending)
		h.reminders.CancelTrigger(rec.ID, reminder.TriggerDisputeOpen)
		h.reminders.Schedule(rec.ID, reminder.TriggerEscrowStalled, h.idle.IdleEscrow)
	case transaction.StatusDisputed:
		h.reminders.CancelTrigger(rec.ID, reminder.TriggerEscrowStalled)
		h.reminders.Schedule(rec.ID, reminder.TriggerDisputeOpen, h.idle.IdleDispute)
	default:
		h.reminders.Cancel(rec.ID)
	}
}
