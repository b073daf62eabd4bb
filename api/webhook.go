package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PaymentRecorder stores payment provider confirmations.
type PaymentRecorder interface {
	Record(ctx context.Context, transactionID string, confirmed bool, amount float64) error
}

// WebhookHandler receives the payment provider's confirmation callbacks.
// It is authenticated by a shared secret, not by user tokens.
type WebhookHandler struct {
	payments PaymentRecorder
	secret   string
	log      *slog.Logger
}

func NewWebhookHandler(payments PaymentRecorder, secret string, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret, log: log}
}

type paymentWebhookRequest struct {
	TransactionID string  `json:"transaction_id" binding:"required"`
	Confirmed     bool    `json:"confirmed"`
	Amount        float64 `json:"amount"`
}

func (h *WebhookHandler) PaymentConfirmation(c *gin.Context) {
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Webhook-Secret")), []byte(h.secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.payments.Record(c.Request.Context(), req.TransactionID, req.Confirmed, req.Amount); err != nil {
		h.log.Error("payment confirmation failed", "transaction_id", req.TransactionID, "error", err)
		respondError(c, err)
		return
	}

	h.log.Info("payment confirmation recorded", "transaction_id", req.TransactionID, "confirmed", req.Confirmed, "amount", req.Amount)
	c.Status(http.StatusNoContent)
}
