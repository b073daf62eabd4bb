package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"escrowflow/chat"
)

// ChatHandler surfaces the per-transaction messaging channel.
type ChatHandler struct {
	svc *chat.Service
	log *slog.Logger
}

func NewChatHandler(svc *chat.Service, log *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, log: log}
}

type sendMessageRequest struct {
	Content    string `json:"content" binding:"required"`
	ReceiverID string `json:"receiver_id"`
}

func (h *ChatHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), actorFrom(c), chat.SendParams{
		TransactionID: c.Param("id"),
		Content:       req.Content,
		ReceiverID:    req.ReceiverID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) History(c *gin.Context) {
	messages, err := h.svc.History(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	if err := h.svc.MarkRead(c.Request.Context(), actorFrom(c), c.Param("messageID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
