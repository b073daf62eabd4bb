package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"escrowflow/notify"
)

// NotificationHandler surfaces the caller's durable feed.
type NotificationHandler struct {
	svc *notify.Service
}

func NewNotificationHandler(svc *notify.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	userID := c.GetString(ctxUserID)
	notifications, err := h.svc.List(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.svc.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unread_count":  unread,
	})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.svc.MarkRead(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.svc.MarkAllRead(c.Request.Context(), c.GetString(ctxUserID)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
