package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"escrowflow/chat"
	"escrowflow/directory"
	"escrowflow/live"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bearer token authenticates the subscriber; origin checking is
	// left to the deployment's reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades authenticated clients into hub rooms.
type WSHandler struct {
	hub      *live.Hub
	chat     *chat.Service
	presence *directory.Service
	log      *slog.Logger
}

func NewWSHandler(hub *live.Hub, chatSvc *chat.Service, presence *directory.Service, log *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, chat: chatSvc, presence: presence, log: log}
}

// Transaction streams live events for one transaction to its parties and
// staff.
func (h *WSHandler) Transaction(c *gin.Context) {
	txID := c.Param("id")
	if err := h.chat.CanJoin(c.Request.Context(), actorFrom(c), txID); err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	userID := c.GetString(ctxUserID)
	h.markOnline(c, userID)
	defer h.markOffline(userID)

	live.ServeRoom(conn, h.hub, "tx:"+txID, h.log, func() {
		h.presence.Heartbeat(c.Request.Context(), userID)
	})
}

// Notifications streams the caller's own feed.
func (h *WSHandler) Notifications(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	userID := c.GetString(ctxUserID)
	h.markOnline(c, userID)
	defer h.markOffline(userID)

	live.ServeRoom(conn, h.hub, "user:"+userID, h.log, func() {
		h.presence.Heartbeat(c.Request.Context(), userID)
	})
}

func (h *WSHandler) markOnline(c *gin.Context, userID string) {
	if err := h.presence.Heartbeat(c.Request.Context(), userID); err != nil {
		h.log.Warn("presence heartbeat failed", "user_id", userID, "error", err)
	}
}

func (h *WSHandler) markOffline(userID string) {
	if err := h.presence.Disconnected(context.Background(), userID); err != nil {
		h.log.Warn("presence clear failed", "user_id", userID, "error", err)
	}
}
