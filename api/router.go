package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth          *AuthHandler
	Transactions  *TransactionHandler
	Chat          *ChatHandler
	Notifications *NotificationHandler
	Directory     *DirectoryHandler
	Webhook       *WebhookHandler
	WS            *WSHandler
}

// NewRouter wires the HTTP surface. Everything except registration, login,
// health, and the provider webhook sits behind bearer auth.
func NewRouter(h Handlers, verifier TokenVerifier, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")

	v1.POST("/auth/register", h.Auth.Register)
	v1.POST("/auth/login", h.Auth.Login)
	v1.POST("/webhooks/payment", h.Webhook.PaymentConfirmation)

	authed := v1.Group("", RequireAuth(verifier))

	authed.GET("/auth/me", h.Auth.Me)

	authed.POST("/transactions", h.Transactions.Create)
	authed.GET("/transactions", h.Transactions.List)
	authed.GET("/transactions/:id", h.Transactions.Get)
	authed.GET("/transactions/:id/events", h.Transactions.Events)
	authed.POST("/transactions/:id/escrow", h.Transactions.RequestEscrow)
	authed.POST("/transactions/:id/release", h.Transactions.ReleaseFunds)
	authed.POST("/transactions/:id/refund", h.Transactions.RefundBuyer)
	authed.POST("/transactions/:id/cancel", h.Transactions.Cancel)
	authed.POST("/transactions/:id/dispute", h.Transactions.OpenDispute)
	authed.POST("/transactions/:id/dispute/resolve", h.Transactions.ResolveDispute)
	authed.POST("/transactions/:id/reassign", h.Transactions.ReassignAgent)

	authed.GET("/transactions/:id/messages", h.Chat.History)
	authed.POST("/transactions/:id/messages", h.Chat.Send)
	authed.POST("/messages/:messageID/read", h.Chat.MarkRead)

	authed.GET("/notifications", h.Notifications.List)
	authed.POST("/notifications/:id/read", h.Notifications.MarkRead)
	authed.POST("/notifications/read-all", h.Notifications.MarkAllRead)

	authed.GET("/users/:id", h.Directory.Resolve)
	authed.GET("/users/:id/rank", h.Directory.Rank)
	authed.POST("/presence/heartbeat", h.Directory.Heartbeat)

	authed.GET("/ws/transactions/:id", h.WS.Transaction)
	authed.GET("/ws/notifications", h.WS.Notifications)

	return router
}
