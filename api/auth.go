package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"escrowflow/auth"
)

// AuthHandler serves registration, login, and the caller's own profile.
type AuthHandler struct {
	svc *auth.Service
	log *slog.Logger
}

func NewAuthHandler(svc *auth.Service, log *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, log: log}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		h.log.Warn("registration failed", "email", req.Email, "error", err)
		respondError(c, err)
		return
	}

	h.log.Info("user registered", "user_id", user.ID, "role", user.Role)
	c.JSON(http.StatusCreated, userView(user))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"user":  userView(&result.User),
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.svc.GetUserByID(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userView(user))
}

// userView strips credentials from the stored user.
func userView(u *auth.User) gin.H {
	return gin.H{
		"id":              u.ID,
		"email":           u.Email,
		"username":        u.Username,
		"avatar":          u.Avatar,
		"role":            u.Role,
		"balance":         u.Balance,
		"completed_deals": u.CompletedDeals,
		"created_at":      u.CreatedAt,
	}
}
