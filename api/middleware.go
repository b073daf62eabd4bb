package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"escrowflow/auth"
	"escrowflow/transaction"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "user_role"
)

// TokenVerifier validates a bearer token and returns its subject.
type TokenVerifier interface {
	VerifyToken(token string) (string, auth.Role, error)
}

// RequireAuth rejects requests without a valid bearer token and stashes
// the caller's identity on the context.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, role, err := verifier.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(ctxUserID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	// Browsers cannot set headers on websocket upgrades.
	return c.Query("token")
}

// actorFrom rebuilds the authenticated actor set by RequireAuth.
func actorFrom(c *gin.Context) transaction.Actor {
	role, _ := c.Get(ctxRole)
	r, _ := role.(auth.Role)
	return transaction.Actor{
		ID:   c.GetString(ctxUserID),
		Role: r,
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
