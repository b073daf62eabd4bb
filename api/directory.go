package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"escrowflow/directory"
)

// DirectoryHandler surfaces participant lookups and agent ranks.
type DirectoryHandler struct {
	svc *directory.Service
}

func NewDirectoryHandler(svc *directory.Service) *DirectoryHandler {
	return &DirectoryHandler{svc: svc}
}

func (h *DirectoryHandler) Resolve(c *gin.Context) {
	p, err := h.svc.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *DirectoryHandler) Rank(c *gin.Context) {
	rank, err := h.svc.Rank(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "rank": rank})
}

// Heartbeat refreshes the caller's own presence entry. Clients without a
// websocket fall back to polling this.
func (h *DirectoryHandler) Heartbeat(c *gin.Context) {
	if err := h.svc.Heartbeat(c.Request.Context(), c.GetString(ctxUserID)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
