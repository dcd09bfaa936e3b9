package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tonk-labs/tonk-sub003/internal/domain/bundle"
)

// Handlers serves the plain HTTP endpoints outside the fetch surface.
type Handlers struct {
	reg *bundle.Registry
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(reg *bundle.Registry) *Handlers {
	return &Handlers{reg: reg}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "bundle-proxy",
		"status":  "running",
	})
}

// Health reports liveness and the active bundle set.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"active_bundles": h.reg.ActiveCount(),
		"bundle_ids":     h.reg.ActiveIDs(),
	})
}
