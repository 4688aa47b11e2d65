package router

import (
	"github.com/claimflow/backend/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// ClaimRoutes builds the /claims group. batchLimit guards only the bulk
// endpoint; it may be nil.
func ClaimRoutes(h *handler.ClaimHandler, batchLimit gin.HandlerFunc) *DomainGroup {
	g := NewDomainGroup("claims", "/claims")

	batch := []gin.HandlerFunc{h.SettleBatch}
	if batchLimit != nil {
		batch = append([]gin.HandlerFunc{batchLimit}, batch...)
	}

	// Static segment before :id so gin matches it first
	g.POST("/batch/settle", batch...)
	g.POST("/:id/process", h.Process)
	g.POST("/:id/settle", h.Settle)
	g.POST("/:id/review", h.Review)
	g.GET("/:id/audit", h.AuditTrail)
	return g
}

// SystemRoutes builds the /system group
func SystemRoutes(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").
		GET("/circuits", h.Circuits)
}
