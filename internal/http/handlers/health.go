package handlers

import (
	"context"
	"time"

	"github.com/geocoder89/taskhub/internal/config"
	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

// db may be nil, in which case readiness only reflects process liveness
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(200, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(ctx *gin.Context) {
	if h.db != nil {
		cctx, cancel := config.WithTimeout(2 * time.Second)

		defer cancel()

		if err := h.db.Ping(cctx); err != nil {
			ctx.JSON(503, gin.H{"status": "degraded", "db": "down"})
			return
		}
	}

	ctx.JSON(200, gin.H{"status": "ready"})
}
