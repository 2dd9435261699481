package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Database    string    `json:"database"`
	Cache       string    `json:"cache"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Health always answers 200; degraded dependencies show up in the body.
func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"

	dbStatus := "ok"
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "error"
		status = "degraded"
		h.log.Error().Err(err).Msg("database ping failed")
	}

	cacheStatus := "ok"
	if err := h.cache.Ping(ctx); err != nil {
		cacheStatus = "error"
		status = "degraded"
		h.log.Error().Err(err).Msg("redis ping failed")
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:      status,
		Service:     "realsync-api",
		Database:    dbStatus,
		Cache:       cacheStatus,
		Environment: h.cfg.Environment,
		Timestamp:   time.Now().UTC(),
	})
}
