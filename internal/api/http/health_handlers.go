package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	if h.workers != nil {
		resp["workers"] = len(h.workers.List())
	}
	if h.terminals != nil {
		resp["sessions"] = len(h.terminals.Sessions())
	}
	if h.metrics != nil {
		resp["uptime_seconds"] = int64(h.metrics.Uptime().Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

// MetricsSnapshot returns the aggregated counters as JSON
func (h *Handlers) MetricsSnapshot(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"metrics":        h.metrics.Snapshot(),
		"uptime_seconds": int64(h.metrics.Uptime().Seconds()),
	})
}
