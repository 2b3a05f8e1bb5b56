package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BishopFox/sliver-gui-sub001/internal/protocol"
	"github.com/BishopFox/sliver-gui-sub001/internal/sandbox"
)

// ListWorkers lists running workers
func (h *Handlers) ListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"workers": h.workers.List(),
	})
}

// StartWorker starts a worker, storing its script first when one is given
func (h *Handlers) StartWorker(c *gin.Context) {
	var req struct {
		Instance string  `json:"instance"`
		Script   *string `json:"script"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
			return
		}
	}

	if req.Script != nil {
		if req.Instance == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "instance is required with script"})
			return
		}
		if err := h.scripts.Put(req.Instance, *req.Script); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	info, err := h.workers.Start(c.Request.Context(), req.Instance)
	if err != nil {
		c.JSON(workerStatus(err), gin.H{"success": false, "error": err.Error(), "worker": info})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "worker": info})
}

// StopWorker stops a running worker
func (h *Handlers) StopWorker(c *gin.Context) {
	if err := h.workers.Stop(c.Param("id")); err != nil {
		c.JSON(workerStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// WorkerConsole returns a worker's console output
func (h *Handlers) WorkerConsole(c *gin.Context) {
	worker, ok := h.workers.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "worker not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"console": worker.Console(),
	})
}

func workerStatus(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrNotFound), errors.Is(err, protocol.ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, sandbox.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, sandbox.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, sandbox.ErrTimeout):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
