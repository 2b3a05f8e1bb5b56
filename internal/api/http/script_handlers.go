package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BishopFox/sliver-gui-sub001/internal/shared/id"
)

// scripts larger than this are refused
const maxScriptSize = 4 << 20

// ListScripts lists instances with a stored script
func (h *Handlers) ListScripts(c *gin.Context) {
	instances, err := h.scripts.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "instances": instances})
}

// PutScript stores the request body as an instance's script and reloads
// the instance's worker if one is running
func (h *Handlers) PutScript(c *gin.Context) {
	instance := c.Param("instance")
	if !id.IsToken(instance) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid instance id"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScriptSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if len(body) > maxScriptSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "script too large"})
		return
	}

	if err := h.scripts.Put(instance, string(body)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if h.workers != nil {
		h.workers.Restart(c.Request.Context(), []string{instance})
	}
	c.Status(http.StatusNoContent)
}

// DeleteScript removes an instance's script
func (h *Handlers) DeleteScript(c *gin.Context) {
	if err := h.scripts.Remove(c.Param("instance")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
