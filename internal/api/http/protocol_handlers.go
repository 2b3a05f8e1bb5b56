package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/protocol"
	"github.com/BishopFox/sliver-gui-sub001/internal/shared/id"
)

// responses below this size are sent uncompressed
const gzipMinSize = 1024

// ServeWorker answers a virtual scheme request for an instance
func (h *Handlers) ServeWorker(c *gin.Context) {
	instance := c.Param("instance")
	if !id.IsToken(instance) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid instance id"})
		return
	}
	requestURL := h.host.URL(instance, c.Param("path"))

	resp, err := h.host.Serve(c.Request.Context(), requestURL)
	if err != nil {
		c.JSON(protocolStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", resp.ContentType())
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Cache-Control", "no-store")
	header.Add("Vary", "Accept-Encoding")

	if len(resp.Data) < gzipMinSize || !acceptsGzip(c.Request) {
		c.Data(http.StatusOK, resp.ContentType(), resp.Data)
		return
	}

	header.Set("Content-Encoding", "gzip")
	c.Status(http.StatusOK)
	gz := gzip.NewWriter(c.Writer)
	if _, err := gz.Write(resp.Data); err != nil {
		h.logger.Warn("failed to write compressed response", zap.String("url", requestURL), zap.Error(err))
	}
	if err := gz.Close(); err != nil {
		h.logger.Warn("failed to finish compressed response", zap.String("url", requestURL), zap.Error(err))
	}
}

func protocolStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrAssetNotFound), errors.Is(err, protocol.ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrInvalidURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		fields := strings.Split(part, ";")
		if !strings.EqualFold(strings.TrimSpace(fields[0]), "gzip") {
			continue
		}
		for _, param := range fields[1:] {
			param = strings.TrimSpace(param)
			if q, ok := strings.CutPrefix(param, "q="); ok {
				if weight, err := strconv.ParseFloat(q, 64); err != nil || weight <= 0 {
					return false
				}
			}
		}
		return true
	}
	return false
}
