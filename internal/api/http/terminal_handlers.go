package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/terminal"
)

// optionsRequest carries terminal options; absent fields keep the defaults
type optionsRequest struct {
	Scrollback *int  `json:"scrollback" binding:"omitempty,min=0"`
	ConvertEOL *bool `json:"convert_eol"`
	Cols       *int  `json:"cols" binding:"omitempty,min=1,max=65535"`
	Rows       *int  `json:"rows" binding:"omitempty,min=1,max=65535"`
}

func (o *optionsRequest) apply(base terminal.Options) terminal.Options {
	if o == nil {
		return base
	}
	if o.Scrollback != nil {
		base.Scrollback = *o.Scrollback
	}
	if o.ConvertEOL != nil {
		base.ConvertEOL = *o.ConvertEOL
	}
	if o.Cols != nil {
		base.Cols = *o.Cols
	}
	if o.Rows != nil {
		base.Rows = *o.Rows
	}
	return base
}

type createTerminalRequest struct {
	Name    string            `json:"name"`
	Options *optionsRequest   `json:"options"`
	Start   bool              `json:"start"`
	Shell   string            `json:"shell"`
	Dir     string            `json:"dir"`
	Env     map[string]string `json:"env"`
}

// TerminalResponse describes a terminal
type TerminalResponse struct {
	ID    int           `json:"id"`
	Name  string        `json:"name"`
	Info  terminal.Info `json:"info"`
	Lines []string      `json:"lines,omitempty"`
}

func terminalResponse(rec terminal.Record, withLines bool) TerminalResponse {
	resp := TerminalResponse{ID: rec.ID, Name: rec.Name, Info: rec.Terminal.Info()}
	if withLines {
		resp.Lines = rec.Terminal.Lines()
	}
	return resp
}

// ListSessions lists sessions that own terminals
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": h.terminals.Sessions(),
	})
}

// CreateTerminal registers a new terminal, optionally attached to a shell
func (h *Handlers) CreateTerminal(c *gin.Context) {
	session, namespace := c.Param("session"), c.Param("namespace")

	var req createTerminalRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid request: " + err.Error(),
			})
			return
		}
	}

	var opts *terminal.Options
	if req.Options != nil {
		applied := req.Options.apply(h.terminals.Defaults())
		opts = &applied
	}

	rec := h.terminals.Create(session, namespace, req.Name, opts)

	if req.Start {
		shell := req.Shell
		if shell == "" {
			shell = h.shell
		}
		if err := rec.Terminal.Start(shell, req.Dir, req.Env); err != nil {
			h.logger.Warn("failed to start terminal process",
				zap.String("session", session),
				zap.String("namespace", namespace),
				zap.Int("id", rec.ID),
				zap.Error(err),
			)
			h.terminals.Delete(session, namespace, rec.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"terminal": terminalResponse(rec, false),
	})
}

// ListTerminals lists a namespace's terminals in ascending id order
func (h *Handlers) ListTerminals(c *gin.Context) {
	records := h.terminals.List(c.Param("session"), c.Param("namespace"))

	terminals := make([]TerminalResponse, 0, len(records))
	for _, rec := range records {
		terminals = append(terminals, terminalResponse(rec, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"terminals": terminals,
	})
}

// GetTerminal returns a terminal with its scrollback
func (h *Handlers) GetTerminal(c *gin.Context) {
	rec, ok := h.lookupTerminal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"terminal": terminalResponse(rec, true),
	})
}

// DeleteTerminal removes a terminal and closes it
func (h *Handlers) DeleteTerminal(c *gin.Context) {
	rec, ok := h.lookupTerminal(c)
	if !ok {
		return
	}
	h.terminals.Delete(c.Param("session"), c.Param("namespace"), rec.ID)
	c.Status(http.StatusNoContent)
}

// TerminalInput writes keystrokes to a terminal's process
func (h *Handlers) TerminalInput(c *gin.Context) {
	rec, ok := h.lookupTerminal(c)
	if !ok {
		return
	}

	var req struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}

	if err := rec.Terminal.Input([]byte(req.Data)); err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResizeTerminal changes a terminal's dimensions
func (h *Handlers) ResizeTerminal(c *gin.Context) {
	rec, ok := h.lookupTerminal(c)
	if !ok {
		return
	}

	var req struct {
		Cols int `json:"cols" binding:"required,min=1,max=65535"`
		Rows int `json:"rows" binding:"required,min=1,max=65535"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}

	if err := rec.Terminal.Resize(req.Cols, req.Rows); err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "terminal": terminalResponse(rec, false)})
}

// lookupTerminal resolves the terminal addressed by the route, writing the
// error response itself on a miss
func (h *Handlers) lookupTerminal(c *gin.Context) (terminal.Record, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid terminal id"})
		return terminal.Record{}, false
	}

	rec, ok := h.terminals.Get(c.Param("session"), c.Param("namespace"), id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "terminal not found"})
		return terminal.Record{}, false
	}
	return rec, true
}
