package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
	"github.com/BishopFox/sliver-gui-sub001/internal/protocol"
	"github.com/BishopFox/sliver-gui-sub001/internal/sandbox"
	"github.com/BishopFox/sliver-gui-sub001/internal/terminal"
)

// ScriptStore stores per-instance scripts
type ScriptStore interface {
	Put(instanceID, body string) error
	Remove(instanceID string) error
	List() ([]string, error)
}

// Deps are the collaborators served over HTTP
type Deps struct {
	Host      *protocol.Host
	Scripts   ScriptStore
	Terminals *terminal.Registry
	Workers   *sandbox.Manager
	Metrics   *monitoring.Metrics
	Gatherer  prometheus.Gatherer
	Shell     string // default shell for started terminals
	Logger    *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	host      *protocol.Host
	scripts   ScriptStore
	terminals *terminal.Registry
	workers   *sandbox.Manager
	metrics   *monitoring.Metrics
	gatherer  prometheus.Gatherer
	shell     string
	logger    *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		host:      deps.Host,
		scripts:   deps.Scripts,
		terminals: deps.Terminals,
		workers:   deps.Workers,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		shell:     deps.Shell,
		logger:    logger,
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/metrics/json", h.MetricsSnapshot)

	r.GET("/worker/:instance/*path", h.ServeWorker)

	r.GET("/sessions", h.ListSessions)
	terminals := r.Group("/sessions/:session/terminals/:namespace")
	terminals.POST("", h.CreateTerminal)
	terminals.GET("", h.ListTerminals)
	terminals.GET("/:id", h.GetTerminal)
	terminals.DELETE("/:id", h.DeleteTerminal)
	terminals.POST("/:id/input", h.TerminalInput)
	terminals.POST("/:id/resize", h.ResizeTerminal)

	r.GET("/workers", h.ListWorkers)
	r.POST("/workers", h.StartWorker)
	r.DELETE("/workers/:id", h.StopWorker)
	r.GET("/workers/:id/console", h.WorkerConsole)

	r.GET("/scripts", h.ListScripts)
	r.PUT("/scripts/:instance", h.PutScript)
	r.DELETE("/scripts/:instance", h.DeleteScript)
}
