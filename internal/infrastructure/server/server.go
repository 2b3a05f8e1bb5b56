package server

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/api/http"
	"github.com/BishopFox/sliver-gui-sub001/internal/api/middleware"
	"github.com/BishopFox/sliver-gui-sub001/internal/api/ws"
	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/config"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/logging"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/tracing"
	"github.com/BishopFox/sliver-gui-sub001/internal/protocol"
	"github.com/BishopFox/sliver-gui-sub001/internal/rpc"
	"github.com/BishopFox/sliver-gui-sub001/internal/sandbox"
	"github.com/BishopFox/sliver-gui-sub001/internal/terminal"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router    *gin.Engine
	http      *nethttp.Server
	host      *protocol.Host
	scripts   *protocol.DirStore
	terminals *terminal.Registry
	workers   *sandbox.Manager
	rpc       *rpc.Router
	tracer    *tracing.Tracer
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
	stopWatch context.CancelFunc
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	return newServer(cfg, logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development))
}

func newServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Initializing worker host",
		zap.String("port", cfg.Server.Port),
		zap.String("scheme", cfg.Protocol.Scheme),
		zap.String("trusted_origin", cfg.Gateway.TrustedOrigin),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := monitoring.NewMetrics(registry)

	scripts, err := protocol.NewDirStore(cfg.Protocol.ScriptsDir, logger.Component("scripts"))
	if err != nil {
		return nil, fmt.Errorf("failed to open scripts directory: %w", err)
	}

	host, err := protocol.NewHost(protocol.Config{
		Scheme:        cfg.Protocol.Scheme,
		AssetsDir:     cfg.Protocol.AssetsDir,
		BootstrapPath: cfg.Protocol.BootstrapPath,
	}, scripts, logger.Component("protocol"))
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol host: %w", err)
	}
	host.WithMetrics(metrics)

	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	defaults := terminal.DefaultOptions()
	defaults.Cols = cfg.Terminal.Cols
	defaults.Rows = cfg.Terminal.Rows
	terminals := terminal.NewRegistry(logger.Component("terminal")).
		WithDefaults(defaults).
		WithMetrics(metrics)

	tracer := tracing.New("host", logger.Component("trace"))
	router := rpc.NewRouter(cfg.RPC.Timeout, logger.Component("rpc")).
		WithMetrics(metrics).
		WithTracer(tracer)
	rpc.RegisterDefaults(router, rpc.Deps{
		Terminals: terminals,
		Scripts:   scripts,
		Settings:  settings,
	})

	gatewayConfig := gateway.Config{
		TrustedOrigin: gateway.Origin(cfg.Gateway.TrustedOrigin),
		Policy:        gateway.DefaultPolicy(),
	}
	gatewayLogger := logger.Component("gateway")
	factory := func(sink gateway.Sink) *gateway.Gateway {
		return gateway.New(gatewayConfig, router, sink, gatewayLogger).WithMetrics(metrics)
	}

	sandboxConfig := sandbox.DefaultConfig()
	sandboxConfig.Timeout = cfg.Sandbox.Timeout
	sandboxConfig.EnableConsole = cfg.Sandbox.EnableConsole
	sandboxConfig.Origin = gatewayConfig.TrustedOrigin
	workers := sandbox.NewManager(sandboxConfig, host, factory, logger.Component("sandbox")).WithMetrics(metrics)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	scripts.OnChange(func(instanceIDs []string) {
		workers.Restart(watchCtx, instanceIDs)
	})
	if err := scripts.Watch(watchCtx); err != nil {
		logger.Warn("Script hot reload disabled", zap.Error(err))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(tracing.HTTPMiddleware(tracer))
	engine.Use(middleware.RequestLogger(logger.Component("http")))
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Gateway.TrustedOrigin)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := http.NewHandlers(http.Deps{
		Host:      host,
		Scripts:   scripts,
		Terminals: terminals,
		Workers:   workers,
		Metrics:   metrics,
		Gatherer:  registry,
		Shell:     cfg.Terminal.Shell,
		Logger:    logger.Component("http"),
	})
	handlers.Register(engine)

	wsHandler := ws.NewHandler(gatewayConfig, router, logger.Component("ws")).WithMetrics(metrics)
	engine.GET("/gateway", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully", zap.Strings("rpc_methods", router.Methods()))

	return &Server{
		router: engine,
		http: &nethttp.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		host:      host,
		scripts:   scripts,
		terminals: terminals,
		workers:   workers,
		rpc:       router,
		tracer:    tracer,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
		stopWatch: stopWatch,
	}, nil
}

// Handler exposes the routed engine
func (s *Server) Handler() nethttp.Handler {
	return s.router
}

// Workers exposes the sandbox manager
func (s *Server) Workers() *sandbox.Manager {
	return s.workers
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
		shutdownErr = fmt.Errorf("failed to stop http server: %w", err)
	}

	s.stopWatch()
	s.workers.Close()
	s.rpc.Close()
	s.tracer.Close()
	s.terminals.Close()
	s.logger.Info("Stopped workers and terminals")

	_ = s.logger.Sync()
	return shutdownErr
}
