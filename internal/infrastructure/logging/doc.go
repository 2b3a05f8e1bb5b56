// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components never build their own loggers; they receive a *zap.Logger
// named after the subsystem (gateway, protocol, terminal, sandbox, rpc).
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	gw := gateway.New(cfg, router, sink, logger.Component("gateway"))
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
