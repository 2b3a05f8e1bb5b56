// Package main runs the worker host.
//
// The host serves sandboxed worker scripts over a virtual scheme, relays
// their messages through the gateway trust boundary to a privileged RPC
// router, and manages PTY-backed terminals grouped by session.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 8000 -assets ./static/assets -scripts ./scripts
//
//	# Development mode (colored logs)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
