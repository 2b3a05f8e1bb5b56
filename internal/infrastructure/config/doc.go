// Package config provides 12-factor configuration management for the host process.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Gateway: trusted origin of the sandboxed context
//   - Protocol: virtual scheme, assets directory, bootstrap document, script store
//   - Sandbox: script worker timeout and console capture
//   - RPC: privileged handler timeout and an optional settings file
//   - Terminal: shell and default dimensions for PTY-backed terminals
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// The settings file (YAML, TOML or JSON, chosen by extension) holds extra
// values sandboxed code may read through config_get.
//
// The namespace allow-list is deliberately absent: it is compiled into the
// gateway package and only changes by redeploying the host.
package config
