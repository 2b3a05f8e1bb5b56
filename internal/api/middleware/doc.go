// Package middleware provides the gin middleware used by the HTTP surface:
// CORS limited to the trusted origin, per-IP and global rate limiting, and
// zap request logging.
package middleware
