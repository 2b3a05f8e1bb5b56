// Package ws carries gateway envelopes over WebSocket.
//
// Each connection is one sandboxed context with its own gateway. Text frames
// are handed to the gateway as inbound envelopes, claiming the connection's
// Origin header. Replies from the dispatcher come back through the gateway
// and are written to the same connection.
//
// Example Usage:
//
//	handler := ws.NewHandler(gatewayConfig, router, logger)
//	engine.GET("/gateway", handler.HandleConnection)
package ws
