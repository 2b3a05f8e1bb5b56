// Package server wires the worker host together and runs it.
//
// Server lifecycle:
//  1. Validate configuration
//  2. Build the metrics registry and component loggers
//  3. Open the script store and start watching it for edits
//  4. Create the protocol host, terminal registry and RPC router
//  5. Create the sandbox manager with one gateway per worker
//  6. Mount middleware, HTTP routes and the /gateway WebSocket
//  7. Serve until Close drains the HTTP server and stops every worker
package server
