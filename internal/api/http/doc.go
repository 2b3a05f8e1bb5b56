/*
Package http exposes the host over HTTP with gin.

Routes:

	GET    /health                                   liveness and counters
	GET    /metrics                                  Prometheus exposition
	GET    /metrics/json                             metrics snapshot
	GET    /worker/:instance/*path                   virtual scheme content
	GET    /sessions                                 sessions with terminals
	POST   /sessions/:session/terminals/:namespace   create a terminal
	GET    /sessions/:session/terminals/:namespace   list terminals by id
	GET    /sessions/:session/terminals/:namespace/:id
	DELETE /sessions/:session/terminals/:namespace/:id
	POST   /sessions/:session/terminals/:namespace/:id/input
	POST   /sessions/:session/terminals/:namespace/:id/resize
	GET    /workers                                  running workers
	POST   /workers                                  start a worker
	DELETE /workers/:id                              stop a worker
	GET    /workers/:id/console                      worker console output
	GET    /scripts                                  stored scripts
	PUT    /scripts/:instance                        store a script
	DELETE /scripts/:instance                        remove a script

Virtual scheme misses answer 404 and read failures 500, so a sandboxed
requester never waits on a response that will not come.
*/
package http
