/*
Package rpc is the privileged side of the gateway.

A Router receives admitted request envelopes, runs the handler registered
for the method on its own goroutine under a timeout and replies with a
response envelope carrying the request's id. Handlers can emit push
envelopes while they run.

	router := rpc.NewRouter(30*time.Second, logger)
	rpc.RegisterDefaults(router, rpc.Deps{Terminals: registry})
	gw := gateway.New(cfg, router, sink, logger)
*/
package rpc
