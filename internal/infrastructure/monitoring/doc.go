/*
Package monitoring provides Prometheus metrics for the host.

# Metrics

  - HTTP request count and latency per route template
  - Gateway admission outcomes (admitted, ignored, origin_rejected,
    malformed, namespace_rejected) and outbound delivery outcomes
  - Virtual scheme requests per route (bootstrap, code, asset) and outcome
  - Privileged method calls and latency
  - Active terminals, running sandbox workers, WebSocket connections

Collectors are registered on an injected prometheus.Registerer rather than
the global default so that tests can build as many collectors as they like.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
