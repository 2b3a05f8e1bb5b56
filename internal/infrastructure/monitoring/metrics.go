package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Gateway metrics
	GatewayInbound  *prometheus.CounterVec
	GatewayOutbound *prometheus.CounterVec

	// Virtual scheme metrics
	ProtocolRequests *prometheus.CounterVec

	// Privileged dispatcher metrics
	RPCCalls    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Registry and sandbox metrics
	TerminalsActive prometheus.Gauge
	TerminalsTotal  prometheus.Counter
	WorkersActive   prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalErrors     int64 `json:"total_errors"`
	Admitted        int64 `json:"admitted"`
	Rejected        int64 `json:"rejected"`
	ActiveTerminals int64 `json:"active_terminals"`
}

// NewMetrics creates a new metrics collector registered on reg.
// Tests pass a fresh prometheus.NewRegistry() so collectors never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		GatewayInbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_gateway_inbound_total",
				Help: "Inbound envelopes by admission outcome",
			},
			[]string{"outcome"},
		),
		GatewayOutbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_gateway_outbound_total",
				Help: "Outbound envelopes by delivery outcome",
			},
			[]string{"outcome"},
		),

		ProtocolRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_protocol_requests_total",
				Help: "Virtual scheme requests by route and outcome",
			},
			[]string{"route", "outcome"},
		),

		RPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_rpc_calls_total",
				Help: "Privileged method calls",
			},
			[]string{"method", "status"},
		),
		RPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_rpc_duration_seconds",
				Help:    "Privileged method duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 30},
			},
			[]string{"method"},
		),

		TerminalsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_terminals_active",
				Help: "Number of registered terminals",
			},
		),
		TerminalsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "host_terminals_total",
				Help: "Total number of terminals created",
			},
		),
		WorkersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_sandbox_workers_active",
				Help: "Number of running sandbox workers",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_ws_connections",
				Help: "Number of active gateway WebSocket connections",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "host_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordInbound records an admission decision. Outcome is "admitted",
// "ignored" or the rejection reason.
func (m *Metrics) RecordInbound(outcome string) {
	m.GatewayInbound.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	switch outcome {
	case "admitted":
		m.snapshot.Admitted++
	case "ignored":
	default:
		m.snapshot.Rejected++
	}
	m.mu.Unlock()
}

// RecordOutbound records an outbound delivery outcome
func (m *Metrics) RecordOutbound(outcome string) {
	m.GatewayOutbound.WithLabelValues(outcome).Inc()
}

// RecordProtocolRequest records a virtual scheme request
func (m *Metrics) RecordProtocolRequest(route, outcome string) {
	m.ProtocolRequests.WithLabelValues(route, outcome).Inc()
}

// RecordRPCCall records a privileged method call
func (m *Metrics) RecordRPCCall(method, status string, duration time.Duration) {
	m.RPCCalls.WithLabelValues(method, status).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// TerminalCreated increments the terminal gauges
func (m *Metrics) TerminalCreated() {
	m.TerminalsActive.Inc()
	m.TerminalsTotal.Inc()
	m.mu.Lock()
	m.snapshot.ActiveTerminals++
	m.mu.Unlock()
}

// TerminalDeleted decrements the active terminal gauge
func (m *Metrics) TerminalDeleted() {
	m.TerminalsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveTerminals--
	m.mu.Unlock()
}

// SetWorkersActive sets the number of running sandbox workers
func (m *Metrics) SetWorkersActive(count int) {
	m.WorkersActive.Set(float64(count))
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns a copy of the current counters
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Uptime returns time since the collector was created
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
