package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
)

// Origin is the claimed source of an inbound envelope.
type Origin string

// Dispatcher is the privileged side. Dispatch must return promptly and
// deliver replies later through replier.
type Dispatcher interface {
	Dispatch(env Envelope, replier Replier)
}

// Replier accepts envelopes travelling back towards the sandbox.
type Replier interface {
	HandleOutbound(env Envelope)
}

// Sink delivers envelopes into a sandboxed context.
type Sink interface {
	Deliver(env Envelope) error
}

// Config holds the gateway's immutable admission settings.
type Config struct {
	TrustedOrigin Origin
	Policy        Policy
}

// Gateway relays envelopes across the trust boundary. It holds no mutable
// state, so one instance per sandboxed context is cheap.
type Gateway struct {
	origin     Origin
	policy     Policy
	dispatcher Dispatcher
	sink       Sink
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// New creates a gateway relaying between sink and dispatcher.
func New(cfg Config, dispatcher Dispatcher, sink Sink, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		origin:     cfg.TrustedOrigin,
		policy:     cfg.Policy,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
	}
}

// WithMetrics attaches a metrics collector
func (g *Gateway) WithMetrics(metrics *monitoring.Metrics) *Gateway {
	g.metrics = metrics
	return g
}

// Admit runs the admission checks without forwarding anything.
func (g *Gateway) Admit(raw string, claimed Origin) (Envelope, error) {
	if g.origin == "" || claimed != g.origin {
		return Envelope{}, fmt.Errorf("%w: %q", ErrOriginRejected, claimed)
	}

	env, err := Decode(raw)
	if err != nil {
		return Envelope{}, err
	}

	if env.Type != TypeRequest {
		return env, fmt.Errorf("%w: type %q", ErrIgnored, env.Type)
	}

	if env.Method == "" || !g.policy.Allows(env.Method) {
		return env, fmt.Errorf("%w: %q", ErrNamespaceRejected, env.Method)
	}

	return env, nil
}

// HandleInbound validates a message from the sandbox and forwards admitted
// requests to the dispatcher. It never panics and never reports back to
// the sandbox.
func (g *Gateway) HandleInbound(raw string, claimed Origin) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("dispatcher panicked", zap.Any("panic", r))
		}
	}()

	env, err := g.Admit(raw, claimed)
	g.record(outcome(err))

	if err != nil {
		g.logRejection(env, claimed, err)
		return
	}

	if g.dispatcher == nil {
		g.logger.Error("no dispatcher configured, dropping request", zap.String("method", env.Method))
		return
	}

	g.dispatcher.Dispatch(env, g)
}

// HandleOutbound delivers responses and pushes into the sandbox. Any other
// type is dropped.
func (g *Gateway) HandleOutbound(env Envelope) {
	if env.Type != TypeResponse && env.Type != TypePush {
		g.logger.Warn("outbound envelope dropped",
			zap.String("type", string(env.Type)),
			zap.String("method", env.Method),
		)
		g.recordOutbound("dropped")
		return
	}

	if g.sink == nil {
		g.logger.Warn("no sink attached, outbound envelope dropped", zap.String("type", string(env.Type)))
		g.recordOutbound("dropped")
		return
	}

	// Always marshal outbound envelopes so the delivered text matches env.Type.
	env.raw = nil
	if err := g.sink.Deliver(env); err != nil {
		g.logger.Warn("outbound delivery failed",
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
		g.recordOutbound("failed")
		return
	}

	g.recordOutbound("delivered")
}

// TrustedOrigin returns the configured origin
func (g *Gateway) TrustedOrigin() Origin {
	return g.origin
}

// Policy returns the configured allow-list
func (g *Gateway) Policy() Policy {
	return g.policy
}

func (g *Gateway) logRejection(env Envelope, claimed Origin, err error) {
	reason := outcome(err)
	if reason == "ignored" {
		g.logger.Debug("inbound envelope ignored", zap.String("type", string(env.Type)))
		return
	}

	fields := []zap.Field{
		zap.String("reason", reason),
		zap.String("origin", string(claimed)),
		zap.Error(err),
	}
	if env.Method != "" || reason == "namespace_rejected" {
		fields = append(fields, zap.String("method", env.Method))
	}
	g.logger.Warn("inbound envelope rejected", fields...)
}

func (g *Gateway) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordInbound(outcome)
	}
}

func (g *Gateway) recordOutbound(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordOutbound(outcome)
	}
}
