package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/tracing"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrTimeout       = errors.New("request timed out")
	ErrInternal      = errors.New("internal error")
	ErrInvalidParams = errors.New("invalid params")
)

// HandlerFunc handles one request. The returned value becomes the result.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Call is a request being handled
type Call struct {
	Method  string
	ID      json.RawMessage
	Params  json.RawMessage
	TraceID string

	replier gateway.Replier
}

// Bind decodes the request params into v. Missing params leave v untouched.
func (c *Call) Bind(v any) error {
	if len(c.Params) == 0 || string(c.Params) == "null" {
		return nil
	}
	if err := sonic.Unmarshal(c.Params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Push sends an unsolicited event back through the gateway.
func (c *Call) Push(event string, data any) error {
	env, err := gateway.NewPush(event, data)
	if err != nil {
		return err
	}
	c.replier.HandleOutbound(env)
	return nil
}

// Router dispatches admitted requests to handlers by method.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter creates a router. A non-positive timeout disables the bound.
func NewRouter(timeout time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		handlers: make(map[string]HandlerFunc),
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithMetrics attaches a metrics collector
func (r *Router) WithMetrics(metrics *monitoring.Metrics) *Router {
	r.metrics = metrics
	return r
}

// WithTracer records a span per call
func (r *Router) WithTracer(tracer *tracing.Tracer) *Router {
	r.tracer = tracer
	return r
}

// Handle registers fn for method. Registering a method twice panics.
func (r *Router) Handle(method string, fn HandlerFunc) {
	if method == "" || fn == nil {
		panic("rpc: empty method or nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[method]; exists {
		panic(fmt.Sprintf("rpc: method %s already registered", method))
	}
	r.handlers[method] = fn
}

// Methods returns the registered method names, sorted.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for method := range r.handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Dispatch implements gateway.Dispatcher. It returns immediately; the
// handler runs on its own goroutine.
func (r *Router) Dispatch(env gateway.Envelope, replier gateway.Replier) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.serve(env, replier)
	}()
}

// Close cancels in-flight handlers and waits for their replies.
func (r *Router) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Router) serve(env gateway.Envelope, replier gateway.Replier) {
	span, ctx := r.tracer.StartSpan(r.ctx, "rpc "+env.Method)
	status := "success"
	defer func() {
		span.SetTag("status", status)
		span.Finish()
		r.tracer.Submit(span)
	}()

	call := &Call{
		Method:  env.Method,
		ID:      env.ID,
		Params:  env.Params,
		TraceID: string(span.TraceID),
		replier: replier,
	}

	r.mu.RLock()
	fn, ok := r.handlers[env.Method]
	r.mu.RUnlock()

	if !ok {
		// unregistered names stay out of the metric labels
		timer := monitoring.NewTimer(r.metrics, "unknown")
		r.logger.Warn("unknown method",
			zap.String("method", env.Method),
			zap.String("trace_id", call.TraceID),
		)
		status = "unknown"
		span.SetError(ErrUnknownMethod)
		timer.Stop(status)
		replier.HandleOutbound(gateway.NewErrorResponse(env.ID, ErrUnknownMethod.Error()))
		return
	}

	timer := monitoring.NewTimer(r.metrics, env.Method)
	result, err := r.invoke(ctx, fn, call)
	if err != nil {
		status = "error"
		if errors.Is(err, ErrTimeout) {
			status = "timeout"
		}
		r.logger.Warn("request failed",
			zap.String("method", env.Method),
			zap.String("trace_id", call.TraceID),
			zap.Error(err),
		)
		span.SetError(err)
		timer.Stop(status)
		replier.HandleOutbound(gateway.NewErrorResponse(env.ID, err.Error()))
		return
	}

	resp, err := gateway.NewResponse(env.ID, result)
	if err != nil {
		r.logger.Error("failed to encode result",
			zap.String("method", env.Method),
			zap.String("trace_id", call.TraceID),
			zap.Error(err),
		)
		status = "error"
		span.SetError(err)
		timer.Stop(status)
		replier.HandleOutbound(gateway.NewErrorResponse(env.ID, ErrInternal.Error()))
		return
	}

	timer.Stop(status)
	replier.HandleOutbound(resp)
}

type outcome struct {
	result any
	err    error
}

// invoke runs fn under the router timeout. A handler that outlives the
// timeout keeps running but its result is discarded.
func (r *Router) invoke(parent context.Context, fn HandlerFunc, call *Call) (any, error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, r.timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("handler panicked",
					zap.String("method", call.Method),
					zap.String("trace_id", call.TraceID),
					zap.Any("panic", rec),
				)
				done <- outcome{err: ErrInternal}
			}
		}()
		result, err := fn(ctx, call)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
