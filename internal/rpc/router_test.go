package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/tracing"
)

// chanReplier collects outbound envelopes
type chanReplier chan gateway.Envelope

func (c chanReplier) HandleOutbound(env gateway.Envelope) {
	c <- env
}

func (c chanReplier) next(t *testing.T) gateway.Envelope {
	t.Helper()
	select {
	case env := <-c:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope received")
		return gateway.Envelope{}
	}
}

func request(t *testing.T, raw string) gateway.Envelope {
	t.Helper()
	env, err := gateway.Decode(raw)
	require.NoError(t, err)
	return env
}

func errorText(t *testing.T, env gateway.Envelope) string {
	t.Helper()
	var msg string
	require.NoError(t, sonic.Unmarshal(env.Error, &msg))
	return msg
}

func TestDispatchReturnsResponseWithSameID(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	router.Handle("rpc_add", func(_ context.Context, call *Call) (any, error) {
		var params struct{ A, B int }
		if err := call.Bind(&params); err != nil {
			return nil, err
		}
		return params.A + params.B, nil
	})

	replies := make(chanReplier, 1)
	router.Dispatch(request(t, `{"type":"request","id":"abc","method":"rpc_add","params":{"A":2,"B":3}}`), replies)

	resp := replies.next(t)
	assert.Equal(t, gateway.TypeResponse, resp.Type)
	assert.JSONEq(t, `"abc"`, string(resp.ID))
	assert.JSONEq(t, `5`, string(resp.Result))
	assert.Empty(t, resp.Error)
}

func TestDispatchNumericID(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	router.Handle("rpc_x", func(context.Context, *Call) (any, error) { return "ok", nil })

	replies := make(chanReplier, 1)
	router.Dispatch(request(t, `{"type":"request","id":42,"method":"rpc_x"}`), replies)

	assert.Equal(t, json.RawMessage(`42`), replies.next(t).ID)
}

func TestDispatchDoesNotBlock(t *testing.T) {
	router := NewRouter(5*time.Second, nil)
	release := make(chan struct{})
	router.Handle("rpc_slow", func(ctx context.Context, _ *Call) (any, error) {
		<-release
		return "done", nil
	})

	replies := make(chanReplier, 1)
	returned := make(chan struct{})
	go func() {
		router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_slow"}`), replies)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on the handler")
	}

	close(release)
	assert.JSONEq(t, `"done"`, string(replies.next(t).Result))
	router.Close()
}

func TestDispatchUnknownMethod(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	router := NewRouter(time.Second, zap.New(core))
	defer router.Close()

	replies := make(chanReplier, 1)
	router.Dispatch(request(t, `{"type":"request","id":7,"method":"client_nope"}`), replies)

	resp := replies.next(t)
	assert.Equal(t, gateway.TypeResponse, resp.Type)
	assert.Equal(t, "unknown method", errorText(t, resp))
	assert.Empty(t, resp.Result)
	assert.Equal(t, 1, logs.FilterMessage("unknown method").Len())
}

func TestDispatchHandlerError(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	router.Handle("rpc_fail", func(context.Context, *Call) (any, error) {
		return nil, errors.New("boom")
	})

	replies := make(chanReplier, 1)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_fail"}`), replies)

	assert.Equal(t, "boom", errorText(t, replies.next(t)))
}

func TestDispatchHandlerPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	router := NewRouter(time.Second, zap.New(core))
	defer router.Close()
	router.Handle("rpc_panic", func(context.Context, *Call) (any, error) {
		panic("kaboom")
	})

	replies := make(chanReplier, 1)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_panic"}`), replies)

	assert.Equal(t, ErrInternal.Error(), errorText(t, replies.next(t)))
	assert.Equal(t, 1, logs.FilterMessage("handler panicked").Len())
}

func TestDispatchTimeout(t *testing.T) {
	router := NewRouter(50*time.Millisecond, nil)
	defer router.Close()
	router.Handle("rpc_hang", func(ctx context.Context, _ *Call) (any, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	})

	replies := make(chanReplier, 2)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_hang"}`), replies)

	resp := replies.next(t)
	assert.Equal(t, ErrTimeout.Error(), errorText(t, resp))

	select {
	case extra := <-replies:
		t.Fatalf("unexpected second reply: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchUnencodableResult(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	router.Handle("rpc_chan", func(context.Context, *Call) (any, error) {
		return make(chan int), nil
	})

	replies := make(chanReplier, 1)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_chan"}`), replies)

	assert.Equal(t, ErrInternal.Error(), errorText(t, replies.next(t)))
}

func TestCallPush(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	router.Handle("rpc_stream", func(_ context.Context, call *Call) (any, error) {
		for i := 1; i <= 2; i++ {
			if err := call.Push("rpc_progress", map[string]int{"step": i}); err != nil {
				return nil, err
			}
		}
		return "finished", nil
	})

	replies := make(chanReplier, 3)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_stream"}`), replies)

	first := replies.next(t)
	second := replies.next(t)
	final := replies.next(t)

	assert.Equal(t, gateway.TypePush, first.Type)
	assert.Equal(t, "rpc_progress", first.Method)
	assert.JSONEq(t, `{"step":1}`, string(first.Result))
	assert.JSONEq(t, `{"step":2}`, string(second.Result))
	assert.Equal(t, gateway.TypeResponse, final.Type)
	assert.JSONEq(t, `"finished"`, string(final.Result))
}

func TestCallBind(t *testing.T) {
	var out struct{ Name string }

	call := &Call{}
	require.NoError(t, call.Bind(&out))

	call.Params = json.RawMessage(`null`)
	require.NoError(t, call.Bind(&out))

	call.Params = json.RawMessage(`{"Name":"x"}`)
	require.NoError(t, call.Bind(&out))
	assert.Equal(t, "x", out.Name)

	call.Params = json.RawMessage(`[1,2]`)
	assert.ErrorIs(t, call.Bind(&out), ErrInvalidParams)
}

func TestHandleDuplicatePanics(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	fn := func(context.Context, *Call) (any, error) { return nil, nil }

	router.Handle("rpc_a", fn)
	assert.Panics(t, func() { router.Handle("rpc_a", fn) })
	assert.Panics(t, func() { router.Handle("", fn) })
	assert.Panics(t, func() { router.Handle("rpc_b", nil) })
}

func TestMethodsSorted(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	fn := func(context.Context, *Call) (any, error) { return nil, nil }

	router.Handle("script_b", fn)
	router.Handle("client_a", fn)

	assert.Equal(t, []string{"client_a", "script_b"}, router.Methods())
}

func TestCloseCancelsInFlight(t *testing.T) {
	router := NewRouter(0, nil)
	started := make(chan struct{})
	router.Handle("rpc_wait", func(ctx context.Context, _ *Call) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	replies := make(chanReplier, 1)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_wait"}`), replies)
	<-started

	router.Close()
	assert.Equal(t, context.Canceled.Error(), errorText(t, replies.next(t)))
}

func TestRouterMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	router := NewRouter(time.Second, nil).WithMetrics(metrics)
	router.Handle("rpc_ok", func(context.Context, *Call) (any, error) { return 1, nil })

	replies := make(chanReplier, 2)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_ok"}`), replies)
	router.Dispatch(request(t, `{"type":"request","id":2,"method":"rpc_missing"}`), replies)
	replies.next(t)
	replies.next(t)
	router.Close()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RPCCalls.WithLabelValues("rpc_ok", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RPCCalls.WithLabelValues("unknown", "unknown")))
}

func TestRouterTracing(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := tracing.New("host", zap.New(core))
	router := NewRouter(time.Second, nil).WithTracer(tracer)
	router.Handle("rpc_trace", func(ctx context.Context, call *Call) (any, error) {
		return string(tracing.GetTraceID(ctx)) == call.TraceID, nil
	})

	replies := make(chanReplier, 2)
	router.Dispatch(request(t, `{"type":"request","id":1,"method":"rpc_trace"}`), replies)
	var matched bool
	require.NoError(t, sonic.Unmarshal(replies.next(t).Result, &matched))
	assert.True(t, matched)

	router.Dispatch(request(t, `{"type":"request","id":2,"method":"rpc_missing"}`), replies)
	replies.next(t)

	router.Close()
	tracer.Close()

	ok := logs.FilterMessage("span completed").All()
	require.Len(t, ok, 1)
	assert.Equal(t, "rpc rpc_trace", ok[0].ContextMap()["operation"])
	assert.Equal(t, "success", ok[0].ContextMap()["status"])

	failed := logs.FilterMessage("span completed with error").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "unknown", failed[0].ContextMap()["status"])
}

func TestThroughGateway(t *testing.T) {
	router := NewRouter(time.Second, nil)
	defer router.Close()
	RegisterDefaults(router, Deps{})

	sink := make(sinkChan, 1)
	gw := gateway.New(gateway.Config{
		TrustedOrigin: "worker://sandbox",
		Policy:        gateway.DefaultPolicy(),
	}, router, sink, nil)

	gw.HandleInbound(`{"type":"request","id":"p1","method":"rpc_ping","params":{"echo":"hi"}}`, "worker://sandbox")

	select {
	case env := <-sink:
		assert.Equal(t, gateway.TypeResponse, env.Type)
		var result map[string]any
		require.NoError(t, sonic.Unmarshal(env.Result, &result))
		assert.Equal(t, true, result["pong"])
		assert.Equal(t, "hi", result["echo"])
	case <-time.After(5 * time.Second):
		t.Fatal("no reply delivered to the sink")
	}
}

type sinkChan chan gateway.Envelope

func (s sinkChan) Deliver(env gateway.Envelope) error {
	s <- env
	return nil
}
