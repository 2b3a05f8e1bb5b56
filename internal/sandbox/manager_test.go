package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/resilience"
	"github.com/BishopFox/sliver-gui-sub001/internal/protocol"
)

func newTestManager(t *testing.T, dispatcher gateway.Dispatcher) (*Manager, *protocol.DirStore, *monitoring.Metrics) {
	t.Helper()
	host, store := newTestLoader(t)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	factory := func(sink gateway.Sink) *gateway.Gateway {
		return gateway.New(gateway.Config{
			TrustedOrigin: trusted,
			Policy:        gateway.DefaultPolicy(),
		}, dispatcher, sink, nil)
	}
	manager := NewManager(testConfig(), host, factory, nil).WithMetrics(metrics)
	t.Cleanup(manager.Close)
	return manager, store, metrics
}

func TestManagerStartStop(t *testing.T) {
	manager, store, metrics := newTestManager(t, make(chanDispatcher, 1))
	ctx := context.Background()
	require.NoError(t, store.Put("inst_b", `1`))
	require.NoError(t, store.Put("inst_a", `1`))

	info, err := manager.Start(ctx, "inst_b")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, info.State)
	_, err = manager.Start(ctx, "inst_a")
	require.NoError(t, err)

	list := manager.List()
	require.Len(t, list, 2)
	assert.Equal(t, "inst_a", list[0].ID)
	assert.Equal(t, "inst_b", list[1].ID)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.WorkersActive))

	_, err = manager.Start(ctx, "inst_a")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	worker, ok := manager.Get("inst_a")
	require.True(t, ok)
	require.NoError(t, manager.Stop("inst_a"))
	assert.Equal(t, StateStopped, worker.Info().State)
	assert.ErrorIs(t, manager.Stop("inst_a"), ErrNotFound)

	_, ok = manager.Get("inst_a")
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WorkersActive))
}

func TestManagerStartFailureNotRegistered(t *testing.T) {
	manager, _, metrics := newTestManager(t, make(chanDispatcher, 1))

	info, err := manager.Start(context.Background(), "inst_missing")
	assert.ErrorIs(t, err, protocol.ErrScriptNotFound)
	assert.Equal(t, StateFailed, info.State)
	assert.Empty(t, manager.List())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.WorkersActive))
}

func TestManagerGeneratesInstanceID(t *testing.T) {
	manager, _, _ := newTestManager(t, make(chanDispatcher, 1))

	info, err := manager.Start(context.Background(), "")
	assert.Error(t, err, "no script stored for a fresh id")
	assert.True(t, strings.HasPrefix(info.ID, "inst_"))
}

func TestManagerRejectsUnsafeID(t *testing.T) {
	manager, _, _ := newTestManager(t, make(chanDispatcher, 1))

	_, err := manager.Start(context.Background(), "../evil")
	assert.Error(t, err)
}

func TestManagerWiresGatewayPerWorker(t *testing.T) {
	dispatched := make(chanDispatcher, 1)
	manager, store, _ := newTestManager(t, dispatched)
	require.NoError(t, store.Put("inst_gw", `postMessage('{"type":"request","id":1,"method":"script_list"}')`))

	_, err := manager.Start(context.Background(), "inst_gw")
	require.NoError(t, err)

	env := receive(t, dispatched)
	assert.Equal(t, "script_list", env.Method)
}

func TestManagerRestartPicksUpNewScript(t *testing.T) {
	manager, store, _ := newTestManager(t, make(chanDispatcher, 1))
	ctx := context.Background()
	require.NoError(t, store.Put("inst_r", `var version = 1`))

	_, err := manager.Start(ctx, "inst_r")
	require.NoError(t, err)
	first, _ := manager.Get("inst_r")

	require.NoError(t, store.Put("inst_r", `var version = 2`))
	manager.Restart(ctx, []string{"inst_r", "inst_unknown"})

	second, ok := manager.Get("inst_r")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, StateStopped, first.Info().State)

	v, err := second.Eval(ctx, `version`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, ok = manager.Get("inst_unknown")
	assert.False(t, ok)
}

func TestManagerRestartRetriesBrokenScript(t *testing.T) {
	manager, store, _ := newTestManager(t, make(chanDispatcher, 1))
	manager.WithRestartPolicy(resilience.Settings{Threshold: 3, Cooldown: time.Hour})
	ctx := context.Background()
	require.NoError(t, store.Put("inst_fix", `var version = 1`))
	_, err := manager.Start(ctx, "inst_fix")
	require.NoError(t, err)

	require.NoError(t, store.Put("inst_fix", `throw new Error("broken")`))
	manager.Restart(ctx, []string{"inst_fix"})
	_, ok := manager.Get("inst_fix")
	require.False(t, ok)

	require.NoError(t, store.Put("inst_fix", `var version = 3`))
	manager.Restart(ctx, []string{"inst_fix"})
	worker, ok := manager.Get("inst_fix")
	require.True(t, ok)
	v, err := worker.Eval(ctx, `version`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestManagerRestartCircuitOpens(t *testing.T) {
	manager, store, _ := newTestManager(t, make(chanDispatcher, 1))
	manager.WithRestartPolicy(resilience.Settings{Threshold: 2, Cooldown: time.Hour})
	ctx := context.Background()
	require.NoError(t, store.Put("inst_loop", `1`))
	_, err := manager.Start(ctx, "inst_loop")
	require.NoError(t, err)

	require.NoError(t, store.Put("inst_loop", `throw new Error("broken")`))
	manager.Restart(ctx, []string{"inst_loop"})
	manager.Restart(ctx, []string{"inst_loop"})

	require.NoError(t, store.Put("inst_loop", `1`))
	manager.Restart(ctx, []string{"inst_loop"})
	_, ok := manager.Get("inst_loop")
	assert.False(t, ok, "open circuit suppresses the retry")
}

func TestManagerStopCancelsRetries(t *testing.T) {
	manager, store, _ := newTestManager(t, make(chanDispatcher, 1))
	ctx := context.Background()
	require.NoError(t, store.Put("inst_gone", `1`))
	_, err := manager.Start(ctx, "inst_gone")
	require.NoError(t, err)

	require.NoError(t, store.Put("inst_gone", `throw new Error("broken")`))
	manager.Restart(ctx, []string{"inst_gone"})
	assert.ErrorIs(t, manager.Stop("inst_gone"), ErrNotFound)

	require.NoError(t, store.Put("inst_gone", `1`))
	manager.Restart(ctx, []string{"inst_gone"})
	_, ok := manager.Get("inst_gone")
	assert.False(t, ok)
}

func TestManagerClose(t *testing.T) {
	manager, store, metrics := newTestManager(t, make(chanDispatcher, 1))
	ctx := context.Background()
	require.NoError(t, store.Put("inst_x", `1`))

	_, err := manager.Start(ctx, "inst_x")
	require.NoError(t, err)
	worker, _ := manager.Get("inst_x")

	manager.Close()

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker not stopped")
	}
	assert.Empty(t, manager.List())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.WorkersActive))

	_, err = manager.Start(ctx, "inst_x")
	assert.ErrorIs(t, err, ErrManagerClosed)
}
