package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/config"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/logging"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.RateLimit.Enabled = false
	cfg.Protocol.AssetsDir = t.TempDir()
	cfg.Protocol.ScriptsDir = t.TempDir()
	cfg.Sandbox.Timeout = time.Second
	cfg.RPC.Timeout = time.Second

	srv, err := newServer(cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.TrustedOrigin = ""
	_, err := newServer(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestServerHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServerWorkerCallsRouter(t *testing.T) {
	srv, ts := newTestServer(t)

	script := `
		var replies = [];
		onmessage = function (e) { replies.push(JSON.parse(e.data)); };
		postMessage(JSON.stringify({type: "request", id: "c1", method: "config_get", params: {key: "scheme"}}));
	`
	payload, err := sonic.Marshal(map[string]any{"instance": "inst_e2e", "script": script})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/workers", "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	worker, ok := srv.Workers().Get("inst_e2e")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		v, err := worker.Eval(context.Background(), `replies.length`)
		return err == nil && v == int64(1)
	}, 5*time.Second, 10*time.Millisecond)

	v, err := worker.Eval(context.Background(), `replies[0].id + ":" + replies[0].result.value`)
	require.NoError(t, err)
	assert.Equal(t, "c1:worker", v)
}

func TestServerGatewayWebSocket(t *testing.T) {
	_, ts := newTestServer(t)

	header := http.Header{}
	header.Set("Origin", "worker://sandbox")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/gateway"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"request","id":"p1","method":"rpc_ping","params":{"echo":7}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	env, err := gateway.Decode(string(data))
	require.NoError(t, err)
	assert.Equal(t, gateway.TypeResponse, env.Type)
	assert.Equal(t, `"p1"`, string(env.ID))
}

func TestServerServesVirtualScheme(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/scripts/inst_x", strings.NewReader("postMessage(1)"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/worker/inst_x/code.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "postMessage(1)", string(body))
}
