package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
	"github.com/BishopFox/sliver-gui-sub001/internal/shared/id"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrConnectionClosed is returned when delivering to a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// Handler manages WebSocket connections
type Handler struct {
	config     gateway.Config
	dispatcher gateway.Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	upgrader   websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(config gateway.Config, dispatcher gateway.Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			// Origin is enforced per envelope by the gateway
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WithMetrics attaches a metrics collector
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection upgrades the request and relays frames until the peer
// goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := id.NewConnectionID()
	origin := gateway.Origin(c.Request.Header.Get("Origin"))
	logger := h.logger.With(zap.String("conn", connID.String()))

	sink := newConnection(conn)
	defer sink.Close()

	gw := gateway.New(h.config, h.dispatcher, sink, logger).WithMetrics(h.metrics)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	logger.Info("gateway connection opened", zap.String("origin", string(origin)))

	stopPing := make(chan struct{})
	defer close(stopPing)
	go sink.keepAlive(stopPing)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			logger.Debug("non-text frame dropped", zap.Int("type", messageType))
			continue
		}
		gw.HandleInbound(string(data), origin)
	}

	logger.Info("gateway connection closed")
}

// connection is a gateway.Sink writing to one websocket. gorilla allows a
// single concurrent writer, so writes are serialized.
type connection struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newConnection(conn *websocket.Conn) *connection {
	return &connection{conn: conn}
}

// Deliver implements gateway.Sink
func (c *connection) Deliver(env gateway.Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *connection) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *connection) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close marks the connection closed and releases it
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
