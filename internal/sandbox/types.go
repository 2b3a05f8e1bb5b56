package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/protocol"
)

var (
	ErrStopped        = errors.New("worker stopped")
	ErrQueueFull      = errors.New("worker queue full")
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotFound       = errors.New("worker not found")
	ErrManagerClosed  = errors.New("worker manager closed")
)

// Config defines worker configuration
type Config struct {
	Timeout       time.Duration  // per-callback execution budget
	EnableConsole bool           // route console.* to the logger
	Origin        gateway.Origin // origin claimed on postMessage
	QueueSize     int            // pending event-loop tasks
	ConsoleLimit  int            // retained console entries
}

// DefaultConfig returns the default worker configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		EnableConsole: true,
		Origin:        "worker://sandbox",
		QueueSize:     256,
		ConsoleLimit:  200,
	}
}

// Loader fetches a worker's code from the virtual scheme
type Loader interface {
	URL(instanceID, path string) string
	Serve(ctx context.Context, requestURL string) (*protocol.Response, error)
}

// State is a worker lifecycle state
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Info is a snapshot of a worker
type Info struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Posted    uint64    `json:"posted"`
	Delivered uint64    `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}
