package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/resilience"
	"github.com/BishopFox/sliver-gui-sub001/internal/shared/id"
)

// GatewayFactory builds the gateway relaying for one sandboxed context
type GatewayFactory func(sink gateway.Sink) *gateway.Gateway

// Manager tracks running workers by instance id.
type Manager struct {
	config   Config
	loader   Loader
	gateways GatewayFactory
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	restarts *resilience.Group

	mu      sync.RWMutex
	workers map[string]*Worker
	closed  bool
}

// NewManager creates a worker manager
func NewManager(config Config, loader Loader, gateways GatewayFactory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		config:   config,
		loader:   loader,
		gateways: gateways,
		logger:   logger,
		workers:  make(map[string]*Worker),
	}
	m.WithRestartPolicy(resilience.DefaultSettings())
	return m
}

// WithRestartPolicy sets how many failed reloads in a row stop further
// reload attempts for an instance, and for how long.
func (m *Manager) WithRestartPolicy(settings resilience.Settings) *Manager {
	settings.OnStateChange = func(name string, from, to resilience.State) {
		m.logger.Info("worker restart circuit changed",
			zap.String("instance", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	m.restarts = resilience.NewGroup(settings)
	return m
}

// WithMetrics attaches a metrics collector
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Start launches a worker for instanceID. An empty id allocates a new one.
func (m *Manager) Start(ctx context.Context, instanceID string) (Info, error) {
	if instanceID == "" {
		instanceID = id.NewInstanceID().String()
	}
	if !id.IsToken(instanceID) {
		return Info{}, fmt.Errorf("invalid instance id %q", instanceID)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Info{}, ErrManagerClosed
	}
	if _, exists := m.workers[instanceID]; exists {
		m.mu.Unlock()
		return Info{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, instanceID)
	}

	worker := NewWorker(instanceID, m.config, m.loader, m.logger)
	if m.gateways != nil {
		worker.Attach(m.gateways(worker))
	}
	m.workers[instanceID] = worker
	m.mu.Unlock()

	if err := worker.Start(ctx); err != nil {
		m.remove(instanceID, worker)
		return worker.Info(), err
	}

	m.updateGauge()
	return worker.Info(), nil
}

// Stop terminates a running worker. It also cancels pending reload retries.
func (m *Manager) Stop(instanceID string) error {
	m.restarts.Forget(instanceID)
	return m.stop(instanceID)
}

func (m *Manager) stop(instanceID string) error {
	m.mu.RLock()
	worker, ok := m.workers[instanceID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}

	worker.Stop()
	m.remove(instanceID, worker)
	return nil
}

// Restart stops and starts again every listed worker that is running, and
// retries instances whose previous restart failed. Unknown ids are skipped.
// Repeated failures open a per-instance circuit that suppresses retries
// until its cooldown passes.
func (m *Manager) Restart(ctx context.Context, instanceIDs []string) {
	for _, instanceID := range instanceIDs {
		_, running := m.Get(instanceID)
		if !running && !m.restarts.Has(instanceID) {
			continue
		}

		err := m.restarts.Get(instanceID).Do(func() error {
			if running {
				if err := m.stop(instanceID); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
			}
			_, err := m.Start(ctx, instanceID)
			return err
		})

		switch {
		case err == nil:
			m.restarts.Forget(instanceID)
			m.logger.Info("worker restarted", zap.String("instance", instanceID))
		case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
			m.logger.Warn("worker restart suppressed", zap.String("instance", instanceID))
		default:
			m.logger.Warn("worker restart failed", zap.String("instance", instanceID), zap.Error(err))
		}
	}
}

// Get returns a running worker
func (m *Manager) Get(instanceID string) (*Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	worker, ok := m.workers[instanceID]
	return worker, ok
}

// List returns worker snapshots sorted by instance id
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.workers))
	for _, worker := range m.workers {
		infos = append(infos, worker.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Close stops every worker and refuses new ones
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	workers := m.workers
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()

	for _, worker := range workers {
		worker.Stop()
	}
	m.updateGauge()
}

// remove drops instanceID if it still maps to worker
func (m *Manager) remove(instanceID string, worker *Worker) {
	m.mu.Lock()
	if m.workers[instanceID] == worker {
		delete(m.workers, instanceID)
	}
	m.mu.Unlock()
	m.updateGauge()
}

func (m *Manager) updateGauge() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	count := len(m.workers)
	m.mu.RUnlock()
	m.metrics.SetWorkersActive(count)
}
