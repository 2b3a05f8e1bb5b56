package terminal

import (
	"iter"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/infrastructure/monitoring"
)

// Record is a registered terminal. ID and Name are copies; Terminal points
// at the handle the registry owns.
type Record struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Terminal *Terminal `json:"-"`
}

// Registry multiplexes terminals by session and namespace.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]int                        // sessionID -> next id
	records  map[string]map[string]map[int]*Record // sessionID -> namespace -> id

	defaults Options
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		counters: make(map[string]int),
		records:  make(map[string]map[string]map[int]*Record),
		defaults: DefaultOptions(),
		logger:   logger,
	}
}

// WithDefaults replaces the options used when Create receives none.
func (r *Registry) WithDefaults(opts Options) *Registry {
	r.defaults = opts
	return r
}

// Defaults returns the options used when Create receives none.
func (r *Registry) Defaults() Options {
	return r.defaults
}

// WithMetrics attaches a metrics collector
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// Create allocates the session's next id and registers a new terminal under
// namespace. An empty name defaults to the id; nil opts use the defaults.
func (r *Registry) Create(sessionID, namespace, name string, opts *Options) Record {
	config := r.defaults
	if opts != nil {
		config = *opts
	}
	term := New(config)

	r.mu.Lock()
	if _, ok := r.counters[sessionID]; !ok {
		r.counters[sessionID] = 1
		r.records[sessionID] = make(map[string]map[int]*Record)
	}
	namespaces := r.records[sessionID]
	if _, ok := namespaces[namespace]; !ok {
		namespaces[namespace] = make(map[int]*Record)
	}

	id := r.counters[sessionID]
	r.counters[sessionID] = id + 1

	if name == "" {
		name = strconv.Itoa(id)
	}
	rec := &Record{ID: id, Name: name, Terminal: term}
	namespaces[namespace][id] = rec
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.TerminalCreated()
	}
	r.logger.Debug("terminal created",
		zap.String("session", sessionID),
		zap.String("namespace", namespace),
		zap.Int("id", id),
		zap.String("name", name),
	)

	return *rec
}

// Get looks up a terminal by its full key.
func (r *Registry) Get(sessionID, namespace string, id int) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[sessionID][namespace][id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns a namespace's terminals ordered by ascending id. Unknown
// sessions and namespaces yield an empty slice.
func (r *Registry) List(sessionID, namespace string) []Record {
	r.mu.RLock()
	entries := r.records[sessionID][namespace]
	out := make([]Record, 0, len(entries))
	for _, rec := range entries {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// All iterates a namespace's terminals in no particular order. The
// iteration covers the entries present when it starts.
func (r *Registry) All(sessionID, namespace string) iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		r.mu.RLock()
		entries := r.records[sessionID][namespace]
		snapshot := make([]Record, 0, len(entries))
		for _, rec := range entries {
			snapshot = append(snapshot, *rec)
		}
		r.mu.RUnlock()

		for _, rec := range snapshot {
			if !yield(rec.ID, rec) {
				return
			}
		}
	}
}

// Delete removes a terminal and closes its handle. Missing keys are a no-op.
func (r *Registry) Delete(sessionID, namespace string, id int) {
	r.mu.Lock()
	entries := r.records[sessionID][namespace]
	rec, ok := entries[id]
	if ok {
		delete(entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := rec.Terminal.Close(); err != nil {
		r.logger.Warn("failed to close terminal", zap.Int("id", id), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.TerminalDeleted()
	}
	r.logger.Debug("terminal deleted",
		zap.String("session", sessionID),
		zap.String("namespace", namespace),
		zap.Int("id", id),
	)
}

// Sessions returns the ids of sessions that have ever created a terminal.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.counters))
	for sessionID := range r.counters {
		out = append(out, sessionID)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Namespaces returns the namespaces known for a session.
func (r *Registry) Namespaces(sessionID string) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.records[sessionID]))
	for namespace := range r.records[sessionID] {
		out = append(out, namespace)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Close closes every terminal. Records stay registered so ids are not reused.
func (r *Registry) Close() {
	r.mu.RLock()
	var handles []*Terminal
	for _, namespaces := range r.records {
		for _, entries := range namespaces {
			for _, rec := range entries {
				handles = append(handles, rec.Terminal)
			}
		}
	}
	r.mu.RUnlock()

	for _, term := range handles {
		term.Close()
	}
}
