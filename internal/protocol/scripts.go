package protocol

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/shared/id"
)

const (
	scriptExt      = ".js"
	reloadDebounce = 500 * time.Millisecond
)

// DirStore keeps one script per instance as <instanceID>.js in a directory.
// Bodies are cached until the file changes.
type DirStore struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
	epoch uint64            // bumped on invalidation so in-flight reads are not cached
	known map[string]string // last body written by Put or reported as changed

	onChange func(instanceIDs []string)
}

// NewDirStore creates the directory if needed and returns a store over it.
func NewDirStore(dir string, logger *zap.Logger) (*DirStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scripts directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scripts directory: %w", err)
	}
	return &DirStore{
		dir:    abs,
		logger: logger,
		cache:  make(map[string]string),
		known:  make(map[string]string),
	}, nil
}

// OnChange registers a callback receiving the instances whose scripts changed
// on disk. Calls are debounced, and writes made through Put or Remove are
// not reported.
func (s *DirStore) OnChange(fn func(instanceIDs []string)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Dir returns the backing directory
func (s *DirStore) Dir() string {
	return s.dir
}

// ActiveScriptBody returns the current script for an instance.
func (s *DirStore) ActiveScriptBody(ctx context.Context, instanceID string) (string, error) {
	if !id.IsToken(instanceID) {
		return "", fmt.Errorf("%w: invalid instance %q", ErrScriptNotFound, instanceID)
	}

	s.mu.RLock()
	body, ok := s.cache[instanceID]
	epoch := s.epoch
	s.mu.RUnlock()
	if ok {
		return body, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.path(instanceID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: instance %q", ErrScriptNotFound, instanceID)
		}
		return "", fmt.Errorf("failed to read script: %w", err)
	}

	body = string(data)
	s.mu.Lock()
	if s.epoch == epoch {
		s.cache[instanceID] = body
	}
	s.mu.Unlock()
	return body, nil
}

// Put stores the script for an instance, replacing any previous one.
func (s *DirStore) Put(instanceID, body string) error {
	if !id.IsToken(instanceID) {
		return fmt.Errorf("invalid instance id %q", instanceID)
	}

	tmp, err := os.CreateTemp(s.dir, "."+instanceID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create script file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(instanceID)); err != nil {
		return fmt.Errorf("failed to store script: %w", err)
	}

	s.mu.Lock()
	s.cache[instanceID] = body
	s.known[instanceID] = body
	s.mu.Unlock()

	s.logger.Debug("script stored", zap.String("instance", instanceID), zap.Int("bytes", len(body)))
	return nil
}

// Remove deletes an instance's script. Missing scripts are not an error.
func (s *DirStore) Remove(instanceID string) error {
	if !id.IsToken(instanceID) {
		return fmt.Errorf("invalid instance id %q", instanceID)
	}

	s.Invalidate(instanceID)
	s.mu.Lock()
	delete(s.known, instanceID)
	s.mu.Unlock()
	if err := os.Remove(s.path(instanceID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove script: %w", err)
	}
	return nil
}

// List returns the instances that have a script, sorted.
func (s *DirStore) List() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.dir), "*"+scriptExt)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		instanceID := strings.TrimSuffix(match, scriptExt)
		if id.IsToken(instanceID) {
			ids = append(ids, instanceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate drops an instance's cached body
func (s *DirStore) Invalidate(instanceID string) {
	s.mu.Lock()
	delete(s.cache, instanceID)
	s.epoch++
	s.mu.Unlock()
}

// Watch invalidates cached bodies when their files change on disk. The
// watch is registered before Watch returns and runs until ctx is done.
func (s *DirStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %q: %w", s.dir, err)
	}

	go s.watch(ctx, watcher)
	return nil
}

func (s *DirStore) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var (
		debounce *time.Timer
		pendMu   sync.Mutex
		pending  = make(map[string]struct{})
	)

	flush := func() {
		pendMu.Lock()
		changed := make([]string, 0, len(pending))
		for instanceID := range pending {
			if s.settle(instanceID) {
				changed = append(changed, instanceID)
			}
		}
		pending = make(map[string]struct{})
		pendMu.Unlock()

		if len(changed) == 0 {
			return
		}
		sort.Strings(changed)
		s.logger.Info("scripts changed on disk", zap.Strings("instances", changed))

		s.mu.RLock()
		fn := s.onChange
		s.mu.RUnlock()
		if fn != nil {
			fn(changed)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			instanceID, ok := s.instanceFor(event.Name)
			if !ok {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Drop the cache right away so readers never see a stale body
			s.Invalidate(instanceID)

			pendMu.Lock()
			pending[instanceID] = struct{}{}
			pendMu.Unlock()

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, flush)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// settle records the on-disk body of instanceID and reports whether it
// differs from the last known one.
func (s *DirStore) settle(instanceID string) bool {
	data, err := os.ReadFile(s.path(instanceID))

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.known[instanceID]
	if err != nil {
		delete(s.known, instanceID)
		return had
	}
	s.known[instanceID] = string(data)
	return !had || prev != string(data)
}

// instanceFor maps a watched file name back to its instance id
func (s *DirStore) instanceFor(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, scriptExt) {
		return "", false
	}
	instanceID := strings.TrimSuffix(base, scriptExt)
	return instanceID, id.IsToken(instanceID)
}

func (s *DirStore) path(instanceID string) string {
	return filepath.Join(s.dir, instanceID+scriptExt)
}
