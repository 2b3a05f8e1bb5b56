package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/BishopFox/sliver-gui-sub001/internal/gateway"
)

// ErrTimeout is returned when a callback exceeds the execution budget
var ErrTimeout = errors.New("execution timeout exceeded")

// Inbound receives text posted by the script
type Inbound interface {
	HandleInbound(raw string, claimed gateway.Origin)
}

// Worker is a single sandboxed script with its own event loop.
type Worker struct {
	id     string
	config Config
	loader Loader
	logger *zap.Logger

	// owned by the loop goroutine once started
	vm        *goja.Runtime
	timers    map[int64]*time.Timer
	nextTimer int64

	inbound  Inbound
	tasks    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	mu        sync.RWMutex
	state     State
	startedAt time.Time
	lastErr   error
	console   []LogEntry

	posted    atomic.Uint64
	delivered atomic.Uint64
}

// NewWorker creates a stopped worker for an instance.
func NewWorker(instanceID string, config Config, loader Loader, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	w := &Worker{
		id:     instanceID,
		config: config,
		loader: loader,
		logger: logger.With(zap.String("instance", instanceID)),
		vm:     goja.New(),
		timers: make(map[int64]*time.Timer),
		tasks:  make(chan func(), config.QueueSize),
		stop:   make(chan struct{}),
		state:  StateStarting,
	}
	w.setupGlobals()
	return w
}

// ID returns the instance id
func (w *Worker) ID() string {
	return w.id
}

// Attach sets where postMessage text goes. Call before Start.
func (w *Worker) Attach(inbound Inbound) {
	w.inbound = inbound
}

// Start loads the worker's code from the virtual scheme, starts the event
// loop and runs the script's top level.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	codeURL := w.loader.URL(w.id, "code.js")
	resp, err := w.loader.Serve(ctx, codeURL)
	if err != nil {
		w.fail(err)
		w.Stop()
		return fmt.Errorf("failed to load worker code: %w", err)
	}

	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()

	go w.loop()

	err = w.exec(ctx, func(vm *goja.Runtime) error {
		_, err := vm.RunScript(codeURL, string(resp.Data))
		return err
	})
	if err != nil {
		w.fail(err)
		w.Stop()
		return fmt.Errorf("worker script failed: %w", err)
	}

	w.mu.Lock()
	if w.state == StateStarting {
		w.state = StateRunning
	}
	w.mu.Unlock()

	w.logger.Info("worker started")
	return nil
}

// Eval runs source on the event loop and returns its exported value.
func (w *Worker) Eval(ctx context.Context, source string) (any, error) {
	var value any
	err := w.exec(ctx, func(vm *goja.Runtime) error {
		v, err := vm.RunString(source)
		if err != nil {
			return err
		}
		if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			value = v.Export()
		}
		return nil
	})
	return value, err
}

// Deliver implements gateway.Sink. The envelope is queued for the script's
// onmessage handler; it never blocks.
func (w *Worker) Deliver(env gateway.Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return err
	}
	text := string(data)

	select {
	case <-w.stop:
		return ErrStopped
	default:
	}

	select {
	case w.tasks <- func() { w.dispatchMessage(text) }:
		w.delivered.Add(1)
		return nil
	case <-w.stop:
		return ErrStopped
	default:
		return ErrQueueFull
	}
}

// Stop terminates the event loop, interrupting any running callback.
// Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.vm.Interrupt(ErrStopped)

		w.mu.Lock()
		if w.state != StateFailed {
			w.state = StateStopped
		}
		w.mu.Unlock()

		w.logger.Info("worker stopped")
	})
}

// Done is closed once the worker stops
func (w *Worker) Done() <-chan struct{} {
	return w.stop
}

// Info returns a snapshot of the worker
func (w *Worker) Info() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()

	info := Info{
		ID:        w.id,
		State:     w.state,
		StartedAt: w.startedAt,
		Posted:    w.posted.Load(),
		Delivered: w.delivered.Load(),
	}
	if w.lastErr != nil {
		info.Error = w.lastErr.Error()
	}
	return info
}

// Console returns the retained console output
func (w *Worker) Console() []LogEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]LogEntry(nil), w.console...)
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.state = StateFailed
	w.lastErr = err
	w.mu.Unlock()
	w.logger.Warn("worker failed", zap.Error(err))
}

func (w *Worker) loop() {
	defer w.clearTimers()

	for {
		select {
		case <-w.stop:
			return
		case task := <-w.tasks:
			task()
		}
	}
}

// exec runs fn on the event loop and waits for it
func (w *Worker) exec(ctx context.Context, fn func(*goja.Runtime) error) error {
	result := make(chan error, 1)
	task := func() { result <- w.guard(fn) }

	select {
	case w.tasks <- task:
	case <-w.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-w.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue schedules a task from outside the loop, waiting for room
func (w *Worker) enqueue(task func()) {
	select {
	case w.tasks <- task:
	case <-w.stop:
	}
}

// guard runs fn under the execution budget. Runs on the loop goroutine.
func (w *Worker) guard(fn func(*goja.Runtime) error) (err error) {
	var timer *time.Timer
	if w.config.Timeout > 0 {
		timer = time.AfterFunc(w.config.Timeout, func() {
			w.vm.Interrupt(ErrTimeout)
		})
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker panic: %v", rec)
		}
		if timer != nil {
			timer.Stop()
		}
		select {
		case <-w.stop:
			// keep the stop interrupt armed
		default:
			w.vm.ClearInterrupt()
		}
	}()

	err = fn(w.vm)

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
	}
	return err
}

// runCallback runs a script callback and logs its failure
func (w *Worker) runCallback(kind string, fn func(*goja.Runtime) error) {
	if err := w.guard(fn); err != nil {
		if errors.Is(err, ErrStopped) {
			return
		}
		w.logger.Warn("worker callback failed", zap.String("callback", kind), zap.Error(err))
	}
}

func (w *Worker) dispatchMessage(text string) {
	handler, ok := goja.AssertFunction(w.vm.Get("onmessage"))
	if !ok {
		w.logger.Debug("message dropped, no onmessage handler")
		return
	}

	w.runCallback("onmessage", func(vm *goja.Runtime) error {
		event := vm.NewObject()
		if err := event.Set("data", text); err != nil {
			return err
		}
		_, err := handler(goja.Undefined(), event)
		return err
	})
}

// setupGlobals installs the worker scope and removes host-only globals
func (w *Worker) setupGlobals() {
	vm := w.vm
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	vm.Set("self", vm.GlobalObject())
	vm.Set("postMessage", w.postMessage)
	vm.Set("setTimeout", w.setTimeout)
	vm.Set("clearTimeout", w.clearTimeout)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		console.Set(level, w.makeConsoleFunc(level))
	}
	vm.Set("console", console)
}

func (w *Worker) postMessage(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)

	var text string
	if s, ok := arg.Export().(string); ok {
		text = s
	} else {
		data, err := sonic.Marshal(arg.Export())
		if err != nil {
			panic(w.vm.NewTypeError("postMessage: %v", err))
		}
		text = string(data)
	}

	w.posted.Add(1)
	if w.inbound == nil {
		w.logger.Debug("message dropped, worker not attached")
		return goja.Undefined()
	}
	w.inbound.HandleInbound(text, w.config.Origin)
	return goja.Undefined()
}

func (w *Worker) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(w.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	w.nextTimer++
	timerID := w.nextTimer
	w.timers[timerID] = time.AfterFunc(delay, func() {
		w.enqueue(func() {
			if _, pending := w.timers[timerID]; !pending {
				return
			}
			delete(w.timers, timerID)
			w.runCallback("timer", func(*goja.Runtime) error {
				_, err := fn(goja.Undefined())
				return err
			})
		})
	})
	return w.vm.ToValue(timerID)
}

func (w *Worker) clearTimeout(call goja.FunctionCall) goja.Value {
	timerID := call.Argument(0).ToInteger()
	if timer, ok := w.timers[timerID]; ok {
		timer.Stop()
		delete(w.timers, timerID)
	}
	return goja.Undefined()
}

func (w *Worker) clearTimers() {
	for timerID, timer := range w.timers {
		timer.Stop()
		delete(w.timers, timerID)
	}
}

// makeConsoleFunc creates a console function
func (w *Worker) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		msg := strings.Join(parts, " ")

		w.mu.Lock()
		w.console = append(w.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		if limit := w.config.ConsoleLimit; limit > 0 && len(w.console) > limit {
			w.console = append([]LogEntry(nil), w.console[len(w.console)-limit:]...)
		}
		w.mu.Unlock()

		if !w.config.EnableConsole {
			return goja.Undefined()
		}
		switch level {
		case "error":
			w.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			w.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			w.logger.Debug(msg, zap.String("source", "console"))
		default:
			w.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}
