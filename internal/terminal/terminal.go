package terminal

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

var (
	ErrNotStarted     = errors.New("terminal has no attached process")
	ErrAlreadyStarted = errors.New("terminal already has an attached process")
	ErrClosed         = errors.New("terminal is closed")
	ErrInvalidSize    = errors.New("invalid terminal size")
)

// MaxDimension is the largest column or row count a PTY window can carry.
const MaxDimension = math.MaxUint16

// Options configure a terminal handle
type Options struct {
	Scrollback int  `json:"scrollback"`  // retained lines, 0 keeps everything
	ConvertEOL bool `json:"convert_eol"` // treat a bare LF as CR+LF
	Cols       int  `json:"cols"`
	Rows       int  `json:"rows"`
}

// DefaultOptions returns unbounded scrollback with end-of-line conversion on.
func DefaultOptions() Options {
	return Options{
		Scrollback: 0,
		ConvertEOL: true,
		Cols:       80,
		Rows:       24,
	}
}

func (o Options) normalized() Options {
	if o.Scrollback < 0 {
		o.Scrollback = 0
	}
	if o.Cols <= 0 {
		o.Cols = 80
	}
	if o.Rows <= 0 {
		o.Rows = 24
	}
	o.Cols = min(o.Cols, MaxDimension)
	o.Rows = min(o.Rows, MaxDimension)
	return o
}

// Terminal is a single console: a scrollback screen plus an optional PTY process.
type Terminal struct {
	screen *Screen

	mu        sync.RWMutex
	opts      Options
	cmd       *exec.Cmd
	ptmx      *os.File
	startedAt time.Time
	exitCode  int
	exited    bool
	closed    bool
	done      chan struct{}
}

// New creates a detached terminal.
func New(opts Options) *Terminal {
	opts = opts.normalized()
	return &Terminal{
		screen: NewScreen(opts.Scrollback, opts.ConvertEOL),
		opts:   opts,
	}
}

// Options returns the terminal's configuration, including the current size.
func (t *Terminal) Options() Options {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opts
}

// Write renders output onto the terminal's screen.
func (t *Terminal) Write(p []byte) (int, error) {
	return t.screen.Write(p)
}

// Lines returns the retained scrollback.
func (t *Terminal) Lines() []string {
	return t.screen.Lines()
}

// String returns the retained scrollback as text.
func (t *Terminal) String() string {
	return t.screen.String()
}

// Clear empties the scrollback.
func (t *Terminal) Clear() {
	t.screen.Reset()
}

// Start attaches a shell through a PTY. Output is rendered onto the screen
// until the process exits.
func (t *Terminal) Start(shell, workingDir string, env map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.cmd != nil {
		return ErrAlreadyStarted
	}

	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
	}

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(t.opts.Rows),
		Cols: uint16(t.opts.Cols),
	})
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	t.cmd = cmd
	t.ptmx = ptmx
	t.startedAt = time.Now()
	t.done = make(chan struct{})

	drained := make(chan struct{})
	go func() {
		t.readOutput(ptmx)
		close(drained)
	}()
	go t.monitorProcess(cmd, drained, t.done)

	return nil
}

// readOutput copies PTY output onto the screen
func (t *Terminal) readOutput(ptmx *os.File) {
	// The PTY returns EIO once the child exits; either way the copy is over
	_, _ = io.Copy(t.screen, ptmx)
}

// monitorProcess waits for the process and records its exit code
func (t *Terminal) monitorProcess(cmd *exec.Cmd, drained <-chan struct{}, done chan struct{}) {
	err := cmd.Wait()

	// Let the reader flush what the child wrote before it exited. Grandchildren
	// holding the PTY open would keep it blocked, hence the bound.
	select {
	case <-drained:
	case <-time.After(time.Second):
	}

	t.mu.Lock()
	t.exited = true
	t.exitCode = 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		t.exitCode = exitErr.ExitCode()
	}
	if t.ptmx != nil {
		t.ptmx.Close()
	}
	t.mu.Unlock()

	close(done)
}

// Input sends keystrokes to the attached process.
func (t *Terminal) Input(p []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrClosed
	}
	if t.ptmx == nil || t.exited {
		return ErrNotStarted
	}

	_, err := t.ptmx.Write(p)
	return err
}

// Resize changes the terminal dimensions.
func (t *Terminal) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > MaxDimension || rows > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, cols, rows)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	t.opts.Cols = cols
	t.opts.Rows = rows

	if t.ptmx == nil || t.exited {
		return nil
	}
	return pty.Setsize(t.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Done is closed when the attached process exits. Nil if never started.
func (t *Terminal) Done() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.done
}

// Close kills the attached process, if any. Safe to call more than once.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.cmd != nil && !t.exited && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	if t.ptmx != nil {
		t.ptmx.Close()
	}
	return nil
}

// Info is the JSON view of a terminal
type Info struct {
	Cols       int        `json:"cols"`
	Rows       int        `json:"rows"`
	Scrollback int        `json:"scrollback"`
	ConvertEOL bool       `json:"convert_eol"`
	Running    bool       `json:"running"`
	Pid        int        `json:"pid,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Closed     bool       `json:"closed"`
}

// Info returns a snapshot of the terminal state
func (t *Terminal) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := Info{
		Cols:       t.opts.Cols,
		Rows:       t.opts.Rows,
		Scrollback: t.opts.Scrollback,
		ConvertEOL: t.opts.ConvertEOL,
		Running:    t.cmd != nil && !t.exited && !t.closed,
		Closed:     t.closed,
	}
	if t.cmd != nil && t.cmd.Process != nil {
		info.Pid = t.cmd.Process.Pid
		started := t.startedAt
		info.StartedAt = &started
	}
	if t.exited {
		code := t.exitCode
		info.ExitCode = &code
	}
	return info
}
