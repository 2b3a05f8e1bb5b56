package terminal

import (
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

const tabWidth = 8

// Screen is a line-oriented scrollback buffer with a single cursor. Control
// sequences act on the current line only; vertical motion is ignored.
type Screen struct {
	mu         sync.RWMutex
	limit      int
	convertEOL bool

	lines   []string
	current []rune
	col     int

	// incomplete UTF-8 or escape sequence held back from the previous write
	pending []byte
}

// NewScreen creates a screen keeping at most limit completed lines (0 keeps everything).
func NewScreen(limit int, convertEOL bool) *Screen {
	if limit < 0 {
		limit = 0
	}
	return &Screen{
		limit:      limit,
		convertEOL: convertEOL,
	}
}

// Write renders output onto the screen.
func (s *Screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk := p
	if len(s.pending) > 0 {
		chunk = append(append([]byte{}, s.pending...), p...)
		s.pending = nil
	}

	if tail := incompleteUTF8Tail(chunk); tail > 0 {
		s.pending = append([]byte{}, chunk[len(chunk)-tail:]...)
		chunk = chunk[:len(chunk)-tail]
	}

	var state byte
	remaining := string(chunk)
	for len(remaining) > 0 {
		seq, width, n, next := ansi.DecodeSequence(remaining, state, nil)
		if n == len(remaining) && (next != ansi.NormalState || seq == "\x1b") {
			// sequence continues in the next write
			s.pending = append([]byte(remaining), s.pending...)
			break
		}
		state = next
		remaining = remaining[n:]

		switch {
		case width > 0:
			for _, r := range seq {
				s.put(r)
			}
		case ansi.HasCsiPrefix(seq):
			s.csi(seq)
		case seq != "" && (seq[0] == ansi.ESC || seq[0] >= 0x80):
			// OSC, DCS and other escapes carry nothing for a text log
		default:
			for _, r := range seq {
				s.control(r)
			}
		}
	}

	s.trim()
	return len(p), nil
}

func (s *Screen) control(r rune) {
	switch r {
	case ansi.CR:
		s.col = 0
	case ansi.LF, ansi.VT, ansi.FF:
		s.lines = append(s.lines, string(s.current))
		s.current = s.current[:0]
		if s.convertEOL {
			s.col = 0
			return
		}
		// Bare line feed: the cursor keeps its column on the new line
		for i := 0; i < s.col; i++ {
			s.current = append(s.current, ' ')
		}
	case ansi.BS:
		if s.col > 0 {
			s.col--
		}
	case ansi.HT:
		s.col += tabWidth - s.col%tabWidth
	}
}

func (s *Screen) put(r rune) {
	s.pad(s.col)
	if s.col < len(s.current) {
		s.current[s.col] = r
	} else {
		s.current = append(s.current, r)
	}
	s.col++
}

func (s *Screen) pad(width int) {
	for len(s.current) < width {
		s.current = append(s.current, ' ')
	}
}

// csi applies the line-local subset of control sequences.
func (s *Screen) csi(seq string) {
	body := seq[1:]
	if seq[0] == ansi.ESC {
		body = seq[2:]
	}
	if body == "" {
		return
	}
	final := body[len(body)-1]
	body = body[:len(body)-1]
	if body != "" && strings.ContainsAny(body[:1], "?<=>") {
		return
	}
	if strings.IndexFunc(body, func(r rune) bool { return r >= 0x20 && r <= 0x2f }) >= 0 {
		return
	}
	params := csiParams(body)

	switch final {
	case 'C': // CUF
		s.col += param(params, 0, 1)
	case 'D': // CUB
		s.col = max(s.col-param(params, 0, 1), 0)
	case 'G', '`': // CHA, HPA
		s.col = param(params, 0, 1) - 1
	case 'H', 'f': // CUP, the row is ignored
		s.col = param(params, 1, 1) - 1
	case 'K': // EL
		switch param(params, 0, 0) {
		case 0:
			if s.col < len(s.current) {
				s.current = s.current[:s.col]
			}
		case 1:
			s.pad(s.col + 1)
			for i := 0; i <= s.col; i++ {
				s.current[i] = ' '
			}
		case 2:
			s.current = s.current[:0]
		}
	case 'J': // ED
		switch param(params, 0, 0) {
		case 0, 2:
			if s.col < len(s.current) {
				s.current = s.current[:s.col]
			}
			if param(params, 0, 0) == 2 {
				s.current = s.current[:0]
			}
		case 3:
			s.lines = nil
			s.current = s.current[:0]
		}
	case 'X': // ECH
		count := param(params, 0, 1)
		for i := s.col; i < s.col+count && i < len(s.current); i++ {
			s.current[i] = ' '
		}
	case 'P': // DCH
		if s.col < len(s.current) {
			end := min(s.col+param(params, 0, 1), len(s.current))
			s.current = append(s.current[:s.col], s.current[end:]...)
		}
	case '@': // ICH
		if s.col < len(s.current) {
			blanks := []rune(strings.Repeat(" ", param(params, 0, 1)))
			s.current = append(s.current[:s.col], append(blanks, s.current[s.col:]...)...)
		}
	}
	if s.col < 0 {
		s.col = 0
	}
}

func csiParams(body string) []int {
	if body == "" {
		return nil
	}
	fields := strings.FieldsFunc(body, func(r rune) bool { return r == ';' || r == ':' })
	params := make([]int, len(fields))
	for i, field := range fields {
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 {
			n = 0
		}
		params[i] = n
	}
	return params
}

// param returns the i-th parameter, or def when it is missing or zero.
func param(params []int, i, def int) int {
	if i >= len(params) || params[i] == 0 {
		return def
	}
	return params[i]
}

func (s *Screen) trim() {
	if s.limit == 0 || len(s.lines) <= s.limit {
		return
	}
	drop := len(s.lines) - s.limit
	kept := make([]string, s.limit)
	copy(kept, s.lines[drop:])
	s.lines = kept
}

// Lines returns the retained lines, including the unterminated current one.
func (s *Screen) Lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.lines), len(s.lines)+1)
	copy(out, s.lines)
	if len(s.current) > 0 {
		out = append(out, string(s.current))
	}
	return out
}

// String joins the retained lines with newlines.
func (s *Screen) String() string {
	return strings.Join(s.Lines(), "\n")
}

// Reset clears the scrollback.
func (s *Screen) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	s.current = s.current[:0]
	s.col = 0
	s.pending = nil
}

// incompleteUTF8Tail returns how many trailing bytes form the start of a
// multi-byte sequence that has not been completed yet.
func incompleteUTF8Tail(b []byte) int {
	n := len(b)
	for i := 1; i <= 3 && i <= n; i++ {
		c := b[n-i]
		if c&0xC0 == 0x80 {
			// continuation byte, keep looking for the lead byte
			continue
		}
		if c&0x80 == 0 {
			return 0
		}
		var need int
		switch {
		case c&0xE0 == 0xC0:
			need = 2
		case c&0xF0 == 0xE0:
			need = 3
		case c&0xF8 == 0xF0:
			need = 4
		default:
			return 0
		}
		if i < need {
			return i
		}
		return 0
	}
	return 0
}
