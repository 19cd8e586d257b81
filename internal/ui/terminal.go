// Package ui renders a session on a terminal: a colored status line, the
// console output and the state of the two controls, plus single-key input.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/bleready/internal/session"
)

// Options configures a Terminal
type Options struct {
	Scrollback int  // console bytes kept for replay
	NoColor    bool // plain output, e.g. when stdout is not a terminal
}

// Terminal implements session.Sink on an io.Writer.
// Console lines are also kept in a bounded scrollback; once it is full the
// oldest bytes are evicted.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
	raw bool

	status      string
	label       string
	sendEnabled bool

	scrollback *ringbuffer.RingBuffer

	ok, busy, bad, hint *color.Color
}

// NewTerminal creates a terminal sink writing to out
func NewTerminal(out io.Writer, opts Options) *Terminal {
	if opts.Scrollback <= 0 {
		opts.Scrollback = 64 * 1024
	}
	t := &Terminal{
		out:        out,
		label:      session.LabelConnect,
		scrollback: ringbuffer.New(opts.Scrollback),
		ok:         color.New(color.FgGreen, color.Bold),
		busy:       color.New(color.FgYellow),
		bad:        color.New(color.FgRed, color.Bold),
		hint:       color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{t.ok, t.busy, t.bad, t.hint} {
		if opts.NoColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return t
}

// SetRaw switches line endings to CRLF while the input is in raw mode
func (t *Terminal) SetRaw(raw bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.raw = raw
}

func (t *Terminal) SetStatus(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = text
	t.writeLine(t.statusColor(text).Sprint(text))
}

func (t *Terminal) statusColor(text string) *color.Color {
	switch {
	case strings.Contains(text, "failed"):
		return t.bad
	case strings.Contains(text, "Connecting"):
		return t.busy
	case strings.Contains(text, "onnected to"):
		return t.ok
	default:
		return t.hint
	}
}

func (t *Terminal) AppendConsole(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(line + "\n")
	t.writeLine(line)
}

func (t *Terminal) SetToggleLabel(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.label = label
}

func (t *Terminal) SetSendEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendEnabled = enabled
}

// Status returns the last status text
func (t *Terminal) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Controls renders the key help for the current control state
func (t *Terminal) Controls() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.controls()
}

func (t *Terminal) controls() string {
	send := "[r] Send ready"
	if !t.sendEnabled {
		send += " (disabled)"
	}
	return fmt.Sprintf("[c] %s  %s  [h] History  [q] Quit", t.label, send)
}

// PrintControls writes the key help line
func (t *Terminal) PrintControls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeLine(t.hint.Sprint(t.controls()))
}

// Printf writes a free-form line outside the console record
func (t *Terminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeLine(fmt.Sprintf(format, args...))
}

// Scrollback returns the retained console output without consuming it
func (t *Terminal) Scrollback() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Replay writes the retained console output again
func (t *Terminal) Replay() {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := t.snapshot()
	t.writeLine(t.hint.Sprint("--- history ---"))
	for _, line := range strings.Split(strings.TrimSuffix(history, "\n"), "\n") {
		if line != "" {
			t.writeLine(line)
		}
	}
	t.writeLine(t.hint.Sprint("--- end ---"))
}

// record appends to the scrollback, evicting the oldest bytes when full
func (t *Terminal) record(s string) {
	data := []byte(s)
	capacity := t.scrollback.Capacity()
	if len(data) > capacity {
		data = data[len(data)-capacity:]
	}

	if excess := t.scrollback.Length() + len(data) - capacity; excess > 0 {
		discard := make([]byte, excess)
		if _, err := t.scrollback.TryRead(discard); err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			t.scrollback.Reset()
		}
	}

	if _, err := t.scrollback.Write(data); err != nil && errors.Is(err, ringbuffer.ErrIsFull) {
		t.scrollback.Reset()
		_, _ = t.scrollback.Write(data)
	}
}

// snapshot drains and refills the scrollback; callers hold t.mu
func (t *Terminal) snapshot() string {
	n := t.scrollback.Length()
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	read, _ := t.scrollback.TryRead(buf)
	buf = buf[:read]
	_, _ = t.scrollback.Write(buf)
	return string(buf)
}

func (t *Terminal) writeLine(s string) {
	if t.raw {
		s = strings.ReplaceAll(s, "\n", "\r\n")
		fmt.Fprint(t.out, s+"\r\n")
		return
	}
	fmt.Fprintln(t.out, s)
}

var _ session.Sink = (*Terminal)(nil)
