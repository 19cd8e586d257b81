//go:build test

package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/srg/bleready/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlainTerminal(scrollback int) (*Terminal, *bytes.Buffer) {
	var out bytes.Buffer
	return NewTerminal(&out, Options{Scrollback: scrollback, NoColor: true}), &out
}

func TestTerminal_Sink(t *testing.T) {
	term, out := newPlainTerminal(0)

	term.SetStatus(session.StatusDisconnected)
	term.AppendConsole("Connecting to PowerMeter-01...")
	term.SetToggleLabel(session.LabelDisconnect)
	term.SetSendEnabled(true)

	assert.Equal(t, session.StatusDisconnected, term.Status())
	assert.Equal(t, "Status: Disconnected\nConnecting to PowerMeter-01...\n", out.String())
	assert.Equal(t, "[c] Disconnect from BLE  [r] Send ready  [h] History  [q] Quit", term.Controls())

	term.SetSendEnabled(false)
	assert.Contains(t, term.Controls(), "[r] Send ready (disabled)")
}

func TestTerminal_InitialControls(t *testing.T) {
	term, _ := newPlainTerminal(0)
	assert.Equal(t, "[c] Connect to BLE  [r] Send ready (disabled)  [h] History  [q] Quit", term.Controls())
}

func TestTerminal_RawLineEndings(t *testing.T) {
	term, out := newPlainTerminal(0)
	term.SetRaw(true)

	term.AppendConsole("Complete Data:\na\nend")
	assert.Equal(t, "Complete Data:\r\na\r\nend\r\n", out.String())
}

func TestTerminal_StatusColor(t *testing.T) {
	term, _ := newPlainTerminal(0)

	tests := []struct {
		status string
		want   string
	}{
		{session.StatusConnectionFailed, "bad"},
		{"Status: Connecting to X...", "busy"},
		{"Status: Connected to X", "ok"},
		{"Status: Already connected to X", "ok"},
		{session.StatusDisconnected, "hint"},
	}

	colors := map[string]any{"ok": term.ok, "busy": term.busy, "bad": term.bad, "hint": term.hint}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Same(t, colors[tt.want], term.statusColor(tt.status))
		})
	}
}

func TestTerminal_ScrollbackEviction(t *testing.T) {
	term, _ := newPlainTerminal(16)

	term.AppendConsole("first")  // 6 bytes
	term.AppendConsole("second") // 13 bytes
	assert.Equal(t, "first\nsecond\n", term.Scrollback())
	assert.Equal(t, "first\nsecond\n", term.Scrollback(), "reading scrollback MUST NOT consume it")

	term.AppendConsole("third") // 19 bytes, 3 evicted
	assert.Equal(t, "st\nsecond\nthird\n", term.Scrollback())

	term.AppendConsole("a line longer than the whole scrollback")
	history := term.Scrollback()
	assert.Len(t, history, 16)
	assert.True(t, strings.HasSuffix(history, "scrollback\n"))
}

func TestTerminal_Replay(t *testing.T) {
	term, out := newPlainTerminal(0)
	term.AppendConsole("Received: 1")
	term.AppendConsole("Received: 2")
	out.Reset()

	term.Replay()
	assert.Equal(t, "--- history ---\nReceived: 1\nReceived: 2\n--- end ---\n", out.String())

	out.Reset()
	term.Printf("%d notifications", 2)
	assert.Equal(t, "2 notifications\n", out.String())
	assert.Equal(t, "Received: 1\nReceived: 2\n", term.Scrollback(), "Printf MUST NOT be recorded")
}

func TestKeyAction(t *testing.T) {
	tests := map[byte]Action{
		'c':      ActionToggle,
		'C':      ActionToggle,
		'r':      ActionSendReady,
		'h':      ActionHistory,
		'q':      ActionQuit,
		keyCtrlC: ActionQuit,
		keyCtrlD: ActionQuit,
		'x':      ActionNone,
		'\r':     ActionNone,
	}
	for b, want := range tests {
		assert.Equal(t, want, KeyAction(b), "key %q", b)
	}
	assert.Equal(t, "send-ready", ActionSendReady.String())
	assert.Equal(t, "none", Action(99).String())
}

func TestKeyReader_Run(t *testing.T) {
	term, _ := newPlainTerminal(0)

	t.Run("stops at quit", func(t *testing.T) {
		var got []Action
		reader := NewKeyReader(strings.NewReader("xcrh\rqc"), term, nil)

		err := reader.Run(context.Background(), func(a Action) { got = append(got, a) })
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionToggle, ActionSendReady, ActionHistory}, got)
	})

	t.Run("stops at end of input", func(t *testing.T) {
		var got []Action
		reader := NewKeyReader(strings.NewReader("r"), term, nil)

		err := reader.Run(context.Background(), func(a Action) { got = append(got, a) })
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionSendReady}, got)
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		blocked := &blockingReader{release: make(chan struct{})}
		defer close(blocked.release)

		err := NewKeyReader(blocked, term, nil).Run(ctx, func(Action) {})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

type blockingReader struct {
	release chan struct{}
}

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.release
	return 0, context.Canceled
}
