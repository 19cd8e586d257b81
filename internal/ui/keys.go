package ui

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/groutine"
	"golang.org/x/term"
)

// Action is a user command bound to a key
type Action int

const (
	ActionNone Action = iota
	ActionToggle
	ActionSendReady
	ActionHistory
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionToggle:
		return "toggle"
	case ActionSendReady:
		return "send-ready"
	case ActionHistory:
		return "history"
	case ActionQuit:
		return "quit"
	default:
		return "none"
	}
}

const (
	keyCtrlC = 0x03
	keyCtrlD = 0x04
)

// KeyAction maps a single input byte to an action
func KeyAction(b byte) Action {
	switch b {
	case 'c', 'C':
		return ActionToggle
	case 'r', 'R':
		return ActionSendReady
	case 'h', 'H':
		return ActionHistory
	case 'q', 'Q', keyCtrlC, keyCtrlD:
		return ActionQuit
	default:
		return ActionNone
	}
}

// FdReader is an input that may be a terminal
type FdReader interface {
	io.Reader
	Fd() uintptr
}

// KeyReader turns keystrokes into actions. When the input is a terminal it
// is switched to raw mode for the lifetime of Run, so keys arrive without
// Enter and Ctrl+C arrives as a byte.
type KeyReader struct {
	in     io.Reader
	term   *Terminal
	logger *logrus.Logger
}

func NewKeyReader(in io.Reader, t *Terminal, logger *logrus.Logger) *KeyReader {
	if logger == nil {
		logger = logrus.New()
	}
	return &KeyReader{in: in, term: t, logger: logger}
}

// Run delivers actions to handle until ActionQuit, end of input or ctx done.
// handle runs on the caller's goroutine, one action at a time.
func (k *KeyReader) Run(ctx context.Context, handle func(Action)) error {
	restore, err := k.makeRaw()
	if err != nil {
		return err
	}
	defer restore()

	actions := make(chan Action)
	readErr := make(chan error, 1)

	// the read cannot be interrupted; the goroutine ends with the process
	groutine.Go(ctx, "ui-key-reader", func(ctx context.Context) {
		buf := make([]byte, 1)
		for {
			n, err := k.in.Read(buf)
			if err != nil {
				readErr <- err
				return
			}
			if n == 0 {
				continue
			}
			a := KeyAction(buf[0])
			if a == ActionNone {
				continue
			}
			select {
			case actions <- a:
			case <-ctx.Done():
				return
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		case a := <-actions:
			k.logger.WithField("action", a.String()).Debug("Key action")
			if a == ActionQuit {
				return nil
			}
			handle(a)
		}
	}
}

func (k *KeyReader) makeRaw() (func(), error) {
	f, ok := k.in.(FdReader)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}, nil
	}

	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to set raw mode: %w", err)
	}
	if k.term != nil {
		k.term.SetRaw(true)
	}

	return func() {
		if k.term != nil {
			k.term.SetRaw(false)
		}
		if err := term.Restore(fd, state); err != nil {
			k.logger.WithField("error", err).Warn("Failed to restore terminal")
		}
	}, nil
}
