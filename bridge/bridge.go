// Package bridge exposes a BLE session as a pseudo-terminal: every decoded
// notification line is written to the PTY, and every line typed into the
// PTY sends the ready command once.
package bridge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/groutine"
	"github.com/srg/bleready/internal/ptyio"
	"github.com/srg/bleready/internal/session"
)

const (
	// DefaultPtyReadBufferSize is the size, in bytes, of the ring buffer for input typed on the PTY
	DefaultPtyReadBufferSize = 1000

	// DefaultPtyWriteBufferSize is the size, in bytes, of the ring buffer for lines written to the PTY
	DefaultPtyWriteBufferSize = 4000
)

// Bridge is a running session/PTY pair
type Bridge interface {
	TTYName() string    // slave device path
	TTYSymlink() string // symlink path (empty if not created)
	PTY() ptyio.PTY
	Controller() *session.Controller
}

// Options configures Run
type Options struct {
	Logger             *logrus.Logger
	ConnectTimeout     time.Duration // 0 = no limit
	PtyReadBufferSize  int           // 0 = DefaultPtyReadBufferSize
	PtyWriteBufferSize int           // 0 = DefaultPtyWriteBufferSize
	TTYSymlinkPath     string        // optional symlink to the PTY slave, e.g. /tmp/bleready
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// Callback runs with the live bridge; the bridge is torn down when it returns
type Callback[R any] func(Bridge) (R, error)

type bridgeImpl struct {
	ctrl           *session.Controller
	pty            ptyio.PTY
	ttySymlinkPath string
}

func (b *bridgeImpl) TTYName() string                 { return b.pty.TTYName() }
func (b *bridgeImpl) TTYSymlink() string              { return b.ttySymlinkPath }
func (b *bridgeImpl) PTY() ptyio.PTY                  { return b.pty }
func (b *bridgeImpl) Controller() *session.Controller { return b.ctrl }

// Run connects ctrl, creates the PTY and executes callback with the bridge.
// On return the PTY is closed and the session disconnected.
func Run[R any](
	ctx context.Context,
	ctrl *session.Controller,
	opts *Options,
	progress ProgressCallback,
	callback Callback[R],
) (R, error) {
	var zero R

	if ctrl == nil {
		return zero, fmt.Errorf("failed to execute bridge: controller is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		pty            ptyio.PTY
		ttySymlinkPath string
	)
	defer func() {
		if ttySymlinkPath != "" {
			if err := os.Remove(ttySymlinkPath); err != nil {
				logger.WithError(err).WithField("ttySymlink", ttySymlinkPath).Warn("Failed to remove tty symlink")
			}
		}
		if pty != nil {
			_ = pty.Close()
		}
		_ = ctrl.Disconnect()
	}()

	progress("Connecting")
	connectCtx, connectCancel := bridgeCtx, context.CancelFunc(func() {})
	if opts.ConnectTimeout > 0 {
		connectCtx, connectCancel = context.WithTimeout(bridgeCtx, opts.ConnectTimeout)
	}
	err := ctrl.Connect(connectCtx)
	connectCancel()
	if err != nil {
		progress("Failed")
		return zero, fmt.Errorf("failed to connect: %w", err)
	}
	progress("Connected")

	progress("Setting up PTY")
	readSize := opts.PtyReadBufferSize
	if readSize == 0 {
		readSize = DefaultPtyReadBufferSize
	}
	writeSize := opts.PtyWriteBufferSize
	if writeSize == 0 {
		writeSize = DefaultPtyWriteBufferSize
	}

	pty, err = ptyio.Open(ptyio.Options{
		ReadCap:  readSize,
		WriteCap: writeSize,
		Logger:   logger,
		OnError: func(err error) {
			logger.WithError(err).Error("PTY failed")
		},
	})
	if err != nil {
		return zero, err
	}
	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		ttySymlinkPath = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": ttySymlinkPath,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	pty.SetLineCallback(func(line string) {
		logger.WithField("line", line).Debug("PTY input, sending ready command")
		_ = ctrl.SendReady(bridgeCtx)
	})
	forwardLines(bridgeCtx, ctrl, pty, logger)

	progress("Running")
	return callback(&bridgeImpl{ctrl: ctrl, pty: pty, ttySymlinkPath: ttySymlinkPath})
}

func forwardLines(ctx context.Context, ctrl *session.Controller, pty ptyio.PTY, logger *logrus.Logger) {
	lines := ctrl.Lines()
	groutine.Go(ctx, "bridge-line-forwarder", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				if _, err := pty.Write([]byte(line + "\n")); err != nil {
					logger.WithError(err).WithField("goroutine", groutine.GetName(ctx)).Debug("PTY write failed")
					return
				}
			}
		}
	})
}
