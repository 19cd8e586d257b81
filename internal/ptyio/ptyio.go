// Package ptyio exposes a pseudo-terminal whose master side is driven by
// background goroutines through ring buffers. Other programs open the slave
// by path (see TTYName) and exchange newline-terminated text with it.
//
//	p, err := ptyio.Open(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	p.SetLineCallback(func(line string) { ... })
//	_, _ = p.Write([]byte("hello\n"))
//
// Writes never block: when the write ring is full the excess is dropped and
// counted in Stats.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/bleready/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// LineCallback receives each line typed on the slave side, without its line
// terminator. It is called from a background goroutine.
type LineCallback func(line string)

// ErrorCallback is invoked at most once per loop when a loop exits on an
// unexpected error. The PTY should be closed afterward.
type ErrorCallback func(err error)

// Options configures Open. Zero values use defaults.
type Options struct {
	ReadCap       int
	WriteCap      int
	MaxLineLength int
	PollTimeoutMs int
	Logger        *logrus.Logger
	OnError       ErrorCallback
}

const (
	DefaultBufferSize    = 4096
	DefaultMaxLineLength = 1024
	DefaultPollTimeoutMs = 50
)

// PTY is the master side of a pseudo-terminal
type PTY interface {
	io.WriteCloser
	TTYName() string
	Stats() Stats
	SetLineCallback(cb LineCallback)
}

// Stats are runtime counters
type Stats struct {
	WriteQueueLen     int
	ReadQueueLen      int
	DroppedWriteCount uint64
	DroppedReadCount  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
	LinesTotal        uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPTY struct {
	logger        *logrus.Logger
	master        *os.File
	slave         *os.File
	ttyName       string
	pollTimeoutMs int
	maxLine       int

	onError        ErrorCallback
	readErrorOnce  sync.Once
	writeErrorOnce sync.Once

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	lineCb     atomic.Value // LineCallback
	readNotify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed uint32

	droppedWrite uint64
	droppedRead  uint64
	readBytes    uint64
	writeBytes   uint64
	lines        uint64
}

// Open creates a PTY pair with the slave in raw mode and starts the I/O loops
func Open(opts Options) (PTY, error) {
	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = noopLogger
	}
	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultBufferSize
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultBufferSize
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = DefaultMaxLineLength
	}
	if opts.PollTimeoutMs <= 0 {
		opts.PollTimeoutMs = DefaultPollTimeoutMs
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:        opts.Logger,
		master:        master,
		slave:         slave,
		ttyName:       slave.Name(),
		pollTimeoutMs: opts.PollTimeoutMs,
		maxLine:       opts.MaxLineLength,
		onError:       opts.OnError,
		writeBuf:      ringbuffer.New(opts.WriteCap),
		readBuf:       ringbuffer.New(opts.ReadCap),
		readNotify:    make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-line-dispatcher", func(context.Context) { p.dispatchLines() })

	p.logger.WithField("tty", p.ttyName).Debug("PTY opened")
	return p, nil
}

func createPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(cause error) error {
		return errors.Join(cause, master.Close(), slave.Close())
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup(fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w", slave.Name(), err))
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup(fmt.Errorf("failed to set PTY(ptyx) %s to nonblocking mode: %w", slave.Name(), err))
	}
	return master, slave, nil
}

func (p *ringPTY) fail(once *sync.Once, loop string, err error) {
	p.logger.WithField("error", err).Warnf("%s exiting on error", loop)
	if p.onError != nil {
		once.Do(func() {
			p.onError(fmt.Errorf("%s critical error: %w", loop, err))
		})
	}
}

func (p *ringPTY) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("writeLoop panicked (recovered): %v", r)
		}
		p.wg.Done()
	}()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.Warnf("writeLoop TryRead error: %v", err)
			continue
		}
		if n == 0 {
			time.Sleep(time.Duration(p.pollTimeoutMs) * time.Millisecond / 5)
			continue
		}

		for offset := 0; offset < n; {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				atomic.AddUint64(&p.writeBytes, uint64(written))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, pollErr := unix.Poll(pollFd, p.pollTimeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
					p.logger.Warnf("writeLoop poll error: %v", pollErr)
				}
				if p.ctx.Err() != nil {
					return
				}
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.fail(&p.writeErrorOnce, "writeLoop", err)
				return
			}
		}
	}
}

func (p *ringPTY) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("readLoop panicked (recovered): %v", r)
		}
		p.wg.Done()
	}()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		nReady, err := unix.Poll(pollFd, p.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.Warnf("readLoop poll error: %v", err)
			continue
		}
		if nReady == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			written, writeErr := p.readBuf.Write(buf[:n])
			if writeErr != nil && !errors.Is(writeErr, ringbuffer.ErrIsFull) {
				p.logger.Warnf("readLoop buffer error: %v", writeErr)
			}
			if written < n {
				atomic.AddUint64(&p.droppedRead, uint64(n-written))
				p.logger.Warnf("Read buffer overflow: dropped %d bytes", n-written)
			}
			atomic.AddUint64(&p.readBytes, uint64(written))
			select {
			case p.readNotify <- struct{}{}:
			default:
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
				// no slave open; wait for the next writer to attach
				time.Sleep(time.Duration(p.pollTimeoutMs) * time.Millisecond)
			default:
				p.fail(&p.readErrorOnce, "readLoop", err)
				return
			}
		}
	}
}

// dispatchLines splits slave input on CR or LF and hands each non-empty
// line to the callback. Overlong lines are cut at the maximum length.
func (p *ringPTY) dispatchLines() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("line dispatcher panicked (recovered): %v", r)
		}
		p.wg.Done()
	}()

	var line strings.Builder
	tmp := make([]byte, 512)

	emit := func() {
		text := line.String()
		line.Reset()
		if text == "" {
			return
		}
		atomic.AddUint64(&p.lines, 1)
		if cb, _ := p.lineCb.Load().(LineCallback); cb != nil {
			p.invoke(cb, text)
		}
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.readNotify:
		}

		for {
			n, err := p.readBuf.TryRead(tmp)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			for _, b := range tmp[:n] {
				switch b {
				case '\r', '\n':
					emit()
				default:
					line.WriteByte(b)
					if line.Len() >= p.maxLine {
						emit()
					}
				}
			}
		}
	}
}

func (p *ringPTY) invoke(cb LineCallback, line string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Line callback panicked")
		}
	}()
	cb(line)
}

// Write queues data for the slave. It never blocks; if the queue is full
// only part of data is taken and n reports how much.
func (p *ringPTY) Write(data []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if written < len(data) {
		atomic.AddUint64(&p.droppedWrite, uint64(len(data)-written))
		p.logger.Warnf("Write buffer overflow: dropped %d bytes", len(data)-written)
	}
	return written, nil
}

func (p *ringPTY) SetLineCallback(cb LineCallback) {
	p.lineCb.Store(cb)
}

func (p *ringPTY) TTYName() string {
	return p.ttyName
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		ReadQueueLen:      p.readBuf.Length(),
		DroppedWriteCount: atomic.LoadUint64(&p.droppedWrite),
		DroppedReadCount:  atomic.LoadUint64(&p.droppedRead),
		ReadBytesTotal:    atomic.LoadUint64(&p.readBytes),
		WriteBytesTotal:   atomic.LoadUint64(&p.writeBytes),
		LinesTotal:        atomic.LoadUint64(&p.lines),
	}
}

// Close stops the loops and closes both ends
func (p *ringPTY) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return nil
	}
	p.cancel()

	err := errors.Join(p.master.Close(), p.slave.Close())

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		p.wg.Wait()
		close(done)
	})

	timeout := 3*time.Duration(p.pollTimeoutMs)*time.Millisecond + time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.WithField("tty", p.ttyName).Errorf("Close timed out after %v waiting for PTY loops", timeout)
	}
	return err
}
