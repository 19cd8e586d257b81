// Package collector gathers notification lines from a session into a bounded
// ring buffer so they can be consumed after the fact, e.g. once a listen
// window has elapsed.
package collector

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/bleready/internal/groutine"
)

// Record is one collected line
type Record struct {
	Line string
	At   time.Time
}

// Metrics are updated atomically and safe to read while collecting
type Metrics struct {
	RecordsCollected   int64
	RecordsOverwritten int64
	ErrorsOccurred     int64
}

func (m *Metrics) collected(overwrites uint32) {
	atomic.AddInt64(&m.RecordsCollected, 1)
	atomic.AddInt64(&m.RecordsOverwritten, int64(overwrites))
}

func (m *Metrics) failed() {
	atomic.AddInt64(&m.ErrorsOccurred, 1)
}

func (m *Metrics) snapshot() Metrics {
	return Metrics{
		RecordsCollected:   atomic.LoadInt64(&m.RecordsCollected),
		RecordsOverwritten: atomic.LoadInt64(&m.RecordsOverwritten),
		ErrorsOccurred:     atomic.LoadInt64(&m.ErrorsOccurred),
	}
}

const (
	StateNotRunning uint32 = iota
	StateRunning
	StateStopping

	// MaxBufferSize guards against accidental misconfiguration
	MaxBufferSize uint32 = 1024 * 1024
)

// Collector moves lines from a channel into an overwriting ring buffer.
// When the buffer is full the oldest records are replaced.
type Collector struct {
	lines   <-chan string
	buffer  mpmc.RichOverlappedRingBuffer[Record]
	stop    chan struct{}
	done    chan struct{}
	onError func(error)
	metrics Metrics
	state   uint32
	now     func() time.Time
}

// New creates a collector over lines. onError is called on unexpected
// buffer errors; if nil, such errors panic.
func New(lines <-chan string, bufferSize uint32, onError func(error)) (*Collector, error) {
	if lines == nil {
		return nil, fmt.Errorf("lines channel cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("collector: %v", err))
		}
	}

	return &Collector{
		lines:   lines,
		buffer:  mpmc.NewOverlappedRingBuffer[Record](bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
		state:   StateNotRunning,
		now:     time.Now,
	}, nil
}

// Start begins collecting. It returns an error if already running.
// Collection ends on Stop or when the lines channel is closed.
func (c *Collector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, StateNotRunning, StateRunning) {
		switch state := atomic.LoadUint32(&c.state); state {
		case StateRunning:
			return fmt.Errorf("collector is already running")
		case StateStopping:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		default:
			return fmt.Errorf("collector is in unknown state %d", state)
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done

	groutine.Go(context.Background(), "line-collector", func(context.Context) {
		defer func() {
			close(done)
			atomic.StoreUint32(&c.state, StateNotRunning)
		}()
		for {
			select {
			case <-stop:
				return
			case line, ok := <-c.lines:
				if !ok {
					return
				}
				overwrites, err := c.buffer.EnqueueM(Record{Line: line, At: c.now()})
				if err != nil {
					c.metrics.failed()
					c.onError(fmt.Errorf("unexpected buffer enqueue error: %w", err))
					return
				}
				c.metrics.collected(overwrites)
			}
		}
	})
	return nil
}

// Stop ends collection and waits for the collecting goroutine to exit.
// Records collected so far stay available.
func (c *Collector) Stop() error {
	if !atomic.CompareAndSwapUint32(&c.state, StateRunning, StateStopping) {
		switch state := atomic.LoadUint32(&c.state); state {
		case StateNotRunning:
			return nil
		case StateStopping:
		default:
			return fmt.Errorf("collector is in unknown state %d", state)
		}
	} else {
		close(c.stop)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		<-c.done
		return fmt.Errorf("stop completed but exceeded 5s timeout")
	}
}

// Done is closed when the collecting goroutine exits
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) State() uint32 {
	return atomic.LoadUint32(&c.state)
}

func (c *Collector) Metrics() Metrics {
	return c.metrics.snapshot()
}

// ConsumerFunc receives records one at a time, then a final nil.
// A non-zero result stops consumption early.
type ConsumerFunc[T any] func(rec *Record) (T, error)

// Consume drains buffered records into consumer
func Consume[T any](c *Collector, consumer ConsumerFunc[T]) (T, error) {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("buffer dequeue error: %w", err)
		}

		result, err := consumer(&rec)
		if err != nil {
			return result, err
		}
		if !isZero(result) {
			return result, nil
		}
	}
	return consumer(nil)
}

func isZero[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}

// LinesConsumer collects the line text of every record
func LinesConsumer() ConsumerFunc[[]string] {
	var lines []string
	return func(rec *Record) ([]string, error) {
		if rec == nil {
			return lines, nil
		}
		lines = append(lines, rec.Line)
		return nil, nil
	}
}

// TextConsumer joins every line with a newline
func TextConsumer() ConsumerFunc[string] {
	var b strings.Builder
	return func(rec *Record) (string, error) {
		if rec == nil {
			return b.String(), nil
		}
		b.WriteString(rec.Line)
		b.WriteByte('\n')
		return "", nil
	}
}

// Lines drains the buffered lines
func (c *Collector) Lines() ([]string, error) {
	return Consume(c, LinesConsumer())
}
