//go:build test

package ptyio

import (
	"bufio"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPTY(t *testing.T) PTY {
	t.Helper()
	p, err := Open(Options{PollTimeoutMs: 10})
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPTY_WriteReachesSlave(t *testing.T) {
	p := openPTY(t)
	require.NotEmpty(t, p.TTYName())

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()

	n, err := p.Write([]byte("x=1\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	line, err := bufio.NewReader(slave).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "x=1\n", line)
	assert.Eventually(t, func() bool { return p.Stats().WriteBytesTotal == 4 }, time.Second, 5*time.Millisecond)
}

func TestPTY_LinesFromSlave(t *testing.T) {
	p := openPTY(t)

	var mu sync.Mutex
	var lines []string
	p.SetLineCallback(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()

	_, err = slave.Write([]byte("ready\r\n\nsecond\r"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"ready", "second"}, lines, "empty lines MUST be skipped")
	mu.Unlock()
	assert.Equal(t, uint64(2), p.Stats().LinesTotal)
}

func TestPTY_Close(t *testing.T) {
	p, err := Open(Options{PollTimeoutMs: 10})
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}

	n, err := p.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "second Close MUST be a no-op")

	_, err = p.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
