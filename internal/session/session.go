package session

import (
	"sync"

	"github.com/srg/bleready/internal/device"
)

// Session is the state of one chosen peripheral. It is created as soon as
// the chooser returns and filled in step by step while connecting, so a
// failed connect may leave a Session holding only some of its handles.
type Session struct {
	peripheral     device.Peripheral
	server         device.GATTServer
	characteristic device.Characteristic
	framer         *Framer

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(p device.Peripheral, endMarker string) *Session {
	return &Session{
		peripheral: p,
		framer:     NewFramer(endMarker),
		closed:     make(chan struct{}),
	}
}

// Name returns the advertised peripheral name or fallback
func (s *Session) Name(fallback string) string {
	if s.peripheral == nil || s.peripheral.Name() == "" {
		return fallback
	}
	return s.peripheral.Name()
}

// Address of the chosen peripheral, "" when unknown
func (s *Session) Address() string {
	if s.peripheral == nil {
		return ""
	}
	return s.peripheral.Address()
}

func (s *Session) gattConnected() bool {
	return s.server != nil && s.server.Connected()
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
