package tinygo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	"tinygo.org/x/bluetooth"
)

type peripheral struct {
	platform *Platform
	address  bluetooth.Address
	name     string
}

func (p *peripheral) Name() string    { return p.name }
func (p *peripheral) Address() string { return p.address.String() }

// Connect opens a GATT connection. The adapter honours the deadline of ctx
// as its connection timeout; cancellation without a deadline is observed
// only after Adapter.Connect returns.
func (p *peripheral) Connect(ctx context.Context) (device.GATTServer, error) {
	logger := p.platform.logger.WithField("address", p.address.String())
	logger.Debug("Connecting to BLE device...")

	var params bluetooth.ConnectionParams
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	var dev bluetooth.Device
	err := device.Do(ctx, func() error {
		var cerr error
		dev, cerr = p.platform.adapter.Connect(p.address, params)
		return cerr
	})
	if err != nil {
		logger.WithField("error", err).Error("Failed to connect to BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", p.address.String(), normalizeError(err))
	}

	s := &gattServer{
		dev:    dev,
		key:    p.address.String(),
		logger: p.platform.logger,
		done:   make(chan struct{}),
		owner:  p.platform,
	}
	s.connected.Store(true)
	p.platform.servers.Set(s.key, s)

	logger.Info("GATT server connected")
	return s, nil
}

type gattServer struct {
	dev       bluetooth.Device
	key       string
	logger    *logrus.Logger
	owner     *Platform
	connected atomic.Bool

	doneOnce sync.Once
	done     chan struct{}
}

func (s *gattServer) Connected() bool               { return s.connected.Load() }
func (s *gattServer) Disconnected() <-chan struct{} { return s.done }

func (s *gattServer) release() {
	s.owner.servers.Del(s.key)
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *gattServer) linkLost() {
	if s.connected.CompareAndSwap(true, false) {
		s.logger.WithField("address", s.key).Warn("BLE stack reported disconnection")
	}
	s.release()
}

func (s *gattServer) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	if !s.Connected() {
		return nil, device.ErrNotConnected
	}
	svcUUID, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}

	var services []bluetooth.DeviceService
	err = device.Do(ctx, func() error {
		var derr error
		services, derr = s.dev.DiscoverServices([]bluetooth.UUID{svcUUID})
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", normalizeError(err))
	}
	if len(services) == 0 {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}

	s.logger.WithField("service_uuid", services[0].UUID().String()).Debug("Found service UUID")
	return &gattService{svc: services[0], logger: s.logger}, nil
}

func (s *gattServer) Disconnect() error {
	if !s.connected.CompareAndSwap(true, false) {
		s.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	defer s.release()
	if err := s.dev.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", normalizeError(err))
	}
	return nil
}

type gattService struct {
	svc    bluetooth.DeviceService
	logger *logrus.Logger
}

func (s *gattService) UUID() string {
	return device.NormalizeUUID(s.svc.UUID().String())
}

func (s *gattService) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	charUUID, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}

	var chars []bluetooth.DeviceCharacteristic
	err = device.Do(ctx, func() error {
		var derr error
		chars, derr = s.svc.DiscoverCharacteristics([]bluetooth.UUID{charUUID})
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", normalizeError(err))
	}
	if len(chars) == 0 {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.svc.UUID().String(), uuid}}
	}

	s.logger.WithFields(logrus.Fields{
		"service_uuid": s.svc.UUID().String(),
		"char_uuid":    chars[0].UUID().String(),
	}).Debug("Found characteristic UUID")
	return &gattCharacteristic{char: chars[0]}, nil
}

type gattCharacteristic struct {
	char       bluetooth.DeviceCharacteristic
	writeMutex sync.Mutex
}

func (c *gattCharacteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID().String())
}

func (c *gattCharacteristic) StartNotifications(ctx context.Context, handler device.NotificationHandler) error {
	if handler == nil {
		return fmt.Errorf("no notification handler specified")
	}
	err := device.Do(ctx, func() error {
		return c.char.EnableNotifications(func(buf []byte) {
			handler(buf)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to enable notifications: %w", normalizeError(err))
	}
	return nil
}

func (c *gattCharacteristic) WriteValue(ctx context.Context, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	var n int
	err := device.Do(ctx, func() error {
		var werr error
		n, werr = c.char.Write(data)
		return werr
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic: %w", normalizeError(err))
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}
