package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/groutine"
)

// ----------------------------
// Peripheral
// ----------------------------

type peripheral struct {
	platform *Platform
	addr     ble.Addr
	name     string
}

func (p *peripheral) Name() string    { return p.name }
func (p *peripheral) Address() string { return p.addr.String() }

// Connect dials the peripheral and starts watching for link loss
func (p *peripheral) Connect(ctx context.Context) (device.GATTServer, error) {
	logger := p.platform.logger.WithField("address", p.addr.String())

	dev, err := p.platform.device()
	if err != nil {
		return nil, err
	}

	logger.Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, p.addr)
	if err != nil {
		logger.WithField("error", err).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", p.addr.String(), NormalizeError(err))
	}

	s := &gattServer{
		client: client,
		logger: p.platform.logger,
		done:   make(chan struct{}),
	}
	s.connected.Store(true)

	groutine.Go(context.Background(), "goble-link-monitor", func(context.Context) {
		<-client.Disconnected()
		if s.connected.CompareAndSwap(true, false) {
			logger.Warn("BLE stack reported disconnection")
		}
		s.closeDone()
	})

	logger.Info("GATT server connected")
	return s, nil
}

// ----------------------------
// GATT server
// ----------------------------

type gattServer struct {
	client    ble.Client
	logger    *logrus.Logger
	connected atomic.Bool

	doneOnce sync.Once
	done     chan struct{}
}

func (s *gattServer) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *gattServer) Connected() bool {
	return s.connected.Load()
}

func (s *gattServer) Disconnected() <-chan struct{} {
	return s.done
}

// PrimaryService discovers a single service by UUID
func (s *gattServer) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	if !s.Connected() {
		return nil, device.ErrNotConnected
	}
	svcUUID, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}

	var services []*ble.Service
	err = device.Do(ctx, func() error {
		var derr error
		services, derr = s.client.DiscoverServices([]ble.UUID{svcUUID})
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", NormalizeError(err))
	}

	for _, svc := range services {
		if svc.UUID.Equal(svcUUID) {
			s.logger.WithField("service_uuid", svc.UUID.String()).Debug("Found service UUID")
			return &gattService{client: s.client, svc: svc, logger: s.logger}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// Disconnect cancels the connection. Subscriptions are left to the stack.
func (s *gattServer) Disconnect() error {
	if !s.connected.CompareAndSwap(true, false) {
		s.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	err := s.client.CancelConnection()
	if err != nil {
		return fmt.Errorf("failed to cancel connection: %w", NormalizeError(err))
	}
	return nil
}

// ----------------------------
// Service
// ----------------------------

type gattService struct {
	client ble.Client
	svc    *ble.Service
	logger *logrus.Logger
}

func (s *gattService) UUID() string {
	return device.NormalizeUUID(s.svc.UUID.String())
}

// Characteristic discovers a single characteristic and its descriptors.
// Descriptors are required so that the CCCD is known before subscribing.
func (s *gattService) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	charUUID, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}

	var found *ble.Characteristic
	err = device.Do(ctx, func() error {
		chars, derr := s.client.DiscoverCharacteristics([]ble.UUID{charUUID}, s.svc)
		if derr != nil {
			return derr
		}
		for _, c := range chars {
			if c.UUID.Equal(charUUID) {
				found = c
				break
			}
		}
		if found == nil {
			return nil
		}
		_, derr = s.client.DiscoverDescriptors(nil, found)
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", NormalizeError(err))
	}
	if found == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.svc.UUID.String(), uuid}}
	}

	s.logger.WithFields(logrus.Fields{
		"service_uuid": s.svc.UUID.String(),
		"char_uuid":    found.UUID.String(),
	}).Debug("Found characteristic UUID")
	return &gattCharacteristic{client: s.client, char: found}, nil
}

// ----------------------------
// Characteristic
// ----------------------------

type gattCharacteristic struct {
	client     ble.Client
	char       *ble.Characteristic
	writeMutex sync.Mutex
}

func (c *gattCharacteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID.String())
}

// StartNotifications subscribes to value changes. Indications are used only
// when the characteristic does not support notifications.
func (c *gattCharacteristic) StartNotifications(ctx context.Context, handler device.NotificationHandler) error {
	if handler == nil {
		return fmt.Errorf("no notification handler specified")
	}
	indicate := c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
	if c.char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications: %w", c.UUID(), device.ErrUnsupported)
	}

	err := device.Do(ctx, func() error {
		return c.client.Subscribe(c.char, indicate, func(data []byte) {
			handler(data)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", NormalizeError(err))
	}
	return nil
}

// WriteValue writes with response when the characteristic supports it
func (c *gattCharacteristic) WriteValue(ctx context.Context, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	noRsp := c.char.Property&ble.CharWrite == 0
	if noRsp && c.char.Property&ble.CharWriteNR == 0 {
		return fmt.Errorf("characteristic %s does not support write operations: %w", c.UUID(), device.ErrUnsupported)
	}

	err := device.Do(ctx, func() error {
		return c.client.WriteCharacteristic(c.char, data, noRsp)
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic: %w", NormalizeError(err))
	}
	return nil
}
