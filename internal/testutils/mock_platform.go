//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/srg/bleready/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockPlatform is a testify mock of device.Platform
type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) Scan(ctx context.Context, filter device.Filter, handler func(device.Advertisement)) error {
	args := m.Called(ctx, filter, handler)
	return args.Error(0)
}

func (m *MockPlatform) RequestDevice(ctx context.Context, filter device.Filter) (device.Peripheral, error) {
	args := m.Called(ctx, filter)
	p, _ := args.Get(0).(device.Peripheral)
	return p, args.Error(1)
}

// MockPeripheral is a testify mock of device.Peripheral.
// A *MockGATTServer returned from Connect is brought back to the connected state.
type MockPeripheral struct {
	mock.Mock
	name    string
	address string
}

func NewMockPeripheral(name, address string) *MockPeripheral {
	return &MockPeripheral{name: name, address: address}
}

func (m *MockPeripheral) Name() string    { return m.name }
func (m *MockPeripheral) Address() string { return m.address }

func (m *MockPeripheral) Connect(ctx context.Context) (device.GATTServer, error) {
	args := m.Called(ctx)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	s, _ := args.Get(0).(device.GATTServer)
	if ms, ok := s.(*MockGATTServer); ok {
		ms.reconnect()
	}
	return s, nil
}

// MockGATTServer records calls through testify/mock and keeps its own link
// state, so Connected and Disconnected follow Disconnect and DropLink.
type MockGATTServer struct {
	mock.Mock

	mu        sync.Mutex
	connected bool
	done      chan struct{}
}

func NewMockGATTServer() *MockGATTServer {
	done := make(chan struct{})
	close(done)
	return &MockGATTServer{done: done}
}

func (m *MockGATTServer) reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.done = make(chan struct{})
}

func (m *MockGATTServer) drop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return false
	}
	m.connected = false
	close(m.done)
	return true
}

func (m *MockGATTServer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockGATTServer) Disconnected() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *MockGATTServer) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	args := m.Called(ctx, uuid)
	s, _ := args.Get(0).(device.Service)
	return s, args.Error(1)
}

func (m *MockGATTServer) Disconnect() error {
	args := m.Called()
	m.drop()
	return args.Error(0)
}

// DropLink simulates a link loss reported by the BLE stack
func (m *MockGATTServer) DropLink() {
	m.drop()
}

// MockService is a testify mock of device.Service
type MockService struct {
	mock.Mock
	uuid string
}

func NewMockService(uuid string) *MockService {
	return &MockService{uuid: uuid}
}

func (m *MockService) UUID() string { return device.NormalizeUUID(m.uuid) }

func (m *MockService) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	args := m.Called(ctx, uuid)
	c, _ := args.Get(0).(device.Characteristic)
	return c, args.Error(1)
}

// MockCharacteristic is a testify mock of device.Characteristic. The handler
// passed to StartNotifications is kept so tests can push values with Notify.
type MockCharacteristic struct {
	mock.Mock
	uuid string

	mu      sync.Mutex
	handler device.NotificationHandler
}

func NewMockCharacteristic(uuid string) *MockCharacteristic {
	return &MockCharacteristic{uuid: uuid}
}

func (m *MockCharacteristic) UUID() string { return device.NormalizeUUID(m.uuid) }

func (m *MockCharacteristic) StartNotifications(ctx context.Context, handler device.NotificationHandler) error {
	args := m.Called(ctx, handler)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *MockCharacteristic) WriteValue(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

// Notify delivers data to the subscribed handler, as the BLE stack would.
// It reports false when nothing is subscribed.
func (m *MockCharacteristic) Notify(data []byte) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

var (
	_ device.Platform       = (*MockPlatform)(nil)
	_ device.Peripheral     = (*MockPeripheral)(nil)
	_ device.GATTServer     = (*MockGATTServer)(nil)
	_ device.Service        = (*MockService)(nil)
	_ device.Characteristic = (*MockCharacteristic)(nil)
)
