//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockBLEDevice is a testify mock of ble.Device. Only the calls the go-ble
// backend makes are mocked; the embedded interface stays nil, so anything
// else panics.
type MockBLEDevice struct {
	mock.Mock
	ble.Device
}

func (m *MockBLEDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockBLEDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

func (m *MockBLEDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockBLEClient is a testify mock of ble.Client. Disconnected is backed by a
// real channel closed by CancelConnection or DropLink.
type MockBLEClient struct {
	mock.Mock
	ble.Client

	doneOnce sync.Once
	done     chan struct{}
}

func NewMockBLEClient() *MockBLEClient {
	return &MockBLEClient{done: make(chan struct{})}
}

func (m *MockBLEClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	s, _ := args.Get(0).([]*ble.Service)
	return s, args.Error(1)
}

func (m *MockBLEClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	c, _ := args.Get(0).([]*ble.Characteristic)
	return c, args.Error(1)
}

func (m *MockBLEClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	d, _ := args.Get(0).([]*ble.Descriptor)
	return d, args.Error(1)
}

func (m *MockBLEClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockBLEClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockBLEClient) CancelConnection() error {
	args := m.Called()
	m.DropLink()
	return args.Error(0)
}

func (m *MockBLEClient) Disconnected() <-chan struct{} {
	return m.done
}

// DropLink simulates the peripheral going away
func (m *MockBLEClient) DropLink() {
	m.doneOnce.Do(func() { close(m.done) })
}

// MockBLEAdvertisement is a fixed ble.Advertisement
type MockBLEAdvertisement struct {
	ble.Advertisement

	Name        string
	Address     string
	SignalRSSI  int
	UUIDs       []string
	NotConnable bool
}

func (a *MockBLEAdvertisement) LocalName() string { return a.Name }
func (a *MockBLEAdvertisement) Addr() ble.Addr    { return ble.NewAddr(a.Address) }
func (a *MockBLEAdvertisement) RSSI() int         { return a.SignalRSSI }
func (a *MockBLEAdvertisement) Connectable() bool { return !a.NotConnable }

func (a *MockBLEAdvertisement) Services() []ble.UUID {
	uuids := make([]ble.UUID, 0, len(a.UUIDs))
	for _, u := range a.UUIDs {
		uuids = append(uuids, ble.MustParse(u))
	}
	return uuids
}

var (
	_ ble.Device        = (*MockBLEDevice)(nil)
	_ ble.Client        = (*MockBLEClient)(nil)
	_ ble.Advertisement = (*MockBLEAdvertisement)(nil)
)
