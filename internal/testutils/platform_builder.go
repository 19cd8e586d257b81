//go:build test

package testutils

import (
	"github.com/srg/bleready/internal/device"
	"github.com/stretchr/testify/mock"
)

// PlatformBuilder wires a MockPlatform to a single peripheral with one
// service and one characteristic. Every step succeeds unless a failure is
// injected with one of the With*Error methods.
//
//	b := testutils.NewPlatformBuilder().
//	    WithPeripheral("PowerMeter-01", "AA:BB:CC:DD:EE:FF").
//	    WithService(svcUUID).
//	    WithCharacteristic(charUUID)
//	platform := b.Build()
//	...
//	b.Characteristic().Notify([]byte(" hello "))
type PlatformBuilder struct {
	name, address string
	serviceUUID   string
	charUUID      string
	adverts       []device.Advertisement

	chooserErr error
	connectErr error
	serviceErr error
	charErr    error
	notifyErr  error
	writeErr   error

	onService func()

	platform   *MockPlatform
	peripheral *MockPeripheral
	server     *MockGATTServer
	service    *MockService
	char       *MockCharacteristic
}

func NewPlatformBuilder() *PlatformBuilder {
	return &PlatformBuilder{
		name:    "PowerMeter-01",
		address: "aa:bb:cc:dd:ee:ff",
	}
}

// WithPeripheral sets the chosen peripheral; an empty name exercises the fallback
func (b *PlatformBuilder) WithPeripheral(name, address string) *PlatformBuilder {
	b.name = name
	b.address = address
	return b
}

func (b *PlatformBuilder) WithService(uuid string) *PlatformBuilder {
	b.serviceUUID = uuid
	return b
}

func (b *PlatformBuilder) WithCharacteristic(uuid string) *PlatformBuilder {
	b.charUUID = uuid
	return b
}

// WithAdvertisements sets what Scan reports, in order
func (b *PlatformBuilder) WithAdvertisements(adverts ...device.Advertisement) *PlatformBuilder {
	b.adverts = append(b.adverts, adverts...)
	return b
}

func (b *PlatformBuilder) WithChooserError(err error) *PlatformBuilder {
	b.chooserErr = err
	return b
}

func (b *PlatformBuilder) WithConnectError(err error) *PlatformBuilder {
	b.connectErr = err
	return b
}

func (b *PlatformBuilder) WithServiceError(err error) *PlatformBuilder {
	b.serviceErr = err
	return b
}

func (b *PlatformBuilder) WithCharacteristicError(err error) *PlatformBuilder {
	b.charErr = err
	return b
}

func (b *PlatformBuilder) WithNotifyError(err error) *PlatformBuilder {
	b.notifyErr = err
	return b
}

func (b *PlatformBuilder) WithWriteError(err error) *PlatformBuilder {
	b.writeErr = err
	return b
}

// OnPrimaryService runs fn inside a successful service lookup, while the
// controller is still connecting
func (b *PlatformBuilder) OnPrimaryService(fn func()) *PlatformBuilder {
	b.onService = fn
	return b
}

// Build creates the mocks. Expectations are optional so tests assert only
// on the calls they care about.
func (b *PlatformBuilder) Build() *MockPlatform {
	b.char = NewMockCharacteristic(b.charUUID)
	b.char.On("StartNotifications", mock.Anything, mock.Anything).Return(b.notifyErr).Maybe()
	b.char.On("WriteValue", mock.Anything, mock.Anything).Return(b.writeErr).Maybe()

	b.service = NewMockService(b.serviceUUID)
	if b.charErr != nil {
		b.service.On("Characteristic", mock.Anything, mock.Anything).Return(nil, b.charErr).Maybe()
	} else {
		b.service.On("Characteristic", mock.Anything, b.charUUID).Return(b.char, nil).Maybe()
		b.service.On("Characteristic", mock.Anything, mock.Anything).
			Return(nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{b.serviceUUID, "unknown"}}).Maybe()
	}

	b.server = NewMockGATTServer()
	b.server.On("Disconnect").Return(nil).Maybe()
	if b.serviceErr != nil {
		b.server.On("PrimaryService", mock.Anything, mock.Anything).Return(nil, b.serviceErr).Maybe()
	} else {
		onService := b.onService
		b.server.On("PrimaryService", mock.Anything, b.serviceUUID).
			Run(func(mock.Arguments) {
				if onService != nil {
					onService()
				}
			}).
			Return(b.service, nil).Maybe()
		b.server.On("PrimaryService", mock.Anything, mock.Anything).
			Return(nil, &device.NotFoundError{Resource: "service", UUIDs: []string{"unknown"}}).Maybe()
	}

	b.peripheral = NewMockPeripheral(b.name, b.address)
	b.peripheral.On("Connect", mock.Anything).Return(b.server, b.connectErr).Maybe()

	b.platform = &MockPlatform{}
	if b.chooserErr != nil {
		b.platform.On("RequestDevice", mock.Anything, mock.Anything).Return(nil, b.chooserErr).Maybe()
	} else {
		b.platform.On("RequestDevice", mock.Anything, mock.Anything).Return(b.peripheral, nil).Maybe()
	}

	adverts := b.adverts
	b.platform.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			filter := args.Get(1).(device.Filter)
			handler := args.Get(2).(func(device.Advertisement))
			for _, adv := range adverts {
				if filter.MatchAdvertisement(adv) {
					handler(adv)
				}
			}
		}).
		Return(nil).Maybe()

	return b.platform
}

func (b *PlatformBuilder) Platform() *MockPlatform             { return b.platform }
func (b *PlatformBuilder) Peripheral() *MockPeripheral         { return b.peripheral }
func (b *PlatformBuilder) Server() *MockGATTServer             { return b.server }
func (b *PlatformBuilder) Service() *MockService               { return b.service }
func (b *PlatformBuilder) Characteristic() *MockCharacteristic { return b.char }
