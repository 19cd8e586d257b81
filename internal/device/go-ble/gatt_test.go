//go:build test

package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testService = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	testChar    = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	testAddr    = "aa:bb:cc:dd:ee:01"
)

// newMockPlatform returns a Platform whose ble.Device is dev
func newMockPlatform(t *testing.T) (*Platform, *testutils.MockBLEDevice) {
	t.Helper()

	dev := &testutils.MockBLEDevice{}
	original := DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return dev, nil }
	t.Cleanup(func() { DeviceFactory = original })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewPlatform(logger), dev
}

// advertise makes dev report advs on Scan and then wait for cancellation
func advertise(dev *testutils.MockBLEDevice, advs ...ble.Advertisement) {
	dev.On("Scan", mock.Anything, false, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			h := args.Get(2).(ble.AdvHandler)
			for _, a := range advs {
				h(a)
			}
			<-ctx.Done()
		}).
		Return(context.Canceled)
}

// connectMock dials a mock client and returns the resulting GATT server
func connectMock(t *testing.T) (device.GATTServer, *testutils.MockBLEClient, *testutils.MockBLEDevice) {
	t.Helper()

	p, dev := newMockPlatform(t)
	client := testutils.NewMockBLEClient()
	dev.On("Dial", mock.Anything, ble.NewAddr(testAddr)).Return(client, nil)

	periph := &peripheral{platform: p, addr: ble.NewAddr(testAddr), name: "PowerMeter-01"}
	server, err := periph.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, server.Connected())
	return server, client, dev
}

func TestRequestDevice(t *testing.T) {
	t.Run("first connectable advertisement wins", func(t *testing.T) {
		p, dev := newMockPlatform(t)
		advertise(dev,
			&testutils.MockBLEAdvertisement{Name: "Beacon", Address: "aa:bb:cc:dd:ee:00", SignalRSSI: -30, NotConnable: true},
			&testutils.MockBLEAdvertisement{Name: "PowerMeter-01", Address: testAddr, SignalRSSI: -60},
			&testutils.MockBLEAdvertisement{Name: "PowerMeter-02", Address: "aa:bb:cc:dd:ee:02", SignalRSSI: -40},
		)

		periph, err := p.RequestDevice(context.Background(), device.Filter{})
		require.NoError(t, err)
		assert.Equal(t, "PowerMeter-01", periph.Name())
		assert.Equal(t, testAddr, periph.Address())
		assert.Equal(t, 3, p.Candidates())
	})

	t.Run("name from an earlier advertisement is kept", func(t *testing.T) {
		p, dev := newMockPlatform(t)
		advertise(dev,
			&testutils.MockBLEAdvertisement{Name: "PowerMeter-01", Address: testAddr, SignalRSSI: -70, NotConnable: true},
			&testutils.MockBLEAdvertisement{Address: testAddr, SignalRSSI: -50},
		)

		periph, err := p.RequestDevice(context.Background(), device.Filter{})
		require.NoError(t, err)
		assert.Equal(t, "PowerMeter-01", periph.Name())
		assert.Equal(t, 1, p.Candidates())
	})

	t.Run("filtered out advertisers are never chosen", func(t *testing.T) {
		p, dev := newMockPlatform(t)
		advertise(dev,
			&testutils.MockBLEAdvertisement{Name: "Thermo", Address: "aa:bb:cc:dd:ee:00"},
			&testutils.MockBLEAdvertisement{Name: "PowerMeter-01", Address: testAddr, UUIDs: []string{testService}},
		)

		periph, err := p.RequestDevice(context.Background(), device.Filter{NamePrefix: "Power", Services: []string{testService}})
		require.NoError(t, err)
		assert.Equal(t, testAddr, periph.Address())
		assert.Equal(t, 1, p.Candidates())
	})

	t.Run("cancelled chooser", func(t *testing.T) {
		p, dev := newMockPlatform(t)
		advertise(dev, &testutils.MockBLEAdvertisement{Name: "Beacon", Address: testAddr, NotConnable: true})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := p.RequestDevice(ctx, device.Filter{})
		require.ErrorIs(t, err, device.ErrChooserCancelled)
		assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
	})

	t.Run("scan failure", func(t *testing.T) {
		p, dev := newMockPlatform(t)
		dev.On("Scan", mock.Anything, false, mock.Anything).Return(errors.New("can't init hci: no devices available"))

		_, err := p.RequestDevice(context.Background(), device.Filter{})
		require.ErrorIs(t, err, device.ErrNotInitialized)
		assert.Contains(t, err.Error(), "scan failed")
	})
}

func TestConnect(t *testing.T) {
	t.Run("dial failure", func(t *testing.T) {
		p, dev := newMockPlatform(t)
		dev.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("ATT request failed: Disconnected"))

		periph := &peripheral{platform: p, addr: ble.NewAddr(testAddr)}
		_, err := periph.Connect(context.Background())
		require.ErrorIs(t, err, device.ErrNotConnected)
		assert.Contains(t, err.Error(), `failed to connect to device with address "aa:bb:cc:dd:ee:01"`)
	})

	t.Run("link loss is reported", func(t *testing.T) {
		server, client, _ := connectMock(t)

		client.DropLink()

		select {
		case <-server.Disconnected():
		case <-time.After(2 * time.Second):
			t.Fatal("Disconnected was not closed after the link dropped")
		}
		assert.False(t, server.Connected())

		_, err := server.PrimaryService(context.Background(), testService)
		assert.ErrorIs(t, err, device.ErrNotConnected)
		client.AssertNotCalled(t, "DiscoverServices", mock.Anything)
	})

	t.Run("disconnect cancels the connection once", func(t *testing.T) {
		server, client, _ := connectMock(t)
		client.On("CancelConnection").Return(nil).Once()

		require.NoError(t, server.Disconnect())
		require.NoError(t, server.Disconnect())

		assert.False(t, server.Connected())
		client.AssertNumberOfCalls(t, "CancelConnection", 1)
		select {
		case <-server.Disconnected():
		case <-time.After(2 * time.Second):
			t.Fatal("Disconnected was not closed after Disconnect")
		}
	})

	t.Run("close stops the device", func(t *testing.T) {
		p, dev := newMockPlatform(t)
		advertise(dev, &testutils.MockBLEAdvertisement{Name: "PowerMeter-01", Address: testAddr})
		dev.On("Stop").Return(nil).Once()

		_, err := p.RequestDevice(context.Background(), device.Filter{})
		require.NoError(t, err)
		require.NoError(t, p.Close())
		require.NoError(t, p.Close())
		dev.AssertNumberOfCalls(t, "Stop", 1)
	})
}

func TestDiscovery(t *testing.T) {
	svc := &ble.Service{UUID: ble.MustParse(testService)}

	t.Run("service not found", func(t *testing.T) {
		server, client, _ := connectMock(t)
		client.On("DiscoverServices", mock.Anything).
			Return([]*ble.Service{{UUID: ble.MustParse("180f")}}, nil)

		_, err := server.PrimaryService(context.Background(), testService)
		var nf *device.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "service", nf.Resource)
		assert.Equal(t, []string{testService}, nf.UUIDs)
	})

	t.Run("discovery failure is normalized", func(t *testing.T) {
		server, client, _ := connectMock(t)
		client.On("DiscoverServices", mock.Anything).Return(nil, errors.New("ATT request failed: Disconnected"))

		_, err := server.PrimaryService(context.Background(), testService)
		require.ErrorIs(t, err, device.ErrNotConnected)
		assert.Contains(t, err.Error(), "failed to discover services")
	})

	t.Run("characteristic not found", func(t *testing.T) {
		server, client, _ := connectMock(t)
		client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil)
		client.On("DiscoverCharacteristics", mock.Anything, svc).
			Return([]*ble.Characteristic{{UUID: ble.MustParse("2a37")}}, nil)

		service, err := server.PrimaryService(context.Background(), testService)
		require.NoError(t, err)
		assert.Equal(t, "4fafc2011fb5459e8fccc5c9c331914b", service.UUID())

		_, err = service.Characteristic(context.Background(), testChar)
		var nf *device.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "characteristic", nf.Resource)
		assert.Equal(t, testChar, nf.UUIDs[1])
		client.AssertNotCalled(t, "DiscoverDescriptors", mock.Anything, mock.Anything)
	})

	t.Run("descriptors are discovered with the characteristic", func(t *testing.T) {
		server, client, _ := connectMock(t)
		char := &ble.Characteristic{UUID: ble.MustParse(testChar), Property: ble.CharNotify}
		client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil)
		client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{char}, nil)
		client.On("DiscoverDescriptors", mock.Anything, char).Return([]*ble.Descriptor{}, nil).Once()

		service, err := server.PrimaryService(context.Background(), testService)
		require.NoError(t, err)
		c, err := service.Characteristic(context.Background(), testChar)
		require.NoError(t, err)
		assert.Equal(t, "beb5483e36e14688b7f5ea07361b26a8", c.UUID())
		client.AssertExpectations(t)
	})
}

// mockCharacteristic returns a characteristic with the given properties bound to a fresh mock client
func mockCharacteristic(prop ble.Property) (*gattCharacteristic, *testutils.MockBLEClient) {
	client := testutils.NewMockBLEClient()
	char := &ble.Characteristic{UUID: ble.MustParse(testChar), Property: prop}
	return &gattCharacteristic{client: client, char: char}, client
}

func TestStartNotifications(t *testing.T) {
	tests := []struct {
		name     string
		prop     ble.Property
		indicate bool
	}{
		{name: "notify", prop: ble.CharNotify, indicate: false},
		{name: "notify preferred over indicate", prop: ble.CharNotify | ble.CharIndicate, indicate: false},
		{name: "indicate only", prop: ble.CharIndicate | ble.CharRead, indicate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, client := mockCharacteristic(tt.prop)
			client.On("Subscribe", c.char, tt.indicate, mock.Anything).
				Run(func(args mock.Arguments) {
					args.Get(2).(ble.NotificationHandler)([]byte("42"))
				}).
				Return(nil).Once()

			var got []byte
			require.NoError(t, c.StartNotifications(context.Background(), func(data []byte) { got = data }))
			assert.Equal(t, []byte("42"), got)
			client.AssertExpectations(t)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		c, client := mockCharacteristic(ble.CharRead | ble.CharWrite)
		err := c.StartNotifications(context.Background(), func([]byte) {})
		assert.ErrorIs(t, err, device.ErrUnsupported)
		client.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("subscribe failure", func(t *testing.T) {
		c, client := mockCharacteristic(ble.CharNotify)
		client.On("Subscribe", c.char, false, mock.Anything).Return(errors.New("ATT request failed: Disconnected"))
		err := c.StartNotifications(context.Background(), func([]byte) {})
		assert.ErrorIs(t, err, device.ErrNotConnected)
	})
}

func TestWriteValue(t *testing.T) {
	tests := []struct {
		name  string
		prop  ble.Property
		noRsp bool
	}{
		{name: "with response", prop: ble.CharWrite, noRsp: false},
		{name: "response preferred", prop: ble.CharWrite | ble.CharWriteNR, noRsp: false},
		{name: "without response", prop: ble.CharWriteNR | ble.CharNotify, noRsp: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, client := mockCharacteristic(tt.prop)
			client.On("WriteCharacteristic", c.char, []byte("ON"), tt.noRsp).Return(nil).Once()

			require.NoError(t, c.WriteValue(context.Background(), []byte("ON")))
			client.AssertExpectations(t)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		c, client := mockCharacteristic(ble.CharRead | ble.CharNotify)
		err := c.WriteValue(context.Background(), []byte("ON"))
		assert.ErrorIs(t, err, device.ErrUnsupported)
		client.AssertNotCalled(t, "WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything)
	})
}
