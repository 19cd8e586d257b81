//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/session"
	"github.com/srg/bleready/internal/testutils"
	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	testServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	testCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

// ControllerTestSuite drives session.Controller against a mocked platform
type ControllerTestSuite struct {
	suite.Suite

	helper  *testutils.TestHelper
	builder *testutils.PlatformBuilder
	sink    *testutils.RecordingSink
	opts    session.Options
	ctrl    *session.Controller
}

func (s *ControllerTestSuite) SetupSuite() {
	s.helper = testutils.NewTestHelper(s.T())
}

func (s *ControllerTestSuite) SetupTest() {
	if s.ctrl != nil {
		_ = s.ctrl.Close()
	}
	s.builder = testutils.NewPlatformBuilder().
		WithPeripheral("PowerMeter-01", "aa:bb:cc:dd:ee:ff").
		WithService(testServiceUUID).
		WithCharacteristic(testCharUUID)
	s.sink = &testutils.RecordingSink{}
	s.opts = session.Options{}
	s.ctrl = nil
}

func (s *ControllerTestSuite) TearDownTest() {
	if s.ctrl != nil {
		_ = s.ctrl.Close()
	}
}

// controller builds the platform from the current builder state
func (s *ControllerTestSuite) controller() *session.Controller {
	platform := s.builder.Build()
	s.ctrl = session.NewController(platform, s.sink, s.helper.Logger, s.opts)
	return s.ctrl
}

func (s *ControllerTestSuite) connected() *session.Controller {
	ctrl := s.controller()
	s.Require().NoError(ctrl.Connect(context.Background()), "connect MUST succeed")
	return ctrl
}

func (s *ControllerTestSuite) TestNewController() {
	// GOAL: Verify a fresh controller puts the controls in their initial shape
	//
	// TEST SCENARIO: Create controller → label "Connect to BLE" → send disabled → state Disconnected

	ctrl := s.controller()

	s.Assert().Equal(session.LabelConnect, s.sink.ToggleLabel(), "toggle MUST offer to connect")
	s.Assert().False(s.sink.SendEnabled(), "send-ready MUST start disabled")
	s.Assert().Equal(session.Disconnected, ctrl.State(), "state MUST start Disconnected")
	s.Assert().Empty(s.sink.Console(), "console MUST start empty")

	opts := ctrl.Options()
	s.Assert().Equal(testServiceUUID, opts.ServiceUUID, "service UUID MUST default")
	s.Assert().Equal(testCharUUID, opts.CharacteristicUUID, "characteristic UUID MUST default")
	s.Assert().Equal("Power", opts.NamePrefix, "name prefix MUST default")
	s.Assert().Equal("Unknown Device", opts.FallbackName, "fallback name MUST default")
	s.Assert().Equal(session.ReadyCommand, opts.Command, "command MUST default to ready")
	s.Assert().Empty(opts.EndMarker, "framing MUST be disabled by default")
}

// @dependsOn TestNewController
func (s *ControllerTestSuite) TestConnect() {
	// GOAL: Verify the connect sequence and every visible effect it produces
	//
	// TEST SCENARIO: Connect → chooser, GATT, service, characteristic, notifications → UI shows connected

	s.Run("success", func() {
		s.SetupTest()
		ctrl := s.connected()

		s.Assert().Equal("Status: Connected to PowerMeter-01", s.sink.Status(), "status MUST end in connected")
		s.Assert().Equal(session.LabelDisconnect, s.sink.ToggleLabel(), "toggle MUST offer to disconnect")
		s.Assert().True(s.sink.SendEnabled(), "send-ready MUST be enabled")
		s.Assert().Equal(session.Connected, ctrl.State(), "state MUST be Connected")
		s.Assert().True(ctrl.Connected(), "controller MUST report a live connection")
		s.Assert().Equal("PowerMeter-01", ctrl.DeviceName())

		testutils.NewTranscriptAsserter(s.T()).AssertLines(s.sink.Console(), `
Connecting to PowerMeter-01...
GATT server connected.
Subscribed to BLE notifications.
Connected to PowerMeter-01
`)
		s.Assert().Equal([]string{
			"Status: Connecting to PowerMeter-01...",
			"Status: Connected to PowerMeter-01",
		}, s.sink.Statuses(), "status MUST go through connecting to connected")
	})

	s.Run("chooser filter", func() {
		s.SetupTest()
		s.connected()

		s.builder.Platform().AssertCalled(s.T(), "RequestDevice", mock.Anything, device.Filter{
			NamePrefix: "Power",
			Services:   []string{testServiceUUID},
		})
		s.builder.Server().AssertCalled(s.T(), "PrimaryService", mock.Anything, testServiceUUID)
		s.builder.Service().AssertCalled(s.T(), "Characteristic", mock.Anything, testCharUUID)
		s.builder.Characteristic().AssertNumberOfCalls(s.T(), "StartNotifications", 1)
	})

	s.Run("fallback name", func() {
		s.SetupTest()
		s.builder.WithPeripheral("", "aa:bb:cc:dd:ee:01")
		s.connected()

		s.Assert().Equal("Status: Connected to Unknown Device", s.sink.Status(), "unnamed device MUST use the fallback")
		s.Assert().Contains(s.sink.Console(), "Connecting to Unknown Device...")
	})

	s.Run("already connected", func() {
		s.SetupTest()
		ctrl := s.connected()

		err := ctrl.Connect(context.Background())

		s.Assert().NoError(err, "second connect MUST NOT fail")
		s.Assert().Equal("Status: Already connected to PowerMeter-01", s.sink.Status())
		s.builder.Platform().AssertNumberOfCalls(s.T(), "RequestDevice", 1)
		s.Assert().True(s.sink.SendEnabled(), "send-ready MUST stay enabled")
	})
}

// @dependsOn TestNewController
func (s *ControllerTestSuite) TestConnectFailure() {
	// GOAL: Verify every failing step collapses into one generic failure report
	//
	// TEST SCENARIO: Inject a failure per step → console "Connection failed: <msg>" → status failed → send disabled

	tests := []struct {
		name   string
		inject func(b *testutils.PlatformBuilder)
		msg    string
	}{
		{
			name:   "chooser rejected",
			inject: func(b *testutils.PlatformBuilder) { b.WithChooserError(device.ErrChooserCancelled) },
			msg:    "no matching device selected",
		},
		{
			name:   "gatt connect fails",
			inject: func(b *testutils.PlatformBuilder) { b.WithConnectError(errors.New("connection refused")) },
			msg:    "connection refused",
		},
		{
			name: "service not found",
			inject: func(b *testutils.PlatformBuilder) {
				b.WithServiceError(&device.NotFoundError{Resource: "service", UUIDs: []string{testServiceUUID}})
			},
			msg: `service "` + testServiceUUID + `" not found`,
		},
		{
			name:   "characteristic not found",
			inject: func(b *testutils.PlatformBuilder) { b.WithCharacteristic("2a19") },
			msg:    "characteristic",
		},
		{
			name:   "notifications rejected",
			inject: func(b *testutils.PlatformBuilder) { b.WithNotifyError(device.ErrUnsupported) },
			msg:    "unsupported",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			tt.inject(s.builder)
			ctrl := s.controller()

			err := ctrl.Connect(context.Background())

			s.Require().Error(err, "connect MUST return the failure")
			console := s.sink.Console()
			s.Require().NotEmpty(console)
			s.Assert().Contains(console[len(console)-1], "Connection failed: ", "last console line MUST report the failure")
			s.Assert().Contains(console[len(console)-1], tt.msg, "failure MUST carry the error message")
			s.Assert().Equal(session.StatusConnectionFailed, s.sink.Status(), "status MUST show failure")
			s.Assert().False(s.sink.SendEnabled(), "send-ready MUST stay disabled")
			s.Assert().Equal(session.LabelConnect, s.sink.ToggleLabel(), "toggle MUST still offer to connect")
			s.Assert().Equal(session.Disconnected, ctrl.State())
		})
	}

	s.Run("chooser rejection exact output", func() {
		s.SetupTest()
		s.builder.WithChooserError(errors.New("User cancelled the requestDevice() chooser."))
		ctrl := s.controller()

		_ = ctrl.Connect(context.Background())

		s.Assert().Equal([]string{"Connection failed: User cancelled the requestDevice() chooser."}, s.sink.Console())
		s.Assert().Equal([]string{session.StatusConnectionFailed}, s.sink.Statuses())
		s.builder.Peripheral().AssertNotCalled(s.T(), "Connect", mock.Anything)
	})

	s.Run("partial state retained", func() {
		s.SetupTest()
		s.builder.WithNotifyError(errors.New("notify failed"))
		ctrl := s.controller()

		s.Require().Error(ctrl.Connect(context.Background()))

		s.Assert().Equal("PowerMeter-01", ctrl.DeviceName(), "chosen peripheral MUST be kept after failure")
		s.Assert().True(ctrl.Connected(), "GATT link MUST be left open")

		s.Require().NoError(ctrl.Connect(context.Background()), "retry MUST NOT fail")
		s.Assert().Equal("Status: Already connected to PowerMeter-01", s.sink.Status(),
			"retry with a live GATT link MUST report already connected")
	})
}

// @dependsOn TestConnect
func (s *ControllerTestSuite) TestHandleNotification() {
	// GOAL: Verify notifications are decoded, trimmed, logged and buffered
	//
	// TEST SCENARIO: Push values through the characteristic → console "Received: <text>" → buffer "<text>\n"

	s.Run("hello", func() {
		s.SetupTest()
		ctrl := s.connected()

		s.Require().True(s.builder.Characteristic().Notify([]byte(" hello ")), "handler MUST be subscribed")

		console := s.sink.Console()
		s.Assert().Equal("Received: hello", console[len(console)-1])
		s.Assert().Equal("hello\n", ctrl.Buffer())
	})

	s.Run("one line per notification regardless of content", func() {
		s.SetupTest()
		ctrl := s.connected()
		before := len(s.sink.Console())

		values := [][]byte{[]byte("a"), {}, []byte("\n\t"), []byte("multi\nline"), {0xff, 'x'}}
		for _, v := range values {
			s.builder.Characteristic().Notify(v)
		}

		console := s.sink.Console()[before:]
		s.Assert().Equal([]string{
			"Received: a",
			"Received: ",
			"Received: ",
			"Received: multi\nline",
			"Received: \uFFFDx",
		}, console, "MUST append exactly one console entry per notification")
		s.Assert().Equal("a\n\n\nmulti\nline\n\uFFFDx\n", ctrl.Buffer(), "MUST append one line plus newline per notification")
	})

	s.Run("buffer grows without a marker", func() {
		s.SetupTest()
		ctrl := s.connected()

		for _, v := range []string{"1", "end", "END", "2"} {
			s.builder.Characteristic().Notify([]byte(v))
		}

		s.Assert().Equal("1\nend\nEND\n2\n", ctrl.Buffer(), "buffer MUST never reset without a marker")
	})

	s.Run("lines stream", func() {
		s.SetupTest()
		ctrl := s.connected()

		s.builder.Characteristic().Notify([]byte("  first\r\n"))
		s.builder.Characteristic().Notify([]byte("second"))

		lines := ctrl.Lines()
		s.Assert().Equal("first", <-lines)
		s.Assert().Equal("second", <-lines)
	})

	s.Run("without session", func() {
		s.SetupTest()
		ctrl := s.controller()

		ctrl.HandleNotification([]byte("orphan"))

		s.Assert().Empty(s.sink.Console(), "notification without a session MUST be dropped")
	})
}

// @dependsOn TestHandleNotification
func (s *ControllerTestSuite) TestFraming() {
	// GOAL: Verify the optional end marker cuts messages
	//
	// TEST SCENARIO: Marker configured → lines up to marker → complete message handed off → buffer reset

	s.Run("completion handler", func() {
		s.SetupTest()
		var got []string
		s.opts.EndMarker = "end"
		s.opts.OnComplete = func(message string) { got = append(got, message) }
		ctrl := s.connected()

		for _, v := range []string{"v=1", "v=2", " end "} {
			s.builder.Characteristic().Notify([]byte(v))
		}

		s.Assert().Equal([]string{"v=1\nv=2\nend"}, got, "message MUST include lines up to the marker")
		s.Assert().Empty(ctrl.Buffer(), "buffer MUST reset after the marker")
		s.Assert().Contains(s.sink.Console(), "Complete Data:\nv=1\nv=2\nend")
	})

	s.Run("marker is case sensitive", func() {
		s.SetupTest()
		s.opts.EndMarker = "end"
		ctrl := s.connected()

		s.builder.Characteristic().Notify([]byte("END"))

		s.Assert().Equal("END\n", ctrl.Buffer())
	})

	s.Run("default completion reports to console", func() {
		s.SetupTest()
		s.opts.EndMarker = "end"
		s.connected()

		s.builder.Characteristic().Notify([]byte("x"))
		s.builder.Characteristic().Notify([]byte("end"))

		console := s.sink.Console()
		s.Assert().Equal("Processing Complete Data:\nx\nend", console[len(console)-1])
	})

	s.Run("handler panic is contained", func() {
		s.SetupTest()
		s.opts.EndMarker = "end"
		s.opts.OnComplete = func(string) { panic("boom") }
		ctrl := s.connected()

		s.Assert().NotPanics(func() {
			s.builder.Characteristic().Notify([]byte("end"))
		})

		console := s.sink.Console()
		s.Assert().Equal("Error in notification handler: boom", console[len(console)-1])
		s.Assert().True(ctrl.Connected(), "connection MUST be unaffected")

		s.builder.Characteristic().Notify([]byte("after"))
		s.Assert().Equal("Received: after", s.sink.Console()[len(s.sink.Console())-1])
	})
}

// @dependsOn TestConnect
func (s *ControllerTestSuite) TestSendReady() {
	// GOAL: Verify send-ready writes exactly the command, once, and only when connected
	//
	// TEST SCENARIO: Send with and without a connection → write count and console messages

	s.Run("not connected", func() {
		s.SetupTest()
		ctrl := s.controller()

		err := ctrl.SendReady(context.Background())

		s.Assert().ErrorIs(err, device.ErrNotConnected)
		s.Assert().Equal([]string{"Error: Not connected to BLE."}, s.sink.Console())
		s.builder.Characteristic().AssertNotCalled(s.T(), "WriteValue", mock.Anything, mock.Anything)
	})

	s.Run("after failed chooser", func() {
		s.SetupTest()
		s.builder.WithChooserError(device.ErrChooserCancelled)
		ctrl := s.controller()
		_ = ctrl.Connect(context.Background())

		err := ctrl.SendReady(context.Background())

		s.Assert().ErrorIs(err, device.ErrNotConnected)
		s.builder.Characteristic().AssertNotCalled(s.T(), "WriteValue", mock.Anything, mock.Anything)
	})

	s.Run("connected", func() {
		s.SetupTest()
		ctrl := s.connected()

		err := ctrl.SendReady(context.Background())

		s.Require().NoError(err)
		s.builder.Characteristic().AssertNumberOfCalls(s.T(), "WriteValue", 1)
		s.builder.Characteristic().AssertCalled(s.T(), "WriteValue", mock.Anything, []byte{'r', 'e', 'a', 'd', 'y'})
		console := s.sink.Console()
		s.Assert().Equal(`Sent "ready" to PowerMeter-01.`, console[len(console)-1])
	})

	s.Run("write rejected", func() {
		s.SetupTest()
		s.builder.WithWriteError(errors.New("GATT operation failed"))
		ctrl := s.connected()

		err := ctrl.SendReady(context.Background())

		s.Assert().Error(err)
		s.builder.Characteristic().AssertNumberOfCalls(s.T(), "WriteValue", 1)
		console := s.sink.Console()
		s.Assert().Equal(`Error sending "ready": GATT operation failed`, console[len(console)-1])
		s.Assert().True(ctrl.Connected(), "write failure MUST NOT drop the connection")
	})

	s.Run("custom command", func() {
		s.SetupTest()
		s.opts.Command = "start"
		ctrl := s.connected()

		s.Require().NoError(ctrl.SendReady(context.Background()))
		s.builder.Characteristic().AssertCalled(s.T(), "WriteValue", mock.Anything, []byte("start"))
	})
}

// @dependsOn TestConnect
func (s *ControllerTestSuite) TestDisconnect() {
	// GOAL: Verify disconnect restores the disconnected UI and discards the session
	//
	// TEST SCENARIO: Connect → disconnect → status/label/send reset → further sends rejected

	s.Run("after connect", func() {
		s.SetupTest()
		ctrl := s.connected()

		err := ctrl.Disconnect()

		s.Require().NoError(err)
		s.builder.Server().AssertNumberOfCalls(s.T(), "Disconnect", 1)
		s.Assert().Equal(session.StatusDisconnected, s.sink.Status())
		s.Assert().Equal(session.LabelConnect, s.sink.ToggleLabel())
		s.Assert().False(s.sink.SendEnabled(), "send-ready MUST be disabled")
		console := s.sink.Console()
		s.Assert().Equal("Disconnected from BLE.", console[len(console)-1])
		s.Assert().Equal(session.Disconnected, ctrl.State())
		s.Assert().Empty(ctrl.Buffer(), "session buffer MUST be discarded")

		s.Assert().ErrorIs(ctrl.SendReady(context.Background()), device.ErrNotConnected,
			"send after disconnect MUST report not connected")
	})

	s.Run("without connection is a no-op", func() {
		s.SetupTest()
		ctrl := s.controller()

		s.Assert().NotPanics(func() {
			s.Assert().NoError(ctrl.Disconnect())
		})
		s.Assert().Empty(s.sink.Console(), "no-op disconnect MUST NOT write to the console")
		s.Assert().Empty(s.sink.Statuses(), "no-op disconnect MUST NOT touch the status")
	})

	s.Run("twice", func() {
		s.SetupTest()
		ctrl := s.connected()

		s.Require().NoError(ctrl.Disconnect())
		s.Require().NoError(ctrl.Disconnect())

		s.builder.Server().AssertNumberOfCalls(s.T(), "Disconnect", 1)
	})

	s.Run("reconnect", func() {
		s.SetupTest()
		ctrl := s.connected()
		s.Require().NoError(ctrl.Disconnect())

		s.Require().NoError(ctrl.Connect(context.Background()))

		s.Assert().Equal("Status: Connected to PowerMeter-01", s.sink.Status())
		s.Assert().Empty(ctrl.Buffer(), "new session MUST start with an empty buffer")
	})
}

// @dependsOn TestDisconnect
func (s *ControllerTestSuite) TestToggle() {
	// GOAL: Verify the toggle control connects and disconnects alternately
	//
	// TEST SCENARIO: Toggle → connected → toggle → disconnected; failures contained

	s.Run("alternates", func() {
		s.SetupTest()
		ctrl := s.controller()

		ctrl.Toggle(context.Background())
		s.Assert().Equal(session.Connected, ctrl.State())

		ctrl.Toggle(context.Background())
		s.Assert().Equal(session.Disconnected, ctrl.State())
		s.Assert().Equal(session.LabelConnect, s.sink.ToggleLabel())
	})

	s.Run("failure contained", func() {
		s.SetupTest()
		s.builder.WithChooserError(device.ErrChooserCancelled)
		ctrl := s.controller()

		s.Assert().NotPanics(func() { ctrl.Toggle(context.Background()) })
		s.Assert().Equal(session.StatusConnectionFailed, s.sink.Status())
	})
}

// @dependsOn TestConnect
func (s *ControllerTestSuite) TestLinkLoss() {
	// GOAL: Verify an external link loss returns the controller to Disconnected
	//
	// TEST SCENARIO: Connect → stack drops the link → "Connection lost." → controls reset

	ctrl := s.connected()

	s.builder.Server().DropLink()

	s.Require().Eventually(func() bool {
		return ctrl.State() == session.Disconnected
	}, time.Second, 5*time.Millisecond, "state MUST become Disconnected")
	s.Require().Eventually(func() bool {
		console := s.sink.Console()
		return console[len(console)-1] == "Connection lost."
	}, time.Second, 5*time.Millisecond, "console MUST report the link loss")
	s.Assert().Equal(session.StatusDisconnected, s.sink.Status())
	s.Assert().False(s.sink.SendEnabled())
	s.Assert().Equal(session.LabelConnect, s.sink.ToggleLabel())

	select {
	case <-ctrl.LinkLost():
	case <-time.After(time.Second):
		s.Fail("LinkLost MUST deliver the loss")
	}

	s.Assert().NoError(ctrl.Disconnect(), "disconnect after link loss MUST be a no-op")
	s.builder.Server().AssertNotCalled(s.T(), "Disconnect")

	s.Run("explicit disconnect is not a loss", func() {
		s.SetupTest()
		ctrl := s.connected()
		s.Require().NoError(ctrl.Disconnect())

		select {
		case <-ctrl.LinkLost():
			s.Fail("Disconnect MUST NOT report link loss")
		case <-time.After(50 * time.Millisecond):
		}
	})
}

// @dependsOn TestLinkLoss
func (s *ControllerTestSuite) TestLinkLossWhileConnecting() {
	// GOAL: Verify a link dropped mid-connect fails the connect instead of reporting Connected
	//
	// TEST SCENARIO: Stack drops the link during service lookup → "Connection failed" → send disabled → no subscription

	s.builder.OnPrimaryService(func() { s.builder.Server().DropLink() })
	ctrl := s.controller()

	err := ctrl.Connect(context.Background())

	s.Require().ErrorIs(err, device.ErrNotConnected, "connect MUST fail when the link is gone")
	s.Assert().Equal(session.StatusConnectionFailed, s.sink.Status(), "status MUST show failure")
	s.Assert().False(s.sink.SendEnabled(), "send-ready MUST stay disabled")
	s.Assert().Equal(session.LabelConnect, s.sink.ToggleLabel())
	s.Assert().Equal(session.Disconnected, ctrl.State())
	s.Assert().False(ctrl.Connected())

	console := s.sink.Console()
	s.Require().NotEmpty(console)
	s.Assert().Equal("Connection failed: not_connected: link lost while connecting", console[len(console)-1])
	s.Assert().NotContains(console, "Connected to PowerMeter-01")
	s.builder.Characteristic().AssertNotCalled(s.T(), "StartNotifications", mock.Anything, mock.Anything)

	select {
	case <-ctrl.LinkLost():
		s.Fail("a session that never connected MUST NOT report link loss")
	case <-time.After(50 * time.Millisecond):
	}

	s.Require().ErrorIs(ctrl.SendReady(context.Background()), device.ErrNotConnected)
	s.Assert().Equal("Error: Not connected to BLE.", s.sink.Console()[len(s.sink.Console())-1])
	s.builder.Characteristic().AssertNotCalled(s.T(), "WriteValue", mock.Anything, mock.Anything)
}

// @dependsOn TestConnect
func (s *ControllerTestSuite) TestClose() {
	// GOAL: Verify Close tears the session down and ends the lines stream

	ctrl := s.connected()

	s.Require().NoError(ctrl.Close())

	s.builder.Server().AssertNumberOfCalls(s.T(), "Disconnect", 1)
	_, open := <-ctrl.Lines()
	s.Assert().False(open, "lines stream MUST be closed")

	s.Assert().NotPanics(func() {
		s.builder.Characteristic().Notify([]byte("late"))
	}, "late notification after Close MUST NOT panic")
	s.Assert().NoError(ctrl.Close(), "second Close MUST be harmless")
	s.ctrl = nil
}

func TestControllerTestSuite(t *testing.T) {
	depend.RunSuite(t, new(ControllerTestSuite))
}
