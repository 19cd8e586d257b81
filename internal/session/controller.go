package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/groutine"
	"github.com/srg/bleready/internal/ringchan"
)

// ReadyCommand is the command written by SendReady unless overridden
const ReadyCommand = "ready"

// Options configures a Controller. Zero values are replaced by the tag defaults.
type Options struct {
	ServiceUUID        string `default:"4fafc201-1fb5-459e-8fcc-c5c9c331914b"`
	CharacteristicUUID string `default:"beb5483e-36e1-4688-b7f5-ea07361b26a8"`
	NamePrefix         string `default:"Power"`
	FallbackName       string `default:"Unknown Device"`
	Command            string `default:"ready"`

	// Address pins the chooser to one peripheral, ignoring name and service
	Address string

	// EndMarker enables message framing; "" keeps the buffer growing forever
	EndMarker  string
	OnComplete CompletionHandler

	LinesCapacity int `default:"256"`
}

// Controller drives the connect / notify / send-ready / disconnect cycle
// against a device.Platform and reports every visible effect to a Sink.
//
// User operations (Connect, Disconnect, SendReady) are serialized. The
// notification path and the link-loss monitor only take the short state
// lock, so they never wait on a blocked platform call.
type Controller struct {
	platform device.Platform
	sink     Sink
	logger   *logrus.Logger
	opts     Options

	opMu sync.Mutex

	// orders the Connected and link-lost reports of one session
	reportMu sync.Mutex

	mu    sync.Mutex
	sess  *Session
	state State

	lines    *ringchan.RingChannel[string]
	linkLost chan struct{}
}

// NewController creates a controller in the Disconnected state and puts the
// controls in their initial shape: toggle reads "Connect to BLE", send-ready
// is disabled.
func NewController(platform device.Platform, sink Sink, logger *logrus.Logger, opts Options) *Controller {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	defaults.SetDefaults(&opts)

	c := &Controller{
		platform: platform,
		sink:     sink,
		logger:   logger,
		opts:     opts,
		state:    Disconnected,
		lines:    ringchan.New[string](opts.LinesCapacity),
		linkLost: make(chan struct{}, 1),
	}

	sink.SetToggleLabel(LabelConnect)
	sink.SetSendEnabled(false)
	return c
}

// Options returns the effective options
func (c *Controller) Options() Options {
	return c.opts
}

// State returns the current connection state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the held peripheral has a live GATT connection
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.gattConnected()
}

// DeviceName returns the name of the held peripheral, or "" if none
func (c *Controller) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.Name(c.opts.FallbackName)
}

// Buffer returns the accumulated message buffer of the current session
func (c *Controller) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.framer.Buffered()
}

// Lines is a lazy stream of decoded notification lines. It is shared by all
// sessions of the controller and closed by Close. Slow readers lose the
// oldest lines.
func (c *Controller) Lines() <-chan string {
	return c.lines.C()
}

// LinkLost receives a value each time an established session loses its
// link without a Disconnect. Unread events are coalesced into one.
func (c *Controller) LinkLost() <-chan struct{} {
	return c.linkLost
}

func (c *Controller) filter() device.Filter {
	return device.Filter{
		NamePrefix: c.opts.NamePrefix,
		Services:   []string{c.opts.ServiceUUID},
		Address:    c.opts.Address,
	}
}

// Connect chooses a peripheral, connects, resolves the characteristic and
// subscribes to its notifications.
//
// Any failure is reported once through the sink and returned. Handles that
// were obtained before the failure are kept.
func (c *Controller) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.sess != nil && c.sess.gattConnected() {
		name := c.sess.Name(c.opts.FallbackName)
		c.mu.Unlock()
		c.sink.SetStatus(fmt.Sprintf("Status: Already connected to %s", name))
		return nil
	}
	c.mu.Unlock()

	err := c.connect(ctx)
	if err != nil {
		c.logger.WithField("error", err).Error("Connection failed")
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		c.sink.AppendConsole(fmt.Sprintf("Connection failed: %s", err.Error()))
		c.sink.SetStatus(StatusConnectionFailed)
		return err
	}
	return nil
}

func (c *Controller) connect(ctx context.Context) error {
	p, err := c.platform.RequestDevice(ctx, c.filter())
	if err != nil {
		return err
	}

	s := newSession(p, c.opts.EndMarker)
	name := s.Name(c.opts.FallbackName)
	logger := c.logger.WithFields(logrus.Fields{
		"name":    name,
		"address": s.Address(),
	})

	c.mu.Lock()
	if c.sess != nil {
		c.sess.close()
	}
	c.sess = s
	c.state = Connecting
	c.mu.Unlock()

	c.sink.SetStatus(fmt.Sprintf("Status: Connecting to %s...", name))
	c.sink.AppendConsole(fmt.Sprintf("Connecting to %s...", name))

	server, err := p.Connect(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	s.server = server
	c.mu.Unlock()
	c.watchLink(s, server)
	c.sink.AppendConsole("GATT server connected.")

	svc, err := server.PrimaryService(ctx, c.opts.ServiceUUID)
	if err != nil {
		return err
	}
	if err := c.checkLink(s); err != nil {
		return err
	}

	char, err := svc.Characteristic(ctx, c.opts.CharacteristicUUID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	s.characteristic = char
	c.mu.Unlock()
	if err := c.checkLink(s); err != nil {
		return err
	}

	err = char.StartNotifications(ctx, func(data []byte) {
		c.handleNotification(s, data)
	})
	if err != nil {
		return err
	}

	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	c.mu.Lock()
	if err := c.linkErr(s); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = Connected
	c.mu.Unlock()

	c.sink.AppendConsole("Subscribed to BLE notifications.")
	c.sink.SetStatus(fmt.Sprintf("Status: Connected to %s", name))
	c.sink.SetToggleLabel(LabelDisconnect)
	c.sink.SetSendEnabled(true)
	c.sink.AppendConsole(fmt.Sprintf("Connected to %s", name))

	logger.Info("Session established")
	return nil
}

// errLinkLostWhileConnecting is returned by Connect when the link goes away
// before the session is established
var errLinkLostWhileConnecting = &device.ConnectionError{State: device.NotConnected, Msg: "link lost while connecting"}

func (c *Controller) checkLink(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linkErr(s)
}

// linkErr must be called with c.mu held
func (c *Controller) linkErr(s *Session) error {
	if c.sess != s || !s.gattConnected() {
		return errLinkLostWhileConnecting
	}
	return nil
}

// watchLink turns a link loss of the current session into a Disconnected
// state. Explicit Disconnect detaches the session first, so it is not
// reported twice.
func (c *Controller) watchLink(s *Session, server device.GATTServer) {
	groutine.Go(context.Background(), "session-link-monitor", func(context.Context) {
		select {
		case <-server.Disconnected():
		case <-s.closed:
			return
		}

		c.reportMu.Lock()
		defer c.reportMu.Unlock()

		c.mu.Lock()
		if c.sess != s {
			c.mu.Unlock()
			return
		}
		wasConnected := c.state == Connected
		c.sess = nil
		c.state = Disconnected
		c.mu.Unlock()
		s.close()

		c.logger.WithField("address", s.Address()).Warn("Connection lost")
		if !wasConnected {
			return
		}
		c.sink.SetStatus(StatusDisconnected)
		c.sink.SetToggleLabel(LabelConnect)
		c.sink.SetSendEnabled(false)
		c.sink.AppendConsole("Connection lost.")

		select {
		case c.linkLost <- struct{}{}:
		default:
		}
	})
}

// HandleNotification processes a value pushed by the current session's
// characteristic. It is a no-op without a session.
func (c *Controller) HandleNotification(data []byte) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		c.logger.Debug("Notification without a session dropped")
		return
	}
	c.handleNotification(s, data)
}

func (c *Controller) handleNotification(s *Session, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("Notification handler failed")
			c.sink.AppendConsole(fmt.Sprintf("Error in notification handler: %v", r))
		}
	}()

	text := decodeText(data)
	c.logger.WithField("value", text).Debug("Received notification")
	c.sink.AppendConsole(fmt.Sprintf("Received: %s", text))

	c.mu.Lock()
	message, complete := s.framer.Feed(text)
	c.mu.Unlock()

	if dropped := c.lines.Send(text); dropped {
		c.logger.Trace("Lines stream full, oldest line dropped")
	}

	if complete {
		c.sink.AppendConsole(fmt.Sprintf("Complete Data:\n%s", message))
		c.complete(message)
	}
}

func (c *Controller) complete(message string) {
	if c.opts.OnComplete != nil {
		c.opts.OnComplete(message)
		return
	}
	c.sink.AppendConsole(fmt.Sprintf("Processing Complete Data:\n%s", message))
}

// SendReady writes the command to the characteristic once
func (c *Controller) SendReady(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	s := c.sess
	var char device.Characteristic
	if s != nil {
		char = s.characteristic
	}
	c.mu.Unlock()

	if char == nil {
		c.sink.AppendConsole("Error: Not connected to BLE.")
		return device.ErrNotConnected
	}

	cmd := c.opts.Command
	if err := char.WriteValue(ctx, []byte(cmd)); err != nil {
		c.logger.WithField("error", err).Error("Write failed")
		c.sink.AppendConsole(fmt.Sprintf("Error sending %q: %s", cmd, err.Error()))
		return err
	}

	c.logger.WithField("command", cmd).Info("Command sent")
	c.sink.AppendConsole(fmt.Sprintf("Sent %q to %s.", cmd, s.Name(c.opts.FallbackName)))
	return nil
}

// Disconnect tears down the GATT connection of the current session and
// discards it. Without a live connection it does nothing.
func (c *Controller) Disconnect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.disconnect()
}

func (c *Controller) disconnect() error {
	c.mu.Lock()
	s := c.sess
	if s == nil || !s.gattConnected() {
		c.mu.Unlock()
		c.logger.Debug("Disconnect called without a live connection")
		return nil
	}
	c.sess = nil
	c.state = Disconnected
	c.mu.Unlock()
	s.close()

	err := s.server.Disconnect()
	if err != nil {
		c.logger.WithField("error", err).Warn("Disconnect reported an error")
	}

	c.sink.SetStatus(StatusDisconnected)
	c.sink.SetToggleLabel(LabelConnect)
	c.sink.SetSendEnabled(false)
	c.sink.AppendConsole("Disconnected from BLE.")
	return err
}

// Toggle connects when there is no live connection and disconnects
// otherwise. Failures are already reported through the sink and only logged.
func (c *Controller) Toggle(ctx context.Context) {
	if !c.Connected() {
		_ = c.Connect(ctx)
		return
	}
	_ = c.Disconnect()
}

// Close disconnects and ends the Lines stream
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	err := c.disconnect()
	c.lines.Close()
	return err
}
