package session

import "github.com/sirupsen/logrus"

// Control labels and status texts shown through the Sink
const (
	LabelConnect    = "Connect to BLE"
	LabelDisconnect = "Disconnect from BLE"

	StatusDisconnected     = "Status: Disconnected"
	StatusConnectionFailed = "Status: Connection failed!"
)

// Sink receives every user-visible effect of the controller.
// Implementations must be safe for concurrent use: notification lines arrive
// on backend goroutines.
type Sink interface {
	SetStatus(text string)
	AppendConsole(line string)
	SetToggleLabel(label string)
	SetSendEnabled(enabled bool)
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) SetStatus(string)      {}
func (NopSink) AppendConsole(string)  {}
func (NopSink) SetToggleLabel(string) {}
func (NopSink) SetSendEnabled(bool)   {}

// MultiSink fans every call out to all sinks in order
type MultiSink []Sink

func (m MultiSink) SetStatus(text string) {
	for _, s := range m {
		s.SetStatus(text)
	}
}

func (m MultiSink) AppendConsole(line string) {
	for _, s := range m {
		s.AppendConsole(line)
	}
}

func (m MultiSink) SetToggleLabel(label string) {
	for _, s := range m {
		s.SetToggleLabel(label)
	}
}

func (m MultiSink) SetSendEnabled(enabled bool) {
	for _, s := range m {
		s.SetSendEnabled(enabled)
	}
}

// LogSink mirrors status changes and console lines into a logger
type LogSink struct {
	Logger *logrus.Logger
}

func (l LogSink) SetStatus(text string) {
	l.Logger.WithField("status", text).Debug("Status changed")
}

func (l LogSink) AppendConsole(line string) {
	l.Logger.WithField("line", line).Debug("Console")
}

func (l LogSink) SetToggleLabel(label string) {
	l.Logger.WithField("label", label).Trace("Toggle label changed")
}

func (l LogSink) SetSendEnabled(enabled bool) {
	l.Logger.WithField("enabled", enabled).Trace("Send control changed")
}
