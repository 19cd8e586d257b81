// Package devicefactory selects the BLE backend behind device.Platform.
package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	goble "github.com/srg/bleready/internal/device/go-ble"
	"github.com/srg/bleready/internal/device/tinygo"
)

// Backend names
const (
	GoBLE  = "goble"
	TinyGo = "tinygo"
)

// Platform is a device.Platform that holds OS resources until closed
type Platform interface {
	device.Platform
	Close() error
}

type nopCloser struct {
	device.Platform
}

func (nopCloser) Close() error { return nil }

// PlatformFactory creates the platform for a backend name.
// This is a variable so that it can be overridden in tests.
var PlatformFactory = func(backend string, logger *logrus.Logger) (Platform, error) {
	switch backend {
	case GoBLE, "":
		return goble.NewPlatform(logger), nil
	case TinyGo:
		return nopCloser{tinygo.NewPlatform(logger)}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
}

// NewPlatform creates the platform for backend
func NewPlatform(backend string, logger *logrus.Logger) (Platform, error) {
	return PlatformFactory(backend, logger)
}

// Wrap adapts a platform without OS resources, e.g. a test double
func Wrap(p device.Platform) Platform {
	if c, ok := p.(Platform); ok {
		return c
	}
	return nopCloser{p}
}
