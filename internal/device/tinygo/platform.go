// Package tinygo implements device.Platform on tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows).
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// scanStopRetry is how often StopScan is retried while the adapter scan
// has not started yet
const scanStopRetry = 20 * time.Millisecond

// adapter is the part of *bluetooth.Adapter the platform drives
type adapter interface {
	Enable() error
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

// Platform implements device.Platform on a tinygo bluetooth adapter
type Platform struct {
	adapter adapter
	logger  *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	// live connections keyed by address, for link-loss delivery
	servers *hashmap.Map[string, *gattServer]
}

// NewPlatform creates a platform on the default adapter
func NewPlatform(logger *logrus.Logger) *Platform {
	return newPlatform(bluetooth.DefaultAdapter, logger)
}

func newPlatform(a adapter, logger *logrus.Logger) *Platform {
	if logger == nil {
		logger = logrus.New()
	}
	return &Platform{
		adapter: a,
		logger:  logger,
		servers: hashmap.New[string, *gattServer](),
	}
}

func (p *Platform) enable() error {
	p.enableOnce.Do(func() {
		p.logger.Debug("Enabling tinygo bluetooth adapter")
		if err := p.adapter.Enable(); err != nil {
			p.enableErr = fmt.Errorf("failed to enable BLE adapter: %w", normalizeError(err))
			return
		}
		p.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
			if connected {
				return
			}
			if s, ok := p.servers.Get(d.Address.String()); ok {
				s.linkLost()
			}
		})
	})
	return p.enableErr
}

// Scan reports advertisements matching filter until ctx is done.
//
// Adapter.Scan blocks and knows nothing about contexts, so it runs on its own
// goroutine and is stopped with StopScan once ctx ends. StopScan fails while
// the adapter scan is still starting, so it is retried until the scan
// returns. Scan does not return before the adapter scan has finished.
func (p *Platform) Scan(ctx context.Context, filter device.Filter, handler func(device.Advertisement)) error {
	if err := p.enable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return nil
	}

	wanted := make([]bluetooth.UUID, 0, len(filter.Services))
	for _, s := range filter.Services {
		u, err := parseUUID(s)
		if err != nil {
			return err
		}
		wanted = append(wanted, u)
	}

	// set once a StopScan issued from inside the callback succeeded; the
	// adapter is known to be scanning there
	var stopped atomic.Bool
	stop := func() error {
		err := p.adapter.StopScan()
		if err != nil {
			p.logger.WithField("error", err).Debug("Failed to stop scan")
		}
		return err
	}

	scanErr := make(chan error, 1)
	groutine.Go(ctx, "tinygo-scan", func(scanCtx context.Context) {
		scanErr <- p.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if scanCtx.Err() != nil {
				if !stopped.Load() && stop() == nil {
					stopped.Store(true)
				}
				return
			}
			adv := newAdvertisement(result, wanted)
			if filter.MatchAdvertisement(adv) {
				handler(adv)
			}
		})
	})

	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("scan failed: %w", normalizeError(err))
		}
		return nil
	case <-ctx.Done():
	}

	ticker := time.NewTicker(scanStopRetry)
	defer ticker.Stop()
	for {
		if !stopped.Load() && stop() == nil {
			stopped.Store(true)
		}
		select {
		case <-scanErr:
			return nil
		case <-ticker.C:
		}
	}
}

// RequestDevice scans until the first advertisement matching filter is seen
func (p *Platform) RequestDevice(ctx context.Context, filter device.Filter) (device.Peripheral, error) {
	p.logger.WithField("filter", filter.String()).Info("Requesting BLE device...")

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan *advertisement, 1)
	err := p.Scan(scanCtx, filter, func(adv device.Advertisement) {
		select {
		case found <- adv.(*advertisement):
			cancel()
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case adv := <-found:
		p.logger.WithFields(logrus.Fields{
			"name":    adv.LocalName(),
			"address": adv.Addr(),
			"rssi":    adv.RSSI(),
		}).Info("Device selected")
		return &peripheral{platform: p, address: adv.result.Address, name: adv.LocalName()}, nil
	default:
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrChooserCancelled, ctxErr)
	}
	return nil, device.ErrChooserCancelled
}

var _ device.Platform = (*Platform)(nil)

// advertisement adapts bluetooth.ScanResult. The payload API only answers
// "is this UUID advertised", so Services reports the filter UUIDs present.
type advertisement struct {
	result   bluetooth.ScanResult
	name     string
	services []string
}

func newAdvertisement(result bluetooth.ScanResult, wanted []bluetooth.UUID) *advertisement {
	a := &advertisement{result: result}
	if result.AdvertisementPayload == nil {
		return a
	}
	a.name = result.LocalName()
	for _, u := range wanted {
		if result.HasServiceUUID(u) {
			a.services = append(a.services, u.String())
		}
	}
	return a
}

func (a *advertisement) LocalName() string  { return a.name }
func (a *advertisement) Addr() string       { return a.result.Address.String() }
func (a *advertisement) RSSI() int          { return int(a.result.RSSI) }
func (a *advertisement) Services() []string { return a.services }
func (a *advertisement) Connectable() bool  { return true }

func parseUUID(s string) (bluetooth.UUID, error) {
	u, err := bluetooth.ParseUUID(expandUUID(s))
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// expandUUID turns 16-bit short forms into full Bluetooth base UUIDs,
// the only notation bluetooth.ParseUUID accepts.
func expandUUID(s string) string {
	n := device.NormalizeUUID(s)
	switch len(n) {
	case 4:
		return "0000" + n + "-0000-1000-8000-00805f9b34fb"
	case 32:
		return n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:32]
	default:
		return s
	}
}

func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "dbus") && strings.HasSuffix(msg, "no such file or directory"),
		strings.Contains(msg, "The name org.bluez was not provided by any .service files"):
		return fmt.Errorf("%w: %v (make sure bluez and dbus are installed and running)", device.ErrNotInitialized, err)
	default:
		return device.NormalizeError(err)
	}
}
