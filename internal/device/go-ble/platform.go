package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
)

// candidate is a peripheral seen by the chooser scan
type candidate struct {
	addr ble.Addr
	name string
	rssi int
}

// Platform implements device.Platform on top of github.com/go-ble/ble.
//
// The underlying ble.Device is created lazily on first use and reused for
// the life of the Platform; creating several HCI devices on Linux fails.
type Platform struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device

	// every advertiser seen while choosing, keyed by address
	candidates *hashmap.Map[string, *candidate]
}

// NewPlatform creates a go-ble backed platform
func NewPlatform(logger *logrus.Logger) *Platform {
	if logger == nil {
		logger = logrus.New()
	}
	return &Platform{
		logger:     logger,
		candidates: hashmap.New[string, *candidate](),
	}
}

func (p *Platform) device() (ble.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev != nil {
		return p.dev, nil
	}

	p.logger.Debug("Creating go-ble device")
	dev, err := DeviceFactory()
	if err != nil {
		p.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	p.dev = dev
	return dev, nil
}

// Close stops the underlying ble.Device, if one was created
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev == nil {
		return nil
	}
	err := p.dev.Stop()
	p.dev = nil
	if err != nil {
		return fmt.Errorf("failed to stop BLE device: %w", err)
	}
	return nil
}

// Scan reports advertisements matching filter until ctx is done.
// Cancellation and deadline are normal termination and are not reported as errors.
func (p *Platform) Scan(ctx context.Context, filter device.Filter, handler func(device.Advertisement)) error {
	dev, err := p.device()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, false, func(a ble.Advertisement) {
		adv := NewBLEAdvertisement(a)
		if !filter.MatchAdvertisement(adv) {
			return
		}
		handler(adv)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

// RequestDevice scans until the first connectable advertisement matching
// filter is seen and returns it as a Peripheral. If ctx ends first the
// chooser is considered cancelled.
func (p *Platform) RequestDevice(ctx context.Context, filter device.Filter) (device.Peripheral, error) {
	p.logger.WithField("filter", filter.String()).Info("Requesting BLE device...")

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan *candidate, 1)
	err := p.Scan(scanCtx, filter, func(adv device.Advertisement) {
		bleAdv := adv.(*BLEAdvertisement).Unwrap()
		c, loaded := p.candidates.GetOrInsert(adv.Addr(), &candidate{
			addr: bleAdv.Addr(),
			name: adv.LocalName(),
			rssi: adv.RSSI(),
		})
		if loaded {
			c.rssi = adv.RSSI()
			if adv.LocalName() != "" {
				c.name = adv.LocalName()
			}
		}
		if !adv.Connectable() {
			return
		}
		select {
		case found <- c:
			cancel()
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case c := <-found:
		p.logger.WithFields(logrus.Fields{
			"name":    c.name,
			"address": c.addr.String(),
			"rssi":    c.rssi,
		}).Info("Device selected")
		return &peripheral{platform: p, addr: c.addr, name: c.name}, nil
	default:
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrChooserCancelled, ctxErr)
	}
	return nil, device.ErrChooserCancelled
}

// Candidates returns the number of distinct advertisers seen by the chooser
func (p *Platform) Candidates() int {
	return p.candidates.Len()
}

var _ device.Platform = (*Platform)(nil)
