// Package discovery lists peripherals that match the session filter.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Device DeviceInfo
}

// DeviceInfo is what a scan knows about one advertiser
type DeviceInfo struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Services    []string  `json:"services,omitempty"`
	Connectable bool      `json:"connectable"`
	Seen        int       `json:"seen"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// DisplayName returns the advertised name or fallback
func (d DeviceInfo) DisplayName(fallback string) string {
	if d.Name == "" {
		return fallback
	}
	return d.Name
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration  time.Duration
	Filter    device.Filter
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

// Scanner collects advertisements from a device.Scanner. Results keep
// discovery order; repeated advertisements refresh RSSI and fill in a name
// that arrived late.
type Scanner struct {
	platform device.Scanner
	logger   *logrus.Logger
	events   *ringchan.RingChannel[DeviceEvent]

	mu      sync.Mutex
	devices *orderedmap.OrderedMap[string, *DeviceInfo]
	now     func() time.Time
}

// NewScanner creates a new scanner over platform
func NewScanner(platform device.Scanner, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		platform: platform,
		logger:   logger,
		events:   ringchan.New[DeviceEvent](100),
		devices:  orderedmap.New[string, *DeviceInfo](),
		now:      time.Now,
	}
}

// Scan performs discovery for opts.Duration (or until ctx ends when the
// duration is zero) and returns the matching devices in discovery order.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.mu.Lock()
	s.devices = orderedmap.New[string, *DeviceInfo]()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"filter":   opts.Filter.String(),
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	blocked := make(map[string]struct{}, len(opts.BlockList))
	for _, a := range opts.BlockList {
		blocked[device.NormalizeAddress(a)] = struct{}{}
	}

	err := s.platform.Scan(scanCtx, opts.Filter, func(adv device.Advertisement) {
		if _, skip := blocked[device.NormalizeAddress(adv.Addr())]; skip {
			return
		}
		s.handleAdvertisement(adv)
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progressCallback("Processing results")
	devices := s.Devices()
	s.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	now := s.now()
	key := device.NormalizeAddress(adv.Addr())

	s.mu.Lock()
	info, existing := s.devices.Get(key)
	if existing {
		info.RSSI = adv.RSSI()
		info.LastSeen = now
		info.Seen++
		if name := adv.LocalName(); name != "" {
			info.Name = name
		}
		if svcs := adv.Services(); len(svcs) > 0 {
			info.Services = device.NormalizeUUIDs(svcs)
		}
	} else {
		info = &DeviceInfo{
			Name:        adv.LocalName(),
			Address:     adv.Addr(),
			RSSI:        adv.RSSI(),
			Services:    device.NormalizeUUIDs(adv.Services()),
			Connectable: adv.Connectable(),
			Seen:        1,
			FirstSeen:   now,
			LastSeen:    now,
		}
		s.devices.Set(key, info)
	}
	event := DeviceEvent{Device: *info}
	s.mu.Unlock()

	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  event.Device.Name,
			"address": event.Device.Address,
			"rssi":    event.Device.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// Devices returns a snapshot of discovered devices in discovery order
func (s *Scanner) Devices() []DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	devs := make([]DeviceInfo, 0, s.devices.Len())
	for pair := s.devices.Oldest(); pair != nil; pair = pair.Next() {
		devs = append(devs, *pair.Value)
	}
	return devs
}

// Events returns a read-only channel of device events. Slow readers lose
// the oldest events.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
