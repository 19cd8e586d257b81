//go:build test

package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/bleready/internal/device"
)

// Advertisement is a plain device.Advertisement for tests
type Advertisement struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	SignalRSSI   int      `json:"rssi"`
	ServiceUUIDs []string `json:"services"`
	NotConnect   bool     `json:"not_connectable"`
}

func (a *Advertisement) LocalName() string  { return a.Name }
func (a *Advertisement) Addr() string       { return a.Address }
func (a *Advertisement) RSSI() int          { return a.SignalRSSI }
func (a *Advertisement) Services() []string { return a.ServiceUUIDs }
func (a *Advertisement) Connectable() bool  { return !a.NotConnect }

// AdvertisementBuilder builds advertisements with a fluent API
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder creates a connectable advertisement with no fields set
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.SignalRSSI = rssi
	return b
}

// WithServices adds service UUIDs, short or full form
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.NotConnect = !c
	return b
}

// FromJSON fills the builder from JSON. Panics on invalid JSON as this is
// intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.adv); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	return b
}

func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	return &adv
}
