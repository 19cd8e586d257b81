package device

import (
	"fmt"
	"strings"
)

// Filter restricts which advertisements are offered by the chooser.
// Empty fields do not restrict.
type Filter struct {
	NamePrefix string
	Services   []string
	Address    string
}

// Match reports whether an advertisement with the given name, address and
// advertised services passes the filter. The name prefix is case-sensitive.
//
// When Address is set it alone decides the match: a peripheral addressed
// explicitly is often advertising without a local name or service list.
func (f Filter) Match(name, address string, services []string) bool {
	if f.Address != "" {
		return strings.EqualFold(NormalizeAddress(f.Address), NormalizeAddress(address))
	}
	if f.NamePrefix != "" && !strings.HasPrefix(name, f.NamePrefix) {
		return false
	}
	if len(f.Services) == 0 {
		return true
	}
	for _, want := range f.Services {
		for _, have := range services {
			if EqualUUID(want, have) {
				return true
			}
		}
	}
	return false
}

// MatchAdvertisement is Match applied to an Advertisement.
func (f Filter) MatchAdvertisement(adv Advertisement) bool {
	return f.Match(adv.LocalName(), adv.Addr(), adv.Services())
}

func (f Filter) String() string {
	var parts []string
	if f.Address != "" {
		parts = append(parts, fmt.Sprintf("address=%s", f.Address))
	}
	if f.NamePrefix != "" {
		parts = append(parts, fmt.Sprintf("namePrefix=%q", f.NamePrefix))
	}
	if len(f.Services) > 0 {
		parts = append(parts, fmt.Sprintf("services=%s", strings.Join(NormalizeUUIDs(f.Services), ",")))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

// NormalizeAddress lowercases a MAC or platform UUID address and strips separators.
func NormalizeAddress(address string) string {
	r := strings.NewReplacer(":", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(address)))
}
