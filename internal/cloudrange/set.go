package cloudrange

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strings"

	"go4.org/netipx"
)

// Set answers which provider, if any, publishes a range containing an address.
type Set struct {
	providers []string
	sets      map[string]*netipx.IPSet
}

// NewSet builds a Set from provider -> CIDR (or bare address) lists.
// Unparseable entries are skipped and counted.
func NewSet(ranges map[string][]string) (*Set, int, error) {
	s := &Set{sets: make(map[string]*netipx.IPSet, len(ranges))}
	skipped := 0

	for provider, lines := range ranges {
		var b netipx.IPSetBuilder
		for _, line := range lines {
			if p, err := netip.ParsePrefix(line); err == nil {
				b.AddPrefix(p.Masked())
				continue
			}
			if a, err := netip.ParseAddr(line); err == nil {
				b.Add(a)
				continue
			}
			skipped++
		}
		set, err := b.IPSet()
		if err != nil {
			return nil, skipped, fmt.Errorf("build %s range set: %w", provider, err)
		}
		s.sets[provider] = set
		s.providers = append(s.providers, provider)
	}
	slices.Sort(s.providers)
	return s, skipped, nil
}

// LoadSet builds a Set from every cache file in cacheDir. A missing
// directory yields an empty set.
func LoadSet(cacheDir string) (*Set, error) {
	providers, err := CachedProviders(cacheDir)
	if err != nil {
		return nil, err
	}
	ranges := make(map[string][]string, len(providers))
	for _, p := range providers {
		lines, err := LoadCachedRanges(cacheDir, p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		ranges[p] = lines
	}
	s, _, err := NewSet(ranges)
	return s, err
}

// Lookup returns the first provider (by name) whose ranges contain addr.
func (s *Set) Lookup(addr string) (string, bool) {
	if s == nil {
		return "", false
	}
	a, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return "", false
	}
	for _, p := range s.providers {
		if s.sets[p].Contains(a) {
			return p, true
		}
	}
	return "", false
}

// Providers returns the providers loaded into s.
func (s *Set) Providers() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.providers...)
}

// Len returns the number of loaded providers.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.providers)
}
