package iprange

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// LegacyTag is the marker some upstream producers prepend to addresses.
const LegacyTag = "cip-"

// ErrParse is wrapped by every ParseError.
var ErrParse = errors.New("malformed address")

// ParseError reports a token that is not a four-octet dotted IPv4 address.
type ParseError struct {
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Token, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Address is an IPv4 host address held as its 32-bit integer value.
type Address uint32

// ParseAddress parses a dotted-quad token after stripping the legacy tag.
// Octets are base-10 and may carry leading zeros.
func ParseAddress(token string) (Address, error) {
	clean := strings.TrimSpace(strings.ReplaceAll(token, LegacyTag, ""))
	parts := strings.Split(clean, ".")
	if len(parts) != 4 {
		return 0, &ParseError{Token: token, Reason: fmt.Sprintf("want 4 octets, got %d", len(parts))}
	}

	var v uint32
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "+-") {
			return 0, &ParseError{Token: token, Reason: fmt.Sprintf("bad octet %q", p)}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, &ParseError{Token: token, Reason: fmt.Sprintf("octet %q out of range", p)}
		}
		v = v<<8 | uint32(n)
	}
	return Address(v), nil
}

// MustParseAddress is ParseAddress for literals known to be valid.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// LastOctet returns the host byte of the address.
func (a Address) LastOctet() uint8 { return uint8(a) }

// Prefix24 returns the dotted three-octet prefix used for bucketing.
func (a Address) Prefix24() string {
	return fmt.Sprintf("%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8))
}

// Addr converts to the standard library representation.
func (a Address) Addr() netip.Addr {
	return netip.AddrFrom4([4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)})
}

// ExcludePolicy is the set of last-octet values treated as unusable hosts.
type ExcludePolicy struct {
	suffixes [256]bool
}

// NewExcludePolicy builds a policy from last-octet values.
func NewExcludePolicy(suffixes ...uint8) ExcludePolicy {
	var p ExcludePolicy
	for _, s := range suffixes {
		p.suffixes[s] = true
	}
	return p
}

var (
	// NetworkBroadcast excludes .0 and .255.
	NetworkBroadcast = NewExcludePolicy(0, 255)
	// GatewayBroadcast excludes .1 and .255.
	GatewayBroadcast = NewExcludePolicy(1, 255)
)

// Excluded reports whether the last octet of a is in the policy.
func (p ExcludePolicy) Excluded(a Address) bool {
	return p.suffixes[a.LastOctet()]
}

// Suffixes lists the excluded last-octet values in ascending order.
func (p ExcludePolicy) Suffixes() []uint8 {
	var out []uint8
	for i, ok := range p.suffixes {
		if ok {
			out = append(out, uint8(i))
		}
	}
	return out
}

var privateSet = func() *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, p := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"100.64.0.0/10",
	} {
		b.AddPrefix(netip.MustParsePrefix(p))
	}
	s, err := b.IPSet()
	if err != nil {
		panic(err)
	}
	return s
}()

// IsPrivate reports whether a is in an RFC1918, loopback, link-local or
// shared address space range.
func IsPrivate(a Address) bool {
	return privateSet.Contains(a.Addr())
}

// FilterPrivate returns the addresses that are not private, preserving order.
func FilterPrivate(addrs []Address) []Address {
	out := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		if !IsPrivate(a) {
			out = append(out, a)
		}
	}
	return out
}

// Normalize parses every token. Malformed tokens are skipped and returned
// as ParseErrors alongside the parsed addresses.
func Normalize(tokens []string) ([]Address, []*ParseError) {
	addrs := make([]Address, 0, len(tokens))
	var bad []*ParseError
	for _, t := range tokens {
		a, err := ParseAddress(t)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				bad = append(bad, pe)
			}
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, bad
}
