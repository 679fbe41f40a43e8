package iprange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCIDR is wrapped by every InvalidCIDRError.
var ErrInvalidCIDR = errors.New("invalid cidr")

// InvalidCIDRError reports a block whose network or prefix length is malformed.
type InvalidCIDRError struct {
	CIDR   string
	Reason string
}

func (e *InvalidCIDRError) Error() string {
	return fmt.Sprintf("cidr %q: %s", e.CIDR, e.Reason)
}

func (e *InvalidCIDRError) Unwrap() error { return ErrInvalidCIDR }

// Block is a network address and prefix length. Network is the lowest
// address of the range it was derived from and need not be aligned to
// Prefix.
type Block struct {
	Network Address
	Prefix  int
}

func (b Block) String() string {
	return fmt.Sprintf("%s/%d", b.Network, b.Prefix)
}

// Bounds returns the aligned network and broadcast addresses covered by b.
func (b Block) Bounds() (network, broadcast Address) {
	host := uint(32 - b.Prefix)
	mask := uint32(0xFFFFFFFF)
	if host == 32 {
		mask = 0
	} else {
		mask <<= host
	}
	network = Address(uint32(b.Network) & mask)
	broadcast = Address(uint64(network) + (uint64(1) << host) - 1)
	return network, broadcast
}

// ParseBlock parses "a.b.c.d/n" with n in [0, 32].
func ParseBlock(s string) (Block, error) {
	addr, bits, ok := strings.Cut(s, "/")
	if !ok {
		return Block{}, &InvalidCIDRError{CIDR: s, Reason: "missing prefix length"}
	}
	n, err := strconv.Atoi(strings.TrimSpace(bits))
	if err != nil {
		return Block{}, &InvalidCIDRError{CIDR: s, Reason: fmt.Sprintf("prefix %q is not a number", bits)}
	}
	if n < 0 || n > 32 {
		return Block{}, &InvalidCIDRError{CIDR: s, Reason: fmt.Sprintf("prefix %d outside [0,32]", n)}
	}
	network, err := ParseAddress(addr)
	if err != nil {
		return Block{}, &InvalidCIDRError{CIDR: s, Reason: err.Error()}
	}
	return Block{Network: network, Prefix: n}, nil
}

// Materialize lists the host addresses strictly between the aligned network
// and broadcast addresses of b, leaving out excluded hosts.
func Materialize(b Block, policy ExcludePolicy) ([]Address, error) {
	if b.Prefix < 0 || b.Prefix > 32 {
		return nil, &InvalidCIDRError{CIDR: b.String(), Reason: fmt.Sprintf("prefix %d outside [0,32]", b.Prefix)}
	}
	network, broadcast := b.Bounds()

	var out []Address
	for cur := uint64(network) + 1; cur < uint64(broadcast); cur++ {
		if a := Address(cur); !policy.Excluded(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// MaterializeString accepts either a bare address, returned unchanged, or a
// CIDR string.
func MaterializeString(s string, policy ExcludePolicy) ([]string, error) {
	if !strings.Contains(s, "/") {
		return []string{s}, nil
	}
	b, err := ParseBlock(s)
	if err != nil {
		return nil, err
	}
	addrs, err := Materialize(b, policy)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out, nil
}
