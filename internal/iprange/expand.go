package iprange

import (
	"math"
	"math/bits"
)

const (
	minPrefix = 24
	maxPrefix = 32
)

// ExpandedRange is a cluster grown by forward/backward padding and with its
// internal gaps filled.
type ExpandedRange struct {
	// Addrs is forward padding, the cluster, gap fill and backward padding,
	// in that order.
	Addrs    []Address
	Block    Block
	Original int
}

// Start is the lowest address in the range.
func (r ExpandedRange) Start() Address { return r.Block.Network }

// End is the highest address in the range.
func (r ExpandedRange) End() Address {
	hi := r.Block.Network
	for _, a := range r.Addrs {
		hi = max(hi, a)
	}
	return hi
}

// Expand pads a cluster by up to forward addresses below its minimum and up
// to backward addresses above its maximum, skipping excluded and already
// present addresses, then fills every usable hole between min and max.
// Walks stop at the edges of the IPv4 space.
func Expand(cluster []Address, forward, backward int, policy ExcludePolicy) ExpandedRange {
	lo, hi := cluster[0], cluster[0]
	occupied := make(map[Address]struct{}, len(cluster))
	for _, a := range cluster {
		lo, hi = min(lo, a), max(hi, a)
		occupied[a] = struct{}{}
	}

	usable := func(a Address) bool {
		if policy.Excluded(a) {
			return false
		}
		_, taken := occupied[a]
		return !taken
	}

	var below []Address
	for cur := int64(lo) - 1; len(below) < forward && cur >= 0; cur-- {
		if a := Address(cur); usable(a) {
			below = append(below, a)
		}
	}
	for i, j := 0, len(below)-1; i < j; i, j = i+1, j-1 {
		below[i], below[j] = below[j], below[i]
	}

	var above []Address
	for cur := int64(hi) + 1; len(above) < backward && cur <= math.MaxUint32; cur++ {
		if a := Address(cur); usable(a) {
			above = append(above, a)
		}
	}

	var middle []Address
	for cur := int64(lo) + 1; cur < int64(hi); cur++ {
		if a := Address(cur); usable(a) {
			middle = append(middle, a)
		}
	}

	all := make([]Address, 0, len(below)+len(cluster)+len(middle)+len(above))
	all = append(all, below...)
	all = append(all, cluster...)
	all = append(all, middle...)
	all = append(all, above...)

	first, last := all[0], all[0]
	for _, a := range all {
		first, last = min(first, a), max(last, a)
	}

	return ExpandedRange{
		Addrs:    all,
		Block:    Block{Network: first, Prefix: PrefixForSpan(uint32(last - first))},
		Original: len(cluster),
	}
}

// PrefixForSpan derives 32 - bit_length(span), clamped to [24, 32].
func PrefixForSpan(span uint32) int {
	p := maxPrefix - bits.Len32(span)
	return min(max(p, minPrefix), maxPrefix)
}
