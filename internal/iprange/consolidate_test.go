package iprange

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleOptions() Options {
	opts := DefaultOptions()
	opts.FilterPrivate = false
	opts.ForwardPad = 3
	opts.BackwardPad = 3
	opts.Exclude = GatewayBroadcast
	return opts
}

func TestRunContiguousCluster(t *testing.T) {
	res := Run([]string{"192.168.1.10", "192.168.1.11", "192.168.1.12"}, exampleOptions())

	assert.Equal(t, []string{"192.168.1.7/28"}, res.CIDRs)
	require.Len(t, res.Addresses, 13)
	assert.Equal(t, "192.168.1.2", res.Addresses[0])
	assert.Equal(t, "192.168.1.14", res.Addresses[len(res.Addresses)-1])
	assert.NotContains(t, res.Addresses, "192.168.1.1")
	assert.NotContains(t, res.Addresses, "192.168.1.255")
	assert.Equal(t, 1, res.Stats.Clusters)
	assert.Equal(t, 0, res.Stats.Singletons)
}

func TestRunIsolatedAddress(t *testing.T) {
	res := Run([]string{"8.8.8.8"}, DefaultOptions())
	assert.Equal(t, []string{"8.8.8.8"}, res.Addresses)
	assert.Empty(t, res.CIDRs)
	assert.Equal(t, 1, res.Stats.Singletons)
}

func TestRunEmpty(t *testing.T) {
	res := Run(nil, DefaultOptions())
	assert.Empty(t, res.Addresses)
	assert.Empty(t, res.CIDRs)
	assert.NotNil(t, res.Addresses)
	assert.NotNil(t, res.CIDRs)
}

func TestRunPrivateOnly(t *testing.T) {
	res := Run([]string{"192.168.1.10", "10.0.0.1", "172.16.0.1"}, DefaultOptions())
	assert.Empty(t, res.Addresses)
	assert.Empty(t, res.CIDRs)
	assert.Equal(t, 3, res.Stats.PrivateFiltered)
}

func TestRunKeepsClusterMembersOutsideAlignedBlock(t *testing.T) {
	res := Run([]string{"1.2.3.100", "1.2.3.105"}, DefaultOptions())

	assert.Equal(t, []string{"1.2.3.90/27"}, res.CIDRs)
	// 1.2.3.90/27 aligns to .64-.95, leaving .65-.94 as hosts.
	require.Len(t, res.Addresses, 32)
	assert.Equal(t, "1.2.3.65", res.Addresses[0])
	assert.Contains(t, res.Addresses, "1.2.3.100")
	assert.Contains(t, res.Addresses, "1.2.3.105")
	assert.Equal(t, "1.2.3.105", res.Addresses[len(res.Addresses)-1])
}

func TestRunSkipsMalformedTokens(t *testing.T) {
	res := Run([]string{"bogus", "cip-8.8.8.8", "1.2.3.999"}, DefaultOptions())

	assert.Equal(t, []string{"8.8.8.8"}, res.Addresses)
	assert.Equal(t, 2, res.Stats.ParseErrors)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "bogus", res.Skipped[0].Token)
	assert.True(t, errors.Is(res.Skipped[1], ErrParse))
}

func TestRunDropsExcluded(t *testing.T) {
	res := Run([]string{"8.8.8.0", "8.8.8.255", "9.9.9.9"}, DefaultOptions())

	assert.Equal(t, []string{"9.9.9.9"}, res.Addresses)
	assert.Empty(t, res.CIDRs)
	assert.Equal(t, 2, res.Stats.Excluded)
}

func TestRunRepeatedAddressFormsCluster(t *testing.T) {
	opts := DefaultOptions()
	opts.FilterPrivate = false
	res := Run([]string{"8.8.8.8", "8.8.8.8"}, opts)

	// Padding walks 8.8.8.7 down past .0 and 8.8.7.255 to 8.8.7.252, and up
	// to 8.8.8.18: a span of 22, so /27.
	assert.Equal(t, []string{"8.8.7.252/27"}, res.CIDRs)
	assert.Equal(t, 1, res.Stats.Clusters)
	assert.Zero(t, res.Stats.Singletons)
	assert.Equal(t, 1, res.Stats.Duplicates)

	// The aligned block is 8.8.7.224/27: hosts .225-.254, plus the member.
	require.Len(t, res.Addresses, 31)
	assert.Equal(t, "8.8.7.225", res.Addresses[0])
	assert.Equal(t, "8.8.7.254", res.Addresses[29])
	assert.Equal(t, "8.8.8.8", res.Addresses[30])
}

func TestRunMixedPrivateAndPublic(t *testing.T) {
	in := []string{"192.168.100.1", "192.168.100.145", "192.168.100.133", "8.8.8.8", "10.0.0.1", "172.16.0.1"}

	filtered := Run(in, DefaultOptions())
	assert.Equal(t, []string{"8.8.8.8"}, filtered.Addresses)

	opts := DefaultOptions()
	opts.FilterPrivate = false
	all := Run(in, opts)
	// .133 and .145 are 12 apart, over the default gap.
	assert.Empty(t, all.CIDRs)
	assert.Equal(t, []string{
		"8.8.8.8", "10.0.0.1", "172.16.0.1",
		"192.168.100.1", "192.168.100.133", "192.168.100.145",
	}, all.Addresses)
}

func sampleInput() []string {
	return []string{
		"45.33.1.10", "45.33.1.12", "45.33.1.19",
		"45.33.1.200",
		"45.33.2.5", "45.33.2.6",
		"203.0.113.50", "203.0.113.58", "203.0.113.66",
		"8.8.8.8", "8.8.4.4",
		"10.1.1.1", "192.168.5.5",
		"cip-93.184.216.34",
		"not-an-ip",
	}
}

func TestRunOrderIndependent(t *testing.T) {
	opts := DefaultOptions()
	want := Run(sampleInput(), opts)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		in := sampleInput()
		rng.Shuffle(len(in), func(a, b int) { in[a], in[b] = in[b], in[a] })
		got := Run(in, opts)
		assert.Equal(t, want.Addresses, got.Addresses)
		assert.Equal(t, want.CIDRs, got.CIDRs)
	}
}

func TestRunParallelMatchesSerial(t *testing.T) {
	serial := Run(sampleInput(), DefaultOptions())

	opts := DefaultOptions()
	opts.Workers = 4
	parallel := Run(sampleInput(), opts)

	assert.Equal(t, serial.Addresses, parallel.Addresses)
	assert.Equal(t, serial.CIDRs, parallel.CIDRs)
	assert.Equal(t, serial.Stats, parallel.Stats)
}

func TestRunInvariants(t *testing.T) {
	for _, policy := range []ExcludePolicy{NetworkBroadcast, GatewayBroadcast} {
		for _, filter := range []bool{true, false} {
			t.Run(fmt.Sprintf("%v/%v", policy.Suffixes(), filter), func(t *testing.T) {
				opts := DefaultOptions()
				opts.Exclude = policy
				opts.FilterPrivate = filter
				res := Run(sampleInput(), opts)

				for _, s := range res.Addresses {
					a := MustParseAddress(s)
					assert.False(t, policy.Excluded(a), s)
					if filter {
						assert.False(t, IsPrivate(a), s)
					}
				}

				for _, b := range res.Blocks {
					network, broadcast := b.Bounds()
					hosts, err := Materialize(b, policy)
					require.NoError(t, err)
					for _, h := range hosts {
						assert.Greater(t, uint32(h), uint32(network))
						assert.Less(t, uint32(h), uint32(broadcast))
						assert.False(t, policy.Excluded(h))
					}
				}

				for i := 1; i < len(res.Addresses); i++ {
					assert.Less(t, uint32(MustParseAddress(res.Addresses[i-1])), uint32(MustParseAddress(res.Addresses[i])))
				}
				for i := 1; i < len(res.Blocks); i++ {
					assert.LessOrEqual(t, uint32(res.Blocks[i-1].Network), uint32(res.Blocks[i].Network))
				}
			})
		}
	}
}

func TestRunCoversClusterMembers(t *testing.T) {
	in := sampleInput()
	res := Run(in, DefaultOptions())

	got := make(map[string]bool, len(res.Addresses))
	for _, s := range res.Addresses {
		got[s] = true
	}

	addrs, _ := Normalize(in)
	for _, b := range Partition(FilterPrivate(addrs)) {
		clusters, singles := ClusterByGap(b.Addrs, 8)
		for _, cl := range clusters {
			for _, a := range cl {
				assert.True(t, got[a.String()], "cluster member %s missing", a)
			}
		}
		for _, a := range singles {
			assert.True(t, got[a.String()], "singleton %s missing", a)
		}
	}
}

func TestRunSecondPassIsStable(t *testing.T) {
	first := Run(sampleInput(), DefaultOptions())
	second := Run(first.Addresses, DefaultOptions())
	third := Run(second.Addresses, DefaultOptions())

	// A pass never drops an address it was given.
	assert.Subset(t, second.Addresses, first.Addresses)
	assert.Subset(t, third.Addresses, second.Addresses)
}

func TestRunEmitsEvents(t *testing.T) {
	var mu sync.Mutex
	var events []Event

	opts := DefaultOptions()
	opts.OnEvent = func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	res := Run(sampleInput(), opts)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Kind)
	assert.Equal(t, len(res.Addresses), last.Count)

	kinds := make(map[EventKind]int)
	for _, e := range events {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[EventParseError])
	assert.Equal(t, res.Stats.Buckets, kinds[EventBucket])
	assert.Equal(t, len(res.CIDRs), kinds[EventBlock])
}

func TestRunSimple(t *testing.T) {
	assert.Equal(t, []string{"8.8.8.8"}, RunSimple([]string{"8.8.8.8"}, DefaultOptions()))
}
