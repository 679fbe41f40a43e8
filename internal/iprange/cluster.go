package iprange

import (
	"slices"
)

// Bucket holds the addresses sharing one /24 prefix, sorted ascending.
type Bucket struct {
	Prefix string
	Addrs  []Address
}

// Partition groups addresses by their a.b.c prefix. Buckets are returned in
// order of first appearance and each is sorted ascending.
func Partition(addrs []Address) []Bucket {
	index := make(map[string]int)
	var buckets []Bucket
	for _, a := range addrs {
		p := a.Prefix24()
		i, ok := index[p]
		if !ok {
			i = len(buckets)
			index[p] = i
			buckets = append(buckets, Bucket{Prefix: p})
		}
		buckets[i].Addrs = append(buckets[i].Addrs, a)
	}
	for i := range buckets {
		slices.Sort(buckets[i].Addrs)
	}
	return buckets
}

// ClusterByGap walks sorted addresses once and groups runs whose distance to
// the previously grouped address is at most maxGap. Runs of two or more are
// clusters; lone addresses are singletons.
func ClusterByGap(sorted []Address, maxGap int) (clusters [][]Address, singles []Address) {
	if len(sorted) == 0 {
		return nil, nil
	}

	flush := func(group []Address) {
		if len(group) == 1 {
			singles = append(singles, group[0])
			return
		}
		clusters = append(clusters, group)
	}

	group := []Address{sorted[0]}
	for _, a := range sorted[1:] {
		last := group[len(group)-1]
		if int64(a)-int64(last) <= int64(maxGap) {
			group = append(group, a)
			continue
		}
		flush(group)
		group = []Address{a}
	}
	flush(group)

	return clusters, singles
}
