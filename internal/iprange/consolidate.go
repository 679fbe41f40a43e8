package iprange

import (
	"slices"

	"golang.org/x/sync/errgroup"
)

// Options controls a consolidation run.
type Options struct {
	MaxGap        int
	ForwardPad    int
	BackwardPad   int
	Exclude       ExcludePolicy
	FilterPrivate bool

	// Workers is the number of buckets processed at once. Values below 2
	// process buckets serially.
	Workers int

	// OnEvent receives diagnostics as the run progresses. It may be called
	// from several goroutines when Workers > 1.
	OnEvent func(Event)
}

// DefaultOptions matches what the pipeline invokes: gap 8, padding 10 both
// ways, .0/.255 excluded and private ranges dropped.
func DefaultOptions() Options {
	return Options{
		MaxGap:        8,
		ForwardPad:    10,
		BackwardPad:   10,
		Exclude:       NetworkBroadcast,
		FilterPrivate: true,
		Workers:       1,
	}
}

// EventKind identifies a diagnostic emitted during a run.
type EventKind string

const (
	EventParseError  EventKind = "parse_error"
	EventFiltered    EventKind = "filtered"
	EventBucket      EventKind = "bucket"
	EventBlock       EventKind = "block"
	EventInvalidCIDR EventKind = "invalid_cidr"
	EventDone        EventKind = "done"
)

// Event is one diagnostic from a run.
type Event struct {
	Kind     EventKind
	Bucket   string
	Block    string
	Count    int
	Clusters int
	Singles  int
	Err      error
}

// Stats counts what happened to the input.
type Stats struct {
	Input           int `json:"input"`
	ParseErrors     int `json:"parse_errors"`
	PrivateFiltered int `json:"private_filtered"`
	Excluded        int `json:"excluded"`
	Duplicates      int `json:"duplicates"` // repeated inputs, still clustered
	Buckets         int `json:"buckets"`
	Clusters        int `json:"clusters"`
	Singletons      int `json:"singletons"`
	InvalidCIDRs    int `json:"invalid_cidrs"`
}

// Result is the output of a consolidation run.
type Result struct {
	Addresses []string        `json:"addresses"`
	CIDRs     []string        `json:"cidrs"`
	Blocks    []Block         `json:"-"`
	Ranges    []ExpandedRange `json:"-"`
	Skipped   []*ParseError   `json:"-"`
	Stats     Stats           `json:"stats"`
}

type bucketResult struct {
	addrs    []Address
	ranges   []ExpandedRange
	clusters int
	singles  int
	invalid  int
}

// Consolidator runs the engine with fixed options.
type Consolidator struct {
	opts Options
}

func NewConsolidator(opts Options) *Consolidator {
	return &Consolidator{opts: opts}
}

func (c *Consolidator) Options() Options { return c.opts }

// Run consolidates raw address tokens into individual addresses and CIDR
// blocks. Malformed tokens are skipped and reported, never fatal.
func (c *Consolidator) Run(tokens []string) *Result {
	opts := c.opts
	emit := func(e Event) {
		if opts.OnEvent != nil {
			opts.OnEvent(e)
		}
	}

	res := &Result{Addresses: []string{}, CIDRs: []string{}}
	res.Stats.Input = len(tokens)

	addrs, bad := Normalize(tokens)
	res.Skipped = bad
	res.Stats.ParseErrors = len(bad)
	for _, pe := range bad {
		emit(Event{Kind: EventParseError, Err: pe})
	}

	if opts.FilterPrivate {
		before := len(addrs)
		addrs = FilterPrivate(addrs)
		res.Stats.PrivateFiltered = before - len(addrs)
		emit(Event{Kind: EventFiltered, Count: len(addrs)})
	}

	// Repeats stay in: a gap of zero clusters them. The output set is
	// deduplicated at the end.
	seen := make(map[Address]struct{}, len(addrs))
	valid := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		if opts.Exclude.Excluded(a) {
			res.Stats.Excluded++
			continue
		}
		if _, dup := seen[a]; dup {
			res.Stats.Duplicates++
		}
		seen[a] = struct{}{}
		valid = append(valid, a)
	}
	if len(valid) == 0 {
		emit(Event{Kind: EventDone})
		return res
	}

	buckets := Partition(valid)
	res.Stats.Buckets = len(buckets)

	results := make([]bucketResult, len(buckets))
	if opts.Workers < 2 {
		for i, b := range buckets {
			results[i] = c.processBucket(b, emit)
		}
	} else {
		// processBucket never fails; the group only bounds concurrency.
		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for i, b := range buckets {
			i, b := i, b
			g.Go(func() error {
				results[i] = c.processBucket(b, emit)
				return nil
			})
		}
		_ = g.Wait()
	}

	unique := make(map[Address]struct{})
	for _, br := range results {
		res.Stats.Clusters += br.clusters
		res.Stats.Singletons += br.singles
		res.Stats.InvalidCIDRs += br.invalid
		for _, a := range br.addrs {
			unique[a] = struct{}{}
		}
		for _, r := range br.ranges {
			res.Blocks = append(res.Blocks, r.Block)
			res.Ranges = append(res.Ranges, r)
		}
	}

	final := make([]Address, 0, len(unique))
	for a := range unique {
		final = append(final, a)
	}
	slices.Sort(final)
	res.Addresses = make([]string, len(final))
	for i, a := range final {
		res.Addresses[i] = a.String()
	}

	slices.SortStableFunc(res.Blocks, func(x, y Block) int {
		switch {
		case x.Network < y.Network:
			return -1
		case x.Network > y.Network:
			return 1
		}
		return 0
	})
	res.CIDRs = make([]string, len(res.Blocks))
	for i, b := range res.Blocks {
		res.CIDRs[i] = b.String()
	}

	emit(Event{Kind: EventDone, Count: len(res.Addresses), Clusters: res.Stats.Clusters, Singles: res.Stats.Singletons})
	return res
}

func (c *Consolidator) processBucket(b Bucket, emit func(Event)) bucketResult {
	opts := c.opts
	clusters, singles := ClusterByGap(b.Addrs, opts.MaxGap)
	out := bucketResult{clusters: len(clusters), singles: len(singles)}

	for _, cl := range clusters {
		r := Expand(cl, opts.ForwardPad, opts.BackwardPad, opts.Exclude)
		hosts, err := Materialize(r.Block, opts.Exclude)
		if err != nil {
			out.invalid++
			emit(Event{Kind: EventInvalidCIDR, Bucket: b.Prefix, Block: r.Block.String(), Err: err})
			continue
		}
		out.ranges = append(out.ranges, r)
		out.addrs = append(out.addrs, hosts...)
		// Hosts of an unaligned block can miss the cluster's own members.
		out.addrs = append(out.addrs, cl...)
		emit(Event{Kind: EventBlock, Bucket: b.Prefix, Block: r.Block.String(), Count: len(hosts)})
	}
	out.addrs = append(out.addrs, singles...)

	emit(Event{Kind: EventBucket, Bucket: b.Prefix, Count: len(b.Addrs), Clusters: len(clusters), Singles: len(singles)})
	return out
}

// Run consolidates tokens with the given options.
func Run(tokens []string, opts Options) *Result {
	return NewConsolidator(opts).Run(tokens)
}

// RunSimple returns only the consolidated address list.
func RunSimple(tokens []string, opts Options) []string {
	return Run(tokens, opts).Addresses
}
