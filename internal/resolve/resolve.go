// Package resolve turns pending subdomains into host addresses.
package resolve

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/rootsploit/infoauto/internal/pipeline"
	"github.com/rootsploit/infoauto/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Options struct {
	Concurrency int
	// Rate caps lookups per second; 0 means unlimited.
	Rate   int
	Logger *log.Logger
}

// Resolver is the resolve stage.
type Resolver struct {
	store   store.Store
	lookup  Lookup
	opts    Options
	limiter *rate.Limiter
	logger  *log.Logger
}

func New(st store.Store, lookup Lookup, opts Options) *Resolver {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{
		store:   st,
		lookup:  lookup,
		opts:    opts,
		limiter: rate.NewLimiter(limit, max(opts.Rate, 1)),
		logger:  logger.WithPrefix(pipeline.StageResolve),
	}
}

func (r *Resolver) Name() string { return pipeline.StageResolve }

// Run resolves every subdomain not yet marked resolved. Each answer's
// addresses are recorded on the subdomain row they were returned for;
// addresses of non-alias answers are added to the hosts sheet. Rows whose
// lookup failed stay pending.
func (r *Resolver) Run(ctx context.Context) (int, error) {
	rows, err := r.store.Rows(ctx, store.SheetSubdomains, store.Ne(store.ColResolved, store.Done), 0)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	names := store.Names(rows)
	r.logger.Info("resolving subdomains", "count", len(names))

	answers := make([]*Answer, len(names))
	errs := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}
			answers[i], errs[i] = r.lookup.Lookup(gctx, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	ips := make(map[string][]string)
	aliases := make(map[string]string)
	done := make(map[string]string)
	var hosts []string
	var firstErr error

	for i, name := range names {
		if errs[i] != nil {
			r.logger.Warn("lookup failed", "name", name, "err", errs[i])
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		a := answers[i]
		done[name] = store.Done

		for _, rec := range a.Records {
			if !slices.Contains(ips[rec.Name], rec.IP) {
				ips[rec.Name] = append(ips[rec.Name], rec.IP)
			}
		}
		if a.Alias {
			if c := a.Canonical(name); c != "" {
				aliases[name] = c
			}
			r.logger.Debug("alias answer", "name", name, "addresses", a.Addresses())
			continue
		}
		hosts = append(hosts, a.Addresses()...)
	}

	if len(done) == 0 {
		return 0, fmt.Errorf("all %d lookups failed: %w", len(names), firstErr)
	}

	ipCol := make(map[string]string, len(ips))
	for name, list := range ips {
		ipCol[name] = strings.Join(list, ",")
	}
	if _, err := r.store.Update(ctx, store.SheetSubdomains, store.ColIP, ipCol); err != nil {
		return 0, err
	}
	if len(aliases) > 0 {
		if _, err := r.store.Update(ctx, store.SheetSubdomains, store.ColAlias, aliases); err != nil {
			return 0, err
		}
	}

	slices.Sort(hosts)
	hosts = slices.Compact(hosts)
	added, err := r.store.Append(ctx, store.SheetHosts, hosts)
	if err != nil {
		return 0, err
	}

	if _, err := r.store.Update(ctx, store.SheetSubdomains, store.ColResolved, done); err != nil {
		return 0, err
	}

	r.logger.Info("resolved", "subdomains", len(done), "failed", len(names)-len(done), "new_hosts", added)
	return len(done), nil
}
