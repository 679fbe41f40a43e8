// Package classify splits resolved hosts into cloud and direct addresses
// and feeds the scan targets: cloud hosts as they are, direct hosts
// consolidated into the ranges around them.
package classify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/panjf2000/ants/v2"
	"github.com/rootsploit/infoauto/internal/iprange"
	"github.com/rootsploit/infoauto/internal/pipeline"
	"github.com/rootsploit/infoauto/internal/store"
)

type Options struct {
	Concurrency int
	Consolidate iprange.Options
	Logger      *log.Logger
}

// Classifier is the classify stage.
type Classifier struct {
	store     store.Store
	detectors []Detector
	opts      Options
	logger    *log.Logger
}

// New returns a classifier that asks detectors in order; the first cloud
// verdict wins. With no verdict every address is direct.
func New(st store.Store, detectors []Detector, opts Options) *Classifier {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Classifier{
		store:     st,
		detectors: detectors,
		opts:      opts,
		logger:    logger.WithPrefix(pipeline.StageClassify),
	}
}

func (c *Classifier) Name() string { return pipeline.StageClassify }

// Classify returns one verdict per address, in input order.
func (c *Classifier) Classify(ctx context.Context, ips []string) ([]Verdict, error) {
	verdicts := make([]Verdict, len(ips))
	if len(ips) == 0 {
		return verdicts, nil
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(c.opts.Concurrency, func(item interface{}) {
		defer wg.Done()
		i := item.(int)
		verdicts[i] = c.detect(ctx, ips[i])
	})
	if err != nil {
		return nil, fmt.Errorf("classify pool: %w", err)
	}
	defer pool.Release()

	var invokeErr error
	for i := range ips {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			invokeErr = err
			break
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if invokeErr != nil {
		return nil, fmt.Errorf("classify pool: %w", invokeErr)
	}
	return verdicts, nil
}

func (c *Classifier) detect(ctx context.Context, ip string) Verdict {
	v := Verdict{Source: "default"}
	for _, d := range c.detectors {
		got, err := d.Detect(ctx, ip)
		if err != nil {
			c.logger.Debug("detector failed", "detector", d.Name(), "ip", ip, "err", err)
			continue
		}
		if got.Cloud {
			return got
		}
		v = got
	}
	return v
}

// Run classifies every host not yet classified, then appends every cloud
// host and the consolidation of every direct host to the targets sheet.
func (c *Classifier) Run(ctx context.Context) (int, error) {
	rows, err := c.store.Rows(ctx, store.SheetHosts, store.Ne(store.ColClassified, store.Done), 0)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ips := store.Names(rows)
	c.logger.Info("classifying hosts", "count", len(ips))

	verdicts, err := c.Classify(ctx, ips)
	if err != nil {
		return 0, err
	}

	kinds := make(map[string]string, len(ips))
	providers := make(map[string]string)
	done := make(map[string]string, len(ips))
	cloud := 0
	for i, ip := range ips {
		v := verdicts[i]
		done[ip] = store.Done
		if v.Cloud {
			cloud++
			kinds[ip] = store.KindCloud
			providers[ip] = v.Provider
			c.logger.Debug("cloud host", "ip", ip, "provider", v.Provider, "source", v.Source)
		} else {
			kinds[ip] = store.KindDirect
		}
	}
	for col, values := range map[string]map[string]string{
		store.ColKind:     kinds,
		store.ColProvider: providers,
	} {
		if _, err := c.store.Update(ctx, store.SheetHosts, col, values); err != nil {
			return 0, err
		}
	}

	added, err := c.feedTargets(ctx)
	if err != nil {
		return 0, err
	}

	if _, err := c.store.Update(ctx, store.SheetHosts, store.ColClassified, done); err != nil {
		return 0, err
	}

	c.logger.Info("classified", "hosts", len(ips), "cloud", cloud, "direct", len(ips)-cloud, "new_targets", added)
	return len(ips), nil
}

func (c *Classifier) feedTargets(ctx context.Context) (int, error) {
	cloudRows, err := c.store.Rows(ctx, store.SheetHosts, store.Eq(store.ColKind, store.KindCloud), 0)
	if err != nil {
		return 0, err
	}
	directRows, err := c.store.Rows(ctx, store.SheetHosts, store.Eq(store.ColKind, store.KindDirect), 0)
	if err != nil {
		return 0, err
	}

	opts := c.opts.Consolidate
	opts.OnEvent = c.onEvent
	res := iprange.Run(store.Names(directRows), opts)

	cloudIPs := store.Names(cloudRows)
	sources := make(map[string]string, len(res.Addresses)+len(cloudIPs))
	for _, a := range res.Addresses {
		sources[a] = store.SourceRange
	}
	for _, a := range cloudIPs {
		sources[a] = store.SourceCloud
	}

	added, err := c.store.Append(ctx, store.SheetTargets, append(cloudIPs, res.Addresses...))
	if err != nil {
		return 0, err
	}
	if _, err := c.store.Update(ctx, store.SheetTargets, store.ColSource, sources); err != nil {
		return 0, err
	}
	return added, nil
}

func (c *Classifier) onEvent(e iprange.Event) {
	switch e.Kind {
	case iprange.EventParseError, iprange.EventInvalidCIDR:
		c.logger.Warn("consolidate", "event", e.Kind, "block", e.Block, "err", e.Err)
	case iprange.EventBucket:
		c.logger.Debug("consolidate", "bucket", e.Bucket, "hosts", e.Count, "clusters", e.Clusters, "singles", e.Singles)
	case iprange.EventBlock:
		c.logger.Debug("consolidate", "bucket", e.Bucket, "block", e.Block, "hosts", e.Count)
	case iprange.EventDone:
		c.logger.Info("consolidated direct hosts", "addresses", e.Count)
	}
}
