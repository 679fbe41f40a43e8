// Package fingerprint identifies discovered web services with whatweb.
package fingerprint

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/pipeline"
	"github.com/rootsploit/infoauto/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// StatusUnknown is recorded when whatweb ran but printed no status code.
const StatusUnknown = "Unknown"

var statusRe = regexp.MustCompile(`\[(\d{3})\s+`)

// ParseStatus returns the first HTTP status code in whatweb output.
func ParseStatus(out string) string {
	if m := statusRe.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return StatusUnknown
}

type Options struct {
	UserAgent string
	// Batch caps services fingerprinted per run; 0 takes all pending.
	Batch       int
	Concurrency int
	// Rate caps whatweb runs started per second; 0 means unlimited.
	Rate    int
	Timeout time.Duration
	Logger  *log.Logger
}

// Outcome is the result of fingerprinting one service.
type Outcome struct {
	Target  string
	Status  string
	Summary string
}

// Fingerprinter is the fingerprint stage.
type Fingerprinter struct {
	store   store.Store
	run     exec.Runner
	opts    Options
	limiter *rate.Limiter
	logger  *log.Logger
}

func New(st store.Store, run exec.Runner, opts Options) *Fingerprinter {
	if run == nil {
		run = exec.Run
	}
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
	return &Fingerprinter{
		store:   st,
		run:     run,
		opts:    opts,
		limiter: rate.NewLimiter(limit, max(opts.Rate, 1)),
		logger:  logger.WithPrefix(pipeline.StageFingerprint),
	}
}

func (f *Fingerprinter) Name() string { return pipeline.StageFingerprint }

// Args builds the whatweb command line for target.
func (f *Fingerprinter) Args(target string) []string {
	args := []string{"--no-error", "--color=never"}
	if f.opts.UserAgent != "" {
		args = append(args, "--user-agent="+f.opts.UserAgent)
	}
	return append(args, target)
}

// Identify runs whatweb against one target. A whatweb that could not run
// is reported in Status rather than as an error.
func (f *Fingerprinter) Identify(ctx context.Context, target string) Outcome {
	r := f.run(ctx, "whatweb", f.Args(target), &exec.Options{Timeout: f.opts.Timeout})
	p := Outcome{Target: target}
	if r.Error != nil && r.ExitCode <= 0 {
		p.Status = "Error: " + r.Error.Error()
		return p
	}
	p.Status = ParseStatus(r.Stdout)
	if lines := exec.Lines(r.Stdout); len(lines) > 0 {
		p.Summary = lines[0]
	}
	return p
}

// Run refreshes the services sheet, then fingerprints pending services.
func (f *Fingerprinter) Run(ctx context.Context) (int, error) {
	if err := f.collect(ctx); err != nil {
		return 0, err
	}

	rows, err := f.store.Rows(ctx, store.SheetServices, store.Ne(store.ColFingerprinted, store.Done), f.opts.Batch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	targets := store.Names(rows)
	f.logger.Info("fingerprinting services", "count", len(targets))

	outcomes := make([]Outcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			if err := f.limiter.Wait(gctx); err != nil {
				return err
			}
			outcomes[i] = f.Identify(gctx, target)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	status := make(map[string]string, len(outcomes))
	summary := make(map[string]string, len(outcomes))
	done := make(map[string]string, len(outcomes))
	failed := 0
	for _, p := range outcomes {
		status[p.Target] = p.Status
		if p.Summary != "" {
			summary[p.Target] = p.Summary
		}
		if strings.HasPrefix(p.Status, "Error: ") {
			failed++
		}
		done[p.Target] = store.Done
	}

	if _, err := f.store.Append(ctx, store.SheetFingerprints, targets); err != nil {
		return 0, err
	}
	if _, err := f.store.Update(ctx, store.SheetFingerprints, store.ColStatus, status); err != nil {
		return 0, err
	}
	if _, err := f.store.Update(ctx, store.SheetFingerprints, store.ColFingerprint, summary); err != nil {
		return 0, err
	}
	if _, err := f.store.Update(ctx, store.SheetServices, store.ColFingerprinted, done); err != nil {
		return 0, err
	}

	f.logger.Info("fingerprinted", "services", len(targets), "errors", failed)
	return len(targets), nil
}

func (f *Fingerprinter) collect(ctx context.Context) error {
	subs, err := f.store.Rows(ctx, store.SheetSubdomains, store.NonBlank(store.ColIP), 0)
	if err != nil {
		return err
	}
	portRows, err := f.store.Rows(ctx, store.SheetPorts, store.All(), 0)
	if err != nil {
		return err
	}
	services := BuildServices(subs, store.Names(portRows))
	added, err := f.store.Append(ctx, store.SheetServices, services)
	if err != nil {
		return err
	}
	if added > 0 {
		f.logger.Debug("new services", "count", added)
	}
	return nil
}
