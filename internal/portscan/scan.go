// Package portscan runs masscan over batches of pending targets.
package portscan

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/shlex"
	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/pipeline"
	"github.com/rootsploit/infoauto/internal/store"
)

type Options struct {
	Ports string
	Rate  int
	// Batch is how many targets go into one masscan run.
	Batch int
	// PortCap drops every port of a host that has this many or more open;
	// such hosts answer on everything and only add noise.
	PortCap int
	// ExtraArgs is a shell-quoted string appended to the command line.
	ExtraArgs string
	Timeout   time.Duration
	Logger    *log.Logger
}

// maxInlineTargets is the longest comma-joined target list passed on the
// command line; longer batches go through an -iL list file.
const maxInlineTargets = 8192

// Scanner is the portscan stage.
type Scanner struct {
	store  store.Store
	run    exec.Runner
	opts   Options
	extra  []string
	logger *log.Logger
}

func NewScanner(st store.Store, run exec.Runner, opts Options) (*Scanner, error) {
	extra, err := shlex.Split(opts.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("masscan args: %w", err)
	}
	if opts.Ports == "" {
		opts.Ports = "1-65535"
	}
	if opts.Batch < 1 {
		opts.Batch = 10
	}
	if run == nil {
		run = exec.Run
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scanner{
		store:  st,
		run:    run,
		opts:   opts,
		extra:  extra,
		logger: logger.WithPrefix(pipeline.StagePortscan),
	}, nil
}

func (s *Scanner) Name() string { return pipeline.StagePortscan }

// Args builds the masscan command line for targets.
func (s *Scanner) Args(targets []string) []string {
	args := []string{
		"-p" + s.opts.Ports,
		strings.Join(targets, ","),
		"--rate", strconv.Itoa(s.opts.Rate),
		"--wait", "0",
	}
	return append(args, s.extra...)
}

// command returns Args(targets), or the same with the targets moved to a
// list file when they are too long for the command line. cleanup removes
// the file.
func (s *Scanner) command(targets []string) ([]string, func(), error) {
	args := s.Args(targets)
	if len(args[1]) <= maxInlineTargets {
		return args, func() {}, nil
	}
	path, cleanup, err := exec.TempFile(strings.Join(targets, "\n")+"\n", ".txt")
	if err != nil {
		return nil, nil, fmt.Errorf("masscan target list: %w", err)
	}
	listArgs := append([]string{args[0], "-iL", path}, args[2:]...)
	return listArgs, cleanup, nil
}

// Run scans one batch of pending targets. The batch is marked scanned even
// when masscan exits non-zero; only a masscan that never ran leaves it
// pending.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	rows, err := s.store.Rows(ctx, store.SheetTargets, store.Ne(store.ColScanned, store.Done), s.opts.Batch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	targets := store.Names(rows)
	s.logger.Info("scanning targets", "count", len(targets))

	args, cleanup, err := s.command(targets)
	if err != nil {
		return 0, err
	}
	r := s.run(ctx, "masscan", args, &exec.Options{Timeout: s.opts.Timeout})
	cleanup()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch {
	case r.TimedOut():
		s.logger.Warn("masscan timed out, keeping partial output", "after", r.Duration.Round(time.Second))
	case r.Error != nil && r.ExitCode <= 0:
		return 0, fmt.Errorf("masscan: %w", r.Error)
	case r.Error != nil:
		s.logger.Warn("masscan exited non-zero", "code", r.ExitCode, "stderr", firstLine(r.Stderr))
	}

	open := ParseOutput(r.Stdout)
	kept, noisy := FilterNoisy(open, s.opts.PortCap)
	for _, h := range noisy {
		s.logger.Debug("dropping noisy host", "ip", h)
	}

	added, err := s.store.Append(ctx, store.SheetPorts, kept)
	if err != nil {
		return 0, err
	}

	done := make(map[string]string, len(targets))
	for _, t := range targets {
		done[t] = store.Done
	}
	if _, err := s.store.Update(ctx, store.SheetTargets, store.ColScanned, done); err != nil {
		return 0, err
	}

	s.logger.Info("scanned", "targets", len(targets), "open", len(open), "kept", len(kept), "new_ports", added)
	return len(targets), nil
}

// ParseOutput turns "Discovered open port 22/tcp on 1.2.3.4" lines into
// "1.2.3.4:22" entries, in output order.
func ParseOutput(out string) []string {
	var found []string
	for _, line := range exec.Lines(out) {
		if !strings.HasPrefix(line, "Discovered open port") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 6 {
			continue
		}
		port, _, _ := strings.Cut(f[3], "/")
		found = append(found, f[5]+":"+port)
	}
	return found
}

// FilterNoisy drops every entry of hosts with limit or more entries and
// returns the kept entries and the dropped hosts. limit <= 0 keeps all.
func FilterNoisy(ipports []string, limit int) (kept, noisy []string) {
	if limit <= 0 {
		return ipports, nil
	}
	count := make(map[string]int)
	for _, ip := range ipports {
		host, _, _ := strings.Cut(ip, ":")
		count[host]++
	}
	for _, ip := range ipports {
		host, _, _ := strings.Cut(ip, ":")
		if count[host] < limit {
			kept = append(kept, ip)
		}
	}
	for host, n := range count {
		if n >= limit {
			noisy = append(noisy, host)
		}
	}
	slices.Sort(noisy)
	return kept, noisy
}

func firstLine(s string) string {
	if lines := exec.Lines(s); len(lines) > 0 {
		return lines[0]
	}
	return ""
}
