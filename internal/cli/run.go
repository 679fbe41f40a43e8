package cli

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/rootsploit/infoauto/internal/classify"
	"github.com/rootsploit/infoauto/internal/cloudrange"
	"github.com/rootsploit/infoauto/internal/debug"
	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/fingerprint"
	"github.com/rootsploit/infoauto/internal/pipeline"
	"github.com/rootsploit/infoauto/internal/portscan"
	"github.com/rootsploit/infoauto/internal/resolve"
	"github.com/rootsploit/infoauto/internal/store"
	"github.com/rootsploit/infoauto/internal/tools"
	"github.com/rootsploit/infoauto/internal/version"
	"github.com/spf13/cobra"
)

var (
	runMaxIterations int
	runInterval      time.Duration
	runStages        []string
	runReportFile    string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until a full pass finds nothing new",
		Long: `Runs every stage in order, over and over:

  1. resolve      host (or native DNS) over pending subdomains
  2. classify     cloud ranges, GeoIP ASN and nali over pending hosts;
                  direct hosts are consolidated into scan targets
  3. portscan     masscan over a batch of pending targets
  4. fingerprint  whatweb over pending services

A failing stage is logged and the next one runs. The loop stops when a
pass consumes nothing, at --max-iterations, or on Ctrl+C.

Examples:
  infoauto run
  infoauto run -w recon.db --backend sqlite --max-iterations 3
  infoauto run --stages resolve,classify --report run.json`,
		RunE: runPipeline,
	}
)

func init() {
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", -1, "Stop after this many passes (default: config, 0 = no cap)")
	runCmd.Flags().DurationVar(&runInterval, "interval", -1, "Pause between passes (default: config)")
	runCmd.Flags().StringSliceVar(&runStages, "stages", nil, "Stages to run (resolve,classify,portscan,fingerprint)")
	runCmd.Flags().StringVar(&runReportFile, "report", "", "Write the run report as JSON to this file")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	printBanner()
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	checker := tools.NewChecker()
	for _, name := range checker.GetMissingRequired() {
		if name == "host" && cfg.Tools.Resolver == "dns" {
			continue
		}
		yellow.Printf("[!] %s not found; its stage will fail (see 'infoauto check')\n", name)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	logger := newLogger()
	stages, cleanup, err := buildStages(st, checker, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	stages, err = selectStages(stages, runStages)
	if err != nil {
		return err
	}

	d := &pipeline.Driver{
		Stages:        stages,
		MaxIterations: cfg.Pipeline.MaxIterations,
		Interval:      time.Duration(cfg.Pipeline.Interval) * time.Second,
		Logger:        logger,
		OnStage:       printStageResult,
	}
	if runMaxIterations >= 0 {
		d.MaxIterations = runMaxIterations
	}
	if runInterval >= 0 {
		d.Interval = runInterval
	}

	cyan.Printf("[+] Workbook: %s (%s)\n\n", cfg.Workbook.Path, cfg.Workbook.Backend)
	report, runErr := d.Run(cmd.Context())
	if runErr != nil {
		if n := exec.Running(); n > 0 {
			logger.Warn("stopping tool processes", "count", n)
		}
		exec.KillAllProcesses()
	}

	printReport(report)
	debug.Summary()

	if runReportFile != "" {
		if err := writeReport(runReportFile, report); err != nil {
			return err
		}
	}
	if runErr != nil && !errors.Is(runErr, cmd.Context().Err()) {
		return runErr
	}
	return nil
}

// buildStages wires the four stages from cfg. cleanup releases any
// databases opened for them.
func buildStages(st store.Store, checker *tools.Checker, logger *log.Logger) ([]pipeline.Stage, func(), error) {
	t := cfg.Tools
	cleanup := func() {}

	var lookup resolve.Lookup
	switch t.Resolver {
	case "dns":
		lookup = resolve.NewDNSLookup(t.DNSServers, time.Duration(t.HostTimeout)*time.Second)
	default:
		lookup = resolve.NewHostLookup(time.Duration(t.HostTimeout) * time.Second)
	}
	resolver := resolve.New(st, lookup, resolve.Options{
		Concurrency: t.HostConcurrency,
		Rate:        t.ResolveRate,
		Logger:      logger,
	})

	var detectors []classify.Detector
	set, err := cloudrange.LoadSet(t.CloudRangesDir)
	switch {
	case err != nil:
		logger.Warn("cloud ranges not loaded", "dir", t.CloudRangesDir, "err", err)
	case set.Len() == 0:
		logger.Info("no cached cloud ranges; run 'infoauto ranges update' to fetch them")
	default:
		logger.Info("cloud ranges loaded", "providers", strings.Join(set.Providers(), ","))
		detectors = append(detectors, &classify.RangeDetector{Set: set})
	}
	if t.GeoIPASNDB != "" {
		asn, err := classify.OpenASN(t.GeoIPASNDB, t.CloudKeywords)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { asn.Close() }
		detectors = append(detectors, asn)
	}
	if checker.IsInstalled("nali") {
		detectors = append(detectors, &classify.NaliDetector{
			Run:      exec.Run,
			Keywords: t.CloudKeywords,
			Timeout:  time.Duration(t.NaliTimeout) * time.Second,
		})
	} else {
		logger.Warn("nali not installed; keyword classification disabled")
	}
	classifier := classify.New(st, detectors, classify.Options{
		Concurrency: t.NaliConcurrency,
		Consolidate: cfg.ConsolidateOptions(),
		Logger:      logger,
	})

	scanner, err := portscan.NewScanner(st, exec.Run, portscan.Options{
		Ports:     t.MasscanPorts,
		Rate:      t.MasscanRate,
		Batch:     t.MasscanBatch,
		PortCap:   t.PortCap,
		ExtraArgs: t.MasscanArgs,
		Timeout:   time.Duration(t.MasscanTimeout) * time.Minute,
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	fp := fingerprint.New(st, exec.Run, fingerprint.Options{
		UserAgent:   t.UserAgent,
		Batch:       t.FingerprintBatch,
		Concurrency: t.FingerprintBatch,
		Rate:        t.FingerprintRate,
		Timeout:     time.Duration(t.WhatwebTimeout) * time.Second,
		Logger:      logger,
	})

	return []pipeline.Stage{resolver, classifier, scanner, fp}, cleanup, nil
}

func selectStages(all []pipeline.Stage, names []string) ([]pipeline.Stage, error) {
	if len(names) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var out []pipeline.Stage
	for _, s := range all {
		if want[s.Name()] {
			out = append(out, s)
			delete(want, s.Name())
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		slices.Sort(unknown)
		return nil, fmt.Errorf("unknown stage(s): %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

func printStageResult(r pipeline.StageResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	fmt.Printf("    [%d.%d] %-28s ", r.Iteration, pipeline.StageNumber[r.Stage], pipeline.Title(r.Stage))
	switch r.Status {
	case pipeline.StatusFailed:
		red.Printf("✗ %v\n", r.Err)
	case pipeline.StatusSkipped:
		gray.Println("○ interrupted")
	default:
		green.Printf("✓ %d processed", r.Processed)
		gray.Printf(" (%s)\n", r.Duration.Round(time.Millisecond))
	}
}

func printReport(r *pipeline.Report) {
	if r == nil {
		return
	}
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("[+] Run Summary")
	fmt.Println("─────────────────────────────────────────────────────")
	fmt.Printf("  Run ID:      %s\n", r.RunID)
	fmt.Printf("  Iterations:  %d\n", r.Iterations)
	fmt.Printf("  Processed:   %d\n", r.Processed)
	fmt.Printf("  Stopped:     %s\n", r.StopReason)
	fmt.Printf("  Duration:    %s\n", r.EndTime.Sub(r.StartTime).Round(time.Second))
	if failures := r.Failures(); len(failures) > 0 {
		yellow.Printf("  Failures:    %d stage run(s) failed\n", len(failures))
	}
}

type reportJSON struct {
	Version    string      `json:"version"`
	RunID      string      `json:"run_id"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	Iterations int         `json:"iterations"`
	Processed  int         `json:"processed"`
	StopReason string      `json:"stop_reason"`
	Stages     []stageJSON `json:"stages"`
}

type stageJSON struct {
	Iteration  int    `json:"iteration"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Processed  int    `json:"processed"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func writeReport(path string, r *pipeline.Report) error {
	out := reportJSON{
		Version:    version.Short(),
		RunID:      r.RunID,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Iterations: r.Iterations,
		Processed:  r.Processed,
		StopReason: string(r.StopReason),
	}
	for _, s := range r.Results {
		js := stageJSON{
			Iteration:  s.Iteration,
			Stage:      s.Stage,
			Status:     string(s.Status),
			Processed:  s.Processed,
			DurationMs: s.Duration.Milliseconds(),
		}
		if s.Err != nil {
			js.Error = s.Err.Error()
		}
		out.Stages = append(out.Stages, js)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
