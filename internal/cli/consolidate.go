package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/iprange"
	"github.com/spf13/cobra"
)

var (
	consCIDRs       bool
	consRanges      bool
	consJSON        bool
	consStats       bool
	consGap         int
	consForward     int
	consBackward    int
	consExclude     string
	consKeepPrivate bool
	consWorkers     int

	consolidateCmd = &cobra.Command{
		Use:   "consolidate [file...]",
		Short: "Consolidate addresses into the ranges around them",
		Long: `Reads IPv4 addresses (one per line, or separated by spaces or commas)
from the given files or stdin, clusters them per /24 by gap, pads each
cluster and prints every usable address of the resulting blocks.

Nothing is resolved or scanned; this is the engine the classify stage
runs over direct hosts.

Examples:
  infoauto consolidate hosts.txt
  cat hosts.txt | infoauto consolidate --cidrs
  infoauto consolidate --ranges --stats hosts.txt
  infoauto consolidate --gap 16 --exclude gateway-broadcast --json hosts.txt`,
		RunE: runConsolidate,
	}
)

func init() {
	f := consolidateCmd.Flags()
	f.BoolVar(&consCIDRs, "cidrs", false, "Print CIDR blocks instead of addresses")
	f.BoolVar(&consRanges, "ranges", false, "Print each expanded cluster as start-end, block and member count")
	f.BoolVar(&consJSON, "json", false, "Print the full result as JSON")
	f.BoolVar(&consStats, "stats", false, "Print run statistics to stderr")
	f.IntVar(&consGap, "gap", 0, "Largest gap inside one cluster (default: config)")
	f.IntVar(&consForward, "pad-forward", 0, "Addresses added below each cluster (default: config)")
	f.IntVar(&consBackward, "pad-backward", 0, "Addresses added above each cluster (default: config)")
	f.StringVar(&consExclude, "exclude", "", "Last-octet policy: network-broadcast (0,255) or gateway-broadcast (1,255)")
	f.BoolVar(&consKeepPrivate, "keep-private", false, "Keep private, loopback and link-local addresses")
	f.IntVar(&consWorkers, "workers", 0, "Buckets processed in parallel (default: config)")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	opts := cfg.ConsolidateOptions()
	flags := cmd.Flags()
	if flags.Changed("gap") {
		opts.MaxGap = consGap
	}
	if flags.Changed("pad-forward") {
		opts.ForwardPad = consForward
	}
	if flags.Changed("pad-backward") {
		opts.BackwardPad = consBackward
	}
	if flags.Changed("workers") {
		opts.Workers = consWorkers
	}
	if consKeepPrivate {
		opts.FilterPrivate = false
	}
	switch consExclude {
	case "":
	case "network-broadcast":
		opts.Exclude = iprange.NetworkBroadcast
	case "gateway-broadcast":
		opts.Exclude = iprange.GatewayBroadcast
	default:
		return fmt.Errorf("unknown --exclude policy %q", consExclude)
	}
	if opts.MaxGap < 0 || opts.ForwardPad < 0 || opts.BackwardPad < 0 {
		return fmt.Errorf("gap and padding cannot be negative")
	}
	if cfg.Debug {
		logger := newLogger()
		opts.OnEvent = func(e iprange.Event) {
			logger.Debug("consolidate", "event", e.Kind, "bucket", e.Bucket, "block", e.Block, "count", e.Count)
		}
	}

	tokens, err := readTokens(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	c := iprange.NewConsolidator(opts)
	rep := newConsolidateReport(c.Options(), c.Run(tokens))

	for _, pe := range rep.skipped {
		log.Warn("skipped", "token", pe.Token, "reason", pe.Reason)
	}
	if consStats {
		printConsolidateStats(cmd.ErrOrStderr(), rep)
	}

	out := cmd.OutOrStdout()
	switch {
	case consJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case consRanges:
		for _, r := range rep.Ranges {
			fmt.Fprintf(out, "%s-%s\t%s\t%d\n", r.Start, r.End, r.CIDR, r.Members)
		}
		return nil
	}
	lines := rep.Addresses
	if consCIDRs {
		lines = rep.CIDRs
	}
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}

type rangeReport struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	CIDR    string `json:"cidr"`
	Members int    `json:"members"`
	Size    int    `json:"size"`
}

type optionsReport struct {
	MaxGap        int   `json:"max_gap"`
	ForwardPad    int   `json:"pad_forward"`
	BackwardPad   int   `json:"pad_backward"`
	Exclude       []int `json:"exclude"`
	FilterPrivate bool  `json:"filter_private"`
}

// consolidateReport is what the consolidate command prints with --json.
type consolidateReport struct {
	Addresses []string      `json:"addresses"`
	CIDRs     []string      `json:"cidrs"`
	Ranges    []rangeReport `json:"ranges"`
	Stats     iprange.Stats `json:"stats"`
	Options   optionsReport `json:"options"`

	skipped []*iprange.ParseError
}

func newConsolidateReport(opts iprange.Options, res *iprange.Result) *consolidateReport {
	rep := &consolidateReport{
		Addresses: res.Addresses,
		CIDRs:     res.CIDRs,
		Ranges:    make([]rangeReport, 0, len(res.Ranges)),
		Stats:     res.Stats,
		Options: optionsReport{
			MaxGap:        opts.MaxGap,
			ForwardPad:    opts.ForwardPad,
			BackwardPad:   opts.BackwardPad,
			Exclude:       []int{},
			FilterPrivate: opts.FilterPrivate,
		},
		skipped: res.Skipped,
	}
	for _, o := range opts.Exclude.Suffixes() {
		rep.Options.Exclude = append(rep.Options.Exclude, int(o))
	}
	ranges := slices.Clone(res.Ranges)
	slices.SortStableFunc(ranges, func(a, b iprange.ExpandedRange) int {
		return cmp.Compare(a.Start(), b.Start())
	})
	for _, r := range ranges {
		rep.Ranges = append(rep.Ranges, rangeReport{
			Start:   r.Start().String(),
			End:     r.End().String(),
			CIDR:    r.Block.String(),
			Members: r.Original,
			Size:    len(r.Addrs),
		})
	}
	return rep
}

// readTokens collects address tokens from files, or from stdin when no
// file is given or a file is "-".
func readTokens(stdin io.Reader, files []string) ([]string, error) {
	if len(files) == 0 {
		files = []string{"-"}
	}
	var tokens []string
	for _, name := range files {
		var lines []string
		var err error
		if name == "-" {
			lines, err = exec.ScanLines(stdin)
		} else {
			lines, err = exec.ReadLines(name)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, l := range lines {
			tokens = append(tokens, strings.FieldsFunc(l, func(r rune) bool {
				return r == ',' || r == ' ' || r == '\t' || r == ';'
			})...)
		}
	}
	return tokens, nil
}

func printConsolidateStats(w io.Writer, rep *consolidateReport) {
	s, o := rep.Stats, rep.Options
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(w, "gap %d | pad %d/%d | exclude %v | keep private %t\n",
		o.MaxGap, o.ForwardPad, o.BackwardPad, o.Exclude, !o.FilterPrivate)
	gray.Fprintf(w, "input %d | parse errors %d | private %d | excluded %d | duplicates %d\n",
		s.Input, s.ParseErrors, s.PrivateFiltered, s.Excluded, s.Duplicates)
	gray.Fprintf(w, "buckets %d | clusters %d | singletons %d | invalid blocks %d\n",
		s.Buckets, s.Clusters, s.Singletons, s.InvalidCIDRs)
	gray.Fprintf(w, "ranges %d | cidrs %d | addresses %d\n", len(rep.Ranges), len(rep.CIDRs), len(rep.Addresses))
}
