package cli

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/rootsploit/infoauto/internal/cloudrange"
	"github.com/rootsploit/infoauto/internal/tools"
	"github.com/spf13/cobra"
)

var (
	rangesCmd = &cobra.Command{
		Use:   "ranges",
		Short: "Manage cached cloud provider IP ranges",
		Long: `The classify stage treats any host inside a published cloud or CDN
range as a cloud host. Ranges are downloaded once and cached under
tools.cloud_ranges_dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rangesUpdateCmd = &cobra.Command{
		Use:   "update [provider...]",
		Short: "Download provider ranges into the cache",
		Long: `Downloads the published ranges for the given providers (all when none
are given) into the cache directory.

Examples:
  infoauto ranges update
  infoauto ranges update aws cloudflare`,
		RunE: runRangesUpdate,
	}

	rangesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List known providers and whether they are cached",
		RunE:  runRangesList,
	}

	rangesLookupCmd = &cobra.Command{
		Use:   "lookup <ip>...",
		Short: "Show which cached provider range contains each address",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRangesLookup,
	}
)

func init() {
	rangesCmd.AddCommand(rangesUpdateCmd)
	rangesCmd.AddCommand(rangesListCmd)
	rangesCmd.AddCommand(rangesLookupCmd)
}

func runRangesUpdate(cmd *cobra.Command, args []string) error {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	dir := cfg.Tools.CloudRangesDir
	cyan.Printf("\n[+] Updating cloud ranges in %s\n", dir)

	spin := tools.NewSpinner("Downloading provider ranges...")
	spin.Start()
	var (
		mu    sync.Mutex
		lines []string
	)
	err := cloudrange.NewFetcher().SaveToCache(cmd.Context(), dir, args, func(provider string, n int) {
		mu.Lock()
		lines = append(lines, fmt.Sprintf("%-12s %d ranges", provider, n))
		spin.Update(fmt.Sprintf("Downloading provider ranges... (%d saved)", len(lines)))
		mu.Unlock()
	})
	if err != nil {
		spin.Fail(fmt.Sprintf("%d provider(s) saved, some failed", len(lines)))
	} else {
		spin.Success(fmt.Sprintf("%d provider(s) saved", len(lines)))
	}

	sort.Strings(lines)
	for _, l := range lines {
		green.Printf("  ✓ %s\n", l)
	}
	return err
}

func runRangesList(cmd *cobra.Command, args []string) error {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	cached, err := cloudrange.CachedProviders(cfg.Tools.CloudRangesDir)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(cached))
	for _, p := range cached {
		have[p] = true
	}
	for _, p := range cloudrange.Providers() {
		fmt.Printf("  %-12s ", p)
		if have[p] {
			green.Println("✓ cached")
		} else {
			gray.Println("○ not cached")
		}
	}
	return nil
}

func runRangesLookup(cmd *cobra.Command, args []string) error {
	set, err := cloudrange.LoadSet(cfg.Tools.CloudRangesDir)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		return fmt.Errorf("no cached ranges in %s; run 'infoauto ranges update' first", cfg.Tools.CloudRangesDir)
	}
	out := cmd.OutOrStdout()
	for _, ip := range args {
		provider, ok := set.Lookup(ip)
		if !ok {
			provider = "-"
		}
		fmt.Fprintf(out, "%s\t%s\n", strings.TrimSpace(ip), provider)
	}
	return nil
}
