package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rootsploit/infoauto/internal/cloudrange"
	"github.com/rootsploit/infoauto/internal/sysinfo"
	"github.com/rootsploit/infoauto/internal/tools"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check installed tools",
	Long: `Check which external tools the pipeline stages need are installed.

Missing tools are listed with the install command for this platform.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	cyan.Println("\n[+] infoauto Tool Status")
	fmt.Println()

	platform := tools.DetectPlatform()
	info := sysinfo.Detect()
	gray.Printf("Platform: %s\n", platform)
	gray.Printf("System:   %d CPU, %d MB RAM (profile: %s)\n\n", info.NumCPU, info.TotalMemoryMB, info.Profile)

	spin := tools.NewSpinner("Probing tools...")
	spin.Start()
	checker := tools.NewChecker()
	status := checker.CheckAll()
	spin.Success(fmt.Sprintf("Checked %d tools", len(status)))
	fmt.Println()

	fmt.Println("Pipeline Tools:")
	fmt.Println("─────────────────────────────────────────────────────")
	requiredCount, requiredInstalled := 0, 0
	var hints []string

	for _, s := range status {
		tool, _ := tools.ByName(s.Name)
		if s.Required {
			requiredCount++
		}
		fmt.Printf("  %-10s %-12s ", s.Name, "("+tool.Stage+")")
		switch {
		case s.Installed:
			if s.Required {
				requiredInstalled++
			}
			green.Printf("✓ installed")
			if s.Version != "" {
				fmt.Printf(" (%s)", s.Version)
			}
			fmt.Println()
		case s.Required:
			red.Println("✗ not found")
		default:
			yellow.Println("○ not found (optional)")
		}
		if !s.Installed {
			if hint := platform.InstallHint(tool); hint != "" {
				hints = append(hints, hint)
			}
		}
	}

	if checker.IsInstalled("masscan") && !platform.HasLibpcap() {
		yellow.Println("\n  ⚠ libpcap headers not found; masscan may fail to open the interface")
	}

	fmt.Println("\nCloud Ranges:")
	fmt.Println("─────────────────────────────────────────────────────")
	cached, err := cloudrange.CachedProviders(cfg.Tools.CloudRangesDir)
	switch {
	case err != nil:
		red.Printf("  ✗ %v\n", err)
	case len(cached) == 0:
		yellow.Printf("  ○ none cached in %s\n", cfg.Tools.CloudRangesDir)
	default:
		green.Printf("  ✓ %d/%d providers cached", len(cached), len(cloudrange.Providers()))
		gray.Printf(" (%s)\n", cfg.Tools.CloudRangesDir)
	}

	fmt.Println("\n─────────────────────────────────────────────────────")
	fmt.Printf("Required: %d/%d installed\n", requiredInstalled, requiredCount)

	if len(hints) > 0 {
		fmt.Println()
		yellow.Println("⚠ Some tools are missing. Install with:")
		for _, h := range hints {
			fmt.Printf("  %s\n", h)
		}
	} else {
		fmt.Println()
		green.Println("✓ All tools are installed!")
	}
	if len(cached) == 0 {
		yellow.Println("  Run 'infoauto ranges update' to fetch cloud provider ranges")
	}
	return nil
}
