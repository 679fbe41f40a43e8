package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/rootsploit/infoauto/internal/config"
	"github.com/rootsploit/infoauto/internal/debug"
	"github.com/rootsploit/infoauto/internal/store"
	"github.com/rootsploit/infoauto/internal/sysinfo"
	"github.com/rootsploit/infoauto/internal/version"
	"github.com/spf13/cobra"
)

var (
	cfg        = config.DefaultConfig()
	configPath string
	flagDebug  bool
	flagBook   string
	flagStore  string

	rootCmd = &cobra.Command{
		Use:   "infoauto",
		Short: "Iterative recon pipeline: resolve, classify, scan, fingerprint",
		Long: `infoauto - iterative asset discovery over a shared workbook.

Seed subdomains with 'infoauto import', then 'infoauto run' loops
host → nali → masscan → whatweb until a full pass finds nothing new.
Direct (non-cloud) hosts are consolidated into the address ranges around
them before scanning.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ~/.infoauto/config.yaml)")
	pf.BoolVar(&flagDebug, "debug", false, "Show detailed timing logs for each tool execution")
	pf.StringVarP(&flagBook, "workbook", "w", "", "Workbook path (overrides config)")
	pf.StringVar(&flagStore, "backend", "", "Workbook backend: xlsx or sqlite (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(rangesCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so a running pipeline can stop between stages.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagBook != "" {
		loaded.Workbook.Path = flagBook
	}
	if flagStore != "" {
		loaded.Workbook.Backend = flagStore
	}
	if flagDebug {
		loaded.Debug = true
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	settings, _ := sysinfo.Recommend()
	loaded.ApplySettings(settings)
	cfg = loaded
	if cfg.Debug {
		debug.Enable()
	}
	return nil
}

func openStore() (store.Store, error) {
	st, err := store.Open(cfg.Workbook.Backend, cfg.Workbook.Path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", cfg.Workbook.Path, err)
	}
	return st, nil
}

func newLogger() *log.Logger {
	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           level,
	})
}

func printBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	white := color.New(color.FgWhite, color.Bold)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	cyan.Print(`
    _       ____                 __
   (_)___  / __/___  ____ ___  _/ /_____
  / / __ \/ /_/ __ \/ __ '/ / / / __/ __ \
 / / / / / __/ /_/ / /_/ / /_/ / /_/ /_/ /
/_/_/ /_/_/  \____/\__,_/\__,_/\__/\____/
`)
	fmt.Println()
	white.Print("  Iterative Asset Discovery")
	gray.Printf("  v%s\n", version.Version)
	fmt.Println()
	yellow.Print("  [*] ")
	white.Println("host | nali | masscan | whatweb")
	fmt.Println()
}
