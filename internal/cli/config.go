package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rootsploit/infoauto/internal/config"
	"github.com/spf13/cobra"
)

var (
	configForce bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the infoauto configuration file (~/.infoauto/config.yaml).

Values are applied in order: built-in defaults, the config file,
INFOAUTO_* environment variables (a .env file in the working directory is
read first), then command-line flags.

Commands:
  show  - Display the effective configuration
  init  - Write a config file with the defaults
  path  - Print the config file location`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		RunE:  runConfigShow,
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		RunE:  runConfigInit,
	}

	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolvedConfigPath())
		},
	}
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	cyan.Println("\n[+] infoauto Configuration")
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Print(string(data))

	path := resolvedConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		gray.Printf("\n%s does not exist; showing defaults. Run 'infoauto config init' to create it.\n", path)
	} else {
		gray.Printf("\nEdit configuration: %s\n", path)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	green := color.New(color.FgGreen)
	path := resolvedConfigPath()

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	green.Printf("✓ Wrote %s\n", path)
	return nil
}
