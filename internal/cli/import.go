package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/rootsploit/infoauto/internal/store"
	"github.com/spf13/cobra"
)

var (
	importSheet string

	importCmd = &cobra.Command{
		Use:   "import [file...]",
		Short: "Seed the workbook with subdomains",
		Long: `Appends names from the given files (or stdin) to a workbook sheet.
Names already present are skipped, so importing the same list twice is
harmless. Anything imported starts pending for the next 'infoauto run'.

Examples:
  infoauto import subdomains.txt
  subfinder -d example.com -silent | infoauto import
  infoauto import --sheet hosts known-ips.txt`,
		RunE: runImport,
	}
)

func init() {
	importCmd.Flags().StringVar(&importSheet, "sheet", store.SheetSubdomains,
		"Sheet to import into ("+strings.Join(store.Sheets, ",")+")")
}

func runImport(cmd *cobra.Command, args []string) error {
	green := color.New(color.FgGreen, color.Bold)
	gray := color.New(color.FgHiBlack)

	if !slices.Contains(store.Sheets, importSheet) {
		return fmt.Errorf("%w: %s", store.ErrUnknownSheet, importSheet)
	}

	names, err := readTokens(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	for i, n := range names {
		names[i] = strings.TrimSuffix(strings.ToLower(n), ".")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	added, err := st.Append(cmd.Context(), importSheet, names)
	if err != nil {
		return err
	}

	green.Fprintf(cmd.OutOrStdout(), "[+] Imported %d new %s", added, importSheet)
	gray.Fprintf(cmd.OutOrStdout(), " (%d read, %d skipped)\n", len(names), len(names)-added)
	return nil
}
