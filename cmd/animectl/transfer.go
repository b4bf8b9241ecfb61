package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/importer"
	"github.com/forest6511/animectl/pkg/store"
	"github.com/forest6511/animectl/pkg/vault"
)

// Export command flags
var (
	exportOutput string
	exportAdult  bool
	exportForce  bool
)

// Import command flags
var (
	importFormat   string
	importMode     string
	importDryRun   bool
	importAdult    bool
	importTimezone string
	importForce    bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: stdout)")
	exportCmd.Flags().BoolVar(&exportAdult, "adult", false, "Include adult entries (prompts for the adult password)")
	exportCmd.Flags().BoolVar(&exportForce, "force", false, "Overwrite existing file without confirmation")

	importCmd.Flags().StringVarP(&importFormat, "format", "f", string(importer.FormatAuto), "Input format: "+strings.Join(importer.ValidFormats(), ", "))
	importCmd.Flags().StringVar(&importMode, "mode", string(vault.ImportMerge), "Import mode: merge, replace")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be imported without making changes")
	importCmd.Flags().BoolVar(&importAdult, "adult", false, "Import adult entries too (prompts for the adult password)")
	importCmd.Flags().StringVar(&importTimezone, "timezone", "", "Time zone of legacy YYYY-MM-DD dates (default: local)")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Skip confirmation prompt for --mode replace")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports the watchlist as JSON",
	Long: `Exports the watchlist as an unencrypted JSON document.

The export is plaintext. Store it carefully or use 'animectl backup' for an
encrypted copy.

Examples:
  # Export to stdout
  animectl export

  # Export to a file, including adult entries
  animectl export -o watchlist.json --adult`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOutput != "" && !exportForce {
			if _, err := os.Stat(exportOutput); err == nil {
				return fmt.Errorf("output file already exists: %s (use --force to overwrite)", exportOutput)
			}
		}

		return withSession(cmd, exportAdult, func(_ *vault.Vault, s *vault.Session) error {
			doc, err := s.Export(exportAdult)
			if err != nil {
				return fmt.Errorf("failed to export: %w", err)
			}

			var buf bytes.Buffer
			if err := doc.Encode(&buf); err != nil {
				return err
			}

			if exportOutput == "" {
				_, err := cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := writeExportFile(exportOutput, buf.Bytes()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Export files are not encrypted.\n", ui.Warning.Sprint("Warning:"))
			fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d entries to %s\n",
				ui.Success.Sprint("✓"), len(doc.Entries), ui.Path.Sprint(exportOutput))
			return nil
		})
	},
}

// writeExportFile writes data with 0600 permissions through a temp file.
func writeExportFile(path string, data []byte) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	fs, err := store.NewFileStore(filepath.Dir(abs))
	if err != nil {
		return err
	}
	if err := fs.AtomicWriteAll(filepath.Base(abs), data); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Imports entries from a JSON file",
	Long: `Imports entries from an animectl export or a legacy tracker file.

Imported entries get new ids. Adult entries are imported only with --adult;
otherwise they are skipped and counted.

Examples:
  # Merge an animectl export (format auto-detected)
  animectl import watchlist.json

  # Replace the watchlist with a legacy tracker export
  animectl import anime_data.json --format legacy --mode replace

  # Preview without changing anything
  animectl import anime_data.json --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := vault.ParseImportMode(importMode)
		if err != nil {
			return err
		}
		loc := time.Local
		if importTimezone != "" {
			loc, err = time.LoadLocation(importTimezone)
			if err != nil {
				return fmt.Errorf("invalid --timezone: %w", err)
			}
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}
		parsed, format, err := importer.Parse(data, importer.Format(importFormat), importer.ParseOptions{Location: loc})
		if err != nil {
			return err
		}
		printParseReport(cmd, parsed, format)

		if len(parsed.Entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No entries found in file")
			return nil
		}
		if importDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "Dry run: would import %d entries (%d adult, %s mode)\n",
				len(parsed.Entries), parsed.AdultCount(), mode)
			return nil
		}
		if mode == vault.ImportReplace && !importForce {
			if !confirm(cmd, "Replace mode removes all current entries you can see. Continue?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Import cancelled.")
				return nil
			}
		}

		return withSession(cmd, importAdult, func(_ *vault.Vault, s *vault.Session) error {
			res, err := s.Import(parsed.Entries, mode)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			if err := save(s); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Imported %d entries\n", ui.Success.Sprint("✓"), res.Added)
			if res.Removed > 0 {
				fmt.Fprintf(out, "  Removed: %d\n", res.Removed)
			}
			if res.SkippedAdult > 0 {
				fmt.Fprintf(out, "  Skipped adult entries: %d %s\n", res.SkippedAdult, ui.Muted.Sprint("use --adult to import them"))
			}
			for _, inv := range res.Invalid {
				fmt.Fprintf(out, "  %s entry %d (%s): %v\n", ui.Warning.Sprint("Invalid"), inv.Index+1, inv.Title, inv.Err)
			}
			return nil
		})
	},
}

func printParseReport(cmd *cobra.Command, res *importer.ImportResult, format importer.Format) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "Format: %s, %d entries parsed\n", format, len(res.Entries))
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "%s %s\n", ui.Warning.Sprint("Warning:"), warning)
	}
	for _, skipped := range res.Skipped {
		fmt.Fprintf(w, "%s item %d (%s): %s\n", ui.Warning.Sprint("Skipped"), skipped.Index+1, skipped.Title, skipped.Reason)
	}
}
