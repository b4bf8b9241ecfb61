package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/vault"
)

var (
	historyLimit int
	historySince string
)

var (
	historyExportFormat string
	historyExportSince  string
	historyExportUntil  string
	historyExportOutput string
)

var (
	historyPruneOlderThan string
	historyPruneDryRun    bool
	historyPruneForce     bool
)

var historyVerifyJSON bool

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditVerifyCmd, auditExportCmd, auditPruneCmd)

	auditListCmd.Flags().IntVar(&historyLimit, "limit", 100, "Show at most this many events, newest last")
	auditListCmd.Flags().StringVar(&historySince, "since", "", "Only events from the last period (e.g., 24h, 7d, 2w)")

	auditVerifyCmd.Flags().BoolVar(&historyVerifyJSON, "json", false, "Print the verification result as JSON")

	auditExportCmd.Flags().StringVar(&historyExportFormat, "format", "json", "Export as json or csv")
	auditExportCmd.Flags().StringVar(&historyExportSince, "since", "", "Only events from the last period (e.g., 30d)")
	auditExportCmd.Flags().StringVar(&historyExportUntil, "until", "", "Only events up to this RFC 3339 time")
	auditExportCmd.Flags().StringVarP(&historyExportOutput, "output", "o", "", "Write to a file instead of stdout")

	auditPruneCmd.Flags().StringVar(&historyPruneOlderThan, "older-than", "", "Drop events older than this period (e.g., 6m, 1y)")
	auditPruneCmd.Flags().BoolVar(&historyPruneDryRun, "dry-run", false, "Only count the events that would be dropped")
	auditPruneCmd.Flags().BoolVarP(&historyPruneForce, "force", "f", false, "Do not ask before dropping events")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the vault's tamper-evident history",
	Long: `Inspect the history of unlocks, edits, imports and backups.

Each event is chained to the previous one with an HMAC keyed from the vault
key. Titles are never recorded; entries appear as hashed ids. Reading the
history needs the master password.`,
}

// withAudit unlocks the vault and hands over its audit logger.
func withAudit(cmd *cobra.Command, fn func(l *audit.Logger) error) error {
	return withSession(cmd, false, func(v *vault.Vault, _ *vault.Session) error {
		l := v.Audit()
		if l == nil {
			return errors.New("this vault keeps no audit history")
		}
		return fn(l)
	})
}

// sinceFlag turns a period flag into a cutoff. Empty means no cutoff.
func sinceFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := parseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return time.Now().Add(-d), nil
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent history events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceFlag("since", historySince)
		if err != nil {
			return err
		}

		return withAudit(cmd, func(l *audit.Logger) error {
			events, err := l.ListEvents(historyLimit, since)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No history recorded yet")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEVENT\tRESULT\tFROM\tDETAIL")
			for i := range events {
				e := &events[i]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					eventTime(e.Timestamp), e.Operation, resultLabel(e.Result), e.Source, eventDetail(e))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d events\n", len(events))
			return nil
		})
	},
}

// eventTime shows an RFC 3339 timestamp in local time; unparsable values
// pass through.
func eventTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(time.DateTime)
}

// eventDetail shortens the hashed subject and appends the error code.
func eventDetail(e *audit.Event) string {
	var parts []string
	if e.Subject != "" {
		subject := e.Subject
		if len(subject) > 12 {
			subject = subject[:12]
		}
		parts = append(parts, "entry "+subject)
	}
	if e.Error != nil && e.Error.Code != "" {
		parts = append(parts, ui.Error.Sprint(e.Error.Code))
	}
	return strings.Join(parts, " ")
}

func resultLabel(result string) string {
	switch result {
	case audit.ResultSuccess:
		return ui.Success.Sprint("ok")
	case audit.ResultDenied:
		return ui.Warning.Sprint("denied")
	default:
		return ui.Error.Sprint(result)
	}
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that no history event was altered or removed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAudit(cmd, func(l *audit.Logger) error {
			result, err := l.Verify()
			if err != nil {
				return fmt.Errorf("failed to verify history: %w", err)
			}

			out := cmd.OutOrStdout()
			if historyVerifyJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else if result.Valid {
				fmt.Fprintf(out, "%s History intact: %d events, chain unbroken\n", ui.Success.Sprint("✓"), result.RecordsTotal)
			} else {
				fmt.Fprintf(out, "%s History damaged: %d of %d events verified\n",
					ui.Error.Sprint("✗"), result.RecordsVerified, result.RecordsTotal)
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  - %s\n", e)
				}
			}

			if !result.Valid {
				return errors.New("audit history failed verification")
			}
			return nil
		})
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write history events as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch historyExportFormat {
		case "json", "csv":
		default:
			return fmt.Errorf("unknown export format %q (use json or csv)", historyExportFormat)
		}
		since, err := sinceFlag("since", historyExportSince)
		if err != nil {
			return err
		}
		var until time.Time
		if historyExportUntil != "" {
			if until, err = time.Parse(time.RFC3339, historyExportUntil); err != nil {
				return fmt.Errorf("--until must be an RFC 3339 time: %w", err)
			}
		}

		return withAudit(cmd, func(l *audit.Logger) error {
			data, err := l.Export(historyExportFormat, since, until)
			if err != nil {
				return fmt.Errorf("failed to export history: %w", err)
			}
			if historyExportOutput == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := writeExportFile(historyExportOutput, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s History written to %s\n", ui.Success.Sprint("✓"), ui.Path.Sprint(historyExportOutput))
			return nil
		})
	},
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop old history events",
	Long: `Drop history events older than a period. Pruning cuts the chain, so
verify afterwards reports a break at the oldest event kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyPruneOlderThan == "" {
			return errors.New("--older-than is required (e.g., --older-than 1y)")
		}
		age, err := parseDuration(historyPruneOlderThan)
		if err != nil {
			return fmt.Errorf("--older-than: %w", err)
		}

		return withAudit(cmd, func(l *audit.Logger) error {
			out := cmd.OutOrStdout()
			n, err := l.PrunePreview(age)
			if err != nil {
				return fmt.Errorf("failed to count old events: %w", err)
			}
			switch {
			case historyPruneDryRun:
				fmt.Fprintf(out, "Would drop %d events older than %s\n", n, historyPruneOlderThan)
				return nil
			case n == 0:
				fmt.Fprintf(out, "Nothing older than %s\n", historyPruneOlderThan)
				return nil
			}

			if !historyPruneForce && !confirm(cmd, fmt.Sprintf("Drop %d history events older than %s?", n, historyPruneOlderThan)) {
				fmt.Fprintln(out, "Aborted")
				return nil
			}
			dropped, err := l.Prune(age)
			if err != nil {
				return fmt.Errorf("failed to prune history: %w", err)
			}
			fmt.Fprintf(out, "%s Dropped %d events\n", ui.Success.Sprint("✓"), dropped)
			return nil
		})
	},
}

// durationUnits maps the calendar suffixes accepted on top of
// time.ParseDuration. m is a 30-day month, not a minute.
var durationUnits = map[byte]time.Duration{
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'm': 30 * 24 * time.Hour,
	'y': 365 * 24 * time.Hour,
}

// parseDuration reads periods like "24h", "7d", "2w", "6m" or "1y". Anything
// else goes to time.ParseDuration.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("period too short: %q", s)
	}
	if unit, ok := durationUnits[s[len(s)-1]]; ok {
		if n, err := strconv.Atoi(s[:len(s)-1]); err == nil && n >= 0 {
			return time.Duration(n) * unit, nil
		}
	}
	return time.ParseDuration(s)
}
