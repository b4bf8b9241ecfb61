package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/cli"
	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/stats"
	"github.com/forest6511/animectl/pkg/vault"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// Metadata flags for list command
var (
	listStatus  string
	listMatch   string
	listSort    string
	listReverse bool
	listAdult   bool
	listWidth   int
)

// Flags for search and stats commands
var (
	searchAdult bool
	statsAdult  bool
	statsTop    int
	statsJSON   bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)

	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by status")
	listCmd.Flags().StringVarP(&listMatch, "match", "m", "", "Filter titles by glob pattern (e.g., \"Naruto*\")")
	listCmd.Flags().StringVar(&listSort, "sort", cli.SortID, "Sort by: "+strings.Join(cli.SortKeys(), ", "))
	listCmd.Flags().BoolVar(&listReverse, "reverse", false, "Reverse the sort order")
	listCmd.Flags().BoolVar(&listAdult, "adult", false, "Include adult entries (prompts for the adult password)")
	listCmd.Flags().IntVar(&listWidth, "width", 40, "Truncate titles to this many characters (0 disables)")

	searchCmd.Flags().BoolVar(&searchAdult, "adult", false, "Include adult entries (prompts for the adult password)")

	statsCmd.Flags().BoolVar(&statsAdult, "adult", false, "Include adult entries (prompts for the adult password)")
	statsCmd.Flags().IntVar(&statsTop, "top", 5, "Number of genres to show (0 shows all)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}

// listCmd lists entries
var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Lists watchlist entries",
	Long: `Lists watchlist entries.

Examples:
  animectl list
  animectl list --status watching --sort last-watched
  animectl list --match "Naruto*"
  animectl list --adult`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, listAdult, func(_ *vault.Vault, s *vault.Session) error {
			entries, err := s.ListEntries()
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}

			entries, err = cli.FilterStatus(entries, listStatus)
			if err != nil {
				return err
			}
			if listMatch != "" {
				entries, err = cli.ExpandPattern(listMatch, entries)
				if errors.Is(err, cli.ErrNoMatch) {
					entries = nil
				} else if err != nil {
					return err
				}
			}
			if err := cli.SortEntries(entries, listSort, listReverse); err != nil {
				return err
			}

			return renderList(cmd, entries, "No entries found")
		})
	},
}

// searchCmd searches titles and genres
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Searches titles and genres",
	Long:  `Searches entries whose title or any genre contains the query, ignoring case.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.TrimSpace(args[0])
		if query == "" {
			return errors.New("search query cannot be empty")
		}
		return withSession(cmd, searchAdult, func(_ *vault.Vault, s *vault.Session) error {
			entries, err := s.Search(query)
			if err != nil {
				return fmt.Errorf("failed to search entries: %w", err)
			}
			return renderList(cmd, entries, fmt.Sprintf("No entries match '%s'", query))
		})
	},
}

func renderList(cmd *cobra.Command, entries []watchlist.Entry, empty string) error {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, empty)
		return nil
	}
	if err := ui.RenderEntries(out, entries, ui.TableOptions{
		MinutesPerEpisode: cfg.MinutesPerEpisode,
		TitleWidth:        listWidth,
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d entries\n", len(entries))
	return nil
}

// statsCmd shows statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows watchlist statistics",
	Long: `Shows totals, hours watched, completion rate, average rating, counts by
status and the most common genres. Adult entries count only with --adult.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, statsAdult, func(_ *vault.Vault, s *vault.Session) error {
			st, err := s.Stats(stats.WithMinutesPerEpisode(cfg.MinutesPerEpisode))
			if err != nil {
				return fmt.Errorf("failed to compute stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if statsJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return ui.RenderStats(out, st, statsTop)
		})
	},
}
