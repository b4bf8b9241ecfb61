package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/cli"
	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/vault"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// Flags for add command
var (
	addStatus   string
	addEpisodes int
	addTotal    int
	addRating   float64
	addGenres   string
	addHours    float64
	addNotes    string
	addAdult    bool
)

// Flags for update command
var (
	updateTitle      string
	updateStatus     string
	updateEpisodes   int
	updateNext       bool
	updateTotal      int
	updateRating     float64
	updateGenres     string
	updateHours      float64
	updateNotes      string
	updateIsAdult    bool
	updateClearTotal bool
	updateClearRate  bool
	updateClearHours bool
	updateAdult      bool
)

// Flags for show and delete commands
var (
	showAdult   bool
	deleteAdult bool
	deleteForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)

	addCmd.Flags().StringVarP(&addStatus, "status", "s", string(watchlist.StatusPlanning), "Status: watching, completed, on-hold, dropped, planning")
	addCmd.Flags().IntVarP(&addEpisodes, "episodes", "e", 0, "Episodes watched")
	addCmd.Flags().IntVarP(&addTotal, "total", "t", 0, "Total episodes")
	addCmd.Flags().Float64VarP(&addRating, "rating", "r", 0, "Rating from 0 to 10")
	addCmd.Flags().StringVarP(&addGenres, "genres", "g", "", "Comma-separated genres (e.g., Action,Drama)")
	addCmd.Flags().Float64Var(&addHours, "hours", 0, "Hours watched (default derived from episodes)")
	addCmd.Flags().StringVar(&addNotes, "notes", "", "Private notes")
	addCmd.Flags().BoolVar(&addAdult, "adult", false, "Store in the adult partition (prompts for the adult password)")

	updateCmd.Flags().StringVar(&updateTitle, "title", "", "New title")
	updateCmd.Flags().StringVarP(&updateStatus, "status", "s", "", "New status")
	updateCmd.Flags().IntVarP(&updateEpisodes, "episodes", "e", 0, "Episodes watched")
	updateCmd.Flags().BoolVarP(&updateNext, "next", "n", false, "Mark one more episode as watched")
	updateCmd.Flags().IntVarP(&updateTotal, "total", "t", 0, "Total episodes")
	updateCmd.Flags().Float64VarP(&updateRating, "rating", "r", 0, "Rating from 0 to 10")
	updateCmd.Flags().StringVarP(&updateGenres, "genres", "g", "", "Comma-separated genres (replaces existing)")
	updateCmd.Flags().Float64Var(&updateHours, "hours", 0, "Hours watched")
	updateCmd.Flags().StringVar(&updateNotes, "notes", "", "Private notes (empty string clears)")
	updateCmd.Flags().BoolVar(&updateIsAdult, "is-adult", false, "Move the entry into (true) or out of (false) the adult partition")
	updateCmd.Flags().BoolVar(&updateClearTotal, "clear-total", false, "Forget the total episode count")
	updateCmd.Flags().BoolVar(&updateClearRate, "clear-rating", false, "Remove the rating")
	updateCmd.Flags().BoolVar(&updateClearHours, "clear-hours", false, "Derive hours from episodes again")
	updateCmd.Flags().BoolVar(&updateAdult, "adult", false, "Include adult entries (prompts for the adult password)")
	updateCmd.MarkFlagsMutuallyExclusive("episodes", "next")
	updateCmd.MarkFlagsMutuallyExclusive("total", "clear-total")
	updateCmd.MarkFlagsMutuallyExclusive("rating", "clear-rating")
	updateCmd.MarkFlagsMutuallyExclusive("hours", "clear-hours")

	showCmd.Flags().BoolVar(&showAdult, "adult", false, "Include adult entries (prompts for the adult password)")

	deleteCmd.Flags().BoolVar(&deleteAdult, "adult", false, "Include adult entries (prompts for the adult password)")
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

// initCmd initializes a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new watchlist vault",
	Long: `Initializes a new watchlist vault.

You choose a master password; animectl then prints a recovery secret. The
recovery secret is shown once and is the only way back in if you forget the
master password. Store it somewhere safe and offline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		exists, err := v.Exists()
		if err != nil {
			return err
		}
		if exists {
			return vault.ErrAlreadyInitialized
		}

		fmt.Fprintln(cmd.ErrOrStderr(), "Initializing new vault...")
		password, err := promptNewPassword(cmd, "master password", true)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		sp := ui.StartSpinner(cmd.ErrOrStderr(), "Deriving keys...", spinnerEnabled())
		secret, err := v.Setup(string(password))
		sp.Stop("")
		if err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Vault initialized at %s\n\n", ui.Success.Sprint("✓"), ui.Path.Sprint(vaultDir))
		printRecoverySecret(cmd, secret)
		return nil
	},
}

// printRecoverySecret shows a recovery secret with the loss warning.
func printRecoverySecret(cmd *cobra.Command, secret vault.RecoverySecret) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Recovery secret (shown only once):")
	fmt.Fprintf(out, "\n    %s\n\n", ui.Info.Sprint(secret.String()))
	fmt.Fprintln(out, ui.Warning.Sprint("Write it down and keep it offline."))
	fmt.Fprintln(out, vault.UnrecoverableLossNotice)
}

// addCmd adds an entry
var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Adds an anime to the watchlist",
	Long: `Adds an anime to the watchlist.

Examples:
  animectl add "Cowboy Bebop" --status completed -e 26 -t 26 -r 9 -g "Action,Sci-Fi"
  animectl add "Frieren" --status watching -e 3
  animectl add "Some Title" --adult`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := buildNewEntry(cmd, args[0])
		if err != nil {
			return err
		}

		return withSession(cmd, addAdult, func(_ *vault.Vault, s *vault.Session) error {
			added, err := s.AddEntry(entry)
			if err != nil {
				return err
			}
			if err := save(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s %s\n",
				ui.Success.Sprint("✓"), ui.Highlight.Sprint(added.Title), ui.Muted.Sprintf("id %d", added.ID))
			return nil
		})
	},
}

// buildNewEntry builds an entry from the add flags.
func buildNewEntry(cmd *cobra.Command, title string) (watchlist.Entry, error) {
	status, err := watchlist.ParseStatus(addStatus)
	if err != nil {
		return watchlist.Entry{}, err
	}
	e := watchlist.Entry{
		Title:           title,
		Status:          status,
		EpisodesWatched: addEpisodes,
		Genres:          watchlist.SplitGenres(addGenres),
		Notes:           addNotes,
		IsAdult:         addAdult,
	}
	flags := cmd.Flags()
	if flags.Changed("total") {
		total := addTotal
		e.TotalEpisodes = &total
	}
	if flags.Changed("rating") {
		rating := addRating
		e.Rating = &rating
	}
	if flags.Changed("hours") {
		hours := addHours
		e.HoursWatched = &hours
	}
	return e, nil
}

// showCmd shows entries in detail
var showCmd = &cobra.Command{
	Use:   "show <id|title>...",
	Short: "Shows entries in detail",
	Long: `Shows entries in detail. Arguments are entry ids or titles; titles
accept glob patterns (e.g., "Naruto*") and ignore case.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, showAdult, func(_ *vault.Vault, s *vault.Session) error {
			entries, err := selectEntries(s, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := range entries {
				if i > 0 {
					fmt.Fprintln(out)
				}
				if err := ui.RenderEntry(out, &entries[i], cfg.MinutesPerEpisode); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

// updateCmd updates entries
var updateCmd = &cobra.Command{
	Use:   "update <id|title>...",
	Short: "Updates entries",
	Long: `Updates entries. Only the given flags change.

Examples:
  animectl update Frieren --next
  animectl update 12 --status completed --rating 8.5
  animectl update "Naruto*" --status dropped
  animectl update 3 --clear-rating`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := buildPatch(cmd)
		if err != nil {
			return err
		}
		if patch.Empty() && !updateNext {
			return errors.New("nothing to update (see 'animectl update --help')")
		}

		return withSession(cmd, updateAdult, func(_ *vault.Vault, s *vault.Session) error {
			entries, err := selectEntries(s, args)
			if err != nil {
				return err
			}
			for _, e := range entries {
				p := patch
				if updateNext {
					next := e.EpisodesWatched + 1
					p.EpisodesWatched = &next
				}
				updated, err := s.UpdateEntry(e.ID, p)
				if err != nil {
					return fmt.Errorf("failed to update '%s': %w", e.Title, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s %s\n",
					ui.Success.Sprint("✓"), ui.Highlight.Sprint(updated.Title), ui.Muted.Sprint(updated.Progress()))
			}
			return save(s)
		})
	},
}

// buildPatch builds a patch from the update flags that were set.
func buildPatch(cmd *cobra.Command) (watchlist.Patch, error) {
	var p watchlist.Patch
	flags := cmd.Flags()

	if flags.Changed("title") {
		p.Title = &updateTitle
	}
	if flags.Changed("status") {
		status, err := watchlist.ParseStatus(updateStatus)
		if err != nil {
			return p, err
		}
		p.Status = &status
	}
	if flags.Changed("episodes") {
		p.EpisodesWatched = &updateEpisodes
	}
	if flags.Changed("total") {
		p.TotalEpisodes = &updateTotal
	}
	if flags.Changed("rating") {
		p.Rating = &updateRating
	}
	if flags.Changed("genres") {
		genres := watchlist.SplitGenres(updateGenres)
		p.Genres = &genres
	}
	if flags.Changed("hours") {
		p.HoursWatched = &updateHours
	}
	if flags.Changed("notes") {
		p.Notes = &updateNotes
	}
	if flags.Changed("is-adult") {
		p.IsAdult = &updateIsAdult
	}
	p.ClearTotalEpisodes = updateClearTotal
	p.ClearRating = updateClearRate
	p.ClearHoursWatched = updateClearHours
	return p, nil
}

// deleteCmd deletes entries
var deleteCmd = &cobra.Command{
	Use:     "delete <id|title>...",
	Aliases: []string{"rm"},
	Short:   "Deletes entries",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, deleteAdult, func(_ *vault.Vault, s *vault.Session) error {
			entries, err := selectEntries(s, args)
			if err != nil {
				return err
			}

			if !deleteForce {
				titles := make([]string, 0, len(entries))
				for _, e := range entries {
					titles = append(titles, e.Title)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "This will delete %d entries: %s\n", len(entries), strings.Join(titles, ", "))
				if !confirm(cmd, "Are you sure?") {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			for _, e := range entries {
				if err := s.RemoveEntry(e.ID); err != nil {
					return fmt.Errorf("failed to delete '%s': %w", e.Title, err)
				}
			}
			if err := save(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %d entries\n", ui.Success.Sprint("✓"), len(entries))
			return nil
		})
	},
}

// selectEntries resolves id and title arguments to visible entries,
// keeping the order of first match.
func selectEntries(s *vault.Session, args []string) ([]watchlist.Entry, error) {
	all, err := s.ListEntries()
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	var out []watchlist.Entry
	for _, arg := range args {
		var matches []watchlist.Entry
		if ids, err := cli.ParseIDs([]string{arg}); err == nil {
			e, err := s.Get(ids[0])
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", ids[0], err)
			}
			matches = []watchlist.Entry{e}
		} else {
			matches, err = cli.ExpandPattern(arg, all)
			if err != nil {
				return nil, err
			}
		}
		for _, e := range matches {
			if !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}
	return out, nil
}
