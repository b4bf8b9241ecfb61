package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/forest6511/animectl/pkg/stats"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// StatusFormatter returns the formatter for an entry status.
func StatusFormatter(s watchlist.Status) Formatter {
	switch s {
	case watchlist.StatusWatching:
		return Info
	case watchlist.StatusCompleted:
		return Success
	case watchlist.StatusDropped:
		return Error
	case watchlist.StatusOnHold:
		return Warning
	default:
		return Formatter{color: Muted.color}
	}
}

// formatStatus colors the label. Every status color has the same escape
// length, so tabwriter columns stay aligned.
func formatStatus(s watchlist.Status) string {
	return StatusFormatter(s).Sprint(s.Label())
}

// FormatRating renders a rating or "-".
func FormatRating(r *float64) string {
	if r == nil {
		return "-"
	}
	return strconv.FormatFloat(*r, 'f', 1, 64)
}

// FormatDate renders a day or "Never".
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "Never"
	}
	return t.Local().Format("2006-01-02")
}

// Truncate shortens s to n runes with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// TableOptions configures RenderEntries.
type TableOptions struct {
	// MinutesPerEpisode derives hours for entries without entered hours.
	MinutesPerEpisode int
	// TitleWidth truncates long titles; 0 disables truncation.
	TitleWidth int
}

// RenderEntries writes entries as an aligned table.
func RenderEntries(w io.Writer, entries []watchlist.Entry, opts TableOptions) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tPROGRESS\tRATING\tHOURS\tGENRES\tLAST WATCHED")
	for i := range entries {
		e := &entries[i]
		title := Truncate(e.Title, opts.TitleWidth)
		if e.IsAdult {
			title += " " + Adult.Sprint("[18+]")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.1f\t%s\t%s\n",
			e.ID,
			title,
			formatStatus(e.Status),
			e.Progress(),
			FormatRating(e.Rating),
			e.Hours(opts.MinutesPerEpisode),
			strings.Join(e.Genres, ", "),
			FormatDate(e.LastWatchedAt),
		)
	}
	return tw.Flush()
}

// RenderEntry writes one entry as key/value lines.
func RenderEntry(w io.Writer, e *watchlist.Entry, minutesPerEpisode int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", e.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", e.Title)
	fmt.Fprintf(tw, "Status:\t%s\n", formatStatus(e.Status))
	fmt.Fprintf(tw, "Episodes:\t%s\n", e.Progress())
	fmt.Fprintf(tw, "Rating:\t%s\n", FormatRating(e.Rating))
	fmt.Fprintf(tw, "Hours:\t%.1f\n", e.Hours(minutesPerEpisode))
	if len(e.Genres) > 0 {
		fmt.Fprintf(tw, "Genres:\t%s\n", strings.Join(e.Genres, ", "))
	}
	if e.IsAdult {
		fmt.Fprintf(tw, "Partition:\t%s\n", Adult.Sprint("adult"))
	}
	if e.Notes != "" {
		fmt.Fprintf(tw, "Notes:\t%s\n", e.Notes)
	}
	fmt.Fprintf(tw, "Added:\t%s\n", e.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Updated:\t%s\n", e.UpdatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Last watched:\t%s\n", FormatDate(e.LastWatchedAt))
	return tw.Flush()
}

// RenderStats writes a stats summary with the top genres.
func RenderStats(w io.Writer, s stats.Stats, topGenres int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total entries:\t%d\n", s.TotalEntries)
	fmt.Fprintf(tw, "Episodes watched:\t%d\n", s.TotalEpisodesWatched)
	fmt.Fprintf(tw, "Hours watched:\t%.1f\n", s.TotalHoursWatched)
	fmt.Fprintf(tw, "Completion rate:\t%.1f%%\n", s.CompletionPercent())
	if s.RatedEntries > 0 {
		fmt.Fprintf(tw, "Average rating:\t%.2f (%d rated)\n", s.AverageRating, s.RatedEntries)
	} else {
		fmt.Fprintf(tw, "Average rating:\t-\n")
	}
	for _, st := range watchlist.Statuses {
		if n := s.CountsByStatus[st]; n > 0 {
			fmt.Fprintf(tw, "  %s:\t%d\n", st.Label(), n)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	top := s.TopGenres(topGenres)
	if len(top) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GENRE\tCOUNT")
	for _, g := range top {
		fmt.Fprintf(tw, "%s\t%d\n", g.Genre, g.Count)
	}
	return tw.Flush()
}
