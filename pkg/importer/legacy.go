package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/forest6511/animectl/pkg/watchlist"
)

// LegacyParser parses the export and backup files of the earlier tracker:
// a JSON object with "anime_list" and optionally "adult_content" arrays.
type LegacyParser struct{}

// legacyDateLayout is the day format used for date_added and last_watched.
const legacyDateLayout = "2006-01-02"

// legacyExport represents the top-level legacy structure. Extra keys such
// as stats and export_info are ignored.
type legacyExport struct {
	AnimeList    []legacyItem `json:"anime_list"`
	AdultContent []legacyItem `json:"adult_content"`
}

// legacyItem represents one legacy entry. Numbers were typed in by hand, so
// numeric fields accept both JSON numbers and numeric strings.
type legacyItem struct {
	ID              *legacyNumber `json:"id"`
	Title           string        `json:"title"`
	Genre           string        `json:"genre"`
	Status          string        `json:"status"`
	EpisodesWatched *legacyNumber `json:"episodes_watched"`
	TotalEpisodes   *legacyNumber `json:"total_episodes"`
	Rating          *legacyNumber `json:"rating"`
	Notes           string        `json:"notes"`
	DateAdded       string        `json:"date_added"`
	LastWatched     string        `json:"last_watched"`
	AdultContent    bool          `json:"adult_content"`
}

// legacyNumber decodes a number or a numeric string. An empty string
// decodes as absent.
type legacyNumber struct {
	value float64
	set   bool
}

func (n *legacyNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		n.value, n.set = v, true
		return nil
	}
	if err := json.Unmarshal(data, &n.value); err != nil {
		return err
	}
	n.set = true
	return nil
}

// Format returns the format handled by this parser.
func (p *LegacyParser) Format() Format {
	return FormatLegacy
}

// Parse parses legacy JSON data.
func (p *LegacyParser) Parse(data []byte, opts ParseOptions) (*ImportResult, error) {
	var export legacyExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: failed to parse legacy JSON: %w", err)
	}

	result := newResult()
	index := 0
	add := func(items []legacyItem, adult bool) {
		for i := range items {
			item := &items[i]
			entry, warnings, reason := p.parseItem(item, adult, opts)
			for _, w := range warnings {
				result.Warnings = append(result.Warnings, fmt.Sprintf("item %d (%s): %s", index+1, item.Title, w))
			}
			if reason != "" {
				result.Skipped = append(result.Skipped, SkippedItem{Index: index, Title: item.Title, Reason: reason})
			} else {
				result.Entries = append(result.Entries, entry)
			}
			index++
		}
	}
	add(export.AnimeList, false)
	add(export.AdultContent, true)
	return result, nil
}

// parseItem maps a legacy item. A non-empty reason means the item is skipped.
func (p *LegacyParser) parseItem(item *legacyItem, adult bool, opts ParseOptions) (watchlist.Entry, []string, string) {
	var warnings []string
	entry := watchlist.Entry{
		Title:   NormalizeValue(item.Title),
		Notes:   NormalizeValue(item.Notes),
		Genres:  legacyGenres(item.Genre),
		IsAdult: adult || item.AdultContent,
	}
	if entry.Title == "" {
		return entry, nil, "missing title"
	}

	entry.Status = watchlist.StatusPlanning
	if !IsEmptyOrWhitespace(item.Status) {
		status, err := watchlist.ParseStatus(item.Status)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("unknown status %q, using %s", item.Status, watchlist.StatusPlanning.Label()))
		} else {
			entry.Status = status
		}
	}

	if n := item.EpisodesWatched; n != nil && n.set {
		if n.value < 0 || n.value != math.Trunc(n.value) {
			return entry, warnings, "invalid episodes watched"
		}
		entry.EpisodesWatched = int(n.value)
	}
	if n := item.TotalEpisodes; n != nil && n.set {
		total := int(n.value)
		switch {
		case n.value < 0 || n.value != math.Trunc(n.value):
			warnings = append(warnings, "invalid total episodes dropped")
		case total < entry.EpisodesWatched:
			warnings = append(warnings, fmt.Sprintf("total episodes %d below watched %d dropped", total, entry.EpisodesWatched))
		default:
			entry.TotalEpisodes = &total
		}
	}

	// The old tracker stored 0 for "not rated".
	if n := item.Rating; n != nil && n.set && n.value != 0 {
		if n.value < 0 || n.value > watchlist.MaxRating {
			warnings = append(warnings, fmt.Sprintf("rating %v out of range dropped", n.value))
		} else {
			rating := n.value
			entry.Rating = &rating
		}
	}

	loc := opts.location()
	if item.DateAdded != "" {
		if t, err := parseLegacyDate(item.DateAdded, loc); err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid date_added %q ignored", item.DateAdded))
		} else {
			entry.CreatedAt = t
		}
	}
	if item.LastWatched != "" {
		if t, err := parseLegacyDate(item.LastWatched, loc); err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid last_watched %q ignored", item.LastWatched))
		} else {
			entry.LastWatchedAt = &t
		}
	}
	return entry, warnings, ""
}

// legacyGenres splits the comma-separated genre string. The old default
// "Unknown" carries no information and is dropped.
func legacyGenres(s string) []string {
	var out []string
	for _, g := range watchlist.SplitGenres(s) {
		if watchlist.GenreKey(g) == "unknown" {
			continue
		}
		out = append(out, g)
	}
	return out
}

func parseLegacyDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(legacyDateLayout, s, loc); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
