// Package cli provides shared utilities for CLI commands: glob selection of
// entries by title, sorting, and id argument parsing.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/forest6511/animectl/pkg/watchlist"
)

// ErrNoMatch is returned when a pattern selects no entry.
var ErrNoMatch = errors.New("no entries match")

// slashStandIn replaces '/' before matching so '*' spans titles such as
// "Fate/Zero"; filepath.Match never matches a separator with '*'.
const slashStandIn = "∕"

func matchKey(s string) string {
	return strings.ReplaceAll(cases.Fold().String(strings.TrimSpace(s)), "/", slashStandIn)
}

// ExpandPattern selects entries whose title matches pattern, ignoring case.
// If the pattern contains glob characters (*?[), it performs glob matching.
// Otherwise, it performs exact matching.
func ExpandPattern(pattern string, entries []watchlist.Entry) ([]watchlist.Entry, error) {
	key := matchKey(pattern)
	// Validate pattern syntax
	if _, err := filepath.Match(key, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	hasGlob := strings.ContainsAny(pattern, "*?[")

	var matches []watchlist.Entry
	for _, e := range entries {
		title := matchKey(e.Title)
		if !hasGlob {
			if title == key {
				matches = append(matches, e)
			}
			continue
		}
		matched, err := filepath.Match(key, title)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, e)
		}
	}

	if len(matches) == 0 {
		if hasGlob {
			return nil, fmt.Errorf("%w pattern '%s'", ErrNoMatch, pattern)
		}
		return nil, fmt.Errorf("%w title '%s'", ErrNoMatch, pattern)
	}
	return matches, nil
}

// ExpandPatterns expands multiple patterns. Returns unique entries
// preserving order of first match.
func ExpandPatterns(patterns []string, entries []watchlist.Entry) ([]watchlist.Entry, error) {
	seen := make(map[int]bool)
	var result []watchlist.Entry

	for _, pattern := range patterns {
		matches, err := ExpandPattern(pattern, entries)
		if err != nil {
			return nil, err
		}
		for _, e := range matches {
			if !seen[e.ID] {
				seen[e.ID] = true
				result = append(result, e)
			}
		}
	}
	return result, nil
}

// Sort keys accepted by SortEntries.
const (
	SortID          = "id"
	SortTitle       = "title"
	SortStatus      = "status"
	SortRating      = "rating"
	SortUpdated     = "updated"
	SortLastWatched = "last-watched"
)

// SortKeys lists the accepted sort keys.
func SortKeys() []string {
	return []string{SortID, SortTitle, SortStatus, SortRating, SortUpdated, SortLastWatched}
}

func statusRank(s watchlist.Status) int {
	for i, st := range watchlist.Statuses {
		if st == s {
			return i
		}
	}
	return len(watchlist.Statuses)
}

// SortEntries sorts entries in place by key. Ties fall back to id so the
// order is deterministic. Rating and dates sort highest/newest first, with
// missing values last; reverse flips the whole order.
func SortEntries(entries []watchlist.Entry, key string, reverse bool) error {
	var cmp func(a, b *watchlist.Entry) int
	switch key {
	case "", SortID:
		cmp = func(a, b *watchlist.Entry) int { return 0 }
	case SortTitle:
		cmp = func(a, b *watchlist.Entry) int {
			return strings.Compare(cases.Fold().String(a.Title), cases.Fold().String(b.Title))
		}
	case SortStatus:
		cmp = func(a, b *watchlist.Entry) int { return statusRank(a.Status) - statusRank(b.Status) }
	case SortRating:
		cmp = func(a, b *watchlist.Entry) int {
			switch {
			case a.Rating == nil && b.Rating == nil:
				return 0
			case a.Rating == nil:
				return 1
			case b.Rating == nil:
				return -1
			case *a.Rating > *b.Rating:
				return -1
			case *a.Rating < *b.Rating:
				return 1
			}
			return 0
		}
	case SortUpdated:
		cmp = func(a, b *watchlist.Entry) int { return b.UpdatedAt.Compare(a.UpdatedAt) }
	case SortLastWatched:
		cmp = func(a, b *watchlist.Entry) int {
			switch {
			case a.LastWatchedAt == nil && b.LastWatchedAt == nil:
				return 0
			case a.LastWatchedAt == nil:
				return 1
			case b.LastWatchedAt == nil:
				return -1
			}
			return b.LastWatchedAt.Compare(*a.LastWatchedAt)
		}
	default:
		return fmt.Errorf("invalid sort key '%s' (use %s)", key, strings.Join(SortKeys(), ", "))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		c := cmp(&entries[i], &entries[j])
		if c == 0 {
			c = entries[i].ID - entries[j].ID
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	return nil
}

// FilterStatus keeps entries with the given status. An empty status keeps all.
func FilterStatus(entries []watchlist.Entry, status string) ([]watchlist.Entry, error) {
	if status == "" {
		return entries, nil
	}
	st, err := watchlist.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	out := make([]watchlist.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == st {
			out = append(out, e)
		}
	}
	return out, nil
}

// ParseIDs parses entry id arguments, rejecting duplicates.
func ParseIDs(args []string) ([]int, error) {
	seen := make(map[int]bool, len(args))
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid entry id '%s'", a)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate entry id %d", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// MapKeys extracts keys from a map and returns them sorted.
func MapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
