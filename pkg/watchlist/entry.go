// Package watchlist defines watchlist entries and their validation rules.
//
// Entries are plain values; persistence and access control live in the
// vault package.
package watchlist

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Validation limits.
const (
	MaxTitleLength = 256
	MaxNotesLength = 4096
	MaxGenres      = 32
	MaxRating      = 10.0

	// DefaultMinutesPerEpisode is used when hours are derived from episodes.
	DefaultMinutesPerEpisode = 24
)

// Validation errors.
var (
	ErrInvalidStatus   = errors.New("watchlist: invalid status")
	ErrEmptyTitle      = errors.New("watchlist: title cannot be empty")
	ErrTitleTooLong    = errors.New("watchlist: title exceeds maximum length")
	ErrNotesTooLong    = errors.New("watchlist: notes exceed maximum length")
	ErrInvalidEpisodes = errors.New("watchlist: invalid episode count")
	ErrInvalidRating   = errors.New("watchlist: rating must be between 0 and 10")
	ErrInvalidHours    = errors.New("watchlist: hours watched cannot be negative")
	ErrTooManyGenres   = errors.New("watchlist: too many genres")
)

// Entry is one tracked title.
type Entry struct {
	ID              int        `json:"id"`
	Title           string     `json:"title"`
	Status          Status     `json:"status"`
	EpisodesWatched int        `json:"episodes_watched"`
	TotalEpisodes   *int       `json:"total_episodes,omitempty"`
	Rating          *float64   `json:"rating,omitempty"`
	Genres          []string   `json:"genres,omitempty"`
	HoursWatched    *float64   `json:"hours_watched,omitempty"`
	IsAdult         bool       `json:"is_adult"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastWatchedAt   *time.Time `json:"last_watched_at,omitempty"`
}

// Validate checks field bounds. It does not check the ID.
func (e *Entry) Validate() error {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return ErrEmptyTitle
	}
	if len(title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if len(e.Notes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, e.Status)
	}
	if e.EpisodesWatched < 0 {
		return fmt.Errorf("%w: episodes watched is negative", ErrInvalidEpisodes)
	}
	if e.TotalEpisodes != nil {
		if *e.TotalEpisodes < 0 {
			return fmt.Errorf("%w: total episodes is negative", ErrInvalidEpisodes)
		}
		if e.EpisodesWatched > *e.TotalEpisodes {
			return fmt.Errorf("%w: watched %d exceeds total %d", ErrInvalidEpisodes, e.EpisodesWatched, *e.TotalEpisodes)
		}
	}
	if e.Rating != nil && (!finite(*e.Rating) || *e.Rating < 0 || *e.Rating > MaxRating) {
		return ErrInvalidRating
	}
	if e.HoursWatched != nil && (!finite(*e.HoursWatched) || *e.HoursWatched < 0) {
		return ErrInvalidHours
	}
	if len(e.Genres) > MaxGenres {
		return ErrTooManyGenres
	}
	return nil
}

// finite rejects NaN and infinities, which JSON cannot encode.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Normalize trims the title and canonicalizes genres in place.
func (e *Entry) Normalize() {
	e.Title = norm.NFC.String(strings.TrimSpace(e.Title))
	e.Notes = strings.TrimSpace(e.Notes)
	e.Genres = NormalizeGenres(e.Genres)
}

// Hours returns the user-entered hours, or hours derived from episodes.
// minutesPerEpisode <= 0 means DefaultMinutesPerEpisode.
func (e *Entry) Hours(minutesPerEpisode int) float64 {
	if e.HoursWatched != nil {
		return *e.HoursWatched
	}
	if minutesPerEpisode <= 0 {
		minutesPerEpisode = DefaultMinutesPerEpisode
	}
	return float64(e.EpisodesWatched*minutesPerEpisode) / 60
}

// Progress formats watched/total, with "?" for an unknown total.
func (e *Entry) Progress() string {
	if e.TotalEpisodes == nil {
		return fmt.Sprintf("%d/?", e.EpisodesWatched)
	}
	return fmt.Sprintf("%d/%d", e.EpisodesWatched, *e.TotalEpisodes)
}

// Matches reports whether query occurs in the title or any genre,
// ignoring case.
func (e *Entry) Matches(query string) bool {
	q := foldKey(query)
	if q == "" {
		return true
	}
	if strings.Contains(foldKey(e.Title), q) {
		return true
	}
	for _, g := range e.Genres {
		if strings.Contains(foldKey(g), q) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate stored entries.
func (e Entry) Clone() Entry {
	out := e
	if e.TotalEpisodes != nil {
		v := *e.TotalEpisodes
		out.TotalEpisodes = &v
	}
	if e.Rating != nil {
		v := *e.Rating
		out.Rating = &v
	}
	if e.HoursWatched != nil {
		v := *e.HoursWatched
		out.HoursWatched = &v
	}
	if e.LastWatchedAt != nil {
		v := *e.LastWatchedAt
		out.LastWatchedAt = &v
	}
	if e.Genres != nil {
		out.Genres = append([]string(nil), e.Genres...)
	}
	return out
}

// NormalizeGenres trims, NFC-normalizes and de-duplicates genres
// case-insensitively, keeping the first spelling seen. The result is sorted;
// an empty result is nil.
func NormalizeGenres(genres []string) []string {
	seen := make(map[string]bool, len(genres))
	var out []string
	for _, g := range genres {
		g = norm.NFC.String(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		key := foldKey(g)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return foldKey(out[i]) < foldKey(out[j]) })
	return out
}

// SplitGenres parses a comma-separated genre list.
func SplitGenres(s string) []string {
	return NormalizeGenres(strings.Split(s, ","))
}

// GenreKey is the comparison key for a genre name.
func GenreKey(g string) string {
	return foldKey(g)
}

// foldKey builds a fresh Caser per call; Casers are not safe for concurrent use.
func foldKey(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}
