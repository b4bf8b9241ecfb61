// Package stats computes watchlist statistics. Functions are pure: the same
// entries always produce the same result.
package stats

import (
	"sort"

	"github.com/forest6511/animectl/pkg/watchlist"
)

// Stats summarizes a set of entries.
type Stats struct {
	TotalEntries         int                      `json:"total_entries"`
	TotalEpisodesWatched int                      `json:"total_episodes_watched"`
	TotalHoursWatched    float64                  `json:"total_hours_watched"`
	CompletionRate       float64                  `json:"completion_rate"`
	GenreHistogram       map[string]int           `json:"genre_histogram"`
	CountsByStatus       map[watchlist.Status]int `json:"counts_by_status"`
	AverageRating        float64                  `json:"average_rating"`
	RatedEntries         int                      `json:"rated_entries"`
}

// GenreCount is one histogram bucket.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

type options struct {
	minutesPerEpisode int
}

// Option configures Compute.
type Option func(*options)

// WithMinutesPerEpisode sets the episode length used to derive hours for
// entries without user-entered hours.
func WithMinutesPerEpisode(m int) Option {
	return func(o *options) {
		if m > 0 {
			o.minutesPerEpisode = m
		}
	}
}

// Compute aggregates entries.
//
// CompletionRate is completed / non-planning entries, in [0,1], and 0 when
// no entry has left planning. Each genre counts once per entry; genres that
// differ only in case share a bucket under the first spelling seen.
func Compute(entries []watchlist.Entry, opts ...Option) Stats {
	o := options{minutesPerEpisode: watchlist.DefaultMinutesPerEpisode}
	for _, opt := range opts {
		opt(&o)
	}

	s := Stats{
		TotalEntries:   len(entries),
		GenreHistogram: make(map[string]int),
		CountsByStatus: make(map[watchlist.Status]int),
	}

	spelling := make(map[string]string)
	var completed, started int
	var ratingSum float64

	for i := range entries {
		e := &entries[i]
		s.CountsByStatus[e.Status]++
		s.TotalEpisodesWatched += e.EpisodesWatched
		s.TotalHoursWatched += e.Hours(o.minutesPerEpisode)

		if e.Status != watchlist.StatusPlanning {
			started++
			if e.Status == watchlist.StatusCompleted {
				completed++
			}
		}
		if e.Rating != nil {
			s.RatedEntries++
			ratingSum += *e.Rating
		}

		seen := make(map[string]bool, len(e.Genres))
		for _, g := range e.Genres {
			key := watchlist.GenreKey(g)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			name, ok := spelling[key]
			if !ok {
				name = g
				spelling[key] = g
			}
			s.GenreHistogram[name]++
		}
	}

	if started > 0 {
		s.CompletionRate = float64(completed) / float64(started)
	}
	if s.RatedEntries > 0 {
		s.AverageRating = ratingSum / float64(s.RatedEntries)
	}
	return s
}

// TopGenres returns the n most frequent genres, ties broken by name.
// n <= 0 returns all of them.
func (s Stats) TopGenres(n int) []GenreCount {
	out := make([]GenreCount, 0, len(s.GenreHistogram))
	for g, c := range s.GenreHistogram {
		out = append(out, GenreCount{Genre: g, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Genre < out[j].Genre
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// CompletionPercent returns CompletionRate scaled to 0-100.
func (s Stats) CompletionPercent() float64 {
	return s.CompletionRate * 100
}
