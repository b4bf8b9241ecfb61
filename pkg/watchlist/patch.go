package watchlist

import "time"

// Patch describes a partial update. Nil fields are left unchanged; the
// Clear flags remove optional values.
type Patch struct {
	Title           *string
	Status          *Status
	EpisodesWatched *int
	TotalEpisodes   *int
	Rating          *float64
	Genres          *[]string
	HoursWatched    *float64
	IsAdult         *bool
	Notes           *string

	ClearTotalEpisodes bool
	ClearRating        bool
	ClearHoursWatched  bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.EpisodesWatched == nil &&
		p.TotalEpisodes == nil && p.Rating == nil && p.Genres == nil &&
		p.HoursWatched == nil && p.IsAdult == nil && p.Notes == nil &&
		!p.ClearTotalEpisodes && !p.ClearRating && !p.ClearHoursWatched
}

// Apply returns a copy of e with the patch applied and UpdatedAt set to now.
// Raising the watched episode count also moves LastWatchedAt to now.
// The result is normalized but not validated.
func (p Patch) Apply(e Entry, now time.Time) Entry {
	out := e.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.EpisodesWatched != nil {
		if *p.EpisodesWatched > out.EpisodesWatched {
			t := now
			out.LastWatchedAt = &t
		}
		out.EpisodesWatched = *p.EpisodesWatched
	}
	switch {
	case p.ClearTotalEpisodes:
		out.TotalEpisodes = nil
	case p.TotalEpisodes != nil:
		v := *p.TotalEpisodes
		out.TotalEpisodes = &v
	}
	switch {
	case p.ClearRating:
		out.Rating = nil
	case p.Rating != nil:
		v := *p.Rating
		out.Rating = &v
	}
	switch {
	case p.ClearHoursWatched:
		out.HoursWatched = nil
	case p.HoursWatched != nil:
		v := *p.HoursWatched
		out.HoursWatched = &v
	}
	if p.Genres != nil {
		out.Genres = append([]string(nil), (*p.Genres)...)
	}
	if p.IsAdult != nil {
		out.IsAdult = *p.IsAdult
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	out.Normalize()
	out.UpdatedAt = now
	return out
}
