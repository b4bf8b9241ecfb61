package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/animectl/internal/cli"
	"github.com/forest6511/animectl/pkg/stats"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// defaultTopGenres is the number of genres returned by watchlist_stats.
const defaultTopGenres = 5

// WatchlistListInput represents input for watchlist_list tool.
type WatchlistListInput struct {
	Status string `json:"status,omitempty"`
	Sort   string `json:"sort,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// WatchlistListOutput represents output for watchlist_list and
// watchlist_search tools.
type WatchlistListOutput struct {
	Entries   []EntryInfo `json:"entries"`
	Total     int         `json:"total"`
	Truncated bool        `json:"truncated"`
}

// EntryInfo is the client-visible view of an entry (no notes).
type EntryInfo struct {
	ID              int      `json:"id"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	EpisodesWatched int      `json:"episodes_watched"`
	TotalEpisodes   *int     `json:"total_episodes,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	Genres          []string `json:"genres,omitempty"`
	HoursWatched    float64  `json:"hours_watched"`
	HasNotes        bool     `json:"has_notes"`
	LastWatchedAt   string   `json:"last_watched_at,omitempty"`
	UpdatedAt       string   `json:"updated_at"`
}

// WatchlistSearchInput represents input for watchlist_search tool.
type WatchlistSearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// WatchlistStatsInput represents input for watchlist_stats tool.
type WatchlistStatsInput struct {
	TopGenres int `json:"top_genres,omitempty"`
}

// WatchlistStatsOutput represents output for watchlist_stats tool.
type WatchlistStatsOutput struct {
	TotalEntries         int                `json:"total_entries"`
	TotalEpisodesWatched int                `json:"total_episodes_watched"`
	TotalHoursWatched    float64            `json:"total_hours_watched"`
	CompletionPercent    float64            `json:"completion_percent"`
	AverageRating        float64            `json:"average_rating"`
	RatedEntries         int                `json:"rated_entries"`
	CountsByStatus       map[string]int     `json:"counts_by_status"`
	TopGenres            []stats.GenreCount `json:"top_genres"`
}

// handleWatchlistList handles the watchlist_list tool call.
func (s *Server) handleWatchlistList(_ context.Context, _ *mcp.CallToolRequest, input WatchlistListInput) (*mcp.CallToolResult, WatchlistListOutput, error) {
	entries, err := s.session.ListEntries()
	if err != nil {
		return nil, WatchlistListOutput{}, fmt.Errorf("failed to list entries: %w", err)
	}

	entries, err = cli.FilterStatus(entries, input.Status)
	if err != nil {
		return nil, WatchlistListOutput{}, fmt.Errorf("invalid status filter: %w", err)
	}
	if err := cli.SortEntries(entries, input.Sort, false); err != nil {
		return nil, WatchlistListOutput{}, err
	}

	return nil, s.buildListOutput(entries, input.Limit), nil
}

// handleWatchlistSearch handles the watchlist_search tool call.
func (s *Server) handleWatchlistSearch(_ context.Context, _ *mcp.CallToolRequest, input WatchlistSearchInput) (*mcp.CallToolResult, WatchlistListOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, WatchlistListOutput{}, errors.New("query is required")
	}

	entries, err := s.session.Search(query)
	if err != nil {
		return nil, WatchlistListOutput{}, fmt.Errorf("failed to search entries: %w", err)
	}
	return nil, s.buildListOutput(entries, input.Limit), nil
}

// handleWatchlistStats handles the watchlist_stats tool call.
func (s *Server) handleWatchlistStats(_ context.Context, _ *mcp.CallToolRequest, input WatchlistStatsInput) (*mcp.CallToolResult, WatchlistStatsOutput, error) {
	st, err := s.session.Stats(stats.WithMinutesPerEpisode(s.minutesPerEpisode))
	if err != nil {
		return nil, WatchlistStatsOutput{}, fmt.Errorf("failed to compute stats: %w", err)
	}

	top := input.TopGenres
	if top <= 0 {
		top = defaultTopGenres
	}
	counts := make(map[string]int, len(st.CountsByStatus))
	for status, n := range st.CountsByStatus {
		counts[string(status)] = n
	}

	return nil, WatchlistStatsOutput{
		TotalEntries:         st.TotalEntries,
		TotalEpisodesWatched: st.TotalEpisodesWatched,
		TotalHoursWatched:    st.TotalHoursWatched,
		CompletionPercent:    st.CompletionPercent(),
		AverageRating:        st.AverageRating,
		RatedEntries:         st.RatedEntries,
		CountsByStatus:       counts,
		TopGenres:            st.TopGenres(top),
	}, nil
}

// buildListOutput applies the result cap. limit <= 0 or above the server
// cap means the server cap.
func (s *Server) buildListOutput(entries []watchlist.Entry, limit int) WatchlistListOutput {
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}
	output := WatchlistListOutput{
		Entries: make([]EntryInfo, 0, min(len(entries), limit)),
		Total:   len(entries),
	}
	for i := range entries {
		if len(output.Entries) == limit {
			output.Truncated = true
			break
		}
		output.Entries = append(output.Entries, toEntryInfo(&entries[i], s.minutesPerEpisode))
	}
	return output
}

func toEntryInfo(e *watchlist.Entry, minutesPerEpisode int) EntryInfo {
	info := EntryInfo{
		ID:              e.ID,
		Title:           e.Title,
		Status:          string(e.Status),
		EpisodesWatched: e.EpisodesWatched,
		TotalEpisodes:   e.TotalEpisodes,
		Rating:          e.Rating,
		Genres:          e.Genres,
		HoursWatched:    e.Hours(minutesPerEpisode),
		HasNotes:        e.Notes != "",
		UpdatedAt:       e.UpdatedAt.Format(time.RFC3339),
	}
	if e.LastWatchedAt != nil {
		info.LastWatchedAt = e.LastWatchedAt.Format(time.RFC3339)
	}
	return info
}
