package mcp

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/forest6511/animectl/internal/config"
	"github.com/forest6511/animectl/pkg/vault"
	"github.com/forest6511/animectl/pkg/watchlist"
)

const testPassword = "testpassword123"

func cheapKDF() []vault.Option {
	return []vault.Option{
		vault.WithKDFCost(64, 1, 1),
		vault.WithClock(func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }),
	}
}

// testVault creates a saved vault with three regular entries and one
// adult entry, then closes it.
func testVault(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	v, err := vault.New(tmpDir, cheapKDF()...)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	defer v.Close()

	if _, err := v.Setup(testPassword); err != nil {
		t.Fatalf("failed to set up vault: %v", err)
	}
	s, err := v.Unlock(testPassword)
	if err != nil {
		t.Fatalf("failed to unlock vault: %v", err)
	}
	defer s.Lock()

	total := 26
	rating := 9.0
	for _, e := range []watchlist.Entry{
		{Title: "Cowboy Bebop", Status: watchlist.StatusCompleted, EpisodesWatched: 26, TotalEpisodes: &total,
			Rating: &rating, Genres: []string{"Action", "Sci-Fi"}, Notes: "rewatch someday"},
		{Title: "Naruto", Status: watchlist.StatusWatching, EpisodesWatched: 10, Genres: []string{"Action"}},
		{Title: "Mushishi", Status: watchlist.StatusPlanning},
	} {
		addEntry(t, s, e)
	}

	if err := s.SetAdultPassword("secret2"); err != nil {
		t.Fatalf("failed to set adult password: %v", err)
	}
	if err := s.EnterAdult("secret2"); err != nil {
		t.Fatalf("failed to enter adult mode: %v", err)
	}
	addEntry(t, s, watchlist.Entry{Title: "Hidden Action", Status: watchlist.StatusWatching, Genres: []string{"Action"}, IsAdult: true})

	if err := s.Save(); err != nil {
		t.Fatalf("failed to save vault: %v", err)
	}
	return tmpDir
}

func addEntry(t *testing.T, s *vault.Session, e watchlist.Entry) {
	t.Helper()
	if _, err := s.AddEntry(e); err != nil {
		t.Fatalf("failed to add entry '%s': %v", e.Title, err)
	}
}

func testServer(t *testing.T, opts *ServerOptions) *Server {
	t.Helper()
	if opts.VaultPath == "" {
		opts.VaultPath = testVault(t)
	}
	if opts.Password == "" {
		opts.Password = testPassword
	}
	opts.VaultOptions = append(opts.VaultOptions, cheapKDF()...)
	server, err := NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server
}

func titles(entries []EntryInfo) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Title)
	}
	return out
}

func TestNewServer_NoPassword(t *testing.T) {
	t.Setenv(config.EnvPassword, "")

	_, err := NewServer(&ServerOptions{VaultPath: t.TempDir()})
	if !errors.Is(err, ErrNoPassword) {
		t.Errorf("expected ErrNoPassword, got %v", err)
	}
}

func TestNewServer_InvalidPassword(t *testing.T) {
	_, err := NewServer(&ServerOptions{
		VaultPath:    testVault(t),
		Password:     "wrongpassword",
		VaultOptions: cheapKDF(),
	})
	if !errors.Is(err, vault.ErrAuthFailure) {
		t.Errorf("expected ErrAuthFailure, got %v", err)
	}
}

func TestNewServer_NotInitialized(t *testing.T) {
	_, err := NewServer(&ServerOptions{VaultPath: t.TempDir(), Password: testPassword})
	if !errors.Is(err, vault.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestNewServer_Success(t *testing.T) {
	server := testServer(t, &ServerOptions{})
	if server.session == nil || server.session.Locked() {
		t.Error("session should be unlocked")
	}
	if server.maxResults != config.DefaultMCPMaxResults {
		t.Errorf("expected default max results, got %d", server.maxResults)
	}
	if server.session.AdultState() != vault.AdultLocked {
		t.Error("adult gate must stay closed")
	}
}

func TestNewServer_FromEnvironment(t *testing.T) {
	dir := testVault(t)
	t.Setenv(config.EnvPassword, testPassword)

	server, err := NewServer(&ServerOptions{VaultPath: dir, VaultOptions: cheapKDF()})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	defer server.Close()

	if os.Getenv(config.EnvPassword) != "" {
		t.Errorf("%s should be cleared after reading", config.EnvPassword)
	}
}

func TestServer_Close(t *testing.T) {
	server := testServer(t, &ServerOptions{})

	if err := server.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if !server.session.Locked() {
		t.Error("session should be locked after Close")
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestHandleWatchlistList(t *testing.T) {
	server := testServer(t, &ServerOptions{})

	_, out, err := server.handleWatchlistList(context.Background(), nil, WatchlistListInput{})
	if err != nil {
		t.Fatalf("handleWatchlistList failed: %v", err)
	}
	if out.Total != 3 || len(out.Entries) != 3 || out.Truncated {
		t.Fatalf("unexpected output: %+v", out)
	}
	for _, e := range out.Entries {
		if e.Title == "Hidden Action" {
			t.Error("adult entry must not be listed")
		}
	}

	bebop := out.Entries[0]
	if bebop.Title != "Cowboy Bebop" || bebop.Status != "completed" || !bebop.HasNotes {
		t.Errorf("unexpected entry: %+v", bebop)
	}
	if bebop.HoursWatched != 10.4 {
		t.Errorf("expected 10.4 hours, got %v", bebop.HoursWatched)
	}
}

func TestHandleWatchlistList_StatusAndSort(t *testing.T) {
	server := testServer(t, &ServerOptions{})

	_, out, err := server.handleWatchlistList(context.Background(), nil, WatchlistListInput{Status: "watching"})
	if err != nil {
		t.Fatalf("handleWatchlistList failed: %v", err)
	}
	if got := titles(out.Entries); len(got) != 1 || got[0] != "Naruto" {
		t.Errorf("unexpected entries: %v", got)
	}

	_, out, err = server.handleWatchlistList(context.Background(), nil, WatchlistListInput{Sort: "title"})
	if err != nil {
		t.Fatalf("handleWatchlistList failed: %v", err)
	}
	if got := titles(out.Entries); got[0] != "Cowboy Bebop" || got[1] != "Mushishi" || got[2] != "Naruto" {
		t.Errorf("unexpected order: %v", got)
	}

	if _, _, err := server.handleWatchlistList(context.Background(), nil, WatchlistListInput{Status: "binged"}); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, _, err := server.handleWatchlistList(context.Background(), nil, WatchlistListInput{Sort: "popularity"}); err == nil {
		t.Error("expected error for unknown sort key")
	}
}

func TestHandleWatchlistList_Limit(t *testing.T) {
	server := testServer(t, &ServerOptions{MaxResults: 2})

	tests := []struct {
		limit int
		want  int
	}{
		{0, 2},
		{1, 1},
		{50, 2},
	}
	for _, tt := range tests {
		_, out, err := server.handleWatchlistList(context.Background(), nil, WatchlistListInput{Limit: tt.limit})
		if err != nil {
			t.Fatalf("handleWatchlistList failed: %v", err)
		}
		if len(out.Entries) != tt.want || !out.Truncated || out.Total != 3 {
			t.Errorf("limit %d: got %d entries (truncated=%v, total=%d)", tt.limit, len(out.Entries), out.Truncated, out.Total)
		}
	}
}

func TestHandleWatchlistSearch(t *testing.T) {
	server := testServer(t, &ServerOptions{})

	_, out, err := server.handleWatchlistSearch(context.Background(), nil, WatchlistSearchInput{Query: "action"})
	if err != nil {
		t.Fatalf("handleWatchlistSearch failed: %v", err)
	}
	got := titles(out.Entries)
	if len(got) != 2 || got[0] != "Cowboy Bebop" || got[1] != "Naruto" {
		t.Errorf("unexpected results: %v", got)
	}

	_, out, _ = server.handleWatchlistSearch(context.Background(), nil, WatchlistSearchInput{Query: "hidden"})
	if len(out.Entries) != 0 {
		t.Errorf("adult entry must not be searchable, got %v", titles(out.Entries))
	}

	if _, _, err := server.handleWatchlistSearch(context.Background(), nil, WatchlistSearchInput{Query: "  "}); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestHandleWatchlistStats(t *testing.T) {
	server := testServer(t, &ServerOptions{MinutesPerEpisode: 30})

	_, out, err := server.handleWatchlistStats(context.Background(), nil, WatchlistStatsInput{})
	if err != nil {
		t.Fatalf("handleWatchlistStats failed: %v", err)
	}
	if out.TotalEntries != 3 || out.TotalEpisodesWatched != 36 {
		t.Errorf("unexpected totals: %+v", out)
	}
	if out.TotalHoursWatched != 18 {
		t.Errorf("expected 18 hours at 30 min/episode, got %v", out.TotalHoursWatched)
	}
	if out.CompletionPercent != 50 {
		t.Errorf("expected 50%% completion, got %v", out.CompletionPercent)
	}
	if out.CountsByStatus["planning"] != 1 {
		t.Errorf("unexpected status counts: %v", out.CountsByStatus)
	}
	if len(out.TopGenres) == 0 || out.TopGenres[0].Genre != "Action" || out.TopGenres[0].Count != 2 {
		t.Errorf("adult entries must not count toward genres: %+v", out.TopGenres)
	}
}
