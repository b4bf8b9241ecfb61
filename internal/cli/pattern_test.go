package cli

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/forest6511/animectl/pkg/watchlist"
)

func sampleEntries() []watchlist.Entry {
	r := func(v float64) *float64 { return &v }
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	t1, t2 := day(2), day(9)
	return []watchlist.Entry{
		{ID: 1, Title: "Naruto", Status: watchlist.StatusWatching, Rating: r(7), UpdatedAt: day(5), LastWatchedAt: &t1},
		{ID: 2, Title: "Naruto Shippuden", Status: watchlist.StatusPlanning, UpdatedAt: day(1)},
		{ID: 3, Title: "Fate/Zero", Status: watchlist.StatusCompleted, Rating: r(9), UpdatedAt: day(3), LastWatchedAt: &t2},
		{ID: 4, Title: "bleach", Status: watchlist.StatusDropped, Rating: r(7), UpdatedAt: day(7)},
	}
}

func ids(entries []watchlist.Entry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestExpandPattern(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected []int
		wantErr  bool
	}{
		{name: "exact match ignores case", pattern: "naruto", expected: []int{1}},
		{name: "wildcard prefix", pattern: "Naruto*", expected: []int{1, 2}},
		{name: "wildcard suffix", pattern: "*Zero", expected: []int{3}},
		{name: "wildcard spans slash", pattern: "Fate*", expected: []int{3}},
		{name: "exact title with slash", pattern: "FATE/ZERO", expected: []int{3}},
		{name: "question mark", pattern: "Bleac?", expected: []int{4}},
		{name: "character class", pattern: "[bn]*", expected: []int{1, 2, 4}},
		{name: "match all", pattern: "*", expected: []int{1, 2, 3, 4}},
		{name: "no match glob", pattern: "One Piece*", wantErr: true},
		{name: "no match exact", pattern: "Nar", wantErr: true},
		{name: "invalid pattern", pattern: "[", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPattern(tt.pattern, sampleEntries())
			if tt.wantErr {
				if err == nil {
					t.Errorf("ExpandPattern(%q) expected error, got %v", tt.pattern, ids(got))
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandPattern(%q) unexpected error: %v", tt.pattern, err)
			}
			if !reflect.DeepEqual(ids(got), tt.expected) {
				t.Errorf("ExpandPattern(%q) = %v, want %v", tt.pattern, ids(got), tt.expected)
			}
		})
	}
}

func TestExpandPatternNoMatchIsSentinel(t *testing.T) {
	_, err := ExpandPattern("Gintama", sampleEntries())
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestExpandPatterns(t *testing.T) {
	got, err := ExpandPatterns([]string{"bleach", "Naruto*", "naruto"}, sampleEntries())
	if err != nil {
		t.Fatalf("ExpandPatterns failed: %v", err)
	}
	if want := []int{4, 1, 2}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("ExpandPatterns = %v, want %v", ids(got), want)
	}

	if _, err := ExpandPatterns([]string{"bleach", "missing"}, sampleEntries()); err == nil {
		t.Error("expected error when one pattern matches nothing")
	}
}

func TestSortEntries(t *testing.T) {
	tests := []struct {
		key      string
		reverse  bool
		expected []int
	}{
		{"", false, []int{1, 2, 3, 4}},
		{SortID, true, []int{4, 3, 2, 1}},
		{SortTitle, false, []int{4, 3, 1, 2}},
		{SortStatus, false, []int{1, 3, 4, 2}},
		{SortRating, false, []int{3, 1, 4, 2}},
		{SortUpdated, false, []int{4, 1, 3, 2}},
		{SortLastWatched, false, []int{3, 1, 2, 4}},
		{SortLastWatched, true, []int{4, 2, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			entries := sampleEntries()
			if err := SortEntries(entries, tt.key, tt.reverse); err != nil {
				t.Fatalf("SortEntries failed: %v", err)
			}
			if !reflect.DeepEqual(ids(entries), tt.expected) {
				t.Errorf("SortEntries(%q, %v) = %v, want %v", tt.key, tt.reverse, ids(entries), tt.expected)
			}
		})
	}

	if err := SortEntries(sampleEntries(), "popularity", false); err == nil {
		t.Error("expected error for unknown sort key")
	}
}

func TestFilterStatus(t *testing.T) {
	got, err := FilterStatus(sampleEntries(), "Plan to Watch")
	if err != nil {
		t.Fatalf("FilterStatus failed: %v", err)
	}
	if want := []int{2}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("FilterStatus = %v, want %v", ids(got), want)
	}

	all, _ := FilterStatus(sampleEntries(), "")
	if len(all) != 4 {
		t.Errorf("empty status should keep all entries, got %d", len(all))
	}

	if _, err := FilterStatus(sampleEntries(), "binged"); !errors.Is(err, watchlist.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestParseIDs(t *testing.T) {
	got, err := ParseIDs([]string{"3", " 1"})
	if err != nil {
		t.Fatalf("ParseIDs failed: %v", err)
	}
	if !reflect.DeepEqual(got, []int{3, 1}) {
		t.Errorf("ParseIDs = %v", got)
	}

	for _, bad := range [][]string{{"x"}, {"0"}, {"-2"}, {"2", "2"}} {
		if _, err := ParseIDs(bad); err == nil {
			t.Errorf("ParseIDs(%v) expected error", bad)
		}
	}
}

func TestMapKeys(t *testing.T) {
	m := map[string]int{"Drama": 2, "Action": 5, "Comedy": 1}
	if got, want := MapKeys(m), []string{"Action", "Comedy", "Drama"}; !reflect.DeepEqual(got, want) {
		t.Errorf("MapKeys = %v, want %v", got, want)
	}
}
