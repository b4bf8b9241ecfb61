package main

import (
	"errors"
	"testing"
	"time"

	"github.com/forest6511/animectl/internal/cli"
	"github.com/forest6511/animectl/pkg/vault"
	"github.com/forest6511/animectl/pkg/watchlist"
)

func newSelectSession(t *testing.T) *vault.Session {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v, err := vault.New(t.TempDir(), vault.WithKDFCost(64, 1, 1), vault.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	if _, err := v.Setup(testMaster); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	s, err := v.Unlock(testMaster)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	for _, title := range []string{"Naruto", "Naruto Shippuden", "Frieren"} {
		if _, err := s.AddEntry(watchlist.Entry{Title: title, Status: watchlist.StatusPlanning}); err != nil {
			t.Fatalf("AddEntry(%s): %v", title, err)
		}
	}
	return s
}

func TestSelectEntries(t *testing.T) {
	s := newSelectSession(t)

	titles := func(entries []watchlist.Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Title)
		}
		return out
	}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"by id", []string{"3"}, []string{"Frieren"}},
		{"exact title ignores case", []string{"frieren"}, []string{"Frieren"}},
		{"glob", []string{"Naruto*"}, []string{"Naruto", "Naruto Shippuden"}},
		{"dedupes in order", []string{"Frieren", "Naruto*", "1"}, []string{"Frieren", "Naruto", "Naruto Shippuden"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectEntries(s, tt.args)
			if err != nil {
				t.Fatalf("selectEntries(%v): %v", tt.args, err)
			}
			gotTitles := titles(got)
			if len(gotTitles) != len(tt.want) {
				t.Fatalf("selectEntries(%v) = %v, want %v", tt.args, gotTitles, tt.want)
			}
			for i := range tt.want {
				if gotTitles[i] != tt.want[i] {
					t.Errorf("selectEntries(%v)[%d] = %q, want %q", tt.args, i, gotTitles[i], tt.want[i])
				}
			}
		})
	}
}

func TestSelectEntriesErrors(t *testing.T) {
	s := newSelectSession(t)

	if _, err := selectEntries(s, []string{"42"}); !errors.Is(err, vault.ErrEntryNotFound) {
		t.Errorf("unknown id: got %v, want ErrEntryNotFound", err)
	}
	if _, err := selectEntries(s, []string{"Bleach"}); !errors.Is(err, cli.ErrNoMatch) {
		t.Errorf("unknown title: got %v, want ErrNoMatch", err)
	}
}
