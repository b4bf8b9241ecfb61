package importer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/animectl/pkg/watchlist"
)

const legacyExportJSON = `{
  "anime_list": [
    {
      "id": 1,
      "title": "  Cowboy Bebop ",
      "genre": "Action, Sci-Fi, action",
      "status": "Completed",
      "episodes_watched": 26,
      "total_episodes": 26,
      "rating": 9.5,
      "notes": "classic",
      "date_added": "2024-01-15",
      "last_watched": "2024-02-01",
      "adult_content": false
    },
    {
      "id": 2,
      "title": "Frieren",
      "genre": "Unknown",
      "status": "Plan to Watch",
      "episodes_watched": "0",
      "total_episodes": "28",
      "rating": 0,
      "date_added": "2024-03-01",
      "last_watched": ""
    },
    {
      "id": 3,
      "title": "",
      "genre": "Drama",
      "status": "Watching"
    }
  ],
  "adult_content": [
    {
      "id": 4,
      "title": "Hidden Show",
      "genre": "Romance",
      "status": "On Hold",
      "episodes_watched": 3,
      "total_episodes": 12,
      "rating": 7,
      "date_added": "2024-04-10",
      "last_watched": "2024-04-11",
      "adult_content": true
    }
  ],
  "stats": {"total_anime": 3},
  "export_date": "2024-05-01T10:00:00",
  "export_info": {"app_version": "1.0.0"}
}`

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"legacy export", legacyExportJSON, FormatLegacy, false},
		{"legacy adult only", `{"adult_content": []}`, FormatLegacy, false},
		{"native", `{"format":"animectl-export","version":1,"entries":[]}`, FormatNative, false},
		{"other format field", `{"format":"something-else"}`, "", true},
		{"not json", `title,status`, "", true},
		{"array", `[]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLegacyParser(t *testing.T) {
	p := &LegacyParser{}
	assert.Equal(t, FormatLegacy, p.Format())

	res, err := p.Parse([]byte(legacyExportJSON), ParseOptions{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "missing title", res.Skipped[0].Reason)
	assert.Equal(t, 2, res.Skipped[0].Index)
	assert.Equal(t, 1, res.AdultCount())

	bebop := res.Entries[0]
	assert.Equal(t, "Cowboy Bebop", bebop.Title)
	assert.Equal(t, watchlist.StatusCompleted, bebop.Status)
	assert.Equal(t, []string{"Action", "Sci-Fi"}, bebop.Genres)
	assert.Equal(t, 26, bebop.EpisodesWatched)
	require.NotNil(t, bebop.TotalEpisodes)
	assert.Equal(t, 26, *bebop.TotalEpisodes)
	require.NotNil(t, bebop.Rating)
	assert.Equal(t, 9.5, *bebop.Rating)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), bebop.CreatedAt)
	require.NotNil(t, bebop.LastWatchedAt)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *bebop.LastWatchedAt)
	assert.False(t, bebop.IsAdult)

	frieren := res.Entries[1]
	assert.Equal(t, watchlist.StatusPlanning, frieren.Status)
	assert.Nil(t, frieren.Genres, "Unknown genre is dropped")
	assert.Nil(t, frieren.Rating, "zero rating means unrated")
	assert.Nil(t, frieren.LastWatchedAt)
	require.NotNil(t, frieren.TotalEpisodes)
	assert.Equal(t, 28, *frieren.TotalEpisodes)

	hidden := res.Entries[2]
	assert.True(t, hidden.IsAdult)
	assert.Equal(t, watchlist.StatusOnHold, hidden.Status)

	for _, e := range res.Entries {
		assert.NoError(t, e.Validate(), e.Title)
	}
}

func TestLegacyParserWarnings(t *testing.T) {
	input := `{"anime_list": [
		{"title": "A", "status": "Rewatching", "episodes_watched": 5, "total_episodes": 1, "rating": 11, "date_added": "15/01/2024"},
		{"title": "B", "episodes_watched": -1}
	]}`
	res, err := (&LegacyParser{}).Parse([]byte(input), ParseOptions{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "invalid episodes watched", res.Skipped[0].Reason)

	a := res.Entries[0]
	assert.Equal(t, watchlist.StatusPlanning, a.Status)
	assert.Nil(t, a.TotalEpisodes)
	assert.Nil(t, a.Rating)
	assert.True(t, a.CreatedAt.IsZero())
	assert.Len(t, res.Warnings, 4)
	assert.NoError(t, a.Validate())
}

func TestLegacyParserLocation(t *testing.T) {
	loc := time.FixedZone("JST", 9*60*60)
	res, err := (&LegacyParser{}).Parse([]byte(`{"anime_list":[{"title":"A","date_added":"2024-01-15"}]}`),
		ParseOptions{Location: loc})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, time.Date(2024, 1, 14, 15, 0, 0, 0, time.UTC), res.Entries[0].CreatedAt)
}

func TestLegacyParserInvalidJSON(t *testing.T) {
	_, err := (&LegacyParser{}).Parse([]byte(`{"anime_list": [{"title": "A", "rating": "high"}]}`), ParseOptions{})
	assert.Error(t, err)

	_, err = (&LegacyParser{}).Parse([]byte(`not json`), ParseOptions{})
	assert.Error(t, err)
}

func TestNativeParser(t *testing.T) {
	total := 12
	doc := watchlist.NewDocument([]watchlist.Entry{
		{ID: 7, Title: "Mushishi", Status: watchlist.StatusWatching, EpisodesWatched: 4, TotalEpisodes: &total},
		{ID: 9, Title: "Secret", Status: watchlist.StatusCompleted, IsAdult: true},
	}, false, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	var buf bytes.Buffer
	require.NoError(t, doc.Encode(&buf))

	res, format, err := Parse(buf.Bytes(), FormatAuto, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatNative, format)
	require.Len(t, res.Entries, 2)
	assert.Zero(t, res.Entries[0].ID)
	assert.Equal(t, "Mushishi", res.Entries[0].Title)
	assert.Len(t, res.Warnings, 1, "adult entry in a non-adult document")
}

func TestNativeParserRejectsForeign(t *testing.T) {
	_, err := (&NativeParser{}).Parse([]byte(legacyExportJSON), ParseOptions{})
	assert.ErrorIs(t, err, watchlist.ErrInvalidDocument)
}

func TestGetParser(t *testing.T) {
	for _, f := range []Format{FormatNative, FormatLegacy} {
		p, err := GetParser(f)
		require.NoError(t, err)
		assert.Equal(t, f, p.Format())
	}
	_, err := GetParser("bitwarden")
	assert.Error(t, err)
	assert.Equal(t, []string{"auto", "native", "legacy"}, ValidFormats())
}

func TestIsEmptyOrWhitespace(t *testing.T) {
	assert.True(t, IsEmptyOrWhitespace(""))
	assert.True(t, IsEmptyOrWhitespace(" \t\n"))
	assert.False(t, IsEmptyOrWhitespace(" a "))
}

func TestNormalizeValue(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	assert.Equal(t, "\u00e9", NormalizeValue("  e\u0301 "))
}
