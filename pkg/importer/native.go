package importer

import (
	"fmt"

	"github.com/forest6511/animectl/pkg/watchlist"
)

// NativeParser parses documents written by `animectl export`.
type NativeParser struct{}

// Format returns the format handled by this parser.
func (p *NativeParser) Format() Format {
	return FormatNative
}

// Parse parses a native export document.
func (p *NativeParser) Parse(data []byte, _ ParseOptions) (*ImportResult, error) {
	doc, err := watchlist.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("importer: failed to parse export document: %w", err)
	}

	result := newResult()
	for i, e := range doc.Entries {
		if IsEmptyOrWhitespace(e.Title) {
			result.Skipped = append(result.Skipped, SkippedItem{Index: i, Reason: "missing title"})
			continue
		}
		if e.IsAdult && !doc.IncludesAdult {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("entry %d (%s): marked adult in a document exported without adult entries", i+1, e.Title))
		}
		e.ID = 0
		result.Entries = append(result.Entries, e)
	}
	return result, nil
}
