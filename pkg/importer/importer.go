// Package importer provides parsers for importing watchlist entries from
// export files. Supports the native animectl export document and the JSON
// export/backup files written by the earlier single-file tracker.
package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/animectl/pkg/watchlist"
)

// Format identifies an import file format.
type Format string

const (
	FormatNative Format = "native"
	FormatLegacy Format = "legacy"
	// FormatAuto asks DetectFormat to pick one.
	FormatAuto Format = "auto"
)

// ErrUnknownFormat is returned when the input matches no supported format.
var ErrUnknownFormat = errors.New("importer: unrecognized import format")

// ImportResult contains the results of parsing an import file.
type ImportResult struct {
	// Entries are the successfully parsed entries. IDs are not meaningful;
	// the vault assigns new ones.
	Entries []watchlist.Entry

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were skipped with reasons.
	Skipped []SkippedItem
}

// AdultCount returns the number of parsed entries marked adult.
func (r *ImportResult) AdultCount() int {
	n := 0
	for i := range r.Entries {
		if r.Entries[i].IsAdult {
			n++
		}
	}
	return n
}

// SkippedItem represents an item that was skipped during import.
type SkippedItem struct {
	Index  int
	Title  string
	Reason string
}

// Parser is the interface for import format parsers.
type Parser interface {
	// Parse parses the input data and returns imported entries.
	Parse(data []byte, opts ParseOptions) (*ImportResult, error)

	// Format returns the format handled by this parser.
	Format() Format
}

// ParseOptions contains options for parsing.
type ParseOptions struct {
	// Location interprets date-only values. Nil means UTC.
	Location *time.Location
}

func (o ParseOptions) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// GetParser returns a parser for the given format.
func GetParser(format Format) (Parser, error) {
	switch format {
	case FormatNative:
		return &NativeParser{}, nil
	case FormatLegacy:
		return &LegacyParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unsupported import format: %s", format)
	}
}

// ValidFormats returns a list of valid format names.
func ValidFormats() []string {
	return []string{
		string(FormatAuto),
		string(FormatNative),
		string(FormatLegacy),
	}
}

// DetectFormat inspects the top-level keys of a JSON document.
func DetectFormat(data []byte) (Format, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownFormat, err)
	}
	if raw, ok := probe["format"]; ok {
		var f string
		if json.Unmarshal(raw, &f) == nil && f == watchlist.DocumentFormat {
			return FormatNative, nil
		}
	}
	_, hasList := probe["anime_list"]
	_, hasAdult := probe["adult_content"]
	if hasList || hasAdult {
		return FormatLegacy, nil
	}
	return "", ErrUnknownFormat
}

// Parse detects the format when format is FormatAuto or empty, then parses.
func Parse(data []byte, format Format, opts ParseOptions) (*ImportResult, Format, error) {
	if format == "" || format == FormatAuto {
		detected, err := DetectFormat(data)
		if err != nil {
			return nil, "", err
		}
		format = detected
	}
	p, err := GetParser(format)
	if err != nil {
		return nil, "", err
	}
	res, err := p.Parse(data, opts)
	return res, format, err
}

// NormalizeValue trims whitespace and normalizes Unicode.
func NormalizeValue(s string) string {
	s = strings.TrimSpace(s)
	s = norm.NFC.String(s)
	return s
}

// IsEmptyOrWhitespace checks if a string is empty or contains only whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func newResult() *ImportResult {
	return &ImportResult{
		Entries:  make([]watchlist.Entry, 0),
		Warnings: make([]string, 0),
		Skipped:  make([]SkippedItem, 0),
	}
}
