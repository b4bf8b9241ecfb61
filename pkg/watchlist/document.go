package watchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Export document identifiers.
const (
	DocumentFormat  = "animectl-export"
	DocumentVersion = 1
)

// ErrInvalidDocument is returned for documents that are not native exports.
var ErrInvalidDocument = errors.New("watchlist: invalid export document")

// Document is the plaintext export format.
type Document struct {
	Format        string    `json:"format"`
	Version       int       `json:"version"`
	ExportedAt    time.Time `json:"exported_at"`
	IncludesAdult bool      `json:"includes_adult"`
	Entries       []Entry   `json:"entries"`
}

// NewDocument wraps entries in an export document.
func NewDocument(entries []Entry, includesAdult bool, now time.Time) *Document {
	if entries == nil {
		entries = []Entry{}
	}
	return &Document{
		Format:        DocumentFormat,
		Version:       DocumentVersion,
		ExportedAt:    now.UTC(),
		IncludesAdult: includesAdult,
		Entries:       entries,
	}
}

// Encode writes the document as indented JSON.
func (d *Document) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}

// DecodeDocument reads a native export document.
func DecodeDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if d.Format != DocumentFormat {
		return nil, fmt.Errorf("%w: format %q", ErrInvalidDocument, d.Format)
	}
	if d.Version < 1 || d.Version > DocumentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, d.Version)
	}
	return &d, nil
}
