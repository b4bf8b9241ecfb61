// Package store persists named byte blobs for the vault.
//
// Every backend replaces a blob all-or-nothing: a reader observes either
// the previous bytes or the new bytes, never a mix.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Permissions for files and directories created by the file-backed stores.
const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only
)

// Disk capacity thresholds
const (
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full
)

// Errors
var (
	ErrNotFound           = errors.New("store: blob not found")
	ErrInvalidName        = errors.New("store: invalid blob name")
	ErrUnsupportedBackend = errors.New("store: unsupported backend")
	ErrInsufficientDisk   = errors.New("store: insufficient disk space")
	ErrClosed             = errors.New("store: store is closed")
)

// Store is a byte-blob store keyed by name.
type Store interface {
	// ReadAll returns the blob, or ErrNotFound.
	ReadAll(name string) ([]byte, error)

	// AtomicWriteAll replaces the blob in a single step.
	AtomicWriteAll(name string, data []byte) error

	// Exists reports whether the blob is present.
	Exists(name string) (bool, error)

	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove(name string) error

	// Close releases backend resources.
	Close() error
}

// Backend names a Store implementation.
type Backend string

// Supported backends.
const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bolt"
)

// Backends lists every supported backend.
var Backends = []Backend{BackendFile, BackendSQLite, BackendBolt}

// ParseBackend validates a backend name. The empty string means BackendFile.
func ParseBackend(s string) (Backend, error) {
	if s == "" {
		return BackendFile, nil
	}
	for _, b := range Backends {
		if strings.EqualFold(s, string(b)) {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
}

type options struct {
	log zerolog.Logger
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the logger used for permission and disk warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open returns the backend rooted at dir.
func Open(backend Backend, dir string, opts ...Option) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dir, opts...)
	case BackendSQLite:
		return NewSQLiteStore(dir, opts...)
	case BackendBolt:
		return NewBoltStore(dir, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}

// validateName rejects names that could escape the store directory.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
