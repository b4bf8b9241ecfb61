// Package logging builds the zerolog logger shared by the CLI and the MCP
// server.
//
// Diagnostics go to stderr so they never mix with command output on stdout.
// The level comes from config.yaml and can be raised with --verbose (info)
// or --debug (debug). Without flags only warnings and errors are shown.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the logger level and format.
type Options struct {
	// Level is a zerolog level name; empty means "warn".
	Level string
	// Verbose raises the level to at least info.
	Verbose bool
	// Debug raises the level to debug.
	Debug bool
	// JSON writes raw JSON lines instead of the console format.
	JSON bool
	// NoColor disables console colors.
	NoColor bool
}

// ParseLevel parses a level name; the empty string is warn.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.WarnLevel, fmt.Errorf("logging: unknown level %q", s)
	}
	return lvl, nil
}

// level resolves the effective level from the options.
func (o Options) level() (zerolog.Level, error) {
	lvl, err := ParseLevel(o.Level)
	if err != nil {
		return lvl, err
	}
	if o.Verbose && lvl > zerolog.InfoLevel {
		lvl = zerolog.InfoLevel
	}
	if o.Debug {
		lvl = zerolog.DebugLevel
	}
	return lvl, nil
}

// New returns a logger writing to w. An invalid level falls back to warn
// and is reported through the returned error; the logger is always usable.
func New(w io.Writer, opts Options) (zerolog.Logger, error) {
	lvl, err := opts.level()

	out := w
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    opts.NoColor,
			TimeFormat: time.TimeOnly,
		}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), err
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
