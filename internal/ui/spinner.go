package ui

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner wraps briandowns/spinner for slow steps such as key derivation.
// A disabled Spinner does nothing, so callers need no branching.
type Spinner struct {
	s *spinner.Spinner
}

// StartSpinner starts a spinner on w with message. It is disabled when
// enabled is false (non-terminal output, --verbose, --debug).
func StartSpinner(w io.Writer, message string, enabled bool) *Spinner {
	if !enabled {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	// Ignore color errors - continue without colored spinner if it fails.
	if !noColor() {
		_ = s.Color("cyan")
	}
	s.Start()
	return &Spinner{s: s}
}

// Stop clears the spinner line. finalMsg, when set, replaces it.
func (sp *Spinner) Stop(finalMsg string) {
	if sp.s == nil {
		return
	}
	if finalMsg != "" {
		sp.s.FinalMSG = EnsureNewline(finalMsg)
	}
	sp.s.Stop()
	sp.s = nil
}
