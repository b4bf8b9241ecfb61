package watchlist

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the viewing state of an entry.
type Status string

// Entry statuses.
const (
	StatusPlanning  Status = "planning"
	StatusWatching  Status = "watching"
	StatusCompleted Status = "completed"
	StatusDropped   Status = "dropped"
	StatusOnHold    Status = "on-hold"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusWatching, StatusCompleted, StatusOnHold, StatusDropped, StatusPlanning}

// statusAliases maps the labels used by older tracker exports.
var statusAliases = map[string]Status{
	"plan to watch": StatusPlanning,
	"plan-to-watch": StatusPlanning,
	"plantowatch":   StatusPlanning,
	"planned":       StatusPlanning,
	"on hold":       StatusOnHold,
	"onhold":        StatusOnHold,
	"on_hold":       StatusOnHold,
	"paused":        StatusOnHold,
}

// ParseStatus accepts canonical names and legacy labels, case-insensitively.
func ParseStatus(s string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, st := range Statuses {
		if key == string(st) {
			return st, nil
		}
	}
	if st, ok := statusAliases[key]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid reports whether s is a canonical status.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Label returns the human-readable form used in tables.
func (s Status) Label() string {
	switch s {
	case StatusPlanning:
		return "Plan to Watch"
	case StatusWatching:
		return "Watching"
	case StatusCompleted:
		return "Completed"
	case StatusDropped:
		return "Dropped"
	case StatusOnHold:
		return "On Hold"
	default:
		return string(s)
	}
}

// UnmarshalJSON rejects unknown statuses when decoding stored data.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
