package stage

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// State is the progress of a single stage or of a whole attempt.
type State string

const (
	Pending   State = "pending"
	Scheduled State = "scheduled"
	Started   State = "started"
	Complete  State = "complete"
	Failed    State = "failed"
	// Superseded only applies to an attempt's overall state.
	Superseded State = "superseded"
)

var titleCaser = cases.Title(language.English)

// ParseState converts a state name (case-insensitive) to a State.
func ParseState(value string) (State, error) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case Pending, Scheduled, Started, Complete, Failed, Superseded:
		return normalized, nil
	default:
		return "", fmt.Errorf("unknown state %q", value)
	}
}

// Label renders the state for humans ("Scheduled").
func (s State) Label() string {
	return titleCaser.String(string(s))
}

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == Complete || s == Failed || s == Superseded
}

// Rank orders states along Pending → Scheduled → Started → {Complete|Failed}.
func (s State) Rank() int {
	switch s {
	case Scheduled:
		return 1
	case Started:
		return 2
	case Complete, Failed, Superseded:
		return 3
	default:
		return 0
	}
}

// CanTransition reports whether a stage may move from one state to another.
// Started → Scheduled is the retry re-arm and the only backward edge.
func CanTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Scheduled || to == Started
	case Scheduled:
		return to == Started
	case Started:
		return to == Complete || to == Failed || to == Scheduled
	default:
		return false
	}
}
