package stage

import (
	"fmt"
	"strings"
)

// Stage is one independently tracked phase of a publishing attempt.
type Stage string

const (
	Content    Stage = "Content"
	Files      Stage = "Files"
	Publishing Stage = "Publishing"
)

// All lists the stages in the order the batch driver runs them.
var All = []Stage{Content, Files, Publishing}

// Parse converts a stage name (case-insensitive) to a Stage.
func Parse(value string) (Stage, error) {
	for _, s := range All {
		if strings.EqualFold(strings.TrimSpace(value), string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, err := Parse(string(s))
	return err == nil
}

// Next returns the stage the batch driver runs after s.
func (s Stage) Next() (Stage, bool) {
	for i, candidate := range All {
		if candidate == s && i+1 < len(All) {
			return All[i+1], true
		}
	}
	return "", false
}

// Column returns the lowercase prefix used for this stage's store columns.
func (s Stage) Column() string {
	return strings.ToLower(string(s))
}
