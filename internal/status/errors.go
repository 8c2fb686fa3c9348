package status

import (
	"errors"
	"fmt"

	"pubpipe/internal/stage"
)

var (
	// ErrNotFound indicates no attempt matched the requested identifiers.
	ErrNotFound = errors.New("publishing attempt not found")
	// ErrConcurrencyConflict indicates the caller's expected state is stale.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrAttemptClosed indicates the attempt is complete, failed, or superseded.
	ErrAttemptClosed = errors.New("publishing attempt closed")
	// ErrInvalidTransition indicates the requested edge is not part of the stage state machine.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// ConflictError describes a stale expected state.
type ConflictError struct {
	Stage    stage.Stage
	Expected stage.State
	Actual   stage.State
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s stage is %s, expected %s", ErrConcurrencyConflict, e.Stage, e.Actual, e.Expected)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}
