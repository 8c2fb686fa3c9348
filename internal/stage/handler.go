package stage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Job identifies the attempt and stage a stage function works on. Everything
// else is re-read from the status store or the release catalog.
type Job struct {
	ReleaseVersionID uuid.UUID
	AttemptID        uuid.UUID
	Stage            Stage
}

// Func performs one stage's external work. It must be safe to call twice for
// the same job.
type Func func(ctx context.Context, job Job) error

// Table maps each stage to its work function.
type Table map[Stage]Func

// Lookup returns the work function for s.
func (t Table) Lookup(s Stage) (Func, error) {
	fn, ok := t[s]
	if !ok || fn == nil {
		return nil, fmt.Errorf("no work function registered for stage %s", s)
	}
	return fn, nil
}
