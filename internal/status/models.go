package status

import (
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/stage"
)

// StageStatus is the progress of one stage within an attempt.
type StageStatus struct {
	State     stage.State `json:"state"`
	Retries   int         `json:"retries"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
}

// LogMessage is one entry of an attempt's append-only diagnostic log.
type LogMessage struct {
	Stage     stage.Stage `json:"stage,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message"`
}

// Attempt is one run of the publishing pipeline for a release version.
type Attempt struct {
	ReleaseVersionID uuid.UUID                   `json:"release_version_id"`
	AttemptID        uuid.UUID                   `json:"attempt_id"`
	Stages           map[stage.Stage]StageStatus `json:"stages"`
	Overall          stage.State                 `json:"overall"`
	Log              []LogMessage                `json:"log"`
	Immediate        bool                        `json:"immediate"`
	PublishOn        *time.Time                  `json:"publish_on,omitempty"`
	EventRaised      bool                        `json:"event_raised"`
	Version          int64                       `json:"version"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// Stage returns the status of s, defaulting to pending.
func (a *Attempt) Stage(s stage.Stage) StageStatus {
	if a == nil {
		return StageStatus{State: stage.Pending}
	}
	if st, ok := a.Stages[s]; ok {
		return st
	}
	return StageStatus{State: stage.Pending}
}

// IsOpen reports whether the attempt still accepts stage transitions.
func (a *Attempt) IsOpen() bool {
	return a != nil && !a.Overall.Terminal()
}

// StageStates returns the current state of every stage.
func (a *Attempt) StageStates() map[stage.Stage]stage.State {
	out := make(map[stage.Stage]stage.State, len(stage.All))
	for _, s := range stage.All {
		out[s] = a.Stage(s).State
	}
	return out
}

// NextIncomplete returns the first stage, in batch order, that is not complete.
func (a *Attempt) NextIncomplete() (stage.Stage, bool) {
	for _, s := range stage.All {
		if a.Stage(s).State != stage.Complete {
			return s, true
		}
	}
	return "", false
}

func (a *Attempt) clone() *Attempt {
	cp := *a
	cp.Stages = make(map[stage.Stage]StageStatus, len(a.Stages))
	for k, v := range a.Stages {
		cp.Stages[k] = v
	}
	cp.Log = append([]LogMessage(nil), a.Log...)
	return &cp
}
