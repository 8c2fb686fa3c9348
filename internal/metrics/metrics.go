// Package metrics records pipeline counters and latencies.
package metrics

import "time"

// Pipeline is the metrics surface used by workers, the coordinator, and the
// batch driver.
type Pipeline interface {
	StageOutcome(stage, outcome string)
	StageDuration(stage string, d time.Duration)
	StageRetried(stage string)
	ConcurrencyConflict(operation string)
	EventRaised(eventType string)
	AttemptsEnqueued(stage string, n int)
	StagesReclaimed(n int)
}

// Stage outcomes reported through StageOutcome.
const (
	OutcomeComplete  = "complete"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// Nop discards every observation.
type Nop struct{}

func (Nop) StageOutcome(string, string)         {}
func (Nop) StageDuration(string, time.Duration) {}
func (Nop) StageRetried(string)                 {}
func (Nop) ConcurrencyConflict(string)          {}
func (Nop) EventRaised(string)                  {}
func (Nop) AttemptsEnqueued(string, int)        {}
func (Nop) StagesReclaimed(int)                 {}
