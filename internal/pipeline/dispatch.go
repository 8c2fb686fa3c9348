package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"pubpipe/internal/logging"
	"pubpipe/internal/metrics"
	"pubpipe/internal/queue"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

// Dispatcher hands stages to the queue. It is shared by the approval trigger
// and the batch driver.
type Dispatcher struct {
	store       *status.Store
	queue       queue.Queue
	coordinator *Coordinator
	metrics     metrics.Pipeline
	logger      *slog.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(store *status.Store, q queue.Queue, coordinator *Coordinator, m metrics.Pipeline, logger *slog.Logger) *Dispatcher {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Dispatcher{
		store:       store,
		queue:       q,
		coordinator: coordinator,
		metrics:     m,
		logger:      logging.NewComponentLogger(logger, "dispatcher"),
	}
}

// Schedule moves a pending stage to scheduled and enqueues its message. It
// reports false when the stage had already left pending, in which case
// nothing is enqueued.
func (d *Dispatcher) Schedule(ctx context.Context, releaseVersionID, attemptID uuid.UUID, st stage.Stage) (bool, error) {
	_, err := d.store.TransitionStage(ctx, releaseVersionID, attemptID, st,
		stage.Pending, stage.Scheduled, fmt.Sprintf("%s stage scheduled", st))
	if err != nil {
		if errors.Is(err, status.ErrConcurrencyConflict) || errors.Is(err, status.ErrAttemptClosed) {
			d.metrics.ConcurrencyConflict("schedule_stage")
			return false, nil
		}
		return false, err
	}
	if err := d.Enqueue(ctx, releaseVersionID, attemptID, st); err != nil {
		return true, err
	}
	if _, err := d.coordinator.Evaluate(ctx, releaseVersionID, attemptID); err != nil {
		return true, err
	}
	return true, nil
}

// Enqueue sends a stage message without touching the stage state. The
// worker's state guards make a redundant message harmless.
func (d *Dispatcher) Enqueue(ctx context.Context, releaseVersionID, attemptID uuid.UUID, st stage.Stage) error {
	msg := queue.Message{ReleaseVersionID: releaseVersionID, AttemptID: attemptID, Stage: st}
	if err := d.queue.Enqueue(ctx, msg, 0); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg, err)
	}
	d.metrics.AttemptsEnqueued(string(st), 1)
	d.logger.Debug("stage message enqueued",
		logging.String(logging.FieldReleaseVersionID, releaseVersionID.String()),
		logging.String(logging.FieldAttemptID, attemptID.String()),
		logging.String(logging.FieldStage, string(st)),
	)
	return nil
}

// Evaluate re-derives an attempt's overall state. The batch driver uses it
// for attempts whose stage writes were not followed by an evaluation.
func (d *Dispatcher) Evaluate(ctx context.Context, releaseVersionID, attemptID uuid.UUID) (*status.Attempt, error) {
	return d.coordinator.Evaluate(ctx, releaseVersionID, attemptID)
}
