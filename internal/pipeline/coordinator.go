package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"pubpipe/internal/logging"
	"pubpipe/internal/metrics"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

var tracer = otel.Tracer("pubpipe/pipeline")

// Aggregate derives an attempt's overall state from its stage states. Any
// failed stage fails the attempt, all complete stages complete it, and
// otherwise the overall state only moves forward.
func Aggregate(stages map[stage.Stage]stage.State, current stage.State) stage.State {
	if current.Terminal() {
		return current
	}
	progress := stage.Pending
	complete := 0
	for _, s := range stage.All {
		switch stages[s] {
		case stage.Failed:
			return stage.Failed
		case stage.Complete:
			complete++
			progress = later(progress, stage.Started)
		case stage.Started:
			progress = later(progress, stage.Started)
		case stage.Scheduled:
			progress = later(progress, stage.Scheduled)
		}
	}
	if complete == len(stage.All) {
		return stage.Complete
	}
	return later(current, progress)
}

func later(a, b stage.State) stage.State {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Coordinator is the only writer of an attempt's overall state.
type Coordinator struct {
	store    *status.Store
	notifier *EventNotifier
	metrics  metrics.Pipeline
	logger   *slog.Logger
}

// NewCoordinator builds a coordinator. notifier may be nil when no events are
// wanted.
func NewCoordinator(store *status.Store, notifier *EventNotifier, m metrics.Pipeline, logger *slog.Logger) *Coordinator {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Coordinator{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "coordinator"),
	}
}

// Evaluate re-derives the overall state of an attempt and persists it when it
// changed. The evaluation whose write moves the attempt into complete claims
// the publish event in that same write and is the only one that notifies.
func (c *Coordinator) Evaluate(ctx context.Context, releaseVersionID, attemptID uuid.UUID) (*status.Attempt, error) {
	ctx, span := tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String(logging.FieldReleaseVersionID, releaseVersionID.String()),
		attribute.String(logging.FieldAttemptID, attemptID.String()),
	)

	att, update, applied, err := c.store.UpdateOverallStage(ctx, releaseVersionID, attemptID, func(a *status.Attempt) (status.OverallUpdate, bool) {
		next := Aggregate(a.StageStates(), a.Overall)
		if next == a.Overall {
			return status.OverallUpdate{}, false
		}
		return status.OverallUpdate{
			Overall:    next,
			ClaimEvent: next == stage.Complete && !a.EventRaised,
			LogMessage: fmt.Sprintf("Overall stage moved from %s to %s", a.Overall.Label(), next.Label()),
		}, true
	})
	if err != nil {
		if errors.Is(err, status.ErrConcurrencyConflict) {
			c.metrics.ConcurrencyConflict("update_overall")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("evaluate attempt %s: %w", attemptID, err)
	}
	if !applied {
		return att, nil
	}

	span.SetAttributes(attribute.String("overall", string(update.Overall)))
	logging.WithContext(ctx, c.logger).Info("attempt state changed",
		logging.String(logging.FieldEventType, "attempt_state"),
		logging.String(logging.FieldReleaseVersionID, releaseVersionID.String()),
		logging.String(logging.FieldAttemptID, attemptID.String()),
		logging.String("overall", string(update.Overall)),
	)
	if update.ClaimEvent && c.notifier != nil {
		c.notifier.Published(ctx, att)
	}
	return att, nil
}
