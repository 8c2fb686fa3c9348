package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubpipe/internal/faults"
	"pubpipe/internal/logging"
	"pubpipe/internal/metrics"
	"pubpipe/internal/notifications"
	"pubpipe/internal/queue"
	"pubpipe/internal/services"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Store        *status.Store
	Queue        queue.Queue
	Stages       stage.Table
	Coordinator  *Coordinator
	Notifier     notifications.Service
	Classifier   *faults.Classifier
	Metrics      metrics.Pipeline
	Logger       *slog.Logger
	MaxRetries   int
	StageTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// Worker processes stage messages for every stage.
type Worker struct {
	opts   WorkerOptions
	logger *slog.Logger
}

// NewWorker validates opts and returns a worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("worker: status store is required")
	case opts.Queue == nil:
		return nil, errors.New("worker: queue is required")
	case opts.Coordinator == nil:
		return nil, errors.New("worker: coordinator is required")
	}
	for _, s := range stage.All {
		if _, err := opts.Stages.Lookup(s); err != nil {
			return nil, fmt.Errorf("worker: %w", err)
		}
	}
	if opts.Classifier == nil {
		opts.Classifier = faults.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Worker{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "worker")}, nil
}

// Run consumes stage messages with the given number of goroutines until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context, workers int) error {
	return w.opts.Queue.Consume(ctx, workers, w.Process)
}

// Process handles one stage message. A nil return acknowledges the message;
// an error asks the queue to redeliver it.
func (w *Worker) Process(ctx context.Context, msg queue.Message) error {
	ctx = services.WithReleaseVersionID(ctx, msg.ReleaseVersionID.String())
	ctx = services.WithAttemptID(ctx, msg.AttemptID.String())
	ctx = services.WithStage(ctx, string(msg.Stage))
	logger := logging.WithContext(ctx, w.logger)

	att, run, err := w.start(ctx, msg)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			logging.WarnWithContext(logger, "dropping message for unknown attempt", "message_dropped",
				logging.String("message", msg.String()),
			)
			return nil
		}
		return err
	}
	if !run {
		w.opts.Metrics.StageOutcome(string(msg.Stage), metrics.OutcomeDuplicate)
		logger.Debug("stage already handled; acknowledging", logging.String(logging.FieldEventType, "stage_duplicate"))
		return w.evaluate(ctx, msg, att)
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("retries", att.Stage(msg.Stage).Retries),
	)
	stageErr := w.execute(ctx, msg)
	if stageErr != nil && ctx.Err() != nil {
		// Shutdown: leave the stage started for the sweep to reclaim.
		return ctx.Err()
	}

	if stageErr == nil {
		if err := w.complete(ctx, msg); err != nil {
			return err
		}
		w.opts.Metrics.StageOutcome(string(msg.Stage), metrics.OutcomeComplete)
		logger.Info("stage completed", logging.String(logging.FieldEventType, "stage_complete"))
	} else if err := w.fail(ctx, logger, msg, att, stageErr); err != nil {
		return err
	}
	return w.evaluate(ctx, msg, att)
}

// start moves the stage to started and reports whether this delivery should
// run the stage. A stage already started is rerun; that happens when the
// sweep redelivers work abandoned by a crashed worker.
func (w *Worker) start(ctx context.Context, msg queue.Message) (*status.Attempt, bool, error) {
	for try := 0; try < 3; try++ {
		att, err := w.opts.Store.Get(ctx, msg.ReleaseVersionID, msg.AttemptID)
		if err != nil {
			return nil, false, err
		}
		current := att.Stage(msg.Stage).State
		if !att.IsOpen() || current.Terminal() {
			return att, false, nil
		}
		if current == stage.Started {
			return att, true, nil
		}

		next, err := w.opts.Store.TransitionStage(ctx, msg.ReleaseVersionID, msg.AttemptID, msg.Stage,
			current, stage.Started, fmt.Sprintf("%s stage started", msg.Stage))
		switch {
		case err == nil:
			return next, true, nil
		case errors.Is(err, status.ErrAttemptClosed):
			return next, false, nil
		case errors.Is(err, status.ErrConcurrencyConflict):
			w.opts.Metrics.ConcurrencyConflict("start_stage")
			var conflict *status.ConflictError
			if errors.As(err, &conflict) && conflict.Actual.Rank() >= stage.Started.Rank() {
				// Another delivery of the same message won the start.
				return next, false, nil
			}
		default:
			return nil, false, fmt.Errorf("start %s stage: %w", msg.Stage, err)
		}
	}
	return nil, false, fmt.Errorf("start %s stage: %w", msg.Stage, status.ErrConcurrencyConflict)
}

func (w *Worker) execute(ctx context.Context, msg queue.Message) error {
	fn, err := w.opts.Stages.Lookup(msg.Stage)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "worker", "lookup", string(msg.Stage), err)
	}

	runCtx := ctx
	if w.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.opts.StageTimeout)
		defer cancel()
	}
	runCtx, span := tracer.Start(runCtx, "pipeline.stage", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String(logging.FieldStage, string(msg.Stage)),
		attribute.String(logging.FieldReleaseVersionID, msg.ReleaseVersionID.String()),
		attribute.String(logging.FieldAttemptID, msg.AttemptID.String()),
	)

	started := time.Now()
	err = fn(runCtx, stage.Job{
		ReleaseVersionID: msg.ReleaseVersionID,
		AttemptID:        msg.AttemptID,
		Stage:            msg.Stage,
	})
	w.opts.Metrics.StageDuration(string(msg.Stage), time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (w *Worker) complete(ctx context.Context, msg queue.Message) error {
	_, err := w.opts.Store.TransitionStage(ctx, msg.ReleaseVersionID, msg.AttemptID, msg.Stage,
		stage.Started, stage.Complete, fmt.Sprintf("%s stage complete", msg.Stage))
	if err == nil || errors.Is(err, status.ErrAttemptClosed) {
		return nil
	}
	if errors.Is(err, status.ErrConcurrencyConflict) {
		w.opts.Metrics.ConcurrencyConflict("complete_stage")
		return nil
	}
	return fmt.Errorf("complete %s stage: %w", msg.Stage, err)
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, msg queue.Message, att *status.Attempt, stageErr error) error {
	retries := att.Stage(msg.Stage).Retries
	marker, detail := services.Details(stageErr)
	if w.opts.Classifier.ShouldRetry(stageErr) && retries < w.opts.MaxRetries {
		logMessage := fmt.Sprintf("%s stage failed with a transient error (retry %d of %d): %s",
			msg.Stage, retries+1, w.opts.MaxRetries, detail)
		_, err := w.opts.Store.TransitionStage(ctx, msg.ReleaseVersionID, msg.AttemptID, msg.Stage,
			stage.Started, stage.Scheduled, logMessage)
		if err != nil {
			if errors.Is(err, status.ErrConcurrencyConflict) || errors.Is(err, status.ErrAttemptClosed) {
				w.opts.Metrics.ConcurrencyConflict("retry_stage")
				return nil
			}
			return fmt.Errorf("re-arm %s stage: %w", msg.Stage, err)
		}
		delay := calculateBackoff(retries, w.opts.BackoffBase, w.opts.BackoffMax)
		logging.WarnWithContext(logger, "stage failed; retrying", "stage_retry",
			logging.Int("retry", retries+1),
			logging.Duration("delay", delay),
			logging.String("error_kind", marker),
			logging.Error(stageErr),
		)
		w.opts.Metrics.StageRetried(string(msg.Stage))
		w.opts.Metrics.StageOutcome(string(msg.Stage), metrics.OutcomeRetried)
		if err := w.opts.Queue.Enqueue(ctx, msg, delay); err != nil {
			return fmt.Errorf("re-enqueue %s stage: %w", msg.Stage, err)
		}
		return nil
	}

	reason := "non-retryable error"
	if retries >= w.opts.MaxRetries && w.opts.Classifier.ShouldRetry(stageErr) {
		reason = fmt.Sprintf("retries exhausted after %d attempts", retries+1)
	}
	_, err := w.opts.Store.TransitionStage(ctx, msg.ReleaseVersionID, msg.AttemptID, msg.Stage,
		stage.Started, stage.Failed, fmt.Sprintf("%s stage failed (%s): %s", msg.Stage, reason, detail))
	if err != nil {
		if errors.Is(err, status.ErrConcurrencyConflict) || errors.Is(err, status.ErrAttemptClosed) {
			w.opts.Metrics.ConcurrencyConflict("fail_stage")
			return nil
		}
		return fmt.Errorf("fail %s stage: %w", msg.Stage, err)
	}
	w.opts.Metrics.StageOutcome(string(msg.Stage), metrics.OutcomeFailed)
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_kind", marker),
		logging.String("reason", reason),
		logging.Error(stageErr),
	)
	if w.opts.Notifier != nil {
		if err := w.opts.Notifier.Publish(ctx, notifications.EventStageFailed, notifications.Payload{
			"stage":            string(msg.Stage),
			"releaseVersionId": msg.ReleaseVersionID.String(),
			"error":            detail,
		}); err != nil {
			logger.Debug("stage failure notification failed", logging.Error(err))
		}
	}
	return nil
}

// evaluate runs the coordinator for open attempts. A failed evaluation
// redelivers the message; the stage guard then skips straight back here.
func (w *Worker) evaluate(ctx context.Context, msg queue.Message, att *status.Attempt) error {
	if att != nil && !att.IsOpen() {
		return nil
	}
	if _, err := w.opts.Coordinator.Evaluate(ctx, msg.ReleaseVersionID, msg.AttemptID); err != nil {
		return err
	}
	return nil
}
