package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pubpipe/internal/logging"
	"pubpipe/internal/metrics"
	"pubpipe/internal/pipeline"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

// Options configures a Runner.
type Options struct {
	Store      *status.Store
	Dispatcher *pipeline.Dispatcher
	Guard      Guard
	Metrics    metrics.Pipeline
	Logger     *slog.Logger
	// Interval between ticks.
	Interval time.Duration
	// SweepGrace is how long a stage may stay started before it is re-enqueued.
	SweepGrace time.Duration
	// RequeueAfter is how long a scheduled stage may wait for a worker before
	// its message is sent again. It should exceed the longest retry backoff.
	RequeueAfter time.Duration
	Now          func() time.Time
}

// Summary reports what one tick did.
type Summary struct {
	Skipped   bool
	Due       int
	Evaluated int
	Scheduled int
	Requeued  int
	Reclaimed int
}

// Runner is the batch driver.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// NewRunner builds a runner.
func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("scheduler: status store is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("scheduler: dispatcher is required")
	case opts.Guard == nil:
		return nil, errors.New("scheduler: guard is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "scheduler")}, nil
}

// Run ticks until ctx is cancelled. Tick failures are logged and retried on
// the next interval.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.WarnWithContext(r.logger, "scheduler tick failed", "scheduler_tick_failed",
				logging.String(logging.FieldErrorHint, "check status store access"),
				logging.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick settles the overall state of due attempts whose stages moved without
// an evaluation, schedules the next stage of every due attempt and sweeps
// abandoned stages. It does nothing when another driver holds the guard.
func (r *Runner) Tick(ctx context.Context) (Summary, error) {
	var summary Summary
	release, ok, err := r.opts.Guard.TryAcquire(ctx)
	if err != nil {
		return summary, err
	}
	if !ok {
		r.logger.Debug("scheduler guard held elsewhere; skipping tick")
		summary.Skipped = true
		return summary, nil
	}
	defer release()

	now := r.opts.Now()
	due, err := r.opts.Store.DueToday(ctx, now)
	if err != nil {
		return summary, err
	}
	summary.Due = len(due)

	var errs []error
	for _, att := range due {
		if pipeline.Aggregate(att.StageStates(), att.Overall) != att.Overall {
			evaluated, err := r.opts.Dispatcher.Evaluate(ctx, att.ReleaseVersionID, att.AttemptID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			summary.Evaluated++
			att = evaluated
			if !att.IsOpen() {
				continue
			}
		}
		next, ok := att.NextIncomplete()
		if !ok {
			continue
		}
		switch st := att.Stage(next); st.State {
		case stage.Pending:
			scheduled, err := r.opts.Dispatcher.Schedule(ctx, att.ReleaseVersionID, att.AttemptID, next)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if scheduled {
				summary.Scheduled++
			}
		case stage.Scheduled:
			if r.opts.RequeueAfter <= 0 || now.Sub(att.UpdatedAt) < r.opts.RequeueAfter {
				continue
			}
			if err := r.opts.Dispatcher.Enqueue(ctx, att.ReleaseVersionID, att.AttemptID, next); err != nil {
				errs = append(errs, err)
				continue
			}
			summary.Requeued++
		}
	}

	reclaimed, err := r.Sweep(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	summary.Reclaimed = reclaimed

	if summary.Evaluated+summary.Scheduled+summary.Requeued+summary.Reclaimed > 0 {
		r.logger.Info("scheduler tick",
			logging.String(logging.FieldEventType, "scheduler_tick"),
			logging.Int("due", summary.Due),
			logging.Int("evaluated", summary.Evaluated),
			logging.Int("scheduled", summary.Scheduled),
			logging.Int("requeued", summary.Requeued),
			logging.Int("reclaimed", summary.Reclaimed),
		)
	}
	return summary, errors.Join(errs...)
}

// Sweep re-enqueues stages that have been started for longer than the grace
// period. The worker reruns a started stage when it sees one. Each reclaim
// restarts the stage's grace period, so a slow rerun is not sent again on
// the next tick.
func (r *Runner) Sweep(ctx context.Context, now time.Time) (int, error) {
	if r.opts.SweepGrace <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-r.opts.SweepGrace)
	reclaimed := 0
	for _, s := range stage.All {
		stale, err := r.opts.Store.ListByStages(ctx, status.Filter{
			Overall:       []stage.State{stage.Pending, stage.Scheduled, stage.Started},
			Stage:         s,
			States:        []stage.State{stage.Started},
			StartedBefore: cutoff,
		})
		if err != nil {
			return reclaimed, err
		}
		for _, att := range stale {
			claimed, err := r.opts.Store.ReclaimStage(ctx, att.ReleaseVersionID, att.AttemptID, s, cutoff, now)
			if err != nil {
				return reclaimed, err
			}
			if !claimed {
				continue
			}
			if err := r.opts.Dispatcher.Enqueue(ctx, att.ReleaseVersionID, att.AttemptID, s); err != nil {
				return reclaimed, err
			}
			reclaimed++
			logging.WarnWithContext(r.logger, "re-enqueued abandoned stage", "stage_reclaimed",
				logging.String(logging.FieldReleaseVersionID, att.ReleaseVersionID.String()),
				logging.String(logging.FieldAttemptID, att.AttemptID.String()),
				logging.String(logging.FieldStage, string(s)),
			)
		}
	}
	if reclaimed > 0 {
		r.opts.Metrics.StagesReclaimed(reclaimed)
	}
	return reclaimed, nil
}
