package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pubpipe/internal/catalog"
	"pubpipe/internal/database"
	"pubpipe/internal/logging"
	"pubpipe/internal/services"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

// ApproveRequest approves a release version for publication either
// immediately or on a calendar date.
type ApproveRequest struct {
	ReleaseVersion catalog.ReleaseVersion
	Immediate      bool
	PublishOn      *time.Time
}

// Trigger is the inbound entry point for approvals.
type Trigger struct {
	catalog    ReleaseCatalog
	store      *status.Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewTrigger builds a trigger. dispatcher may be nil, in which case due
// attempts wait for the batch driver.
func NewTrigger(cat ReleaseCatalog, store *status.Store, dispatcher *Dispatcher, logger *slog.Logger) *Trigger {
	return &Trigger{
		catalog:    cat,
		store:      store,
		dispatcher: dispatcher,
		logger:     logging.NewComponentLogger(logger, "trigger"),
		now:        time.Now,
	}
}

// WithClock overrides the clock used to decide whether an approval is due.
func (t *Trigger) WithClock(now func() time.Time) *Trigger {
	t.now = now
	return t
}

// Approve registers the release version, starts a new attempt (superseding
// any open one), and schedules the Content stage when the attempt is due.
func (t *Trigger) Approve(ctx context.Context, req ApproveRequest) (*status.Attempt, error) {
	if !req.Immediate && req.PublishOn == nil {
		return nil, services.Wrap(services.ErrValidation, "trigger", "approve", "either immediate or a publish date is required", nil)
	}
	rv := req.ReleaseVersion
	if err := t.catalog.Upsert(ctx, rv); err != nil {
		return nil, fmt.Errorf("register release version: %w", err)
	}

	var opts []status.CreateOption
	if req.PublishOn != nil {
		opts = append(opts, status.WithPublishOn(*req.PublishOn))
	}
	attemptID, err := t.store.Create(ctx, rv.ID, req.Immediate, opts...)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	ctx = services.WithReleaseVersionID(ctx, rv.ID.String())
	ctx = services.WithAttemptID(ctx, attemptID.String())
	logger := logging.WithContext(ctx, t.logger)
	logger.Info("release version approved",
		logging.String(logging.FieldEventType, "release_approved"),
		logging.Bool("immediate", req.Immediate),
		logging.String("publication", rv.PublicationSlug),
		logging.String("release", rv.ReleaseSlug),
	)

	if t.dispatcher != nil && t.due(req) {
		if _, err := t.dispatcher.Schedule(ctx, rv.ID, attemptID, stage.Content); err != nil {
			// The batch driver picks the attempt up on its next tick.
			logging.WarnWithContext(logger, "content stage not dispatched", "dispatch_failure", logging.Error(err))
		}
	}
	return t.store.Get(ctx, rv.ID, attemptID)
}

func (t *Trigger) due(req ApproveRequest) bool {
	if req.Immediate {
		return true
	}
	return req.PublishOn.Format(database.DateLayout) <= t.now().Format(database.DateLayout)
}
