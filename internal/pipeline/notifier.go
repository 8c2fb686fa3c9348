package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/events"
	"pubpipe/internal/faults"
	"pubpipe/internal/logging"
	"pubpipe/internal/metrics"
	"pubpipe/internal/notifications"
	"pubpipe/internal/status"
)

const (
	eventAttempts   = 3
	eventRetryDelay = 250 * time.Millisecond
)

// EventNotifier raises domain events and subscriber notifications for
// published releases. The coordinator claims the event before calling it, so
// delivery is at most once per attempt; transient bus failures are retried
// inline a few times and then logged.
type EventNotifier struct {
	catalog  ReleaseCatalog
	raiser   events.Raiser
	notifier notifications.Service
	metrics  metrics.Pipeline
	logger   *slog.Logger
	delay    time.Duration
}

// NewEventNotifier builds a notifier. notifier may be nil.
func NewEventNotifier(cat ReleaseCatalog, raiser events.Raiser, notifier notifications.Service, m metrics.Pipeline, logger *slog.Logger) *EventNotifier {
	if m == nil {
		m = metrics.Nop{}
	}
	logger = logging.NewComponentLogger(logger, "events")
	if raiser == nil {
		raiser = events.NewLogRaiser(logger)
	}
	return &EventNotifier{
		catalog:  cat,
		raiser:   raiser,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		delay:    eventRetryDelay,
	}
}

// OnReleaseVersionsPublished raises the published event and notifies subscribers.
func (n *EventNotifier) OnReleaseVersionsPublished(ctx context.Context, releases []events.PublishedRelease) error {
	if len(releases) == 0 {
		return nil
	}
	if err := n.withRetry(ctx, func(ctx context.Context) error {
		return n.raiser.ReleaseVersionsPublished(ctx, releases)
	}); err != nil {
		return fmt.Errorf("raise %s: %w", events.TypeReleaseVersionsPublished, err)
	}
	n.metrics.EventRaised(events.TypeReleaseVersionsPublished)
	for _, r := range releases {
		n.notify(ctx, notifications.EventReleasePublished, notifications.Payload{
			"publicationSlug":  r.PublicationSlug,
			"releaseSlug":      r.ReleaseSlug,
			"releaseVersionId": r.ReleaseVersionID.String(),
		})
	}
	return nil
}

// OnPublicationArchived raises the archived event for a superseded publication.
func (n *EventNotifier) OnPublicationArchived(ctx context.Context, publicationID uuid.UUID, slug string, supersededByPublicationID uuid.UUID) error {
	event := events.PublicationArchived{
		PublicationID:             publicationID,
		PublicationSlug:           slug,
		SupersededByPublicationID: supersededByPublicationID,
	}
	if err := n.withRetry(ctx, func(ctx context.Context) error {
		return n.raiser.PublicationArchived(ctx, event)
	}); err != nil {
		return fmt.Errorf("raise %s: %w", events.TypePublicationArchived, err)
	}
	n.metrics.EventRaised(events.TypePublicationArchived)
	n.notify(ctx, notifications.EventPublicationArchived, notifications.Payload{
		"publicationSlug": slug,
		"supersededBy":    supersededByPublicationID.String(),
	})
	return nil
}

// Published announces a completed attempt.
func (n *EventNotifier) Published(ctx context.Context, att *status.Attempt) {
	logger := logging.WithContext(ctx, n.logger).With(
		logging.String(logging.FieldReleaseVersionID, att.ReleaseVersionID.String()),
		logging.String(logging.FieldAttemptID, att.AttemptID.String()),
	)
	rv, err := n.catalog.Get(ctx, att.ReleaseVersionID)
	if err != nil {
		logging.ErrorWithContext(logger, "publish event not raised", "event_failure",
			logging.String(logging.FieldErrorHint, "release version missing from catalog"),
			logging.Error(err),
		)
		return
	}

	released := events.PublishedRelease{
		ReleaseVersionID: rv.ID,
		AttemptID:        att.AttemptID,
		PublicationID:    rv.PublicationID,
		PublicationSlug:  rv.PublicationSlug,
		ReleaseSlug:      rv.ReleaseSlug,
		PublishedAt:      rv.PublishedAt,
	}
	if err := n.OnReleaseVersionsPublished(ctx, []events.PublishedRelease{released}); err != nil {
		logging.ErrorWithContext(logger, "publish event not raised", "event_failure", logging.Error(err))
	} else {
		logger.Info("release published", logging.String(logging.FieldEventType, "release_published"))
	}

	if rv.SupersedesPublicationID == nil {
		return
	}
	if err := n.OnPublicationArchived(ctx, *rv.SupersedesPublicationID, rv.SupersedesPublicationSlug, rv.PublicationID); err != nil {
		logging.ErrorWithContext(logger, "archive event not raised", "event_failure",
			logging.String("archived_publication", rv.SupersedesPublicationSlug),
			logging.Error(err),
		)
	}
}

func (n *EventNotifier) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for try := 1; try <= eventAttempts; try++ {
		if err = fn(ctx); err == nil || !faults.ShouldRetry(err) || try == eventAttempts {
			return err
		}
		logging.WarnWithContext(n.logger, "event delivery failed; retrying", "event_retry",
			logging.Int("try", try),
			logging.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.delay * time.Duration(try)):
		}
	}
	return err
}

func (n *EventNotifier) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if n.notifier == nil {
		return
	}
	if err := n.notifier.Publish(ctx, event, payload); err != nil {
		n.logger.Debug("subscriber notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
