package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"pubpipe/internal/config"
	"pubpipe/internal/logging"
	"pubpipe/internal/services"
)

const (
	TypeReleaseVersionsPublished = "ReleaseVersionsPublished"
	TypePublicationArchived      = "PublicationArchived"
)

// PublishedRelease describes one release version that went live.
type PublishedRelease struct {
	ReleaseVersionID uuid.UUID  `json:"releaseVersionId"`
	AttemptID        uuid.UUID  `json:"attemptId"`
	PublicationID    uuid.UUID  `json:"publicationId"`
	PublicationSlug  string     `json:"publicationSlug"`
	ReleaseSlug      string     `json:"releaseSlug"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
}

// PublicationArchived describes a publication superseded by another one.
type PublicationArchived struct {
	PublicationID             uuid.UUID `json:"publicationId"`
	PublicationSlug           string    `json:"publicationSlug"`
	SupersededByPublicationID uuid.UUID `json:"supersededByPublicationId"`
}

// Envelope is the wire format of every event.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Raiser sends domain events.
type Raiser interface {
	ReleaseVersionsPublished(ctx context.Context, releases []PublishedRelease) error
	PublicationArchived(ctx context.Context, event PublicationArchived) error
	Close() error
}

// NewConfiguredRaiser returns the raiser selected by cfg.
func NewConfiguredRaiser(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Raiser, error) {
	if cfg.Events.Backend != config.EventsBackendPubSub {
		return NewLogRaiser(logger), nil
	}
	var opts []option.ClientOption
	if creds := cfg.Events.CredentialsJSON; creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "events", "pubsub client", cfg.Events.ProjectID, err)
	}
	return NewPubSubRaiser(client, cfg.Events.Topic), nil
}

func encode(eventType string, occurredAt time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, OccurredAt: occurredAt.UTC(), Data: raw})
}

// PubSubRaiser publishes events to a Cloud Pub/Sub topic.
type PubSubRaiser struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	now    func() time.Time
}

// NewPubSubRaiser publishes to topic using client.
func NewPubSubRaiser(client *pubsub.Client, topic string) *PubSubRaiser {
	return &PubSubRaiser{client: client, topic: client.Topic(topic), now: time.Now}
}

// EnsureTopic creates the topic when it does not exist yet.
func (r *PubSubRaiser) EnsureTopic(ctx context.Context) error {
	ok, err := r.topic.Exists(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "events", "topic exists", r.topic.ID(), err)
	}
	if ok {
		return nil
	}
	topic, err := r.client.CreateTopic(ctx, r.topic.ID())
	if err != nil {
		return services.Wrap(services.ErrExternal, "events", "create topic", r.topic.ID(), err)
	}
	r.topic = topic
	return nil
}

func (r *PubSubRaiser) publish(ctx context.Context, eventType, orderingHint string, data any) error {
	payload, err := encode(eventType, r.now(), data)
	if err != nil {
		return err
	}
	result := r.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": eventType,
			"subject":    orderingHint,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return services.Wrap(services.ErrTransient, "events", "publish", eventType, err)
	}
	return nil
}

// ReleaseVersionsPublished implements Raiser.
func (r *PubSubRaiser) ReleaseVersionsPublished(ctx context.Context, releases []PublishedRelease) error {
	if len(releases) == 0 {
		return nil
	}
	return r.publish(ctx, TypeReleaseVersionsPublished, releases[0].ReleaseVersionID.String(), releases)
}

// PublicationArchived implements Raiser.
func (r *PubSubRaiser) PublicationArchived(ctx context.Context, event PublicationArchived) error {
	return r.publish(ctx, TypePublicationArchived, event.PublicationID.String(), event)
}

// Close flushes pending publishes and closes the client.
func (r *PubSubRaiser) Close() error {
	r.topic.Stop()
	return r.client.Close()
}

// LogRaiser records events in the log only.
type LogRaiser struct {
	logger *slog.Logger
}

// NewLogRaiser builds a raiser that logs every event.
func NewLogRaiser(logger *slog.Logger) *LogRaiser {
	return &LogRaiser{logger: logging.NewComponentLogger(logger, "events")}
}

// ReleaseVersionsPublished implements Raiser.
func (r *LogRaiser) ReleaseVersionsPublished(_ context.Context, releases []PublishedRelease) error {
	for _, rel := range releases {
		r.logger.Info("release version published",
			logging.String(logging.FieldEventType, "release_versions_published"),
			logging.String(logging.FieldReleaseVersionID, rel.ReleaseVersionID.String()),
			logging.String(logging.FieldAttemptID, rel.AttemptID.String()),
			logging.String("publication_slug", rel.PublicationSlug),
			logging.String("release_slug", rel.ReleaseSlug),
		)
	}
	return nil
}

// PublicationArchived implements Raiser.
func (r *LogRaiser) PublicationArchived(_ context.Context, event PublicationArchived) error {
	r.logger.Info("publication archived",
		logging.String(logging.FieldEventType, "publication_archived"),
		logging.String("publication_id", event.PublicationID.String()),
		logging.String("publication_slug", event.PublicationSlug),
		logging.String("superseded_by", event.SupersededByPublicationID.String()),
	)
	return nil
}

// Close implements Raiser.
func (r *LogRaiser) Close() error { return nil }
