package events_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"pubpipe/internal/events"
	"pubpipe/internal/logging"
)

func newTestRaiser(t *testing.T) (*events.PubSubRaiser, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial pstest: %v", err)
	}
	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	raiser := events.NewPubSubRaiser(client, "release-publishing-events")
	t.Cleanup(func() { _ = raiser.Close() })
	if err := raiser.EnsureTopic(context.Background()); err != nil {
		t.Fatalf("EnsureTopic: %v", err)
	}
	return raiser, srv
}

func TestPubSubRaiserPublishesReleaseEvent(t *testing.T) {
	raiser, srv := newTestRaiser(t)
	rel := events.PublishedRelease{
		ReleaseVersionID: uuid.New(),
		AttemptID:        uuid.New(),
		PublicationID:    uuid.New(),
		PublicationSlug:  "pupil-absence",
		ReleaseSlug:      "2023-24",
	}
	if err := raiser.ReleaseVersionsPublished(context.Background(), []events.PublishedRelease{rel}); err != nil {
		t.Fatalf("ReleaseVersionsPublished: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if got := msgs[0].Attributes["event_type"]; got != events.TypeReleaseVersionsPublished {
		t.Fatalf("unexpected event_type attribute %q", got)
	}
	var env events.Envelope
	if err := json.Unmarshal(msgs[0].Data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var releases []events.PublishedRelease
	if err := json.Unmarshal(env.Data, &releases); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if env.Type != events.TypeReleaseVersionsPublished || len(releases) != 1 || releases[0].ReleaseVersionID != rel.ReleaseVersionID {
		t.Fatalf("unexpected envelope %+v / %+v", env, releases)
	}
}

func TestPubSubRaiserPublishesArchivedEvent(t *testing.T) {
	raiser, srv := newTestRaiser(t)
	event := events.PublicationArchived{
		PublicationID:             uuid.New(),
		PublicationSlug:           "pupil-absence-legacy",
		SupersededByPublicationID: uuid.New(),
	}
	if err := raiser.PublicationArchived(context.Background(), event); err != nil {
		t.Fatalf("PublicationArchived: %v", err)
	}
	msgs := srv.Messages()
	if len(msgs) != 1 || msgs[0].Attributes["event_type"] != events.TypePublicationArchived {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestPubSubRaiserSkipsEmptyBatch(t *testing.T) {
	raiser, srv := newTestRaiser(t)
	if err := raiser.ReleaseVersionsPublished(context.Background(), nil); err != nil {
		t.Fatalf("ReleaseVersionsPublished: %v", err)
	}
	if n := len(srv.Messages()); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
}

func TestLogRaiser(t *testing.T) {
	r := events.NewLogRaiser(logging.NewNop())
	if err := r.ReleaseVersionsPublished(context.Background(), []events.PublishedRelease{{ReleaseVersionID: uuid.New()}}); err != nil {
		t.Fatalf("ReleaseVersionsPublished: %v", err)
	}
	if err := r.PublicationArchived(context.Background(), events.PublicationArchived{}); err != nil {
		t.Fatalf("PublicationArchived: %v", err)
	}
}
