package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pubpipe/internal/config"
	"pubpipe/internal/services"
)

const userAgent = "pubpipe/1.0"

// Event names a notification kind.
type Event string

const (
	EventReleasePublished    Event = "release_published"
	EventPublicationArchived Event = "publication_archived"
	EventStageFailed         Event = "stage_failed"
	EventTest                Event = "test"
)

// Payload carries the values rendered into a notification.
type Payload map[string]any

// Service delivers notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service when a topic is configured and a
// no-op otherwise.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventReleasePublished:    cfg.Notifications.Published,
			EventPublicationArchived: cfg.Notifications.Archived,
			EventStageFailed:         cfg.Notifications.Failures,
			EventTest:                true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.client == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventReleasePublished:
		label := joinSlugs(payload.str("publicationSlug"), payload.str("releaseSlug"))
		return message{
			title: "Release published",
			body:  fmt.Sprintf("%s is now live", label),
			tags:  []string{"pubpipe", "release", "published"},
		}, true
	case EventPublicationArchived:
		return message{
			title: "Publication archived",
			body:  fmt.Sprintf("%s has been superseded by %s", payload.str("publicationSlug"), fallback(payload.str("supersededBy"), "a newer publication")),
			tags:  []string{"pubpipe", "publication", "archived"},
		}, true
	case EventStageFailed:
		var b strings.Builder
		b.WriteString(fmt.Sprintf("%s stage failed for release version %s", fallback(payload.str("stage"), "A"), payload.str("releaseVersionId")))
		if errText := payload.str("error"); errText != "" {
			b.WriteString(": ")
			b.WriteString(errText)
		}
		return message{
			title:    "Publishing failed",
			body:     b.String(),
			tags:     []string{"pubpipe", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "pubpipe test",
			body:     "Notification system test",
			tags:     []string{"pubpipe", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "notifications", "send", "ntfy request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrExternal, "notifications", "send",
			fmt.Sprintf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func joinSlugs(publication, release string) string {
	switch {
	case publication != "" && release != "":
		return publication + "/" + release
	case publication != "":
		return publication
	default:
		return fallback(release, "A release")
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
