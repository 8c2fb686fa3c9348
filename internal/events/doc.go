// Package events raises the release-publishing domain events on the outbound
// event bus.
//
// Two events exist: ReleaseVersionsPublished, raised when an attempt reaches
// complete, and PublicationArchived, raised when the published release
// supersedes another publication. The Pub/Sub raiser publishes a JSON
// envelope with an "event_type" attribute; the log raiser only records the
// event and is used when no bus is configured.
package events
