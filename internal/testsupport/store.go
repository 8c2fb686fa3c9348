package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/catalog"
	"pubpipe/internal/config"
	"pubpipe/internal/database"
	"pubpipe/internal/status"
)

// MustOpenDB opens the configured database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustOpenStore opens a status.Store backed by a fresh database.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...status.Option) *status.Store {
	t.Helper()
	return status.New(MustOpenDB(t, cfg), opts...)
}

// NewAttempt creates an attempt and fails the test on error.
func NewAttempt(t testing.TB, store *status.Store, releaseVersionID uuid.UUID, immediate bool, opts ...status.CreateOption) uuid.UUID {
	t.Helper()

	id, err := store.Create(context.Background(), releaseVersionID, immediate, opts...)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return id
}

// NewRelease registers a release version in the catalog.
func NewRelease(t testing.TB, cat *catalog.Catalog, publicationSlug, releaseSlug string) catalog.ReleaseVersion {
	t.Helper()

	rv := catalog.ReleaseVersion{
		ID:              uuid.New(),
		PublicationID:   uuid.New(),
		PublicationSlug: publicationSlug,
		ReleaseSlug:     releaseSlug,
	}
	if err := cat.Upsert(context.Background(), rv); err != nil {
		t.Fatalf("catalog.Upsert: %v", err)
	}
	return rv
}

// SteppingClock returns a clock that advances by step on every call.
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var (
		mu sync.Mutex
		n  int64
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return start.Add(time.Duration(n) * step)
	}
}
