package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/notifications"
	"pubpipe/internal/queue"
	"pubpipe/internal/services"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
	"pubpipe/internal/testsupport"
)

func transient(msg string) error {
	return services.Wrap(services.ErrTransient, "test", "stage", msg, nil)
}

func TestAllStagesSucceedRaisesOneEvent(t *testing.T) {
	h := newHarness(t)
	rv := newRelease("trade-stats", "2026-q3")

	att := h.advance(t, h.approve(t, rv))

	if att.Overall != stage.Complete {
		t.Fatalf("overall = %s, want complete", att.Overall)
	}
	if !att.EventRaised {
		t.Fatal("expected event to be claimed")
	}
	for _, s := range stage.All {
		if got := att.Stage(s).State; got != stage.Complete {
			t.Fatalf("%s stage = %s, want complete", s, got)
		}
		if n := h.stages[s].count(rv.ID); n != 1 {
			t.Fatalf("%s stage ran %d times, want 1", s, n)
		}
	}
	if n := h.raiser.publishedFor(rv.ID); n != 1 {
		t.Fatalf("published events = %d, want 1", n)
	}
	if n := h.notes.count(notifications.EventReleasePublished); n != 1 {
		t.Fatalf("published notifications = %d, want 1", n)
	}

	// Further evaluations and redeliveries change nothing.
	if _, err := h.coordinator.Evaluate(context.Background(), rv.ID, att.AttemptID); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	msg := queue.Message{ReleaseVersionID: rv.ID, AttemptID: att.AttemptID, Stage: stage.Content}
	if err := h.worker.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process redelivery: %v", err)
	}
	after := h.get(t, att)
	if after.Version != att.Version {
		t.Fatalf("version moved from %d to %d on redelivery", att.Version, after.Version)
	}
	if n := h.stages[stage.Content].count(rv.ID); n != 1 {
		t.Fatalf("content stage reran on redelivery: %d calls", n)
	}
	if n := h.raiser.publishedFor(rv.ID); n != 1 {
		t.Fatalf("published events = %d after re-evaluation, want 1", n)
	}
}

func TestTransientFilesFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	rv := newRelease("trade-stats", "2026-q3")
	h.stages[stage.Files].failWith(rv.ID, transient("bucket unavailable"))

	att := h.advance(t, h.approve(t, rv))

	if att.Overall != stage.Complete {
		t.Fatalf("overall = %s, want complete", att.Overall)
	}
	files := att.Stage(stage.Files)
	if files.State != stage.Complete || files.Retries != 1 {
		t.Fatalf("files stage = %+v, want complete with 1 retry", files)
	}
	if n := h.stages[stage.Files].count(rv.ID); n != 2 {
		t.Fatalf("files stage ran %d times, want 2", n)
	}
	if !logContains(att, "Files stage failed with a transient error") {
		t.Fatalf("log missing failure entry: %+v", att.Log)
	}
	if !logContains(att, "Files stage complete") {
		t.Fatalf("log missing success entry: %+v", att.Log)
	}
	if n := h.raiser.publishedFor(rv.ID); n != 1 {
		t.Fatalf("published events = %d, want 1", n)
	}
}

func TestNonRetryableContentFailureFailsAttempt(t *testing.T) {
	h := newHarness(t)
	rv := newRelease("trade-stats", "2026-q3")
	h.stages[stage.Content].failWith(rv.ID, errors.New("release content references a missing table"))

	att := h.approve(t, rv)
	h.drain(t)
	att = h.get(t, att)

	if att.Overall != stage.Failed {
		t.Fatalf("overall = %s, want failed", att.Overall)
	}
	if got := att.Stage(stage.Content).State; got != stage.Failed {
		t.Fatalf("content stage = %s, want failed", got)
	}
	for _, s := range []stage.Stage{stage.Files, stage.Publishing} {
		if got := att.Stage(s).State; got != stage.Pending {
			t.Fatalf("%s stage = %s, want pending", s, got)
		}
	}
	if !logContains(att, "release content references a missing table") {
		t.Fatalf("log missing error text: %+v", att.Log)
	}
	if n := h.raiser.publishedFor(rv.ID); n != 0 {
		t.Fatalf("published events = %d, want 0", n)
	}
	if n := h.notes.count(notifications.EventStageFailed); n != 1 {
		t.Fatalf("failure notifications = %d, want 1", n)
	}

	// A failed attempt accepts no further scheduling.
	scheduled, err := h.dispatcher.Schedule(context.Background(), rv.ID, att.AttemptID, stage.Files)
	if err != nil || scheduled {
		t.Fatalf("Schedule on failed attempt = %v, %v", scheduled, err)
	}
}

func TestRetriesExhaustedFailStage(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxRetries(2))
	rv := newRelease("trade-stats", "2026-q3")
	h.stages[stage.Files].failWith(rv.ID,
		transient("timeout 1"), transient("timeout 2"), transient("timeout 3"), transient("timeout 4"))

	att := h.advance(t, h.approve(t, rv))

	if att.Overall != stage.Failed {
		t.Fatalf("overall = %s, want failed", att.Overall)
	}
	files := att.Stage(stage.Files)
	if files.State != stage.Failed || files.Retries != 2 {
		t.Fatalf("files stage = %+v, want failed after 2 retries", files)
	}
	if n := h.stages[stage.Files].count(rv.ID); n != 3 {
		t.Fatalf("files stage ran %d times, want 3", n)
	}
	if !logContains(att, "retries exhausted") {
		t.Fatalf("log missing exhaustion entry: %+v", att.Log)
	}
	if got := att.Stage(stage.Publishing).State; got != stage.Pending {
		t.Fatalf("publishing stage = %s, want pending", got)
	}
}

func TestConcurrentReleasesAreIndependent(t *testing.T) {
	h := newHarness(t)
	good := newRelease("trade-stats", "2026-q3")
	bad := newRelease("labour-market", "2026-09")
	h.stages[stage.Content].failWith(good.ID, transient("cache busy"))
	h.stages[stage.Publishing].failWith(bad.ID, errors.New("data set version rejected"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx, 4) }()
	defer func() {
		cancel()
		<-done
	}()

	attempts := []*status.Attempt{h.approve(t, good), h.approve(t, bad)}
	deadline := time.Now().Add(10 * time.Second)
	for {
		open := 0
		for _, att := range attempts {
			current := h.get(t, att)
			if !current.IsOpen() {
				continue
			}
			open++
			if next, ok := current.NextIncomplete(); ok && current.Stage(next).State == stage.Pending {
				if _, err := h.dispatcher.Schedule(ctx, att.ReleaseVersionID, att.AttemptID, next); err != nil {
					t.Fatalf("Schedule: %v", err)
				}
			}
		}
		if open == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("attempts did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	goodAtt := h.get(t, attempts[0])
	if goodAtt.Overall != stage.Complete || goodAtt.Stage(stage.Content).Retries != 1 {
		t.Fatalf("good attempt = %s (content %+v)", goodAtt.Overall, goodAtt.Stage(stage.Content))
	}
	badAtt := h.get(t, attempts[1])
	if badAtt.Overall != stage.Failed {
		t.Fatalf("bad attempt = %s, want failed", badAtt.Overall)
	}
	want := map[stage.Stage]stage.State{stage.Content: stage.Complete, stage.Files: stage.Complete, stage.Publishing: stage.Failed}
	for s, st := range want {
		if got := badAtt.Stage(s).State; got != st {
			t.Fatalf("bad attempt %s stage = %s, want %s", s, got, st)
		}
	}
	if h.raiser.publishedFor(good.ID) != 1 || h.raiser.publishedFor(bad.ID) != 0 {
		t.Fatalf("events: good=%d bad=%d", h.raiser.publishedFor(good.ID), h.raiser.publishedFor(bad.ID))
	}
}

func TestNewAttemptSupersedesStartedAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rv := newRelease("trade-stats", "2026-q3")

	first := h.approve(t, rv)
	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	stale, err := h.queue.Dequeue(dctx)
	cancel()
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if _, err := h.store.TransitionStage(ctx, rv.ID, first.AttemptID, stage.Content, stage.Scheduled, stage.Started, "Content stage started"); err != nil {
		t.Fatalf("start content: %v", err)
	}

	second := h.approve(t, rv)
	old := h.get(t, first)
	if old.Overall != stage.Superseded {
		t.Fatalf("first attempt = %s, want superseded", old.Overall)
	}

	// The in-flight message for the old attempt is acknowledged without effect.
	if err := h.worker.Process(ctx, stale.Message); err != nil {
		t.Fatalf("Process stale: %v", err)
	}
	stale.Ack()
	if n := h.stages[stage.Content].count(rv.ID); n != 0 {
		t.Fatalf("content stage ran %d times for superseded attempt", n)
	}

	done := h.advance(t, second)
	if done.Overall != stage.Complete {
		t.Fatalf("second attempt = %s, want complete", done.Overall)
	}
	if again := h.get(t, first); again.Version != old.Version || again.Overall != stage.Superseded {
		t.Fatalf("superseded attempt mutated: %+v", again)
	}
	if n := h.raiser.publishedFor(rv.ID); n != 1 {
		t.Fatalf("published events = %d, want 1", n)
	}
}

func TestConcurrentEvaluationsNotifyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rv := testsupport.NewRelease(t, h.catalog, "trade-stats", "2026-q3")
	attemptID := testsupport.NewAttempt(t, h.store, rv.ID, true)
	for _, s := range stage.All {
		if _, err := h.store.TransitionStage(ctx, rv.ID, attemptID, s, stage.Pending, stage.Started, ""); err != nil {
			t.Fatalf("start %s: %v", s, err)
		}
		if _, err := h.store.TransitionStage(ctx, rv.ID, attemptID, s, stage.Started, stage.Complete, ""); err != nil {
			t.Fatalf("complete %s: %v", s, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.coordinator.Evaluate(ctx, rv.ID, attemptID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Evaluate: %v", err)
	}

	if n := h.raiser.publishedFor(rv.ID); n != 1 {
		t.Fatalf("published events = %d, want 1", n)
	}
	att, err := h.store.Get(ctx, rv.ID, attemptID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if att.Overall != stage.Complete || !att.EventRaised {
		t.Fatalf("attempt = %s event=%v", att.Overall, att.EventRaised)
	}
}

func TestSupersedingPublicationIsArchived(t *testing.T) {
	h := newHarness(t)
	rv := newRelease("trade-stats-2027", "2027-q1")
	oldPublication := uuid.New()
	rv.SupersedesPublicationID = &oldPublication
	rv.SupersedesPublicationSlug = "trade-stats"

	h.advance(t, h.approve(t, rv))

	if len(h.raiser.archived) != 1 {
		t.Fatalf("archived events = %d, want 1", len(h.raiser.archived))
	}
	got := h.raiser.archived[0]
	if got.PublicationID != oldPublication || got.PublicationSlug != "trade-stats" || got.SupersededByPublicationID != rv.PublicationID {
		t.Fatalf("archived event = %+v", got)
	}
}

func TestTransientEventFailureIsRetriedInline(t *testing.T) {
	h := newHarness(t)
	h.raiser.failures = []error{transient("bus unavailable")}
	rv := newRelease("trade-stats", "2026-q3")

	h.advance(t, h.approve(t, rv))

	if n := h.raiser.publishedFor(rv.ID); n != 1 {
		t.Fatalf("published events = %d, want 1", n)
	}
}

func TestUnknownAttemptMessageIsDropped(t *testing.T) {
	h := newHarness(t)
	msg := queue.Message{ReleaseVersionID: uuid.New(), AttemptID: uuid.New(), Stage: stage.Files}
	if err := h.worker.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
}

func TestScheduledApprovalWaitsForPublishDate(t *testing.T) {
	h := newHarness(t)
	rv := newRelease("trade-stats", "2026-q3")
	tomorrow := time.Now().AddDate(0, 0, 1)

	att, err := h.trigger.Approve(context.Background(), pipelineApproveOn(rv, tomorrow))
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if att.Overall != stage.Pending || att.Stage(stage.Content).State != stage.Pending {
		t.Fatalf("attempt = %s content=%s, want pending", att.Overall, att.Stage(stage.Content).State)
	}
	if h.queue.Len() != 0 {
		t.Fatalf("queue has %d messages, want 0", h.queue.Len())
	}
	if att.PublishOn == nil {
		t.Fatal("publish date not recorded")
	}
}
