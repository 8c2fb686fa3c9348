package status_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/stage"
	"pubpipe/internal/status"
	"pubpipe/internal/testsupport"
)

var testStart = time.Date(2024, 6, 13, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *status.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg, status.WithClock(testsupport.SteppingClock(testStart, time.Millisecond)))
}

func TestCreateStartsPendingAttempt(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()

	id := testsupport.NewAttempt(t, store, rv, true)
	attempt, err := store.Get(ctx, rv, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if attempt.Overall != stage.Pending {
		t.Fatalf("expected pending overall, got %s", attempt.Overall)
	}
	for _, st := range stage.All {
		if got := attempt.Stage(st); got.State != stage.Pending || got.Retries != 0 || got.StartedAt != nil {
			t.Fatalf("%s: unexpected status %+v", st, got)
		}
	}
	if !attempt.Immediate || attempt.EventRaised || attempt.Version != 1 {
		t.Fatalf("unexpected attempt flags: %+v", attempt)
	}
	if len(attempt.Log) != 1 {
		t.Fatalf("expected creation log entry, got %v", attempt.Log)
	}
}

func TestCreateSupersedesOpenAttempt(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()

	first := testsupport.NewAttempt(t, store, rv, false, status.WithPublishOn(testStart))
	if _, err := store.TransitionStage(ctx, rv, first, stage.Content, stage.Pending, stage.Started, "content started"); err != nil {
		t.Fatalf("TransitionStage: %v", err)
	}
	second := testsupport.NewAttempt(t, store, rv, true)

	old, err := store.Get(ctx, rv, first)
	if err != nil {
		t.Fatalf("Get first: %v", err)
	}
	if old.Overall != stage.Superseded {
		t.Fatalf("expected first attempt superseded, got %s", old.Overall)
	}
	if old.Stage(stage.Content).State != stage.Started {
		t.Fatalf("superseded attempt stage states must be preserved, got %s", old.Stage(stage.Content).State)
	}

	latest, err := store.GetLatest(ctx, rv)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest == nil || latest.AttemptID != second {
		t.Fatalf("expected latest attempt %s, got %+v", second, latest)
	}

	_, err = store.TransitionStage(ctx, rv, first, stage.Content, stage.Started, stage.Complete, "late completion")
	if !errors.Is(err, status.ErrAttemptClosed) {
		t.Fatalf("expected ErrAttemptClosed for superseded attempt, got %v", err)
	}

	history, err := store.History(ctx, rv)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].AttemptID != first || history[1].AttemptID != second {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestConcurrentCreateLeavesOneOpenAttempt(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(ctx, rv, true); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Create: %v", err)
	}

	history, err := store.History(ctx, rv)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	open := 0
	for _, a := range history {
		if a.IsOpen() {
			open++
		}
	}
	if len(history) != 4 || open != 1 {
		t.Fatalf("expected 4 attempts with one open, got %d attempts and %d open", len(history), open)
	}
}

func TestGetMissingAndLatestEmpty(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, uuid.New(), uuid.New()); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	latest, err := store.GetLatest(ctx, uuid.New())
	if err != nil || latest != nil {
		t.Fatalf("expected no latest attempt, got %+v, %v", latest, err)
	}
}

func TestTransitionStageLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()
	id := testsupport.NewAttempt(t, store, rv, true)

	steps := []struct {
		from, to stage.State
	}{
		{stage.Pending, stage.Scheduled},
		{stage.Scheduled, stage.Started},
		{stage.Started, stage.Scheduled},
		{stage.Scheduled, stage.Started},
		{stage.Started, stage.Complete},
	}
	var attempt *status.Attempt
	for _, step := range steps {
		var err error
		attempt, err = store.TransitionStage(ctx, rv, id, stage.Files, step.from, step.to, "")
		if err != nil {
			t.Fatalf("%s -> %s: %v", step.from, step.to, err)
		}
	}
	files := attempt.Stage(stage.Files)
	if files.State != stage.Complete || files.Retries != 1 {
		t.Fatalf("expected complete with one retry, got %+v", files)
	}
	if files.StartedAt == nil {
		t.Fatal("expected started timestamp to be kept on completion")
	}

	stored, err := store.Get(ctx, rv, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := stored.Stage(stage.Files); got.State != files.State || got.Retries != files.Retries {
		t.Fatalf("stored status %+v differs from returned %+v", got, files)
	}
	if stored.Version != 1+int64(len(steps)) {
		t.Fatalf("expected version %d, got %d", 1+len(steps), stored.Version)
	}
	if stored.Stage(stage.Content).State != stage.Pending {
		t.Fatal("other stages must be untouched")
	}
}

func TestTransitionStageConflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()
	id := testsupport.NewAttempt(t, store, rv, true)

	if _, err := store.TransitionStage(ctx, rv, id, stage.Content, stage.Pending, stage.Started, "started"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := store.TransitionStage(ctx, rv, id, stage.Content, stage.Pending, stage.Started, "duplicate")
	if !errors.Is(err, status.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	var conflict *status.ConflictError
	if !errors.As(err, &conflict) || conflict.Actual != stage.Started || conflict.Expected != stage.Pending {
		t.Fatalf("expected conflict detail, got %v", err)
	}

	attempt, err := store.Get(ctx, rv, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(attempt.Log) != 2 {
		t.Fatalf("rejected transition must not append a log entry, got %v", attempt.Log)
	}
}

func TestTransitionStageRejectsInvalidEdges(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()
	id := testsupport.NewAttempt(t, store, rv, true)

	tests := []struct {
		name     string
		from, to stage.State
	}{
		{"pending to complete", stage.Pending, stage.Complete},
		{"complete to started", stage.Complete, stage.Started},
		{"failed to scheduled", stage.Failed, stage.Scheduled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.TransitionStage(ctx, rv, id, stage.Content, tt.from, tt.to, "")
			if !errors.Is(err, status.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()
	id := testsupport.NewAttempt(t, store, rv, true)

	const contenders = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TransitionStage(ctx, rv, id, stage.Publishing, stage.Pending, stage.Started, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, status.ErrConcurrencyConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != contenders-1 {
		t.Fatalf("expected one winner, got %d wins and %d conflicts", wins, conflicts)
	}
}

func TestUpdateOverallStageClaimsEventOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rv := uuid.New()
	id := testsupport.NewAttempt(t, store, rv, true)

	decide := func(a *status.Attempt) (status.OverallUpdate, bool) {
		if a.EventRaised {
			return status.OverallUpdate{}, false
		}
		return status.OverallUpdate{Overall: stage.Complete, ClaimEvent: true, LogMessage: "published"}, true
	}

	attempt, update, applied, err := store.UpdateOverallStage(ctx, rv, id, decide)
	if err != nil || !applied {
		t.Fatalf("expected first update to apply, got applied=%v err=%v", applied, err)
	}
	if !update.ClaimEvent || attempt.Overall != stage.Complete || !attempt.EventRaised {
		t.Fatalf("unexpected result: %+v %+v", update, attempt)
	}

	_, _, applied, err = store.UpdateOverallStage(ctx, rv, id, decide)
	if err != nil || applied {
		t.Fatalf("expected second update to be skipped, got applied=%v err=%v", applied, err)
	}
}

func TestDueToday(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 13, 15, 0, 0, 0, time.UTC)

	immediate := uuid.New()
	testsupport.NewAttempt(t, store, immediate, true)
	dueNow := uuid.New()
	testsupport.NewAttempt(t, store, dueNow, false, status.WithPublishOn(now))
	overdue := uuid.New()
	testsupport.NewAttempt(t, store, overdue, false, status.WithPublishOn(now.AddDate(0, 0, -2)))
	future := uuid.New()
	testsupport.NewAttempt(t, store, future, false, status.WithPublishOn(now.AddDate(0, 0, 1)))
	unscheduled := uuid.New()
	testsupport.NewAttempt(t, store, unscheduled, false)
	closed := uuid.New()
	closedID := testsupport.NewAttempt(t, store, closed, true)
	if _, _, _, err := store.UpdateOverallStage(ctx, closed, closedID, func(*status.Attempt) (status.OverallUpdate, bool) {
		return status.OverallUpdate{Overall: stage.Failed}, true
	}); err != nil {
		t.Fatalf("UpdateOverallStage: %v", err)
	}

	due, err := store.DueToday(ctx, now)
	if err != nil {
		t.Fatalf("DueToday: %v", err)
	}
	got := map[uuid.UUID]bool{}
	for _, a := range due {
		got[a.ReleaseVersionID] = true
	}
	want := []uuid.UUID{immediate, dueNow, overdue}
	if len(got) != len(want) {
		t.Fatalf("expected %d due attempts, got %d", len(want), len(got))
	}
	for _, id := range want {
		if !got[id] {
			t.Fatalf("expected %s to be due", id)
		}
	}
}

func TestListByStages(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	stuck := uuid.New()
	stuckID := testsupport.NewAttempt(t, store, stuck, true)
	if _, err := store.TransitionStage(ctx, stuck, stuckID, stage.Files, stage.Pending, stage.Started, ""); err != nil {
		t.Fatalf("TransitionStage: %v", err)
	}
	idle := uuid.New()
	testsupport.NewAttempt(t, store, idle, true)

	started, err := store.ListByStages(ctx, status.Filter{
		Overall: []stage.State{stage.Pending, stage.Scheduled, stage.Started},
		Stage:   stage.Files,
		States:  []stage.State{stage.Started},
	})
	if err != nil {
		t.Fatalf("ListByStages: %v", err)
	}
	if len(started) != 1 || started[0].ReleaseVersionID != stuck {
		t.Fatalf("expected only the started attempt, got %+v", started)
	}

	old, err := store.ListByStages(ctx, status.Filter{
		Stage:         stage.Files,
		States:        []stage.State{stage.Started},
		StartedBefore: testStart,
	})
	if err != nil {
		t.Fatalf("ListByStages StartedBefore: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected no attempts started before the clock origin, got %d", len(old))
	}

	all, err := store.ListByStages(ctx, status.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("ListByStages limit: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(all))
	}

	if _, err := store.ListByStages(ctx, status.Filter{Stage: stage.Stage("Indexing")}); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
