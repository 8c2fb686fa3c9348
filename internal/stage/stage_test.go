package stage_test

import (
	"context"
	"testing"

	"pubpipe/internal/stage"
)

func TestParse(t *testing.T) {
	for _, in := range []string{"content", " Files ", "PUBLISHING"} {
		if _, err := stage.Parse(in); err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
	}
	if _, err := stage.Parse("archive"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestNextFollowsBatchOrder(t *testing.T) {
	next, ok := stage.Content.Next()
	if !ok || next != stage.Files {
		t.Fatalf("expected Files after Content, got %q %v", next, ok)
	}
	next, ok = stage.Files.Next()
	if !ok || next != stage.Publishing {
		t.Fatalf("expected Publishing after Files, got %q %v", next, ok)
	}
	if _, ok := stage.Publishing.Next(); ok {
		t.Fatal("expected no stage after Publishing")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to stage.State
		want     bool
	}{
		{stage.Pending, stage.Scheduled, true},
		{stage.Pending, stage.Started, true},
		{stage.Pending, stage.Complete, false},
		{stage.Scheduled, stage.Started, true},
		{stage.Scheduled, stage.Pending, false},
		{stage.Started, stage.Complete, true},
		{stage.Started, stage.Failed, true},
		{stage.Started, stage.Scheduled, true},
		{stage.Complete, stage.Started, false},
		{stage.Failed, stage.Scheduled, false},
	}
	for _, tt := range tests {
		if got := stage.CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateHelpers(t *testing.T) {
	if stage.Scheduled.Label() != "Scheduled" {
		t.Fatalf("unexpected label %q", stage.Scheduled.Label())
	}
	if !stage.Superseded.Terminal() || stage.Started.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
	if s, err := stage.ParseState(" Complete "); err != nil || s != stage.Complete {
		t.Fatalf("ParseState: %v %v", s, err)
	}
}

func TestTableLookup(t *testing.T) {
	table := stage.Table{stage.Content: func(context.Context, stage.Job) error { return nil }}
	if _, err := table.Lookup(stage.Content); err != nil {
		t.Fatalf("Lookup content: %v", err)
	}
	if _, err := table.Lookup(stage.Files); err == nil {
		t.Fatal("expected error for missing stage")
	}
}

type fixedCheck stage.Health

func (f fixedCheck) HealthCheck(context.Context) stage.Health { return stage.Health(f) }

func TestCheckAll(t *testing.T) {
	checks := []stage.HealthChecker{
		fixedCheck(stage.Healthy("store")),
		nil,
		fixedCheck(stage.Unhealthy("cache", "connection refused")),
	}
	records := stage.CheckAll(context.Background(), checks)
	if len(records) != 2 {
		t.Fatalf("records = %+v", records)
	}
	if stage.AllReady(records) {
		t.Fatal("expected not ready with a failing check")
	}
	if !stage.AllReady(records[:1]) || !stage.AllReady(nil) {
		t.Fatal("expected ready for healthy and empty sets")
	}
}
