package pipeline_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/catalog"
	"pubpipe/internal/events"
	"pubpipe/internal/logging"
	"pubpipe/internal/notifications"
	"pubpipe/internal/pipeline"
	"pubpipe/internal/queue"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
	"pubpipe/internal/testsupport"
)

type recordingRaiser struct {
	mu        sync.Mutex
	published [][]events.PublishedRelease
	archived  []events.PublicationArchived
	failures  []error
}

func (r *recordingRaiser) ReleaseVersionsPublished(_ context.Context, releases []events.PublishedRelease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		return err
	}
	r.published = append(r.published, releases)
	return nil
}

func (r *recordingRaiser) PublicationArchived(_ context.Context, event events.PublicationArchived) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, event)
	return nil
}

func (r *recordingRaiser) Close() error { return nil }

func (r *recordingRaiser) publishedFor(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, batch := range r.published {
		for _, rel := range batch {
			if rel.ReleaseVersionID == id {
				n++
			}
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

// scriptedStage returns the scripted errors for a release version in order
// and succeeds once they are used up.
type scriptedStage struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
	errs  map[uuid.UUID][]error
}

func newScriptedStage() *scriptedStage {
	return &scriptedStage{calls: map[uuid.UUID]int{}, errs: map[uuid.UUID][]error{}}
}

func (s *scriptedStage) failWith(id uuid.UUID, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[id] = errs
}

func (s *scriptedStage) run(_ context.Context, job stage.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[job.ReleaseVersionID]
	s.calls[job.ReleaseVersionID]++
	if errs := s.errs[job.ReleaseVersionID]; n < len(errs) {
		return errs[n]
	}
	return nil
}

func (s *scriptedStage) count(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type harness struct {
	store       *status.Store
	catalog     *catalog.Catalog
	queue       *queue.Memory
	raiser      *recordingRaiser
	notes       *recordingNotifier
	coordinator *pipeline.Coordinator
	dispatcher  *pipeline.Dispatcher
	trigger     *pipeline.Trigger
	worker      *pipeline.Worker
	stages      map[stage.Stage]*scriptedStage
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	db := testsupport.MustOpenDB(t, cfg)
	h := &harness{
		store:   status.New(db),
		catalog: catalog.New(db),
		queue:   queue.NewMemory(queue.WithRedeliveryDelay(0)),
		raiser:  &recordingRaiser{},
		notes:   &recordingNotifier{},
		stages: map[stage.Stage]*scriptedStage{
			stage.Content:    newScriptedStage(),
			stage.Files:      newScriptedStage(),
			stage.Publishing: newScriptedStage(),
		},
	}
	t.Cleanup(func() { _ = h.queue.Close() })

	logger := logging.NewNop()
	notifier := pipeline.NewEventNotifier(h.catalog, h.raiser, h.notes, nil, logger)
	h.coordinator = pipeline.NewCoordinator(h.store, notifier, nil, logger)
	h.dispatcher = pipeline.NewDispatcher(h.store, h.queue, h.coordinator, nil, logger)
	h.trigger = pipeline.NewTrigger(h.catalog, h.store, h.dispatcher, logger)

	table := stage.Table{}
	for s, sc := range h.stages {
		table[s] = sc.run
	}
	worker, err := pipeline.NewWorker(pipeline.WorkerOptions{
		Store:        h.store,
		Queue:        h.queue,
		Stages:       table,
		Coordinator:  h.coordinator,
		Notifier:     h.notes,
		Logger:       logger,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		StageTimeout: cfg.StageTimeout(),
		BackoffBase:  cfg.BackoffBase(),
		BackoffMax:   cfg.BackoffMax(),
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	h.worker = worker
	return h
}

func newRelease(publicationSlug, releaseSlug string) catalog.ReleaseVersion {
	return catalog.ReleaseVersion{
		ID:              uuid.New(),
		PublicationID:   uuid.New(),
		PublicationSlug: publicationSlug,
		ReleaseSlug:     releaseSlug,
	}
}

func (h *harness) approve(t *testing.T, rv catalog.ReleaseVersion) *status.Attempt {
	t.Helper()
	att, err := h.trigger.Approve(context.Background(), pipeline.ApproveRequest{ReleaseVersion: rv, Immediate: true})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return att
}

// drain processes messages one at a time until the queue is empty.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; h.queue.Len() > 0; i++ {
		if i > 200 {
			t.Fatal("queue did not drain")
		}
		dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		d, err := h.queue.Dequeue(dctx)
		cancel()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if err := h.worker.Process(ctx, d.Message); err != nil {
			d.Nack(0)
			continue
		}
		d.Ack()
	}
}

// advance plays the batch driver: it drains the queue and schedules the
// next pending stage until the attempt closes.
func (h *harness) advance(t *testing.T, att *status.Attempt) *status.Attempt {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		h.drain(t)
		current := h.get(t, att)
		if !current.IsOpen() {
			return current
		}
		next, ok := current.NextIncomplete()
		if !ok {
			return current
		}
		if st := current.Stage(next).State; st != stage.Pending {
			t.Fatalf("%s stage stuck in %s", next, st)
		}
		if _, err := h.dispatcher.Schedule(ctx, att.ReleaseVersionID, att.AttemptID, next); err != nil {
			t.Fatalf("Schedule %s: %v", next, err)
		}
	}
	t.Fatal("attempt did not close")
	return nil
}

func (h *harness) get(t *testing.T, att *status.Attempt) *status.Attempt {
	t.Helper()
	got, err := h.store.Get(context.Background(), att.ReleaseVersionID, att.AttemptID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func logContains(att *status.Attempt, fragment string) bool {
	for _, entry := range att.Log {
		if strings.Contains(entry.Message, fragment) {
			return true
		}
	}
	return false
}
