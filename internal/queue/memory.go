package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pubpipe/internal/logging"
)

// MemoryOption customises a Memory queue.
type MemoryOption func(*Memory)

// WithLogger attaches a logger for redelivery diagnostics.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = logging.NewComponentLogger(logger, "queue")
	}
}

// WithRedeliveryDelay overrides the delay applied to failed deliveries.
func WithRedeliveryDelay(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d >= 0 {
			m.redelivery = d
		}
	}
}

type envelope struct {
	msg        Message
	deliveries int
}

// Memory is an in-process queue with delayed delivery and explicit acks.
type Memory struct {
	mu         sync.Mutex
	ready      []envelope
	inflight   map[uint64]envelope
	delayed    map[*time.Timer]struct{}
	nextID     uint64
	signal     chan struct{}
	closed     bool
	redelivery time.Duration
	logger     *slog.Logger
}

// NewMemory returns an empty in-process queue.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		inflight:   make(map[uint64]envelope),
		delayed:    make(map[*time.Timer]struct{}),
		signal:     make(chan struct{}),
		redelivery: DefaultRedeliveryDelay,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Delivery is a message handed out by Dequeue that must be acked or nacked.
type Delivery struct {
	Message Message
	// Deliveries counts how many times this message has been handed out, including this one.
	Deliveries int

	id   uint64
	q    *Memory
	once sync.Once
}

// Ack removes the message from the queue.
func (d *Delivery) Ack() {
	d.once.Do(func() {
		d.q.mu.Lock()
		delete(d.q.inflight, d.id)
		d.q.mu.Unlock()
	})
}

// Nack returns the message to the queue after delay.
func (d *Delivery) Nack(delay time.Duration) {
	d.once.Do(func() {
		d.q.mu.Lock()
		env, ok := d.q.inflight[d.id]
		delete(d.q.inflight, d.id)
		d.q.mu.Unlock()
		if ok {
			d.q.schedule(env, delay)
		}
	})
}

// Enqueue implements Queue.
func (m *Memory) Enqueue(_ context.Context, msg Message, delay time.Duration) error {
	if _, err := Encode(msg); err != nil {
		return err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	m.schedule(envelope{msg: msg}, delay)
	return nil
}

func (m *Memory) schedule(env envelope, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if delay <= 0 {
		m.pushLocked(env)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.delayed, timer)
		if !m.closed {
			m.pushLocked(env)
		}
	})
	m.delayed[timer] = struct{}{}
}

func (m *Memory) pushLocked(env envelope) {
	m.ready = append(m.ready, env)
	close(m.signal)
	m.signal = make(chan struct{})
}

// Dequeue blocks until a message is ready, ctx is done, or the queue closes.
func (m *Memory) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if len(m.ready) > 0 {
			env := m.ready[0]
			m.ready = m.ready[1:]
			env.deliveries++
			m.nextID++
			id := m.nextID
			m.inflight[id] = env
			m.mu.Unlock()
			return &Delivery{Message: env.msg, Deliveries: env.deliveries, id: id, q: m}, nil
		}
		wait := m.signal
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Consume implements Queue.
func (m *Memory) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.consumeLoop(ctx, handler)
		}()
	}
	wg.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (m *Memory) consumeLoop(ctx context.Context, handler Handler) {
	for {
		delivery, err := m.Dequeue(ctx)
		if err != nil {
			return
		}
		if err := handler(ctx, delivery.Message); err != nil {
			m.logger.Warn("message handling failed; redelivering",
				logging.String("message", delivery.Message.String()),
				logging.Int("deliveries", delivery.Deliveries),
				logging.Duration("delay", m.redelivery),
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_redeliver"),
			)
			delivery.Nack(m.redelivery)
			continue
		}
		delivery.Ack()
	}
}

// Len returns the number of messages ready, delayed, and in flight.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready) + len(m.delayed) + len(m.inflight)
}

// Close stops pending timers and wakes blocked consumers.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for timer := range m.delayed {
		timer.Stop()
	}
	m.delayed = nil
	close(m.signal)
	return nil
}
