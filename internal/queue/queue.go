package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pubpipe/internal/config"
)

// ErrClosed is returned once a queue has been closed.
var ErrClosed = errors.New("queue closed")

// DefaultRedeliveryDelay is how long a message whose handler failed waits
// before it is delivered again.
const DefaultRedeliveryDelay = time.Second

// Handler processes one delivered message. A non-nil error causes redelivery.
type Handler func(ctx context.Context, msg Message) error

// Queue is the stage message transport.
type Queue interface {
	// Enqueue makes msg available for delivery once delay has elapsed.
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error
	// Consume delivers messages to handler using up to workers concurrent
	// handler calls. It blocks until ctx is cancelled or the queue is closed.
	Consume(ctx context.Context, workers int, handler Handler) error
	Close() error
}

// Open builds the queue backend selected by cfg.
func Open(cfg *config.Config, logger *slog.Logger) (Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		return NewMemory(WithLogger(logger)), nil
	case config.QueueBackendKafka:
		return NewKafka(KafkaOptions{
			Brokers: cfg.Queue.Brokers,
			Topic:   cfg.Queue.Topic,
			Group:   cfg.Queue.Group,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("queue backend %q not supported", cfg.Queue.Backend)
	}
}
