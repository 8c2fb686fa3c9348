package status

import (
	"log/slog"
	"time"

	"pubpipe/internal/database"
	"pubpipe/internal/logging"
)

const maxVersionRetries = 8

// Store is the durable record of publishing attempts.
type Store struct {
	db     *database.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger for conflict diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.NewComponentLogger(logger, "status-store")
	}
}

// New builds a Store over an open database.
func New(db *database.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
