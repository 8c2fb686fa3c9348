package daemon

import (
	"context"
	"errors"

	"pubpipe/internal/catalog"
	"pubpipe/internal/config"
	"pubpipe/internal/database"
	"pubpipe/internal/status"
)

// Storage bundles the durable stores that share one database handle.
type Storage struct {
	DB       *database.DB
	Attempts *status.Store
	Catalog  *catalog.Catalog
}

// OpenStorage opens the configured database and the stores built on it.
func OpenStorage(ctx context.Context, cfg *config.Config, opts ...status.Option) (*Storage, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Storage{
		DB:       db,
		Attempts: status.New(db, opts...),
		Catalog:  catalog.New(db),
	}, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
