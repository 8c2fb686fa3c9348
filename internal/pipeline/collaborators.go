package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"pubpipe/internal/catalog"
	"pubpipe/internal/logging"
	"pubpipe/internal/services"
	"pubpipe/internal/services/contentcache"
	"pubpipe/internal/services/datasets"
	"pubpipe/internal/services/filestore"
	"pubpipe/internal/stage"
)

// ReleaseCatalog registers, reads, and marks release versions live.
type ReleaseCatalog interface {
	Upsert(ctx context.Context, rv catalog.ReleaseVersion) error
	Get(ctx context.Context, id uuid.UUID) (catalog.ReleaseVersion, error)
	MarkLive(ctx context.Context, id uuid.UUID) (catalog.ReleaseVersion, error)
}

// Collaborators are the external services the stages call.
type Collaborators struct {
	Catalog  ReleaseCatalog
	Cache    contentcache.Service
	Files    filestore.Service
	DataSets datasets.Publisher
	Logger   *slog.Logger
}

// NewStageTable returns the work function of every stage.
func NewStageTable(c Collaborators) stage.Table {
	if c.Cache == nil {
		c.Cache = contentcache.NoopService{}
	}
	c.Logger = logging.NewComponentLogger(c.Logger, "stages")
	return stage.Table{
		stage.Content:    c.content,
		stage.Files:      c.files,
		stage.Publishing: c.publishing,
	}
}

func (c Collaborators) release(ctx context.Context, id uuid.UUID) (catalog.ReleaseVersion, error) {
	rv, err := c.Catalog.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return rv, services.Wrap(services.ErrNotFound, "catalog", "get", id.String(), err)
	}
	return rv, err
}

func (c Collaborators) content(ctx context.Context, job stage.Job) error {
	rv, err := c.release(ctx, job.ReleaseVersionID)
	if err != nil {
		return err
	}
	return c.Cache.Refresh(ctx, rv)
}

func (c Collaborators) files(ctx context.Context, job stage.Job) error {
	rv, err := c.release(ctx, job.ReleaseVersionID)
	if err != nil {
		return err
	}
	n, err := c.Files.Promote(ctx, rv.ID)
	if err != nil {
		return err
	}
	logging.WithContext(ctx, c.Logger).Info("release files promoted", logging.Int("files", n))
	if rv.PreviousVersionID != nil {
		if err := c.Files.DeleteVersion(ctx, *rv.PreviousVersionID); err != nil {
			return err
		}
	}
	return nil
}

// publishing publishes the release's data sets and then marks the release
// live, so a data-set failure never leaves a live version behind a failed
// attempt. Both happen before the stage completes because completion
// triggers public notification.
func (c Collaborators) publishing(ctx context.Context, job stage.Job) error {
	rv, err := c.release(ctx, job.ReleaseVersionID)
	if err != nil {
		return err
	}
	if err := c.DataSets.Publish(ctx, rv.ID, rv.DataSetVersionIDs); err != nil {
		return err
	}
	_, err = c.Catalog.MarkLive(ctx, job.ReleaseVersionID)
	return err
}
