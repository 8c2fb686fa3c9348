// Package catalog is the minimal release catalog the pipeline reads slugs from
// and marks release versions live in.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/database"
)

// ErrNotFound indicates the release version is not registered.
var ErrNotFound = errors.New("release version not found")

// ReleaseVersion is one publishable version of a statistical release.
type ReleaseVersion struct {
	ID                uuid.UUID  `json:"id"`
	PublicationID     uuid.UUID  `json:"publication_id"`
	PublicationSlug   string     `json:"publication_slug"`
	ReleaseSlug       string     `json:"release_slug"`
	PreviousVersionID *uuid.UUID `json:"previous_version_id,omitempty"`
	// SupersedesPublicationID names a publication that is archived once this
	// release version goes live.
	SupersedesPublicationID   *uuid.UUID  `json:"supersedes_publication_id,omitempty"`
	SupersedesPublicationSlug string      `json:"supersedes_publication_slug,omitempty"`
	DataSetVersionIDs         []uuid.UUID `json:"data_set_version_ids,omitempty"`
	PublishedAt               *time.Time  `json:"published_at,omitempty"`
	CreatedAt                 time.Time   `json:"created_at"`
	UpdatedAt                 time.Time   `json:"updated_at"`
}

// Live reports whether the release version has been marked published.
func (rv ReleaseVersion) Live() bool { return rv.PublishedAt != nil }

// Catalog stores release versions alongside the publishing attempts.
type Catalog struct {
	db  *database.DB
	now func() time.Time
}

// New builds a Catalog over an open database.
func New(db *database.DB) *Catalog {
	return &Catalog{db: db, now: time.Now}
}

// WithClock overrides the time source and returns c.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	if now != nil {
		c.now = now
	}
	return c
}

const releaseColumns = `id, publication_id, publication_slug, release_slug, previous_version_id,
	supersedes_publication_id, supersedes_publication_slug, data_set_version_ids,
	published_at, created_at, updated_at`

// Upsert registers or updates a release version. The published timestamp is
// never touched here.
func (c *Catalog) Upsert(ctx context.Context, rv ReleaseVersion) error {
	if rv.ID == uuid.Nil || rv.PublicationID == uuid.Nil {
		return errors.New("release version and publication ids are required")
	}
	if strings.TrimSpace(rv.PublicationSlug) == "" || strings.TrimSpace(rv.ReleaseSlug) == "" {
		return errors.New("publication and release slugs are required")
	}
	dataSets, err := json.Marshal(nonNilIDs(rv.DataSetVersionIDs))
	if err != nil {
		return fmt.Errorf("encode data set versions: %w", err)
	}
	now := database.FormatTime(c.now())
	_, err = c.db.ExecContext(ctx, `INSERT INTO release_versions (`+releaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			publication_id = excluded.publication_id,
			publication_slug = excluded.publication_slug,
			release_slug = excluded.release_slug,
			previous_version_id = excluded.previous_version_id,
			supersedes_publication_id = excluded.supersedes_publication_id,
			supersedes_publication_slug = excluded.supersedes_publication_slug,
			data_set_version_ids = excluded.data_set_version_ids,
			updated_at = excluded.updated_at`,
		rv.ID.String(), rv.PublicationID.String(), strings.TrimSpace(rv.PublicationSlug), strings.TrimSpace(rv.ReleaseSlug),
		nullableID(rv.PreviousVersionID), nullableID(rv.SupersedesPublicationID), strings.TrimSpace(rv.SupersedesPublicationSlug),
		string(dataSets), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert release version: %w", err)
	}
	return nil
}

// Get returns a release version or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (ReleaseVersion, error) {
	var (
		found bool
		rv    ReleaseVersion
	)
	err := c.db.Query(ctx, "SELECT "+releaseColumns+" FROM release_versions WHERE id = ?", []any{id.String()},
		func(rows *sql.Rows) error {
			var err error
			rv, err = scanRelease(rows)
			found = err == nil
			return err
		})
	if err != nil {
		return ReleaseVersion{}, fmt.Errorf("get release version: %w", err)
	}
	if !found {
		return ReleaseVersion{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rv, nil
}

// MarkLive stamps the release version as published. Calling it again keeps
// the original timestamp.
func (c *Catalog) MarkLive(ctx context.Context, id uuid.UUID) (ReleaseVersion, error) {
	now := database.FormatTime(c.now())
	res, err := c.db.ExecContext(ctx, `UPDATE release_versions
		SET published_at = COALESCE(published_at, ?), updated_at = ?
		WHERE id = ?`, now, now, id.String())
	if err != nil {
		return ReleaseVersion{}, fmt.Errorf("mark release version live: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ReleaseVersion{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Get(ctx, id)
}

func scanRelease(rows *sql.Rows) (ReleaseVersion, error) {
	var (
		id, publicationID, publicationSlug, releaseSlug string
		previousID, supersedesID, supersedesSlug        sql.NullString
		dataSets                                        string
		publishedAt                                     sql.NullString
		createdAt, updatedAt                            string
	)
	if err := rows.Scan(&id, &publicationID, &publicationSlug, &releaseSlug, &previousID,
		&supersedesID, &supersedesSlug, &dataSets, &publishedAt, &createdAt, &updatedAt); err != nil {
		return ReleaseVersion{}, err
	}
	rv := ReleaseVersion{
		PublicationSlug:           publicationSlug,
		ReleaseSlug:               releaseSlug,
		SupersedesPublicationSlug: supersedesSlug.String,
		CreatedAt:                 database.ParseTime(createdAt),
		UpdatedAt:                 database.ParseTime(updatedAt),
	}
	var err error
	if rv.ID, err = uuid.Parse(id); err != nil {
		return ReleaseVersion{}, fmt.Errorf("parse id: %w", err)
	}
	if rv.PublicationID, err = uuid.Parse(publicationID); err != nil {
		return ReleaseVersion{}, fmt.Errorf("parse publication_id: %w", err)
	}
	rv.PreviousVersionID = parseNullableID(previousID)
	rv.SupersedesPublicationID = parseNullableID(supersedesID)
	if publishedAt.Valid && publishedAt.String != "" {
		t := database.ParseTime(publishedAt.String)
		rv.PublishedAt = &t
	}
	if dataSets != "" {
		if err := json.Unmarshal([]byte(dataSets), &rv.DataSetVersionIDs); err != nil {
			return ReleaseVersion{}, fmt.Errorf("decode data_set_version_ids: %w", err)
		}
	}
	return rv, nil
}

func nullableID(id *uuid.UUID) any {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id.String()
}

func parseNullableID(value sql.NullString) *uuid.UUID {
	if !value.Valid || value.String == "" {
		return nil
	}
	id, err := uuid.Parse(value.String)
	if err != nil {
		return nil
	}
	return &id
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
