package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (d *DB) initSchema(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	var versions []int
	err := d.Query(ctx, "SELECT version FROM schema_version", nil, func(rows *sql.Rows) error {
		var v int
		if err := rows.Scan(&v); err != nil {
			return err
		}
		versions = append(versions, v)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case len(versions) == 0:
		return d.createSchema(ctx)
	case versions[0] != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, versions[0], schemaVersion)
	default:
		return nil
	}
}

func (d *DB) createSchema(ctx context.Context) error {
	return d.InTx(ctx, func(tx *Tx) error {
		for _, stmt := range splitStatements(schemaSQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	stmts := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			stmts = append(stmts, trimmed)
		}
	}
	return stmts
}
