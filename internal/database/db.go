package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"pubpipe/internal/config"
	"pubpipe/internal/faults"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

const (
	defaultRetryAttempts = 5
	retryInitialBackoff  = 10 * time.Millisecond
	retryMaxBackoff      = 500 * time.Millisecond
)

// DB wraps *sql.DB with dialect-aware placeholders and transient-fault retries.
type DB struct {
	db         *sql.DB
	dialect    Dialect
	classifier *faults.Classifier
	attempts   int
}

// Options tunes Open.
type Options struct {
	MaxOpenConns      int
	BusyTimeoutMillis int
	RetryAttempts     int
	Classifier        *faults.Classifier
}

// Open connects to the store configured in cfg and ensures the schema exists.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	opts := Options{
		MaxOpenConns:      cfg.Store.MaxOpenConns,
		BusyTimeoutMillis: cfg.Store.BusyTimeoutMillis,
		RetryAttempts:     cfg.Store.MaxRetries + 1,
	}
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		return OpenPostgres(ctx, cfg.Store.DSN, opts)
	case config.StoreDriverSQLite:
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.Store.Path, opts)
	default:
		return nil, fmt.Errorf("store driver %q not supported", cfg.Store.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string, opts Options) (*DB, error) {
	busy := opts.BusyTimeoutMillis
	if busy <= 0 {
		busy = 5000
	}
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout("+strconv.Itoa(busy)+")")
	params.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return finishOpen(ctx, sqlDB, SQLite, opts)
}

// OpenPostgres connects to PostgreSQL through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return finishOpen(ctx, sqlDB, Postgres, opts)
}

func finishOpen(ctx context.Context, sqlDB *sql.DB, dialect Dialect, opts Options) (*DB, error) {
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = faults.Default()
	}
	db := &DB{db: sqlDB, dialect: dialect, classifier: classifier, attempts: attempts}
	if err := db.Retry(ctx, func() error { return sqlDB.PingContext(ctx) }); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := db.initSchema(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Dialect reports the active SQL flavour.
func (d *DB) Dialect() Dialect { return d.dialect }

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Retry runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Backoff doubles from 10ms up to 500ms.
func (d *DB) Retry(ctx context.Context, op func() error) error {
	delay := retryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < d.attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !d.classifier.ShouldRetry(lastErr) || attempt == d.attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= retryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// ExecContext rebinds and executes query with retries.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = d.Rebind(query)
	var res sql.Result
	err := d.Retry(ctx, func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Query rebinds query, retries until rows are obtained, and hands each row to scan.
func (d *DB) Query(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	query = d.Rebind(query)
	var rows *sql.Rows
	err := d.Retry(ctx, func() error {
		var queryErr error
		rows, queryErr = d.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// InTx runs fn inside a transaction. Transient failures anywhere in fn roll
// back and rerun the whole transaction.
func (d *DB) InTx(ctx context.Context, fn func(*Tx) error) error {
	return d.Retry(ctx, func() error {
		sqlTx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		tx := &Tx{tx: sqlTx, dialect: d.dialect}
		if err := fn(tx); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		return sqlTx.Commit()
	})
}

// Tx is a transaction with dialect-aware placeholders.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// ExecContext rebinds and executes query inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, rebind(t.dialect, query), args...)
}

// QueryRowContext rebinds and runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, rebind(t.dialect, query), args...)
}

// QueryContext rebinds and runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, rebind(t.dialect, query), args...)
}

// Rebind rewrites `?` placeholders for the active dialect.
func (d *DB) Rebind(query string) string { return rebind(d.dialect, query) }

func rebind(dialect Dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MakePlaceholders returns "?, ?, ..." with count entries.
func MakePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}
