package faults

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLite primary result codes reported by modernc.org/sqlite.
const (
	sqliteBusy     = 5
	sqliteLocked   = 6
	sqliteIOErr    = 10
	sqliteProtocol = 15
)

// SQLite classifies modernc.org/sqlite errors by primary result code. A zero
// code carries no information and is left to the message tier.
func SQLite(err error) Verdict {
	var coder interface{ Code() int }
	if !errors.As(err, &coder) {
		return Unknown
	}
	code := coder.Code()
	if code == 0 {
		return Unknown
	}
	switch code & 0xff {
	case sqliteBusy, sqliteLocked, sqliteIOErr, sqliteProtocol:
		return Retry
	default:
		return Permanent
	}
}

// Postgres classifies pgx errors by SQLSTATE and connection state.
func Postgres(err error) Verdict {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return Retry
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return Retry
	}
	return Unknown
}

func classifySQLState(code string) Verdict {
	if len(code) != 5 {
		return Unknown
	}
	if code[:2] == "08" {
		return Retry
	}
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"53300", // too_many_connections
		"55P03", // lock_not_available
		"57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03": // cannot_connect_now
		return Retry
	default:
		return Permanent
	}
}
