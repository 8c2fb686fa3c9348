// Package database owns the SQL connection shared by the status store and the
// release catalog.
//
// It opens either an embedded SQLite file (modernc.org/sqlite) or a PostgreSQL
// server (pgx stdlib driver), applies the embedded schema, rewrites `?`
// placeholders for the active dialect, and runs every statement through a
// retrying execution strategy driven by the faults classifier.
package database
