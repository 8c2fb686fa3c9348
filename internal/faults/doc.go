// Package faults decides whether a failed operation is worth retrying.
//
// Classification runs in two tiers. Driver classifiers inspect typed errors
// and result codes (SQLite, PostgreSQL, network, context, and the services
// error markers). When every driver is inconclusive, which is common for
// connectivity failures surfacing with a zero or generic code, the error text
// is matched against a fixed list of known transient message patterns.
package faults
