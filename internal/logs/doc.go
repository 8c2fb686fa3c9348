// Package logs reads the daemon log file for the CLI.
//
// Tail returns the last lines that match an optional filter with bounded
// memory use, and Follow polls for lines appended after an offset until its
// context is cancelled.
package logs
