// Package status persists publishing attempts and is the only place their
// progress may be mutated.
//
// Each attempt records the state of the Content, Files, and Publishing stages,
// the aggregate overall state, and an append-only log. Stage transitions are
// atomic read-modify-write operations guarded by a row version; callers pass
// the state they expect to move from and receive ErrConcurrencyConflict when
// that expectation is stale. Creating an attempt supersedes any attempt of the
// same release version that is still open.
package status
