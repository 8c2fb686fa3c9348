// Package services defines shared utilities consumed by the stage workers and
// the external collaborator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp release version IDs, attempt IDs, stage names,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that let the fault
//     classifier separate transient failures from permanent ones.
//
// Collaborator adapters live in subpackages (contentcache, filestore,
// datasets). Use these helpers when wiring new stage logic so error handling
// and observability stay uniform across the pipeline.
package services
