// Package daemon coordinates the long-running pubpipe process.
//
// It wires configuration, the status store, the release catalog, the stage
// queue, the collaborators, the stage worker, the batch driver, and the status
// API into a single lifecycle with flock-based locking to prevent multiple
// instances on one host. The daemon also exposes the approval trigger and
// read helpers used by the CLI.
//
// Keep orchestration logic here: stage semantics live in the pipeline
// package and scheduling in the scheduler package, while the daemon focuses
// on startup, shutdown, and high level coordination.
package daemon
