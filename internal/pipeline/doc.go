// Package pipeline runs publishing attempts through their Content, Files, and
// Publishing stages.
//
// Worker consumes stage messages generically; per-stage work comes from a
// stage.Table built by NewStageTable. After every stage change the worker
// asks the Coordinator to re-derive the attempt's overall state. The
// Coordinator is the only writer of that state and claims the publish event
// in the same conditional write that moves the attempt to complete, so
// EventNotifier runs at most once per attempt no matter how many workers
// evaluate concurrently.
//
// Trigger is the inbound entry point for approvals. Sequencing of the three
// stages is not enforced here: the batch driver in internal/scheduler only
// enqueues a stage once its predecessor completed, and the worker's state
// guards make out-of-order or duplicate deliveries harmless.
package pipeline
