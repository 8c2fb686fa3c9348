// Package scheduler drives due publishing attempts through their stages.
//
// The Runner owns stage sequencing: on every tick it schedules the first
// incomplete stage of each due attempt, but only once the stage before it
// completed. It also sweeps stages left started by crashed workers and
// re-enqueues them. Ticks are serialized across processes by a Guard, either
// a lock file (single host) or a Redis lock (several hosts).
package scheduler
