// Package stage defines the closed set of pipeline stages, the state machine
// each stage moves through, and the capability table that maps a stage to the
// function performing its external work.
package stage
