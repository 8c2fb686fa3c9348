// Package main hosts the pubpipe CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the publishing daemon, approves release
// versions, and reads publishing attempts straight from the status store. It
// centralizes configuration resolution and logger setup so subcommands can
// focus on output instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
