// Package fedicrawl defines the core interfaces, types, and helpers shared across
// the crawler's components: structured logging setup, the Error/ErrorCode type,
// retry/jitter and clock helpers, and file-loadable configuration.
// Concrete components live in subpackages: registry (durable instance store and
// lifecycle state machine), schedule (time-spread scheduling), checker (subprocess
// handle and IPC decoding), orchestrator (main loop and worker pool), listgen
// (published-list generation and mirroring), domain (hostname validation), and
// policy (CEL-based peer admission).
//
// This package is the foundation the other packages build on; it is not meant to
// be a general-purpose library outside this module.
package fedicrawl

// Timeout model
//
// Registry operations are bounded by two timers:
//  1. The caller-provided context deadline/cancellation, which propagates across subsystems.
//  2. The registry's own busy timeout, which governs how long a single SQLite
//     statement will wait on another writer before surfacing a BusyStore error.
//
// The orchestrator's main loop uses a long busy timeout so that it preferentially
// wins contention against background retriers; the bulk instance-adder uses the
// indefinite busy-retry wrapper, making it the lowest-priority writer in the system.
