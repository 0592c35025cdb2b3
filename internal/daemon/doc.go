// Package daemon coordinates the long-running reelforged process.
//
// It wires configuration, the SQLite store, the scoring pipeline, the
// reanalysis job manager, and the recommendation reconciler into a single
// lifecycle with flock-based locking to prevent multiple instances. On start
// it resumes jobs whose heartbeat went stale, keeps a reclaimer running for
// the life of the process, and serves the HTTP API plus Prometheus metrics.
//
// Keep orchestration logic here: scoring, job, and version semantics live in
// their own packages while the daemon focuses on startup, shutdown, and
// request plumbing.
package daemon
