// Package services defines shared utilities consumed by the scoring pipeline,
// the reanalysis job manager, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, job IDs, pipeline steps, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the API error taxonomy (not found, conflict, invalid state,
//     upstream failure, validation) and decide whether a job may be retried.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
