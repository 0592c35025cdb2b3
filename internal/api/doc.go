// Package api defines the request/response types and the ScriptService
// facade shared by the HTTP daemon and the CLI client. It translates store
// models into transport-friendly DTOs so callers can render versions, jobs,
// and recommendations without coupling to internal types.
//
// # Key Types
//
// Version/Recommendation/Job: transport representations with camelCase JSON
// tags and RFC3339 millisecond timestamps.
//
// Comparison: the result of CompareVersions, with per-scene status
// (unchanged, changed, added, removed) plus overall and per-analyzer score
// deltas.
//
// ErrorResponse: the body written for every failed request. Conflicts on
// reanalysis carry the blocking job's id and status.
//
// # Converters
//
// FromVersion/FromRecommendation/FromJob turn store models into DTOs.
// ToVersion reverses FromVersion for clients that feed API results back into
// local reconciliation.
//
// # Design Notes
//
// Scenes and analysis results are passed through with their own JSON shape;
// the analysis details payload stays discriminated by contentType.
package api
