// Package store persists script versions, scene recommendations, and
// reanalysis jobs in SQLite.
//
// Every multi-row mutation runs in a single immediate transaction so callers
// never observe a version without its recommendations or a candidate without
// its job. Partial unique indexes back the per-project invariants: one
// current version, one candidate, one queued or running job.
//
// Schema changes are appended to the migrations list in schema.go and tracked
// with PRAGMA user_version. Databases from a newer build are rejected with
// ErrSchemaMismatch.
package store
