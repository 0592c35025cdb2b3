// Package script defines the domain model shared by the version store, the
// scoring pipeline, the reanalysis job manager, and the reconciler.
//
// A script is an ordered list of scenes. Every revision is stored as a full
// immutable snapshot (Version) with at most one current and one candidate slot
// per project. Recommendations are suggested scene edits attached to a
// version; jobs track asynchronous reanalysis; Analysis is the scoring result,
// a tagged union discriminated by content type.
//
// Scene identity is the scene number within one snapshot. Correspondence
// across versions is by scene number equality only.
package script
