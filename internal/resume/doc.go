// Package resume persists in-flight reanalysis requests on the client side.
//
// The CLI records the job it is waiting on (plus the payload it submitted)
// before polling, so an interrupted `reelforge reanalyze` can pick the same
// job back up instead of submitting a duplicate. The file is shared between
// concurrent CLI processes and is guarded by an advisory flock.
package resume
