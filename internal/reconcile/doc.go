// Package reconcile applies scene recommendations and produces the next
// current version.
//
// Reconciler is the server side: it folds persisted recommendations into the
// current snapshot and writes one new version per call. Session is the
// client side: it holds a working set that mixes fresh suggestions, which
// exist only in memory and carry negative IDs, with persisted ones, and
// merges the store's returned snapshot with the fresh edits the store never
// saw.
package reconcile
