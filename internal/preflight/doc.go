// Package preflight provides readiness checks for the directories, the
// version database, and the LLM endpoint that reelforge depends on.
//
// These checks run in two contexts:
//   - reelforged logs a RunAll snapshot at startup so misconfiguration shows
//     up before the first reanalysis job fails.
//   - The CLI "reelforge preflight" command renders the same results as a
//     table and exits non-zero when any check fails.
//
// The LLM check is skipped when scoring runs entirely on the offline
// heuristic analyzers.
package preflight
