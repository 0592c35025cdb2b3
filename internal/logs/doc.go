// Package logs reads the daemon's log files for `reelforge logs`.
//
// Tail returns the last N lines of a file or everything written after a byte
// offset, optionally waiting for new output. Filter narrows lines to one
// project or a minimum level and understands both the console and JSON
// formats the logging package writes.
package logs
