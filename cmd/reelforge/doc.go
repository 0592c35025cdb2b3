// Command reelforge is the client for reelforged: it saves script versions,
// submits edits for reanalysis, follows jobs, and reconciles
// recommendations.
//
// Every subcommand except "config", "logs", "preflight", and "daemon run" talks to
// the daemon over HTTP at the configured api_bind address. Results render
// as tables by default; --output json or --output yaml emit the API DTOs.
package main
