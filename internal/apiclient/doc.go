// Package apiclient talks to a running reelforged over its HTTP API.
//
// Every method mirrors one daemon route and decodes the same DTOs the
// daemon encodes. Failed requests come back as *Error values that wrap
// the services error markers, so callers classify them with errors.Is and
// services.Retryable exactly as they would in-process errors.
//
// Client also satisfies reconcile.Applier, letting a reconcile.Session run
// its bulk apply against the daemon.
package apiclient
