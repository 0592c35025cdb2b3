// Package logging builds the slog loggers used by reelforged and the CLI.
//
// Two handlers exist: a console format that leads each line with the
// component and the [project job=…] subject, and a compact JSON format for
// machines. WithContext stamps project, job, step, and correlation ids from
// the context. Lines from WarnWithContext and ErrorWithContext always carry an
// event_type and an error_hint so operators can grep for them.
package logging
