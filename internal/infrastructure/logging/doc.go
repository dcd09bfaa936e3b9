// Package logging provides structured logging built on zap.
//
// Production uses JSON encoding to stdout; development uses colored console
// output with stack traces. Bundle-scoped components log through
// Logger.WithBundle so every line carries the launcher bundle id.
package logging
