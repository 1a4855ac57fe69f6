// Package logging assembles structured slog loggers and formatting helpers used
// across papersift.
//
// It owns the console and JSON handlers, tint colouring for interactive
// terminals, fan-out to log files, and context-aware helpers so dispatch code
// tags log lines with record IDs, attempt numbers and correlation IDs. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
