// Package services defines shared utilities consumed by the pipeline
// components and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp record IDs, attempt numbers, run IDs and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     infrastructure failures (which halt a run) from everything else.
package services
