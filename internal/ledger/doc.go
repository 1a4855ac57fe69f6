// Package ledger persists per-record checkpoints in SQLite and is the
// source of truth for resumability.
//
// A checkpoint moves pending → in_flight → {succeeded, retry_scheduled,
// permanent_failure}; succeeded and permanent_failure are terminal and every
// write is conditional on the row not being terminal, so repeated commits are
// no-ops. A runner holding the ledger lock calls ResetInFlight before
// dispatching, returning rows left in_flight (or waiting for a retry) by an
// earlier process to pending.
//
// During a run all mutations go through Writer, which owns a single goroutine
// and publishes commit events to observers such as the progress monitor.
package ledger
