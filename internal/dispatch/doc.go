// Package dispatch schedules classification attempts across a bounded pool
// of workers.
//
// A single scheduler goroutine owns the work queue: fresh records paged from
// the corpus store, retries waiting in a timer heap, and the set of records
// currently in flight. Workers run under an errgroup limited to the
// configured concurrency. Each attempt waits for admission, claims the record
// in the ledger, calls the oracle under a per-call deadline, and commits the
// outcome through the ledger writer. Retry decisions come from
// throttle.Policy; the ledger's claim history keeps attempt caps exact across
// restarts.
//
// Drain stops new work while in-flight attempts settle. Cancelling the run
// context abandons in-flight attempts; their checkpoints stay in flight and
// are returned to pending when the next run starts.
package dispatch
