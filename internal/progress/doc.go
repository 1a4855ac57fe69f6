// Package progress computes and publishes run progress.
//
// Snapshots combine the ledger aggregate with the corpus size and this run's
// elapsed time to report the label breakdown, throughput, ETA, average spend
// and projected cost. The Monitor is fed by ledger writer events and emits on
// a timer and every N settled records: as a log line, as Prometheus gauges,
// into the run row, and periodically as checkpoint_run_{id}.json next to the
// ledger.
package progress
