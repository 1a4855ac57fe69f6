// Package metrics holds the Prometheus collectors updated by the dispatcher
// and progress monitor, plus the optional HTTP listener that serves /health,
// /health/detailed and /metrics.
package metrics
