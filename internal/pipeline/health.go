package pipeline

import (
	"context"
	"fmt"

	"papersift/internal/dispatch"
	"papersift/internal/ledger"
	"papersift/internal/metrics"
)

// healthReporter reports ledger and dispatcher health for /health.
type healthReporter struct {
	ledger     *ledger.Ledger
	dispatcher *dispatch.Dispatcher
}

func (h healthReporter) CheckHealth(ctx context.Context) metrics.Report {
	report := metrics.Report{}

	health, err := h.ledger.CheckHealth(ctx)
	switch {
	case err != nil:
		report["ledger"] = metrics.ComponentHealth{Status: metrics.StatusCritical, Detail: err.Error()}
	case len(health.MissingColumns) > 0:
		report["ledger"] = metrics.ComponentHealth{Status: metrics.StatusCritical, Detail: fmt.Sprintf("missing columns %v", health.MissingColumns)}
	default:
		report["ledger"] = metrics.ComponentHealth{Status: metrics.StatusHealthy, Detail: fmt.Sprintf("%d checkpoints", health.TotalCheckpoints)}
	}

	inFlight := fmt.Sprintf("%d in flight", h.dispatcher.InFlight())
	switch {
	case h.dispatcher.Halted():
		report["dispatch"] = metrics.ComponentHealth{Status: metrics.StatusCritical, Detail: "halted on infrastructure failure"}
	case h.dispatcher.Draining():
		report["dispatch"] = metrics.ComponentHealth{Status: metrics.StatusDegraded, Detail: "draining; " + inFlight}
	default:
		report["dispatch"] = metrics.ComponentHealth{Status: metrics.StatusHealthy, Detail: inFlight}
	}
	return report
}
