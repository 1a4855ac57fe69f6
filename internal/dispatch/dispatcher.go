package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"papersift/internal/config"
	"papersift/internal/corpus"
	"papersift/internal/ledger"
	"papersift/internal/logging"
	"papersift/internal/oracle"
	"papersift/internal/services"
	"papersift/internal/throttle"
)

// Options configures a Dispatcher.
type Options struct {
	// Concurrency is the number of attempts allowed in flight at once.
	Concurrency int
	// Limit caps the distinct records taken this run. Zero means no cap.
	Limit int
	// FetchBatch is the number of records requested from the store at a time.
	FetchBatch  int
	CallTimeout time.Duration
	Policy      throttle.Policy
	Pricing     oracle.Pricing
	// Model is recorded on results whose client left it blank.
	Model string
}

// OptionsFromConfig builds dispatcher options from the dispatch, oracle and
// throttle sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency: cfg.Dispatch.Concurrency,
		Limit:       cfg.Dispatch.Limit,
		FetchBatch:  cfg.Dispatch.FetchBatch,
		CallTimeout: cfg.OracleTimeout(),
		Policy:      throttle.PolicyFromConfig(cfg),
		Pricing: oracle.Pricing{
			PromptPer1K:     cfg.Oracle.CostPer1KPrompt,
			CompletionPer1K: cfg.Oracle.CostPer1KCompletion,
		},
		Model: cfg.Oracle.Model,
	}
}

// Deps are the collaborators a Dispatcher drives.
type Deps struct {
	Store    corpus.Store
	Ledger   *ledger.Ledger
	Writer   *ledger.Writer
	Oracle   oracle.Client
	Admitter throttle.Admitter
	Logger   *slog.Logger
}

// Summary reports what one Run did.
type Summary struct {
	// Attempted counts oracle calls made, including retries.
	Attempted int
	Succeeded int
	Failed    int
	// Retries counts retryable failures that were rescheduled.
	Retries int
	// Abandoned counts attempts cut off by cancellation before they settled.
	Abandoned int
	// Skipped counts records another writer had already claimed or settled.
	Skipped int
	Drained bool
	Forced  bool
}

// Settled returns the records moved to a terminal state by the run.
func (s Summary) Settled() int {
	return s.Succeeded + s.Failed
}

// Dispatcher schedules classification attempts over a record store.
type Dispatcher struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	started   atomic.Bool
	draining  atomic.Bool
	halted    atomic.Bool
	inFlight  atomic.Int64
	drainCh   chan struct{}
	drainOnce sync.Once
}

// New validates deps and returns a Dispatcher ready to Run once.
func New(deps Deps, opts Options) (*Dispatcher, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("dispatch: record store is required")
	case deps.Ledger == nil || deps.Writer == nil:
		return nil, errors.New("dispatch: ledger and writer are required")
	case deps.Oracle == nil:
		return nil, errors.New("dispatch: oracle client is required")
	}
	if deps.Admitter == nil {
		deps.Admitter = throttle.Unlimited{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.FetchBatch <= 0 {
		opts.FetchBatch = 100
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = time.Minute
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = 1
	}
	return &Dispatcher{
		deps:    deps,
		opts:    opts,
		logger:  logging.NewComponentLogger(deps.Logger, "dispatch"),
		drainCh: make(chan struct{}),
	}, nil
}

// Drain stops the dispatcher from taking new work. Attempts already in
// flight run to completion and scheduled retries are left in the ledger for
// the next run. Drain is safe to call from any goroutine, more than once.
func (d *Dispatcher) Drain() {
	d.drainOnce.Do(func() {
		d.draining.Store(true)
		close(d.drainCh)
		d.logger.Info("drain requested; no new work will be dispatched",
			logging.Int64("in_flight", d.inFlight.Load()),
		)
	})
}

// Draining reports whether Drain has been called.
func (d *Dispatcher) Draining() bool {
	return d.draining.Load()
}

// Halted reports whether an infrastructure failure stopped dispatch.
func (d *Dispatcher) Halted() bool {
	return d.halted.Load()
}

// InFlight returns the number of oracle calls currently outstanding.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Run dispatches work until the store is exhausted, Limit is reached, Drain
// is called or ctx is cancelled. Per-record failures are recorded in the
// ledger; the returned error is non-nil only for infrastructure failures,
// which wrap services.ErrInfrastructure.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	if !d.started.CompareAndSwap(false, true) {
		return Summary{}, errors.New("dispatch: Run called more than once")
	}
	terminal, err := d.deps.Ledger.TerminalIDs(ctx)
	if err != nil {
		return Summary{}, services.Infrastructure("dispatch", "load settled ids", err)
	}
	d.logger.Info("dispatch starting",
		logging.Int("settled", len(terminal)),
		logging.Int("concurrency", d.opts.Concurrency),
		logging.Int("limit", d.opts.Limit),
	)

	s := newScheduler(d, corpus.IDSet(terminal))
	summary, err := s.run(ctx)
	summary.Drained = d.draining.Load()
	summary.Forced = ctx.Err() != nil

	fields := []logging.Attr{
		logging.Int("attempted", summary.Attempted),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("retries", summary.Retries),
		logging.Int("abandoned", summary.Abandoned),
		logging.Bool("drained", summary.Drained),
		logging.Bool("forced", summary.Forced),
	}
	if err != nil {
		logging.ErrorWithContext(d.logger, "dispatch halted", "dispatch_halted",
			append(fields,
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the ledger and record store, then rerun to resume"),
			)...,
		)
		return summary, err
	}
	d.logger.Info("dispatch finished", logging.Args(fields...)...)
	return summary, nil
}
