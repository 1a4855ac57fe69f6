package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"papersift/internal/config"
	"papersift/internal/corpus"
	"papersift/internal/dispatch"
	"papersift/internal/ledger"
	"papersift/internal/logging"
	"papersift/internal/metrics"
	"papersift/internal/notifications"
	"papersift/internal/oracle"
	"papersift/internal/preflight"
	"papersift/internal/progress"
	"papersift/internal/services"
	"papersift/internal/shutdown"
	"papersift/internal/throttle"
)

const (
	testRecords = 5
	testWorkers = 2

	finalizeTimeout = 30 * time.Second
)

// Exit statuses returned by ExitCode.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitInfrastructure = 2
	ExitForced         = 130
)

// Options adjusts a run without editing the configuration file. The
// collaborator fields replace the components built from config when set.
type Options struct {
	// Workers overrides dispatch.concurrency when positive.
	Workers int
	// Limit overrides dispatch.limit when positive.
	Limit int
	// Test caps the run at five records and two workers.
	Test          bool
	SkipPreflight bool

	Logger   *slog.Logger
	Store    corpus.Store
	Oracle   oracle.Client
	Notifier notifications.Service
	Signals  <-chan os.Signal
}

// Result describes how a run ended.
type Result struct {
	RunID     int64
	Status    ledger.RunStatus
	Shutdown  shutdown.Status
	Summary   dispatch.Summary
	Snapshot  progress.Snapshot
	Recovered int64
	Duration  time.Duration
}

// ExitCode maps a run outcome onto the process exit status.
func ExitCode(result Result, err error) int {
	switch {
	case err != nil && services.IsInfrastructure(err):
		return ExitInfrastructure
	case err != nil:
		return ExitError
	case result.Status == ledger.RunForced:
		return ExitForced
	default:
		return ExitOK
	}
}

// Run executes one resumable classification run against the configured
// corpus and ledger. Records settled by earlier runs are never re-sent, and
// attempts a previous process left in flight are returned to pending first.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Result, error) {
	if cfg == nil {
		return Result{}, errors.New("config is required")
	}
	runCfg := *cfg
	applyOverrides(&runCfg, opts)
	cfg = &runCfg
	if err := cfg.Validate(); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "pipeline", "validate config", "", err)
	}

	base := opts.Logger
	if base == nil {
		var err error
		base, err = logging.NewFromConfig(cfg)
		if err != nil {
			return Result{}, fmt.Errorf("init logger: %w", err)
		}
	}
	logger := logging.NewComponentLogger(base, "pipeline")

	if err := cfg.EnsureDirectories(); err != nil {
		return Result{}, services.Infrastructure("pipeline", "ensure directories", err)
	}
	lock, err := ledger.AcquireLock(cfg.Paths.LedgerPath)
	if err != nil {
		return Result{}, err
	}
	defer lock.Release()

	store := opts.Store
	if store == nil {
		store, err = corpus.Open(ctx, cfg, base)
		if err != nil {
			return Result{}, services.Infrastructure("pipeline", "open corpus", err)
		}
	}
	defer store.Close()

	client := opts.Oracle
	if client == nil {
		if err := cfg.RequireOracleCredentials(); err != nil {
			return Result{}, services.Wrap(services.ErrConfiguration, "pipeline", "oracle credentials", "", err)
		}
		client, err = NewOracle(cfg)
		if err != nil {
			return Result{}, err
		}
	}

	if !opts.SkipPreflight {
		results := preflight.RunAll(ctx, cfg, client, base)
		logPreflight(logger, results)
		if err := preflight.FirstFailure(results); err != nil {
			return Result{}, services.Wrap(services.ErrValidation, "pipeline", "preflight", "", err)
		}
	}

	l, err := ledger.Open(cfg)
	if err != nil {
		return Result{}, services.Infrastructure("pipeline", "open ledger", err)
	}
	defer l.Close()

	recovered, err := l.ResetInFlight(ctx)
	if err != nil {
		return Result{}, services.Infrastructure("pipeline", "recover in-flight checkpoints", err)
	}
	if recovered > 0 {
		logger.Info("returned interrupted attempts to pending",
			logging.String(logging.FieldEventType, "in_flight_recovered"),
			logging.Int64("records", recovered),
		)
	}

	admitter, err := throttle.NewAdmitter(cfg, base)
	if err != nil {
		return Result{}, services.Infrastructure("pipeline", "build admitter", err)
	}
	defer admitter.Close()

	runID, err := l.StartRun(ctx, ledger.RunStart{
		Concurrency: cfg.Dispatch.Concurrency,
		RecordLimit: cfg.Dispatch.Limit,
		Model:       cfg.Oracle.Model,
	})
	if err != nil {
		return Result{}, services.Infrastructure("pipeline", "start run", err)
	}
	ctx = services.WithRunID(ctx, runID)
	logger = logging.WithContext(ctx, logger)

	monitor := progress.New(l, store, progress.OptionsFromConfig(cfg, runID), base)
	writer := ledger.NewWriter(l, base, monitor.Observe)
	defer writer.Close()

	d, err := dispatch.New(dispatch.Deps{
		Store:    store,
		Ledger:   l,
		Writer:   writer,
		Oracle:   client,
		Admitter: admitter,
		Logger:   base,
	}, dispatch.OptionsFromConfig(cfg))
	if err != nil {
		return Result{}, err
	}

	shutdownOpts := []shutdown.Option{shutdown.WithLogger(base)}
	if opts.Signals != nil {
		shutdownOpts = append(shutdownOpts, shutdown.WithSignals(opts.Signals))
	}
	coord := shutdown.New(ctx, cfg.GracePeriod(), shutdownOpts...)
	coord.SetDrainer(d)
	coord.Watch()
	defer coord.Stop()

	if listen := cfg.Metrics.Listen; listen != "" {
		server := metrics.NewServer(healthReporter{ledger: l, dispatcher: d}, listen)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.WarnWithContext(logger, "metrics server stopped", "metrics_server_failed",
					logging.Error(err),
					logging.String("listen", listen),
					logging.String(logging.FieldImpact, "health and metrics endpoints unavailable; processing continues"),
				)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(stopCtx)
		}()
		logger.Info("metrics server listening", logging.String("listen", listen))
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	started := time.Now()
	initial, err := monitor.Emit(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "initial progress snapshot failed", "progress_snapshot",
			logging.Error(err),
			logging.String(logging.FieldImpact, "pending count unknown at start"),
		)
	}
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_started"),
		logging.Int("pending", initial.Pending),
		logging.Int("total", initial.Total),
		logging.Int("workers", cfg.Dispatch.Concurrency),
		logging.Int("limit", cfg.Dispatch.Limit),
		logging.String("model", cfg.Oracle.Model),
	)
	notify(logger, "run_started", notifier.NotifyRunStarted(ctx, runID, int64(initial.Pending), cfg.Dispatch.Concurrency))

	monitorCtx, stopMonitor := context.WithCancel(coord.Context())
	var wg sync.WaitGroup
	wg.Go(func() { monitor.Run(monitorCtx) })

	summary, runErr := d.Run(coord.Context())

	stopMonitor()
	wg.Wait()
	writer.Close()

	finalCtx, cancelFinal := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancelFinal()

	snapshot, err := monitor.Final(finalCtx)
	if err != nil {
		logging.WarnWithContext(logger, "final progress snapshot failed", "progress_snapshot",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run summary reflects the last successful snapshot"),
		)
		snapshot = monitor.Latest()
	}

	result := Result{
		RunID:     runID,
		Shutdown:  coord.Status(),
		Summary:   summary,
		Snapshot:  snapshot,
		Recovered: recovered,
		Duration:  time.Since(started),
	}
	result.Status = runStatus(summary, result.Shutdown, coord.Phase(), runErr)

	if err := l.FinishRun(finalCtx, runID, result.Status, monitor.Tally()); err != nil {
		if runErr == nil {
			runErr = services.Infrastructure("pipeline", "finish run", err)
			result.Status = ledger.RunFailed
		}
	}

	if runErr != nil {
		notify(logger, "run_halted", notifier.NotifyRunHalted(finalCtx, runID, runErr))
		return result, runErr
	}

	logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_finished"),
		logging.String("status", string(result.Status)),
		logging.String("shutdown", result.Shutdown.String()),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("retries", summary.Retries),
		logging.Int("abandoned", summary.Abandoned),
		logging.Int("pending", snapshot.Pending),
		logging.Float64("cost_usd", snapshot.CostUSD),
		logging.Duration("duration", result.Duration),
	)
	notify(logger, "run_finished", notifier.NotifyRunFinished(finalCtx, notifications.RunSummary{
		RunID:     runID,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Retries:   summary.Retries,
		Pending:   int64(snapshot.Pending),
		CostUSD:   monitor.Tally().CostUSD,
		Duration:  result.Duration,
		Status:    string(result.Status),
	}))
	return result, nil
}

func applyOverrides(cfg *config.Config, opts Options) {
	if opts.Test {
		cfg.Dispatch.Limit = testRecords
		cfg.Dispatch.Concurrency = testWorkers
	}
	if opts.Workers > 0 {
		cfg.Dispatch.Concurrency = opts.Workers
	}
	if opts.Limit > 0 {
		cfg.Dispatch.Limit = opts.Limit
	}
}

// runStatus classifies the end of a run. A forced stop counts only when it
// cut off attempts that were still in flight.
func runStatus(summary dispatch.Summary, status shutdown.Status, phase shutdown.Phase, err error) ledger.RunStatus {
	switch {
	case err != nil:
		return ledger.RunFailed
	case status == shutdown.StatusForced:
		return ledger.RunForced
	case summary.Forced && summary.Abandoned > 0:
		return ledger.RunForced
	case summary.Drained || summary.Forced || phase != shutdown.PhaseRunning:
		return ledger.RunInterrupted
	default:
		return ledger.RunCompleted
	}
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, result := range results {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run 'papersift preflight' for the full report"),
		)
	}
}

func notify(logger *slog.Logger, event string, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(logger, "notification failed", "notification_failed",
		logging.String("event", event),
		logging.Error(err),
		logging.String(logging.FieldImpact, "run continues without the push notification"),
	)
}
