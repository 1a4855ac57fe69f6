package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"papersift/internal/config"
	"papersift/internal/ledger"
	"papersift/internal/logging"
	"papersift/internal/metrics"
	"papersift/internal/oracle"
)

// Ledger is the subset of the checkpoint ledger the monitor reads and
// updates.
type Ledger interface {
	Aggregate(ctx context.Context) (ledger.Totals, error)
	UpdateRun(ctx context.Context, id int64, tally ledger.RunTally) error
}

// Counter reports the size of the corpus.
type Counter interface {
	CountTotal(ctx context.Context) (int, error)
}

// Options configures emission cadence and outputs.
type Options struct {
	RunID int64
	// Interval is the time-based emission cadence. Zero disables it.
	Interval time.Duration
	// EveryRecords emits after every N settled records.
	EveryRecords int
	// SnapshotEvery rewrites the checkpoint file after every N settled records.
	SnapshotEvery int
	// SnapshotDir holds checkpoint_run_{id}.json. Empty disables the file.
	SnapshotDir string
}

// OptionsFromConfig builds monitor options for runID.
func OptionsFromConfig(cfg *config.Config, runID int64) Options {
	opts := Options{
		RunID:         runID,
		Interval:      cfg.ProgressInterval(),
		EveryRecords:  cfg.Progress.EveryRecords,
		SnapshotEvery: cfg.Progress.SnapshotEvery,
	}
	if cfg.Progress.SnapshotFiles {
		opts.SnapshotDir = filepath.Dir(cfg.Paths.LedgerPath)
	}
	return opts
}

// Monitor turns ledger commit events into periodic progress snapshots. It
// only observes; nothing it does feeds back into scheduling.
type Monitor struct {
	ledger Ledger
	corpus Counter
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	started time.Time
	kick    chan struct{}

	mu         sync.Mutex
	tally      ledger.RunTally
	sampler    *logging.ProgressSampler
	fileBucket int64
	total      int
	latest     Snapshot
}

// New returns a monitor. The run clock starts now.
func New(l Ledger, corpus Counter, opts Options, logger *slog.Logger) *Monitor {
	return &Monitor{
		ledger:  l,
		corpus:  corpus,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "progress"),
		now:     time.Now,
		started: time.Now(),
		kick:    make(chan struct{}, 1),
		sampler: logging.NewProgressSampler(opts.EveryRecords),
		total:   -1,
	}
}

// Observe is a ledger.Observer. It never blocks the writer.
func (m *Monitor) Observe(ev ledger.CommitEvent) {
	m.mu.Lock()
	switch {
	case ev.Result != nil:
		m.bill(ev.Result.Usage, ev.Result.CostUSD)
	case ev.Failure != nil:
		m.bill(ev.Failure.Usage, ev.Failure.CostUSD)
	}
	if !ev.State.Terminal() {
		m.mu.Unlock()
		return
	}
	switch ev.State {
	case ledger.StateSucceeded:
		m.tally.Succeeded++
	case ledger.StateFailed:
		m.tally.Failed++
	}
	due := m.sampler.ShouldLog(m.tally.Succeeded + m.tally.Failed)
	m.mu.Unlock()

	if due {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

func (m *Monitor) bill(usage oracle.Usage, cost float64) {
	m.tally.PromptTokens += int64(usage.PromptTokens)
	m.tally.CompletionTokens += int64(usage.CompletionTokens)
	m.tally.CostUSD += cost
}

// Run emits snapshots on the interval and record cadence until ctx ends.
// Emission errors are logged and never stop the loop.
func (m *Monitor) Run(ctx context.Context) {
	var tick <-chan time.Time
	if m.opts.Interval > 0 {
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-m.kick:
		}
		if _, err := m.Emit(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "progress snapshot failed", "progress_snapshot",
				logging.Error(err),
				logging.String(logging.FieldImpact, "progress reporting delayed; processing continues"),
			)
		}
	}
}

// Emit computes a snapshot and publishes it to the log, the Prometheus
// gauges, the run row and, when due, the checkpoint file.
func (m *Monitor) Emit(ctx context.Context) (Snapshot, error) {
	return m.emit(ctx, false)
}

// Final publishes a last snapshot and always rewrites the checkpoint file.
func (m *Monitor) Final(ctx context.Context) (Snapshot, error) {
	return m.emit(ctx, true)
}

func (m *Monitor) emit(ctx context.Context, final bool) (Snapshot, error) {
	totals, err := m.ledger.Aggregate(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("aggregate ledger: %w", err)
	}
	total, err := m.corpusTotal(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	tally := m.tally
	m.mu.Unlock()
	settled := int64(tally.Succeeded + tally.Failed)

	now := m.now()
	snap := Compute(Input{
		RunID:          m.opts.RunID,
		Totals:         totals,
		Total:          total,
		SettledThisRun: settled,
		Elapsed:        now.Sub(m.started),
		Now:            now,
	})

	m.logger.Info("progress", logging.Args(snap.Attrs()...)...)
	publishGauges(snap)

	data, err := json.Marshal(snap)
	if err != nil {
		return snap, fmt.Errorf("encode snapshot: %w", err)
	}
	tally.TotalRecords = total
	tally.SnapshotJSON = string(data)
	if m.opts.RunID > 0 {
		if err := m.ledger.UpdateRun(ctx, m.opts.RunID, tally); err != nil {
			return snap, err
		}
	}
	if m.fileDue(settled, final) {
		if err := m.writeFile(snap); err != nil {
			return snap, err
		}
	}

	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()
	return snap, nil
}

// corpusTotal counts the corpus once per run; a failed count is retried on
// the next emission.
func (m *Monitor) corpusTotal(ctx context.Context) (int, error) {
	m.mu.Lock()
	total := m.total
	m.mu.Unlock()
	if total >= 0 || m.corpus == nil {
		return max(total, 0), nil
	}
	total, err := m.corpus.CountTotal(ctx)
	if err != nil {
		return 0, fmt.Errorf("count corpus: %w", err)
	}
	m.mu.Lock()
	m.total = total
	m.mu.Unlock()
	return total, nil
}

func (m *Monitor) fileDue(settled int64, final bool) bool {
	if m.opts.SnapshotDir == "" {
		return false
	}
	if final {
		return true
	}
	if m.opts.SnapshotEvery <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := settled / int64(m.opts.SnapshotEvery)
	if bucket > m.fileBucket {
		m.fileBucket = bucket
		return true
	}
	return false
}

// SnapshotPath returns the checkpoint file location for runID under dir.
func SnapshotPath(dir string, runID int64) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint_run_%d.json", runID))
}

func (m *Monitor) writeFile(snap Snapshot) error {
	path := SnapshotPath(m.opts.SnapshotDir, m.opts.RunID)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint file: %w", err)
	}
	m.logger.Debug("checkpoint file written", logging.String("path", path))
	return nil
}

// Latest returns the last emitted snapshot.
func (m *Monitor) Latest() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Tally returns this run's settled counts and spend.
func (m *Monitor) Tally() ledger.RunTally {
	m.mu.Lock()
	defer m.mu.Unlock()
	tally := m.tally
	tally.TotalRecords = max(m.total, 0)
	return tally
}

func publishGauges(s Snapshot) {
	metrics.LedgerRecords.WithLabelValues("valid").Set(float64(s.Valid))
	metrics.LedgerRecords.WithLabelValues("doubted").Set(float64(s.Doubted))
	metrics.LedgerRecords.WithLabelValues("not_valid").Set(float64(s.NotValid))
	metrics.LedgerRecords.WithLabelValues("failed").Set(float64(s.Failed))
	metrics.LedgerRecords.WithLabelValues("pending").Set(float64(s.Pending))
	metrics.Throughput.Set(s.Throughput)
	metrics.CostUSD.Set(s.CostUSD)
	metrics.ETASeconds.Set(s.ETA.Seconds())
}
