package progress_test

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"papersift/internal/ledger"
	"papersift/internal/metrics"
	"papersift/internal/oracle"
	"papersift/internal/progress"
	"papersift/internal/testsupport"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeDerivesRatesAndProjections(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := progress.Compute(progress.Input{
		RunID: 3,
		Totals: ledger.Totals{
			Succeeded:        40,
			Failed:           10,
			ByLabel:          map[oracle.Label]int{oracle.LabelValid: 25, oracle.LabelDoubted: 10, oracle.LabelNotValid: 5},
			PromptTokens:     4000,
			CompletionTokens: 1000,
			CostUSD:          2.5,
		},
		Total:          200,
		SettledThisRun: 30,
		Elapsed:        10 * time.Minute,
		Now:            now,
	})

	if snap.Completed != 50 || snap.Pending != 150 {
		t.Fatalf("unexpected completed/pending: %d/%d", snap.Completed, snap.Pending)
	}
	if snap.Valid != 25 || snap.Doubted != 10 || snap.NotValid != 5 || snap.Failed != 10 {
		t.Fatalf("unexpected breakdown: %+v", snap)
	}
	if !near(snap.Throughput, 0.05) || !near(snap.PerMinute(), 3) {
		t.Fatalf("expected 0.05 records/s (3/min), got %v", snap.Throughput)
	}
	if snap.ETA != 50*time.Minute {
		t.Fatalf("expected 50m ETA, got %s", snap.ETA)
	}
	if !near(snap.AvgTokensPerRecord, 100) || !near(snap.AvgCostPerRecord, 0.05) {
		t.Fatalf("unexpected averages: %v tokens %v cost", snap.AvgTokensPerRecord, snap.AvgCostPerRecord)
	}
	if !near(snap.ProjectedCostUSD, 10) {
		t.Fatalf("expected projected cost 10, got %v", snap.ProjectedCostUSD)
	}
	if !near(snap.Percent(), 25) {
		t.Fatalf("expected 25%%, got %v", snap.Percent())
	}
	if !snap.Timestamp.Equal(now) {
		t.Fatalf("unexpected timestamp %s", snap.Timestamp)
	}
}

func TestComputeWithoutProgressLeavesEstimatesZero(t *testing.T) {
	snap := progress.Compute(progress.Input{Totals: ledger.Totals{}, Total: 10})
	if snap.Pending != 10 || snap.ETA != 0 || snap.Throughput != 0 || snap.ProjectedCostUSD != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	over := progress.Compute(progress.Input{Totals: ledger.Totals{Succeeded: 12}, Total: 10})
	if over.Pending != 0 {
		t.Fatalf("pending must not go negative, got %d", over.Pending)
	}
}

func TestSnapshotJSONLayout(t *testing.T) {
	snap := progress.Snapshot{RunID: 7, Completed: 4, Total: 10, Valid: 3, Failed: 1, Throughput: 0.5, ETA: 90 * time.Second}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"run_id", "processed", "total", "timestamp", "stats"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected key %q in %s", key, data)
		}
	}
	var back progress.Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	stats, _ := raw["stats"].(map[string]any)
	if stats["throughput_per_second"] != 0.5 {
		t.Fatalf("expected throughput_per_second in stats, got %v", stats)
	}
	if back.RunID != 7 || back.Completed != 4 || back.Throughput != 0.5 || back.ETA != 90*time.Second {
		t.Fatalf("unexpected decoded snapshot: %+v", back)
	}
}

func settle(t *testing.T, w *ledger.Writer, id string, label oracle.Label) {
	t.Helper()
	ctx := context.Background()
	if _, err := w.MarkInFlight(ctx, id); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	result := testsupport.ValidResult(label)
	result.CostUSD = 0.01
	if _, err := w.CommitResult(ctx, id, result); err != nil {
		t.Fatalf("CommitResult: %v", err)
	}
}

func TestMonitorPublishesRunSnapshotAndFile(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSnapshotFiles(2),
	)
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	runID, err := l.StartRun(ctx, ledger.RunStart{Concurrency: 1, Model: "test"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	monitor := progress.New(l, testsupport.NewMemoryCorpus(8), progress.OptionsFromConfig(cfg, runID), nil)
	w := ledger.NewWriter(l, nil, monitor.Observe)
	defer w.Close()

	settle(t, w, "paper-000", oracle.LabelValid)
	settle(t, w, "paper-001", oracle.LabelNotValid)

	snap, err := monitor.Emit(ctx)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if snap.Completed != 2 || snap.Total != 8 || snap.SettledThisRun != 2 || snap.Pending != 6 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if got := testutil.ToFloat64(metrics.LedgerRecords.WithLabelValues("pending")); got != 6 {
		t.Fatalf("expected pending gauge 6, got %v", got)
	}

	run, err := l.LatestRun(ctx)
	if err != nil || run == nil {
		t.Fatalf("LatestRun: %v %v", run, err)
	}
	if run.Succeeded != 2 || run.TotalRecords != 8 || run.SnapshotJSON == "" {
		t.Fatalf("unexpected run row: %+v", run)
	}

	path := progress.SnapshotPath(filepath.Dir(cfg.Paths.LedgerPath), runID)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read checkpoint file: %v", err)
	}
	var fromFile progress.Snapshot
	if err := json.Unmarshal(data, &fromFile); err != nil {
		t.Fatalf("decode checkpoint file: %v", err)
	}
	if fromFile.RunID != runID || fromFile.Completed != 2 {
		t.Fatalf("unexpected checkpoint file: %+v", fromFile)
	}

	tally := monitor.Tally()
	if tally.Succeeded != 2 || tally.PromptTokens != 200 || !near(tally.CostUSD, 0.02) {
		t.Fatalf("unexpected tally: %+v", tally)
	}
}

func TestMonitorTallyIncludesBilledFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	runID, err := l.StartRun(ctx, ledger.RunStart{Concurrency: 1})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	monitor := progress.New(l, testsupport.NewMemoryCorpus(2), progress.OptionsFromConfig(cfg, runID), nil)
	w := ledger.NewWriter(l, nil, monitor.Observe)
	defer w.Close()

	if _, err := w.MarkInFlight(ctx, "paper-000"); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	_, err = w.CommitFailure(ctx, "paper-000", ledger.Failure{
		Summary:   "decode judgment",
		Kind:      oracle.KindMalformed,
		Retryable: true,
		RetryAt:   time.Now(),
		Usage:     oracle.Usage{PromptTokens: 50, CompletionTokens: 10},
		CostUSD:   0.005,
	})
	if err != nil {
		t.Fatalf("CommitFailure: %v", err)
	}
	settle(t, w, "paper-000", oracle.LabelValid)

	tally := monitor.Tally()
	if tally.Succeeded != 1 || tally.Failed != 0 {
		t.Fatalf("retry must not count as settled: %+v", tally)
	}
	if tally.PromptTokens != 150 || tally.CompletionTokens != 30 || !near(tally.CostUSD, 0.015) {
		t.Fatalf("expected billed retry in tally, got %+v", tally)
	}
}

func TestMonitorEmitsOnRecordCadence(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Progress.IntervalSeconds = 0
	cfg.Progress.EveryRecords = 2
	l := testsupport.MustOpenLedger(t, cfg)
	runID, err := l.StartRun(context.Background(), ledger.RunStart{Concurrency: 1})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	monitor := progress.New(l, testsupport.NewMemoryCorpus(4), progress.OptionsFromConfig(cfg, runID), nil)
	w := ledger.NewWriter(l, nil, monitor.Observe)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	settle(t, w, "paper-000", oracle.LabelValid)
	settle(t, w, "paper-001", oracle.LabelDoubted)

	deadline := time.Now().Add(2 * time.Second)
	for monitor.Latest().Completed != 2 {
		if time.Now().After(deadline) {
			t.Fatal("expected an emission after two settled records")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
