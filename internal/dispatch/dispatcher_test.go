package dispatch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"papersift/internal/config"
	"papersift/internal/corpus"
	"papersift/internal/dispatch"
	"papersift/internal/ledger"
	"papersift/internal/oracle"
	"papersift/internal/services"
	"papersift/internal/testsupport"
)

type harness struct {
	t      *testing.T
	cfg    *config.Config
	ledger *ledger.Ledger
	store  corpus.Store
	oracle *testsupport.ScriptedOracle
}

func newHarness(t *testing.T, store corpus.Store, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return &harness{
		t:      t,
		cfg:    cfg,
		ledger: testsupport.MustOpenLedger(t, cfg),
		store:  store,
		oracle: testsupport.NewScriptedOracle(),
	}
}

// dispatcher builds a dispatcher with its own writer. Observers receive the
// dispatcher so they can drive Drain.
func (h *harness) dispatcher(observers ...func(*dispatch.Dispatcher, ledger.CommitEvent)) *dispatch.Dispatcher {
	h.t.Helper()
	var d *dispatch.Dispatcher
	var wrapped []ledger.Observer
	for _, observe := range observers {
		wrapped = append(wrapped, func(ev ledger.CommitEvent) { observe(d, ev) })
	}
	writer := ledger.NewWriter(h.ledger, nil, wrapped...)
	h.t.Cleanup(writer.Close)

	var err error
	d, err = dispatch.New(dispatch.Deps{
		Store:  h.store,
		Ledger: h.ledger,
		Writer: writer,
		Oracle: h.oracle,
	}, dispatch.OptionsFromConfig(h.cfg))
	if err != nil {
		h.t.Fatalf("dispatch.New: %v", err)
	}
	return d
}

func (h *harness) run(ctx context.Context, d *dispatch.Dispatcher) dispatch.Summary {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	summary, err := d.Run(ctx)
	if err != nil {
		h.t.Fatalf("Run returned error: %v", err)
	}
	return summary
}

func (h *harness) checkpoint(id string) *ledger.Checkpoint {
	h.t.Helper()
	cp, err := h.ledger.Get(context.Background(), id)
	if err != nil {
		h.t.Fatalf("Get %s: %v", id, err)
	}
	if cp == nil {
		h.t.Fatalf("expected checkpoint for %s", id)
	}
	return cp
}

func (h *harness) counts() map[ledger.State]int {
	h.t.Helper()
	counts, err := h.ledger.CountByState(context.Background())
	if err != nil {
		h.t.Fatalf("CountByState: %v", err)
	}
	return counts
}

func TestRunClassifiesEveryRecord(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(10), testsupport.WithConcurrency(2))
	summary := h.run(context.Background(), h.dispatcher())

	if summary.Succeeded != 10 || summary.Attempted != 10 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if counts := h.counts(); counts[ledger.StateSucceeded] != 10 {
		t.Fatalf("expected 10 succeeded checkpoints, got %+v", counts)
	}
	if h.oracle.MaxConcurrent() > 2 {
		t.Fatalf("concurrency bound exceeded: %d", h.oracle.MaxConcurrent())
	}
	if h.oracle.Duplicates() != 0 {
		t.Fatalf("expected no duplicate attempts, got %d", h.oracle.Duplicates())
	}
	totals, err := h.ledger.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if totals.PromptTokens != 1000 || totals.CompletionTokens != 200 {
		t.Fatalf("unexpected token totals: %+v", totals)
	}
	if totals.CostUSD <= 0 {
		t.Fatalf("expected priced results, got cost %v", totals.CostUSD)
	}
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(5), testsupport.WithConcurrency(2))
	for _, record := range testsupport.Records(5) {
		h.oracle.Script(record.ID,
			testsupport.Fail(oracle.KindTransient, "connection reset"),
			testsupport.Fail(oracle.KindRateLimited, "429"),
			testsupport.Succeed(oracle.LabelDoubted),
		)
	}
	summary := h.run(context.Background(), h.dispatcher())

	if summary.Succeeded != 5 || summary.Retries != 10 || summary.Attempted != 15 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, record := range testsupport.Records(5) {
		cp := h.checkpoint(record.ID)
		if cp.State != ledger.StateSucceeded || cp.RetryCount != 2 {
			t.Fatalf("%s: expected succeeded with retry_count 2, got %s/%d", record.ID, cp.State, cp.RetryCount)
		}
		if cp.Result == nil || cp.Result.Label != oracle.LabelDoubted {
			t.Fatalf("%s: unexpected result %+v", record.ID, cp.Result)
		}
		if calls := h.oracle.Calls(record.ID); calls != 3 {
			t.Fatalf("%s: expected 3 calls, got %d", record.ID, calls)
		}
	}
}

func TestPermanentFailuresAreNotRetried(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(3))
	h.oracle.Default = testsupport.Fail(oracle.KindPermanent, "content policy rejection")
	summary := h.run(context.Background(), h.dispatcher())

	if summary.Failed != 3 || summary.Retries != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, record := range testsupport.Records(3) {
		cp := h.checkpoint(record.ID)
		if cp.State != ledger.StateFailed || cp.RetryCount != 0 {
			t.Fatalf("%s: expected permanent failure with retry_count 0, got %s/%d", record.ID, cp.State, cp.RetryCount)
		}
		if cp.LastErrorKind != oracle.KindPermanent {
			t.Fatalf("%s: unexpected error kind %q", record.ID, cp.LastErrorKind)
		}
		if calls := h.oracle.Calls(record.ID); calls != 1 {
			t.Fatalf("%s: expected 1 call, got %d", record.ID, calls)
		}
	}
}

func TestAlwaysTransientRecordIsCalledExactlyMaxAttempts(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(1), testsupport.WithMaxAttempts(4, 2))
	h.oracle.Default = testsupport.Fail(oracle.KindTransient, "timeout")
	summary := h.run(context.Background(), h.dispatcher())

	id := testsupport.Records(1)[0].ID
	if calls := h.oracle.Calls(id); calls != 4 {
		t.Fatalf("expected exactly 4 calls, got %d", calls)
	}
	if summary.Failed != 1 || summary.Retries != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	cp := h.checkpoint(id)
	if cp.State != ledger.StateFailed || cp.RetryCount != 3 {
		t.Fatalf("expected permanent failure after 3 retries, got %s/%d", cp.State, cp.RetryCount)
	}
}

func TestMalformedResponsesStopAtMalformedCap(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(1), testsupport.WithMaxAttempts(5, 2))
	bad := oracle.Result{Label: "probably", Confidence: 4}
	h.oracle.Default = testsupport.Step{Result: &bad}
	h.run(context.Background(), h.dispatcher())

	id := testsupport.Records(1)[0].ID
	if calls := h.oracle.Calls(id); calls != 2 {
		t.Fatalf("expected 2 calls before the malformed cap, got %d", calls)
	}
	cp := h.checkpoint(id)
	if cp.State != ledger.StateFailed || cp.MalformedCount != 2 || cp.LastErrorKind != oracle.KindMalformed {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
}

func TestMalformedResponsesStillCountBilledTokens(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(1), testsupport.WithMaxAttempts(5, 2))
	bad := oracle.Result{Label: "probably", Confidence: 4, Usage: oracle.Usage{PromptTokens: 100, CompletionTokens: 20}}
	h.oracle.Default = testsupport.Step{Result: &bad}

	var billed atomic.Int64
	h.run(context.Background(), h.dispatcher(func(_ *dispatch.Dispatcher, ev ledger.CommitEvent) {
		if ev.Failure != nil {
			billed.Add(int64(ev.Failure.Usage.Total()))
			if ev.Failure.CostUSD <= 0 {
				t.Errorf("expected priced failure, got %+v", ev.Failure)
			}
		}
	}))

	if got := billed.Load(); got != 240 {
		t.Fatalf("expected 240 billed tokens across two attempts, got %d", got)
	}
	totals, err := h.ledger.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if totals.Failed != 1 || totals.PromptTokens != 200 || totals.CompletionTokens != 40 || totals.CostUSD <= 0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}

func TestEmptyRecordFailsWithoutOracleCall(t *testing.T) {
	store := corpus.NewMemoryStore(
		corpus.Record{ID: "blank"},
		corpus.Record{ID: "full", Title: "Rapamycin extends lifespan", Abstract: "Mice lived longer."},
	)
	h := newHarness(t, store)
	summary := h.run(context.Background(), h.dispatcher())

	if summary.Succeeded != 1 || summary.Failed != 1 || summary.Attempted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if calls := h.oracle.Calls("blank"); calls != 0 {
		t.Fatalf("expected no oracle call for blank record, got %d", calls)
	}
	cp := h.checkpoint("blank")
	if cp.State != ledger.StateFailed || cp.LastErrorKind != oracle.KindPermanent {
		t.Fatalf("unexpected checkpoint for blank record: %+v", cp)
	}
}

func TestInterruptedRunResumesWithoutRebilling(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(10), testsupport.WithConcurrency(1))
	var settled atomic.Int32
	first := h.dispatcher(func(d *dispatch.Dispatcher, ev ledger.CommitEvent) {
		if ev.State.Terminal() && settled.Add(1) == 4 {
			d.Drain()
		}
	})
	summary := h.run(context.Background(), first)
	if summary.Succeeded != 4 || !summary.Drained || summary.Forced {
		t.Fatalf("unexpected first summary: %+v", summary)
	}
	if calls := h.oracle.TotalCalls(); calls != 4 {
		t.Fatalf("expected 4 calls before interrupt, got %d", calls)
	}

	if _, err := h.ledger.ResetInFlight(context.Background()); err != nil {
		t.Fatalf("ResetInFlight: %v", err)
	}
	h.oracle = testsupport.NewScriptedOracle()
	summary = h.run(context.Background(), h.dispatcher())
	if summary.Succeeded != 6 || summary.Attempted != 6 {
		t.Fatalf("expected resume to process exactly 6, got %+v", summary)
	}
	if calls := h.oracle.TotalCalls(); calls != 6 {
		t.Fatalf("expected 6 calls on resume, got %d", calls)
	}
	if counts := h.counts(); counts[ledger.StateSucceeded] != 10 {
		t.Fatalf("expected all 10 settled, got %+v", counts)
	}
}

func TestConcurrencyBoundHoldsUnderLoad(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(30), testsupport.WithConcurrency(3))
	h.oracle.Default = testsupport.Step{Delay: 5 * time.Millisecond}
	summary := h.run(context.Background(), h.dispatcher())

	if summary.Succeeded != 30 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := h.oracle.MaxConcurrent(); got > 3 || got < 1 {
		t.Fatalf("expected at most 3 concurrent calls, got %d", got)
	}
	if h.oracle.Duplicates() != 0 {
		t.Fatalf("expected at most one attempt per record, got %d duplicates", h.oracle.Duplicates())
	}
}

func TestLimitCapsRecordsTaken(t *testing.T) {
	store := testsupport.NewMemoryCorpus(10)
	h := newHarness(t, store, testsupport.WithLimit(3))
	summary := h.run(context.Background(), h.dispatcher())

	if summary.Succeeded != 3 {
		t.Fatalf("expected 3 records under limit, got %+v", summary)
	}
	if counts := h.counts(); counts[ledger.StateSucceeded] != 3 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestSettledRecordsAreNeverCalledAgain(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(4))
	ctx := context.Background()
	for _, id := range []string{"paper-000", "paper-002"} {
		if _, err := h.ledger.MarkInFlight(ctx, id); err != nil {
			t.Fatalf("MarkInFlight: %v", err)
		}
		if _, err := h.ledger.CommitResult(ctx, id, testsupport.ValidResult(oracle.LabelNotValid)); err != nil {
			t.Fatalf("CommitResult: %v", err)
		}
	}
	summary := h.run(ctx, h.dispatcher())

	if summary.Succeeded != 2 {
		t.Fatalf("expected only unsettled records, got %+v", summary)
	}
	for _, id := range []string{"paper-000", "paper-002"} {
		if calls := h.oracle.Calls(id); calls != 0 {
			t.Fatalf("%s: settled record was called %d times", id, calls)
		}
		if cp := h.checkpoint(id); cp.Result.Label != oracle.LabelNotValid {
			t.Fatalf("%s: settled result was overwritten: %+v", id, cp.Result)
		}
	}
}

func TestInfrastructureErrorHaltsDispatch(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(5), testsupport.WithConcurrency(1))
	h.oracle.Default = testsupport.Step{Err: services.Infrastructure("oracle", "authenticate", errors.New("401 invalid api key"))}
	d := h.dispatcher()

	summary, err := d.Run(context.Background())
	if err == nil || !services.IsInfrastructure(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if !d.Halted() {
		t.Fatal("expected dispatcher to report halted")
	}
	if calls := h.oracle.TotalCalls(); calls != 1 {
		t.Fatalf("expected dispatch to stop after the first failure, got %d calls", calls)
	}
	if summary.Failed != 0 {
		t.Fatalf("infrastructure failures must not settle records: %+v", summary)
	}
	if cp := h.checkpoint("paper-000"); cp.State != ledger.StateInFlight {
		t.Fatalf("expected claim left in flight, got %s", cp.State)
	}
}

func TestStoreFailureHaltsDispatch(t *testing.T) {
	h := newHarness(t, failingStore{err: errors.New("disk I/O error")})
	_, err := h.dispatcher().Run(context.Background())
	if err == nil || !services.IsInfrastructure(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if h.oracle.TotalCalls() != 0 {
		t.Fatal("expected no oracle calls")
	}
}

func TestCancelAbandonsInFlightAttempts(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(4), testsupport.WithConcurrency(2))
	h.oracle.Default = testsupport.Hang()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var started atomic.Int32
	h.oracle.OnCall = func(oracle.Request, int) {
		if started.Add(1) == 2 {
			cancel()
		}
	}

	summary, err := h.dispatcher().Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !summary.Forced || summary.Abandoned != 2 || summary.Settled() != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if counts := h.counts(); counts[ledger.StateInFlight] != 2 {
		t.Fatalf("expected abandoned attempts to stay in flight, got %+v", counts)
	}
	reset, err := h.ledger.ResetInFlight(context.Background())
	if err != nil || reset != 2 {
		t.Fatalf("ResetInFlight: reset=%d err=%v", reset, err)
	}
}

func TestDrainLeavesScheduledRetriesForNextRun(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(1))
	h.cfg.Throttle.BaseDelayMillis = int(time.Hour / time.Millisecond)
	h.cfg.Throttle.MaxDelaySeconds = int(time.Hour / time.Second)
	h.oracle.Default = testsupport.Fail(oracle.KindTransient, "503")
	d := h.dispatcher()
	h.oracle.OnCall = func(oracle.Request, int) { d.Drain() }

	started := time.Now()
	summary := h.run(context.Background(), d)
	if time.Since(started) > 10*time.Second {
		t.Fatal("drain waited on a scheduled retry")
	}
	if summary.Retries != 1 || !summary.Drained {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	cp := h.checkpoint("paper-000")
	if cp.State != ledger.StateRetryScheduled || cp.RetryCount != 1 {
		t.Fatalf("expected retry left scheduled, got %s/%d", cp.State, cp.RetryCount)
	}

	h.oracle = testsupport.NewScriptedOracle()
	summary = h.run(context.Background(), h.dispatcher())
	if summary.Succeeded != 1 {
		t.Fatalf("expected retry picked up on the next run, got %+v", summary)
	}
	if cp := h.checkpoint("paper-000"); cp.RetryCount != 1 {
		t.Fatalf("expected retry history preserved, got %d", cp.RetryCount)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	h := newHarness(t, testsupport.NewMemoryCorpus(1))
	d := h.dispatcher()
	h.run(context.Background(), d)
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatal("expected second Run to fail")
	}
}

type failingStore struct {
	err error
}

func (f failingStore) CountTotal(context.Context) (int, error) { return 0, f.err }

func (f failingStore) FetchUnprocessed(context.Context, corpus.FetchRequest) ([]corpus.Record, error) {
	return nil, f.err
}

func (failingStore) Close() error { return nil }
