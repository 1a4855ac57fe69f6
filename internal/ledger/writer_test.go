package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"papersift/internal/ledger"
	"papersift/internal/oracle"
	"papersift/internal/testsupport"
)

func TestWriterPublishesOnlyAppliedCommits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []ledger.CommitEvent
	)
	w := ledger.NewWriter(l, nil, func(ev ledger.CommitEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if _, err := w.MarkInFlight(ctx, "p1"); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if changed, err := w.CommitResult(ctx, "p1", sampleResult(oracle.LabelValid)); err != nil || !changed {
		t.Fatalf("CommitResult: changed=%v err=%v", changed, err)
	}
	if changed, err := w.CommitResult(ctx, "p1", sampleResult(oracle.LabelValid)); err != nil || changed {
		t.Fatalf("duplicate CommitResult: changed=%v err=%v", changed, err)
	}
	if _, err := w.MarkInFlight(ctx, "p2"); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	retry := ledger.Failure{Summary: "429", Kind: oracle.KindRateLimited, Retryable: true, RetryAt: time.Now()}
	if changed, err := w.CommitFailure(ctx, "p2", retry); err != nil || !changed {
		t.Fatalf("CommitFailure: changed=%v err=%v", changed, err)
	}
	w.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].State != ledger.StateSucceeded || events[0].Result == nil || events[0].Result.Label != oracle.LabelValid {
		t.Fatalf("unexpected success event: %+v", events[0])
	}
	if events[1].State != ledger.StateRetryScheduled || events[1].Failure == nil {
		t.Fatalf("unexpected retry event: %+v", events[1])
	}
	if w.Settled() != 1 {
		t.Fatalf("expected one settled record, got %d", w.Settled())
	}
}

func TestWriterSerializesConcurrentCommits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	w := ledger.NewWriter(l, nil)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := w.CommitResult(ctx, "shared", sampleResult(oracle.LabelValid))
			if err != nil {
				t.Errorf("CommitResult: %v", err)
			}
			wins <- changed
		}()
	}
	wg.Wait()
	w.Close()
	close(wins)

	applied := 0
	for changed := range wins {
		if changed {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied commit, got %d", applied)
	}
}

func TestWriterCompletesAcceptedWriteAfterCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	w := ledger.NewWriter(l, nil, func(ledger.CommitEvent) {
		time.Sleep(20 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.CommitResult(ctx, "p1", sampleResult(oracle.LabelValid))
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Close()

	// Either the write was rejected before acceptance or it landed in full.
	cp, err := l.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cp != nil && cp.State != ledger.StateSucceeded {
		t.Fatalf("partial write observed: %+v", cp)
	}
}

func TestWriterRejectsWritesAfterClose(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	w := ledger.NewWriter(l, nil)
	w.Close()
	w.Close()

	if _, err := w.MarkInFlight(context.Background(), "p1"); !errors.Is(err, ledger.ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
}
