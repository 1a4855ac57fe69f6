package dispatch

import (
	"container/heap"
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"papersift/internal/corpus"
	"papersift/internal/logging"
	"papersift/internal/services"
)

// scheduler owns every piece of dispatch state. Only the goroutine inside
// run touches it; workers report back through outcomes.
type scheduler struct {
	d *Dispatcher

	exclude   corpus.IDSet
	buffer    []corpus.Record
	cursor    string
	exhausted bool
	taken     int

	retries     retryHeap
	due         []corpus.Record
	timer       *time.Timer
	preferRetry bool

	active   map[string]struct{}
	running  int
	group    errgroup.Group
	outcomes chan outcome

	summary Summary
	haltErr error
}

func newScheduler(d *Dispatcher, exclude corpus.IDSet) *scheduler {
	if exclude == nil {
		exclude = corpus.IDSet{}
	}
	s := &scheduler{
		d:        d,
		exclude:  exclude,
		active:   make(map[string]struct{}),
		outcomes: make(chan outcome, d.opts.Concurrency),
	}
	s.group.SetLimit(d.opts.Concurrency)
	return s
}

func (s *scheduler) run(ctx context.Context) (Summary, error) {
	defer s.stopTimer()

	drainCh := s.d.drainCh
	done := ctx.Done()
	for {
		if s.accepting(ctx) {
			if err := s.launch(ctx); err != nil {
				s.halt(err)
			}
		}
		if s.running == 0 && (!s.accepting(ctx) || s.idle()) {
			break
		}

		var timerC <-chan time.Time
		if s.timer != nil {
			timerC = s.timer.C
		}
		select {
		case out := <-s.outcomes:
			s.handle(ctx, out)
		case <-timerC:
			s.promoteDue(time.Now())
		case <-drainCh:
			drainCh = nil
		case <-done:
			done = nil
			s.d.logger.Warn("run cancelled; abandoning in-flight attempts",
				logging.Int("in_flight", s.running),
			)
		}
	}

	// Every worker has reported; Wait only reaps the goroutines.
	_ = s.group.Wait()
	if pending := s.retries.Len() + len(s.due); pending > 0 {
		s.d.logger.Info("scheduled retries left for the next run", logging.Int("count", pending))
	}
	return s.summary, s.haltErr
}

func (s *scheduler) accepting(ctx context.Context) bool {
	return s.haltErr == nil && !s.d.draining.Load() && ctx.Err() == nil
}

// idle reports whether no work remains to be dispatched now or later.
func (s *scheduler) idle() bool {
	return len(s.buffer) == 0 && s.freshDone() && len(s.due) == 0 && s.retries.Len() == 0
}

func (s *scheduler) freshDone() bool {
	return s.exhausted || s.limitReached()
}

func (s *scheduler) limitReached() bool {
	return s.d.opts.Limit > 0 && s.taken >= s.d.opts.Limit
}

func (s *scheduler) halt(err error) {
	if s.haltErr != nil {
		return
	}
	if !services.IsInfrastructure(err) {
		err = services.Infrastructure("dispatch", "schedule", err)
	}
	s.haltErr = err
	s.d.halted.Store(true)
	s.d.logger.Error("infrastructure failure; halting new dispatch",
		logging.Error(err),
		logging.Int("in_flight", s.running),
	)
}

func (s *scheduler) launch(ctx context.Context) error {
	for s.running < s.d.opts.Concurrency && s.accepting(ctx) {
		record, ok, err := s.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.start(ctx, record)
	}
	return nil
}

// next alternates between due retries and fresh records so neither starves.
func (s *scheduler) next(ctx context.Context) (corpus.Record, bool, error) {
	if len(s.due) > 0 && s.preferRetry {
		s.preferRetry = false
		return s.popDue(), true, nil
	}
	record, ok, err := s.nextFresh(ctx)
	if err != nil {
		return corpus.Record{}, false, err
	}
	if ok {
		s.preferRetry = true
		return record, true, nil
	}
	if len(s.due) > 0 {
		return s.popDue(), true, nil
	}
	return corpus.Record{}, false, nil
}

func (s *scheduler) popDue() corpus.Record {
	record := s.due[0]
	s.due = s.due[1:]
	return record
}

func (s *scheduler) nextFresh(ctx context.Context) (corpus.Record, bool, error) {
	if len(s.buffer) == 0 {
		if s.freshDone() {
			return corpus.Record{}, false, nil
		}
		if err := s.fill(ctx); err != nil {
			return corpus.Record{}, false, err
		}
		if len(s.buffer) == 0 {
			return corpus.Record{}, false, nil
		}
	}
	record := s.buffer[0]
	s.buffer = s.buffer[1:]
	s.taken++
	return record, true, nil
}

func (s *scheduler) fill(ctx context.Context) error {
	size := s.d.opts.FetchBatch
	if s.d.opts.Limit > 0 {
		size = min(size, s.d.opts.Limit-s.taken)
	}
	records, err := s.d.deps.Store.FetchUnprocessed(ctx, corpus.FetchRequest{
		Exclude: s.exclude,
		After:   s.cursor,
		Limit:   size,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return services.Infrastructure("dispatch", "fetch records", err)
	}
	if len(records) < size {
		s.exhausted = true
	}
	for _, record := range records {
		s.exclude.Add(record.ID)
		s.cursor = record.Cursor
		if s.cursor == "" {
			s.cursor = record.ID
		}
	}
	s.buffer = append(s.buffer, records...)
	s.d.logger.Debug("fetched records",
		logging.Int("count", len(records)),
		logging.String("cursor", s.cursor),
		logging.Bool("exhausted", s.exhausted),
	)
	return nil
}

func (s *scheduler) start(ctx context.Context, record corpus.Record) {
	if _, busy := s.active[record.ID]; busy {
		s.d.logger.Warn("record already in flight; skipping duplicate",
			logging.RecordID(record.ID),
		)
		return
	}
	s.active[record.ID] = struct{}{}
	s.running++
	s.group.Go(func() error {
		out := s.d.attempt(ctx, record)
		s.outcomes <- out
		return out.err
	})
}

func (s *scheduler) handle(ctx context.Context, out outcome) {
	delete(s.active, out.record.ID)
	s.running--
	if out.called {
		s.summary.Attempted++
	}

	switch out.status {
	case statusSucceeded:
		s.summary.Succeeded++
	case statusFailed:
		s.summary.Failed++
	case statusRetry:
		s.summary.Retries++
		if s.accepting(ctx) {
			s.schedule(out.record, time.Now().Add(out.delay))
		}
	case statusAbandoned:
		s.summary.Abandoned++
	case statusSkipped:
		s.summary.Skipped++
	case statusHalted:
		s.halt(out.err)
	}
}

func (s *scheduler) schedule(record corpus.Record, due time.Time) {
	heap.Push(&s.retries, retryItem{record: record, due: due})
	s.armTimer()
}

func (s *scheduler) promoteDue(now time.Time) {
	for s.retries.Len() > 0 && !s.retries[0].due.After(now) {
		item := heap.Pop(&s.retries).(retryItem)
		s.due = append(s.due, item.record)
	}
	s.armTimer()
}

func (s *scheduler) armTimer() {
	if s.retries.Len() == 0 {
		s.stopTimer()
		return
	}
	wait := time.Until(s.retries[0].due)
	if s.timer == nil {
		s.timer = time.NewTimer(wait)
		return
	}
	s.timer.Reset(wait)
}

func (s *scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

type retryItem struct {
	record corpus.Record
	due    time.Time
}

// retryHeap orders scheduled retries by due time.
type retryHeap []retryItem

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *retryHeap) Push(x any) {
	*h = append(*h, x.(retryItem))
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
