package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"papersift/internal/logging"
	"papersift/internal/oracle"
)

// ErrWriterClosed is returned for writes submitted after Close.
var ErrWriterClosed = errors.New("ledger writer closed")

// CommitEvent describes a write that changed a checkpoint.
type CommitEvent struct {
	RecordID string
	State    State
	Result   *oracle.Result
	Failure  *Failure
	At       time.Time
}

// Observer receives commit events on the writer goroutine and must not block.
type Observer func(CommitEvent)

// Writer serializes every ledger mutation of a run through one goroutine.
// Requests accepted before Close are always applied, even when the caller's
// context is cancelled while waiting.
type Writer struct {
	ledger    *Ledger
	logger    *slog.Logger
	requests  chan writeRequest
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	observers []Observer
	settled   atomic.Int64
}

type writeRequest struct {
	ctx   context.Context
	apply func(context.Context) error
	reply chan error
}

// NewWriter starts the writer goroutine for l.
func NewWriter(l *Ledger, logger *slog.Logger, observers ...Observer) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Writer{
		ledger:    l,
		logger:    logging.NewComponentLogger(logger, "ledger-writer"),
		requests:  make(chan writeRequest),
		done:      make(chan struct{}),
		observers: observers,
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)
	for req := range w.requests {
		req.reply <- req.apply(context.WithoutCancel(req.ctx))
	}
}

func (w *Writer) submit(ctx context.Context, apply func(context.Context) error) error {
	ctx = ensureContext(ctx)
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	req := writeRequest{ctx: ctx, apply: apply, reply: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()
	return <-req.reply
}

// MarkInFlight claims id through the writer.
func (w *Writer) MarkInFlight(ctx context.Context, id string) (Claim, error) {
	var claim Claim
	err := w.submit(ctx, func(wctx context.Context) error {
		var err error
		claim, err = w.ledger.MarkInFlight(wctx, id)
		return err
	})
	return claim, err
}

// CommitResult records a success through the writer.
func (w *Writer) CommitResult(ctx context.Context, id string, result oracle.Result) (bool, error) {
	var changed bool
	err := w.submit(ctx, func(wctx context.Context) error {
		var err error
		changed, err = w.ledger.CommitResult(wctx, id, result)
		if err != nil || !changed {
			return err
		}
		committed := oracle.Normalize(result)
		w.settled.Add(1)
		w.publish(CommitEvent{RecordID: id, State: StateSucceeded, Result: &committed, At: time.Now()})
		return nil
	})
	if err == nil && !changed {
		w.logger.Debug("checkpoint already settled; result ignored", logging.RecordID(id))
	}
	return changed, err
}

// CommitFailure records a failed attempt through the writer.
func (w *Writer) CommitFailure(ctx context.Context, id string, failure Failure) (bool, error) {
	var changed bool
	err := w.submit(ctx, func(wctx context.Context) error {
		var err error
		changed, err = w.ledger.CommitFailure(wctx, id, failure)
		if err != nil || !changed {
			return err
		}
		state := StateFailed
		if failure.Retryable {
			state = StateRetryScheduled
		} else {
			w.settled.Add(1)
		}
		f := failure
		w.publish(CommitEvent{RecordID: id, State: state, Failure: &f, At: time.Now()})
		return nil
	})
	if err == nil && !changed {
		w.logger.Debug("checkpoint failure not applied",
			logging.RecordID(id),
			logging.Bool("retryable", failure.Retryable),
		)
	}
	return changed, err
}

// Settled returns how many checkpoints this writer moved to a terminal state.
func (w *Writer) Settled() int64 {
	return w.settled.Load()
}

func (w *Writer) publish(event CommitEvent) {
	for _, observer := range w.observers {
		observer(event)
	}
}

// Close stops accepting writes, waits for accepted writes to land, and
// stops the goroutine. It is safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.requests)
	}
	w.mu.Unlock()
	<-w.done
}
