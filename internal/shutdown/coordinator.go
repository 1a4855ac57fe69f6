package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"papersift/internal/logging"
)

// Drainer is the work source the coordinator stops on the first signal.
type Drainer interface {
	Drain()
	InFlight() int
}

// Phase is the coordinator's position in the two-phase shutdown.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseDraining
	PhaseForced
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Status is the final shutdown classification.
type Status int

const (
	// StatusClean means every in-flight attempt settled before exit.
	StatusClean Status = iota
	// StatusForced means attempts were cancelled while still in flight.
	StatusForced
)

func (s Status) String() string {
	if s == StatusForced {
		return "forced"
	}
	return "clean"
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSignals replaces process signal delivery with ch.
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signals = ch
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator turns interrupts into a drain followed, on a second interrupt
// or when the grace period lapses, by cancellation of the run context.
type Coordinator struct {
	grace   time.Duration
	logger  *slog.Logger
	signals <-chan os.Signal
	notify  chan os.Signal

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	drainer        Drainer
	phase          Phase
	timer          *time.Timer
	forcedInFlight bool

	watchOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New returns a coordinator whose run context derives from parent. A grace
// period of zero or less waits for a second interrupt indefinitely.
func New(parent context.Context, grace time.Duration, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		grace:  grace,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "shutdown")
	return c
}

// Context is cancelled on the forced phase or by Stop.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// SetDrainer registers the work source drained on the first interrupt.
func (c *Coordinator) SetDrainer(d Drainer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainer = d
}

// Watch starts delivering SIGINT and SIGTERM to the coordinator.
func (c *Coordinator) Watch() {
	c.watchOnce.Do(func() {
		if c.signals == nil {
			c.notify = make(chan os.Signal, 2)
			signal.Notify(c.notify, unix.SIGINT, unix.SIGTERM)
			c.signals = c.notify
		}
		go c.loop()
	})
}

func (c *Coordinator) loop() {
	for {
		select {
		case sig := <-c.signals:
			c.Interrupt("signal " + sig.String())
		case <-c.done:
			return
		}
	}
}

// Interrupt advances the shutdown by one phase. The first call drains and
// arms the grace timer; the second cancels the run context; later calls are
// ignored.
func (c *Coordinator) Interrupt(reason string) {
	c.mu.Lock()
	switch c.phase {
	case PhaseRunning:
		c.phase = PhaseDraining
		drainer := c.drainer
		inFlight := 0
		if drainer != nil {
			inFlight = drainer.InFlight()
		}
		if c.grace > 0 {
			c.timer = time.AfterFunc(c.grace, func() { c.force("grace period expired") })
		}
		c.mu.Unlock()

		c.logger.Warn("shutdown requested; draining in-flight attempts",
			logging.String("reason", reason),
			logging.Int("in_flight", inFlight),
			logging.Duration("grace", c.grace),
			logging.String(logging.FieldImpact, "no new records will be dispatched; interrupt again to force"),
		)
		if drainer != nil {
			drainer.Drain()
		}
	case PhaseDraining:
		c.mu.Unlock()
		c.force(reason)
	default:
		c.mu.Unlock()
		c.logger.Debug("shutdown already forced; ignoring", logging.String("reason", reason))
	}
}

func (c *Coordinator) force(reason string) {
	c.mu.Lock()
	if c.phase == PhaseForced {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseForced
	if c.timer != nil {
		c.timer.Stop()
	}
	inFlight := 0
	if c.drainer != nil {
		inFlight = c.drainer.InFlight()
	}
	c.forcedInFlight = inFlight > 0
	c.mu.Unlock()

	c.logger.Warn("forcing shutdown; cancelling in-flight attempts",
		logging.String("reason", reason),
		logging.Int("in_flight", inFlight),
		logging.String(logging.FieldImpact, "cancelled attempts return to pending on the next run"),
	)
	c.cancel()
}

// Phase returns the current shutdown phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Status reports Forced only when the forced phase cut off attempts that were
// still in flight.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forcedInFlight {
		return StatusForced
	}
	return StatusClean
}

// Stop stops signal delivery, disarms the grace timer and releases the run
// context. Call it once the run has returned.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.notify != nil {
			signal.Stop(c.notify)
		}
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()
		c.cancel()
	})
}
