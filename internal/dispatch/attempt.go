package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"papersift/internal/corpus"
	"papersift/internal/ledger"
	"papersift/internal/logging"
	"papersift/internal/metrics"
	"papersift/internal/oracle"
	"papersift/internal/services"
	"papersift/internal/throttle"
)

type status int

const (
	statusSucceeded status = iota
	statusFailed
	statusRetry
	statusAbandoned
	statusSkipped
	statusHalted
)

// outcome is what a worker reports to the scheduler for one attempt.
type outcome struct {
	record corpus.Record
	status status
	delay  time.Duration
	called bool
	err    error
}

// attempt runs admission, claim, oracle call and commit for one record.
// Ledger writes use a context detached from cancellation so an answer that
// already arrived is never lost to a forced stop.
func (d *Dispatcher) attempt(ctx context.Context, record corpus.Record) outcome {
	out := outcome{record: record}
	actx := services.WithRecordID(ctx, record.ID)
	actx = services.WithRequestID(actx, uuid.NewString())
	logger := logging.WithContext(actx, d.logger)

	req := oracle.Request{RecordID: record.ID, Title: record.Title, Abstract: record.Abstract}
	if !req.Empty() {
		if err := d.deps.Admitter.Admit(actx); err != nil {
			if ctx.Err() != nil {
				out.status = statusAbandoned
				return out
			}
			return halted(out, services.Infrastructure("dispatch", "admission", err))
		}
	}

	claim, err := d.deps.Writer.MarkInFlight(actx, record.ID)
	if err != nil {
		if ctx.Err() != nil {
			out.status = statusAbandoned
			return out
		}
		return halted(out, services.Infrastructure("dispatch", "claim record", err))
	}
	switch claim.Outcome {
	case ledger.AlreadySettled:
		logger.Debug("record already settled; skipping")
		out.status = statusSkipped
		return out
	case ledger.AlreadyInFlight:
		logging.WarnWithContext(logger, "record claimed elsewhere; skipping", "claim_conflict",
			logging.String(logging.FieldImpact, "record left to the holder of the claim"),
		)
		out.status = statusSkipped
		return out
	}

	attempt := claim.Attempt()
	actx = services.WithAttempt(actx, attempt)
	logger = logging.WithContext(actx, d.logger)
	commitCtx := context.WithoutCancel(actx)

	if req.Empty() {
		failure := ledger.Failure{Summary: "record has neither title nor abstract", Kind: oracle.KindPermanent}
		return d.commitFailure(commitCtx, logger, out, failure)
	}

	result, err := d.call(actx, req)
	out.called = true
	if err != nil && ctx.Err() != nil {
		metrics.OracleCalls.WithLabelValues("abandoned").Inc()
		logger.Info("attempt abandoned by cancellation; checkpoint stays in flight")
		out.status = statusAbandoned
		return out
	}
	if err != nil && services.IsInfrastructure(err) {
		metrics.OracleCalls.WithLabelValues("infrastructure").Inc()
		return halted(out, err)
	}

	if err == nil {
		result = d.opts.Pricing.Apply(result)
		if result.Model == "" {
			result.Model = d.opts.Model
		}
		changed, cerr := d.deps.Writer.CommitResult(commitCtx, record.ID, result)
		if cerr != nil {
			return halted(out, services.Infrastructure("dispatch", "commit result", cerr))
		}
		metrics.OracleCalls.WithLabelValues("success").Inc()
		if !changed {
			out.status = statusSkipped
			return out
		}
		metrics.RecordsSettled.WithLabelValues(string(ledger.StateSucceeded)).Inc()
		logger.Info("record classified",
			logging.String("label", string(result.Label)),
			logging.Float64("confidence", result.Confidence),
			logging.Int("tokens", result.Usage.Total()),
		)
		out.status = statusSucceeded
		return out
	}

	kind := oracle.KindOf(err)
	metrics.OracleCalls.WithLabelValues(string(kind)).Inc()
	history := throttle.History{Attempts: attempt, Malformed: claim.MalformedCount}
	if kind == oracle.KindMalformed {
		history.Malformed++
	}
	decision := d.opts.Policy.Decide(history, err)
	usage := oracle.UsageOf(err)
	failure := ledger.Failure{
		Summary:   err.Error(),
		Kind:      kind,
		Retryable: decision.Retry,
		Usage:     usage,
		CostUSD:   d.opts.Pricing.Cost(usage),
	}
	if decision.Retry {
		failure.RetryAt = time.Now().Add(decision.Delay)
		out.delay = decision.Delay
	}
	logging.WarnWithContext(logger, "oracle attempt failed", "oracle_failure",
		logging.ErrorKind(kind),
		logging.Bool("retry", decision.Retry),
		logging.Duration("delay", decision.Delay),
		logging.String("reason", decision.Reason),
		logging.Error(err),
		logging.String(logging.FieldImpact, impactOf(decision)),
	)
	return d.commitFailure(commitCtx, logger, out, failure)
}

func (d *Dispatcher) call(ctx context.Context, req oracle.Request) (oracle.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()

	d.inFlight.Add(1)
	metrics.InFlight.Inc()
	started := time.Now()
	defer func() {
		d.inFlight.Add(-1)
		metrics.InFlight.Dec()
		metrics.OracleLatency.Observe(time.Since(started).Seconds())
	}()

	result, err := d.deps.Oracle.Classify(callCtx, req)
	if err != nil {
		return oracle.Result{}, err
	}
	if err := oracle.Validate(result); err != nil {
		return oracle.Result{}, oracle.WithUsage(err, result.Usage)
	}
	return result, nil
}

func (d *Dispatcher) commitFailure(ctx context.Context, logger *slog.Logger, out outcome, failure ledger.Failure) outcome {
	changed, err := d.deps.Writer.CommitFailure(ctx, out.record.ID, failure)
	if err != nil {
		return halted(out, services.Infrastructure("dispatch", "commit failure", err))
	}
	switch {
	case !changed:
		out.status = statusSkipped
	case failure.Retryable:
		metrics.RetriesScheduled.WithLabelValues(string(failure.Kind)).Inc()
		out.status = statusRetry
	default:
		metrics.RecordsSettled.WithLabelValues(string(ledger.StateFailed)).Inc()
		logger.Info("record failed permanently", logging.ErrorKind(failure.Kind))
		out.status = statusFailed
	}
	return out
}

func halted(out outcome, err error) outcome {
	out.status = statusHalted
	out.err = err
	return out
}

func impactOf(decision throttle.Decision) string {
	if decision.Retry {
		return "record will be retried"
	}
	return "record marked as permanent failure"
}
