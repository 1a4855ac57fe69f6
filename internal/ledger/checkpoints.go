package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"papersift/internal/oracle"
)

const terminalPredicate = "checkpoints.state NOT IN ('succeeded', 'permanent_failure')"

// SetRunID tags subsequent writes with the given run.
func (l *Ledger) SetRunID(id int64) {
	l.runID.Store(id)
}

func (l *Ledger) currentRun() any {
	if id := l.runID.Load(); id > 0 {
		return id
	}
	return nil
}

// Has reports whether id has a terminal checkpoint.
func (l *Ledger) Has(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var state string
	err := l.db.QueryRowContext(ctx, "SELECT state FROM checkpoints WHERE record_id = ?", id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup checkpoint %s: %w", id, err)
	}
	return State(state).Terminal(), nil
}

// Get returns the checkpoint for id, or nil when none exists.
func (l *Ledger) Get(ctx context.Context, id string) (*Checkpoint, error) {
	ctx = ensureContext(ctx)
	row := l.db.QueryRowContext(ctx, "SELECT "+checkpointColumns+" FROM checkpoints WHERE record_id = ?", id)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// Pending returns identifiers that are claimable: pending or waiting for a
// retry. A limit of zero returns all of them.
func (l *Ledger) Pending(ctx context.Context, limit int) ([]string, error) {
	ctx = ensureContext(ctx)
	query := "SELECT record_id FROM checkpoints WHERE state IN ('pending', 'retry_scheduled') ORDER BY record_id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TerminalIDs returns every identifier with a terminal checkpoint.
func (l *Ledger) TerminalIDs(ctx context.Context) (map[string]struct{}, error) {
	ctx = ensureContext(ctx)
	rows, err := l.db.QueryContext(ctx, "SELECT record_id FROM checkpoints WHERE state IN ('succeeded', 'permanent_failure')")
	if err != nil {
		return nil, fmt.Errorf("list terminal checkpoints: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkInFlight claims id for one attempt. A missing row is created in_flight;
// a pending or retry_scheduled row moves to in_flight. Rows already in flight
// or terminal are left untouched and reported through Claim.Outcome.
func (l *Ledger) MarkInFlight(ctx context.Context, id string) (Claim, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(id) == "" {
		return Claim{}, errors.New("mark in flight: empty record id")
	}
	now := formatTime(time.Now())
	const query = `INSERT INTO checkpoints (record_id, state, last_attempt_at, run_id, created_at, updated_at)
VALUES (?, 'in_flight', ?, ?, ?, ?)
ON CONFLICT(record_id) DO UPDATE SET
    state = 'in_flight',
    last_attempt_at = excluded.last_attempt_at,
    next_attempt_at = NULL,
    run_id = excluded.run_id,
    updated_at = excluded.updated_at
WHERE checkpoints.state IN ('pending', 'retry_scheduled')
RETURNING retry_count, malformed_count`

	var claim Claim
	err := retryOnBusy(ctx, func() error {
		return l.db.QueryRowContext(ctx, query, id, now, l.currentRun(), now, now).
			Scan(&claim.RetryCount, &claim.MalformedCount)
	})
	if err == nil {
		claim.Outcome = Acquired
		return claim, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Claim{}, fmt.Errorf("mark %s in flight: %w", id, err)
	}

	existing, err := l.Get(ctx, id)
	if err != nil {
		return Claim{}, err
	}
	if existing == nil {
		return Claim{}, fmt.Errorf("mark %s in flight: checkpoint vanished", id)
	}
	claim.RetryCount = existing.RetryCount
	claim.MalformedCount = existing.MalformedCount
	if existing.State.Terminal() {
		claim.Outcome = AlreadySettled
	} else {
		claim.Outcome = AlreadyInFlight
	}
	return claim, nil
}

// CommitResult records a successful judgment. It returns false without
// changing anything when id is already terminal. Token and cost columns add
// to what earlier failed attempts of the record were billed.
func (l *Ledger) CommitResult(ctx context.Context, id string, result oracle.Result) (bool, error) {
	if err := oracle.Validate(result); err != nil {
		return false, fmt.Errorf("commit result %s: %w", id, err)
	}
	result = oracle.Normalize(result)
	now := formatTime(time.Now())
	query := `INSERT INTO checkpoints (record_id, state, label, confidence, reasoning, paper_type, theory,
    prompt_tokens, completion_tokens, cost_usd, model, completed_at, next_attempt_at, run_id, created_at, updated_at)
VALUES (?, 'succeeded', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
ON CONFLICT(record_id) DO UPDATE SET
    state = 'succeeded',
    label = excluded.label,
    confidence = excluded.confidence,
    reasoning = excluded.reasoning,
    paper_type = excluded.paper_type,
    theory = excluded.theory,
    prompt_tokens = checkpoints.prompt_tokens + excluded.prompt_tokens,
    completion_tokens = checkpoints.completion_tokens + excluded.completion_tokens,
    cost_usd = checkpoints.cost_usd + excluded.cost_usd,
    model = excluded.model,
    completed_at = excluded.completed_at,
    next_attempt_at = NULL,
    run_id = COALESCE(excluded.run_id, checkpoints.run_id),
    updated_at = excluded.updated_at
WHERE ` + terminalPredicate
	changed, err := l.changed(ctx, query,
		id,
		string(result.Label),
		result.Confidence,
		nullableString(result.Reasoning),
		nullableString(result.PaperType),
		nullableString(result.Theory),
		result.Usage.PromptTokens,
		result.Usage.CompletionTokens,
		result.CostUSD,
		nullableString(result.Model),
		nullableTime(result.CompletedAt),
		l.currentRun(),
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("commit result %s: %w", id, err)
	}
	return changed, nil
}

// CommitFailure records a failed attempt. A retryable failure moves an
// in_flight row to retry_scheduled and increments retry_count; anything else
// settles the row as permanent_failure. It returns false when the write did
// not apply (terminal row, or a retryable failure without a live claim).
func (l *Ledger) CommitFailure(ctx context.Context, id string, failure Failure) (bool, error) {
	now := formatTime(time.Now())
	malformed := 0
	if failure.Kind == oracle.KindMalformed {
		malformed = 1
	}
	summary := nullableString(truncateError(failure.Summary))

	var (
		query string
		args  []any
	)
	if failure.Retryable {
		query = `INSERT INTO checkpoints (record_id, state, retry_count, malformed_count, last_error, last_error_kind,
    prompt_tokens, completion_tokens, cost_usd, next_attempt_at, run_id, created_at, updated_at)
VALUES (?, 'retry_scheduled', 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(record_id) DO UPDATE SET
    state = 'retry_scheduled',
    retry_count = checkpoints.retry_count + 1,
    malformed_count = checkpoints.malformed_count + excluded.malformed_count,
    prompt_tokens = checkpoints.prompt_tokens + excluded.prompt_tokens,
    completion_tokens = checkpoints.completion_tokens + excluded.completion_tokens,
    cost_usd = checkpoints.cost_usd + excluded.cost_usd,
    last_error = excluded.last_error,
    last_error_kind = excluded.last_error_kind,
    next_attempt_at = excluded.next_attempt_at,
    run_id = COALESCE(excluded.run_id, checkpoints.run_id),
    updated_at = excluded.updated_at
WHERE checkpoints.state = 'in_flight'`
		args = []any{id, malformed, summary, nullableString(string(failure.Kind)),
			failure.Usage.PromptTokens, failure.Usage.CompletionTokens, failure.CostUSD,
			nullableTime(failure.RetryAt), l.currentRun(), now, now}
	} else {
		query = `INSERT INTO checkpoints (record_id, state, malformed_count, last_error, last_error_kind,
    prompt_tokens, completion_tokens, cost_usd, next_attempt_at, run_id, created_at, updated_at)
VALUES (?, 'permanent_failure', ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
ON CONFLICT(record_id) DO UPDATE SET
    state = 'permanent_failure',
    malformed_count = checkpoints.malformed_count + excluded.malformed_count,
    prompt_tokens = checkpoints.prompt_tokens + excluded.prompt_tokens,
    completion_tokens = checkpoints.completion_tokens + excluded.completion_tokens,
    cost_usd = checkpoints.cost_usd + excluded.cost_usd,
    last_error = excluded.last_error,
    last_error_kind = excluded.last_error_kind,
    next_attempt_at = NULL,
    run_id = COALESCE(excluded.run_id, checkpoints.run_id),
    updated_at = excluded.updated_at
WHERE ` + terminalPredicate
		args = []any{id, malformed, summary, nullableString(string(failure.Kind)),
			failure.Usage.PromptTokens, failure.Usage.CompletionTokens, failure.CostUSD,
			l.currentRun(), now, now}
	}

	changed, err := l.changed(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("commit failure %s: %w", id, err)
	}
	return changed, nil
}

// ResetInFlight returns rows left in_flight or retry_scheduled by an earlier
// process to pending. Only the process holding the ledger lock may call it.
func (l *Ledger) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := l.execWithRetry(ctx,
		`UPDATE checkpoints SET state = 'pending', next_attempt_at = NULL, updated_at = ?
WHERE state IN ('in_flight', 'retry_scheduled')`,
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight checkpoints: %w", err)
	}
	return res.RowsAffected()
}

// Scan streams checkpoints matching filter in record_id order.
func (l *Ledger) Scan(ctx context.Context, filter Filter, fn func(Checkpoint) error) error {
	ctx = ensureContext(ctx)
	builder := sq.Select(checkpointColumns).From("checkpoints").OrderBy("record_id")
	if len(filter.States) > 0 {
		builder = builder.Where(sq.Eq{"state": stateStrings(filter.States)})
	}
	if len(filter.Labels) > 0 {
		builder = builder.Where(sq.Eq{"label": labelStrings(filter.Labels)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build checkpoint scan: %w", err)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scan checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return err
		}
		if err := fn(*cp); err != nil {
			return err
		}
	}
	return rows.Err()
}

const maxErrorSummary = 500

func truncateError(summary string) string {
	summary = strings.TrimSpace(summary)
	runes := []rune(summary)
	if len(runes) <= maxErrorSummary {
		return summary
	}
	return string(runes[:maxErrorSummary])
}
