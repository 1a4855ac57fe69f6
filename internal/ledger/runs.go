package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunStart describes a run as it begins.
type RunStart struct {
	Concurrency int
	RecordLimit int
	Model       string
}

// StartRun records a new running run and tags later writes with its id.
func (l *Ledger) StartRun(ctx context.Context, start RunStart) (int64, error) {
	res, err := l.execWithRetry(ctx,
		`INSERT INTO runs (started_at, status, concurrency, record_limit, model) VALUES (?, ?, ?, ?, ?)`,
		formatTime(time.Now()), string(RunRunning), start.Concurrency, start.RecordLimit, nullableString(start.Model),
	)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start run id: %w", err)
	}
	l.SetRunID(id)
	return id, nil
}

// UpdateRun stores the latest tally for a running run.
func (l *Ledger) UpdateRun(ctx context.Context, id int64, tally RunTally) error {
	err := l.execWithoutResultRetry(ctx,
		`UPDATE runs SET total_records = ?, succeeded = ?, failed = ?, prompt_tokens = ?,
    completion_tokens = ?, cost_usd = ?, snapshot_json = COALESCE(?, snapshot_json)
WHERE id = ?`,
		tally.TotalRecords, tally.Succeeded, tally.Failed, tally.PromptTokens,
		tally.CompletionTokens, tally.CostUSD, nullableString(tally.SnapshotJSON), id,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", id, err)
	}
	return nil
}

// FinishRun stores the final tally and status.
func (l *Ledger) FinishRun(ctx context.Context, id int64, status RunStatus, tally RunTally) error {
	if err := l.UpdateRun(ctx, id, tally); err != nil {
		return err
	}
	err := l.execWithoutResultRetry(ctx,
		`UPDATE runs SET status = ?, ended_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	return nil
}

// LatestRun returns the most recent run, or nil when none was recorded.
func (l *Ledger) LatestRun(ctx context.Context) (*Run, error) {
	ctx = ensureContext(ctx)
	row := l.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT 1")
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// Runs returns up to limit runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
