package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"papersift/internal/oracle"
)

// CountByState returns checkpoint counts for every known state.
func (l *Ledger) CountByState(ctx context.Context) (map[State]int, error) {
	ctx = ensureContext(ctx)
	rows, err := l.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM checkpoints GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int, len(AllStates))
	for _, state := range AllStates {
		counts[state] = 0
	}
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

// Aggregate totals terminal checkpoints across every run. Token and cost
// sums also include what was billed for records not yet settled.
func (l *Ledger) Aggregate(ctx context.Context) (Totals, error) {
	ctx = ensureContext(ctx)
	rows, err := l.db.QueryContext(ctx, `SELECT state, COALESCE(label, ''), COUNT(1),
    COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(cost_usd), 0)
FROM checkpoints
GROUP BY state, label`)
	if err != nil {
		return Totals{}, fmt.Errorf("aggregate checkpoints: %w", err)
	}
	defer rows.Close()

	totals := Totals{ByLabel: make(map[oracle.Label]int, len(oracle.Labels))}
	for _, label := range oracle.Labels {
		totals.ByLabel[label] = 0
	}
	for rows.Next() {
		var (
			state      State
			label      string
			count      int
			prompt     int64
			completion int64
			cost       float64
		)
		if err := rows.Scan(&state, &label, &count, &prompt, &completion, &cost); err != nil {
			return Totals{}, err
		}
		switch state {
		case StateSucceeded:
			totals.Succeeded += count
			if label != "" {
				totals.ByLabel[oracle.Label(label)] += count
			}
		case StateFailed:
			totals.Failed += count
		}
		totals.PromptTokens += prompt
		totals.CompletionTokens += completion
		totals.CostUSD += cost
	}
	return totals, rows.Err()
}

var expectedCheckpointColumns = strings.Split(strings.ReplaceAll(checkpointColumns, " ", ""), ",")

// CheckHealth returns diagnostic information about the ledger database.
func (l *Ledger) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: l.path}
	if l.path == "" {
		return health, errors.New("ledger database path is unknown")
	}

	info, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat ledger database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("ledger database path %q is a directory", l.path)
	}
	health.DatabaseExists = true

	if l.db == nil {
		return health, errors.New("ledger database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := l.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping ledger database: %w", err)
	}
	health.DatabaseReadable = true

	if err := l.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	colsRows, err := l.db.QueryContext(connCtx, "PRAGMA table_info(checkpoints)")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("table info: %w", err)
	}
	present := make(map[string]struct{})
	for colsRows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := colsRows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			colsRows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table info: %w", err)
		}
		present[name] = struct{}{}
	}
	if err := colsRows.Err(); err != nil {
		colsRows.Close()
		health.Error = err.Error()
		return health, fmt.Errorf("iterate table info: %w", err)
	}
	colsRows.Close()
	for _, col := range expectedCheckpointColumns {
		if _, ok := present[col]; !ok {
			health.MissingColumns = append(health.MissingColumns, col)
		}
	}

	if len(present) > 0 {
		if err := l.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM checkpoints").Scan(&health.TotalCheckpoints); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count checkpoints: %w", err)
		}
	}

	var integrityResult string
	if err := l.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
