package ledger

import (
	"database/sql"
	"errors"
	"time"

	"papersift/internal/oracle"
)

const checkpointColumns = "record_id, state, label, confidence, reasoning, paper_type, theory, prompt_tokens, completion_tokens, cost_usd, model, completed_at, retry_count, malformed_count, last_error, last_error_kind, last_attempt_at, next_attempt_at, run_id, created_at, updated_at"

const runColumns = "id, started_at, ended_at, status, concurrency, record_limit, total_records, succeeded, failed, prompt_tokens, completion_tokens, cost_usd, model, snapshot_json"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(scanner rowScanner) (*Checkpoint, error) {
	var (
		recordID         string
		stateStr         string
		label            sql.NullString
		confidence       sql.NullFloat64
		reasoning        sql.NullString
		paperType        sql.NullString
		theory           sql.NullString
		promptTokens     int
		completionTokens int
		costUSD          float64
		model            sql.NullString
		completedRaw     sql.NullString
		retryCount       int
		malformedCount   int
		lastError        sql.NullString
		lastErrorKind    sql.NullString
		lastAttemptRaw   sql.NullString
		nextAttemptRaw   sql.NullString
		runID            sql.NullInt64
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&recordID,
		&stateStr,
		&label,
		&confidence,
		&reasoning,
		&paperType,
		&theory,
		&promptTokens,
		&completionTokens,
		&costUSD,
		&model,
		&completedRaw,
		&retryCount,
		&malformedCount,
		&lastError,
		&lastErrorKind,
		&lastAttemptRaw,
		&nextAttemptRaw,
		&runID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		RecordID:       recordID,
		State:          State(stateStr),
		RetryCount:     retryCount,
		MalformedCount: malformedCount,
		LastError:      lastError.String,
		LastErrorKind:  oracle.Kind(lastErrorKind.String),
		RunID:          runID.Int64,
		LastAttemptAt:  parseNullableTime(lastAttemptRaw),
		NextAttemptAt:  parseNullableTime(nextAttemptRaw),
	}
	if label.Valid {
		result := &oracle.Result{
			Label:      oracle.Label(label.String),
			Confidence: confidence.Float64,
			Reasoning:  reasoning.String,
			PaperType:  paperType.String,
			Theory:     theory.String,
			Usage: oracle.Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
			},
			CostUSD: costUSD,
			Model:   model.String,
		}
		if completed := parseNullableTime(completedRaw); completed != nil {
			result.CompletedAt = *completed
		}
		cp.Result = result
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		cp.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		cp.UpdatedAt = updated
	}
	return cp, nil
}

func scanRun(scanner rowScanner) (*Run, error) {
	var (
		run      Run
		started  string
		endedRaw sql.NullString
		status   string
		model    sql.NullString
		snapshot sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&started,
		&endedRaw,
		&status,
		&run.Concurrency,
		&run.RecordLimit,
		&run.TotalRecords,
		&run.Succeeded,
		&run.Failed,
		&run.PromptTokens,
		&run.CompletionTokens,
		&run.CostUSD,
		&model,
		&snapshot,
	); err != nil {
		return nil, err
	}
	if ts, err := parseTimeString(started); err == nil {
		run.StartedAt = ts
	}
	run.EndedAt = parseNullableTime(endedRaw)
	run.Status = RunStatus(status)
	run.Model = model.String
	run.SnapshotJSON = snapshot.String
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	ts, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &ts
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func stateStrings(states []State) []string {
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, string(state))
	}
	return out
}

func labelStrings(labels []oracle.Label) []string {
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		out = append(out, string(label))
	}
	return out
}
