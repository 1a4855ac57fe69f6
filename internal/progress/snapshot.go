package progress

import (
	"encoding/json"
	"math"
	"time"

	"papersift/internal/ledger"
	"papersift/internal/logging"
	"papersift/internal/oracle"
)

// Snapshot is a point-in-time view of pipeline progress. Completed and the
// label counts cover the whole ledger; SettledThisRun and Throughput cover the
// current run only.
type Snapshot struct {
	RunID              int64
	Completed          int
	Valid              int
	Doubted            int
	NotValid           int
	Failed             int
	Pending            int
	Total              int
	SettledThisRun     int64
	Throughput         float64 // records per second this run
	PromptTokens       int64
	CompletionTokens   int64
	CostUSD            float64
	Elapsed            time.Duration
	ETA                time.Duration
	AvgTokensPerRecord float64
	AvgCostPerRecord   float64
	ProjectedCostUSD   float64
	Timestamp          time.Time
}

// Input carries the values a snapshot is computed from.
type Input struct {
	RunID          int64
	Totals         ledger.Totals
	Total          int
	SettledThisRun int64
	Elapsed        time.Duration
	Now            time.Time
}

// Compute derives a snapshot. It never fails: missing rates leave ETA and
// projections at zero.
func Compute(in Input) Snapshot {
	snap := Snapshot{
		RunID:            in.RunID,
		Completed:        in.Totals.Settled(),
		Valid:            in.Totals.ByLabel[oracle.LabelValid],
		Doubted:          in.Totals.ByLabel[oracle.LabelDoubted],
		NotValid:         in.Totals.ByLabel[oracle.LabelNotValid],
		Failed:           in.Totals.Failed,
		Total:            in.Total,
		SettledThisRun:   in.SettledThisRun,
		PromptTokens:     in.Totals.PromptTokens,
		CompletionTokens: in.Totals.CompletionTokens,
		CostUSD:          in.Totals.CostUSD,
		Elapsed:          in.Elapsed,
		Timestamp:        in.Now,
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	snap.Pending = max(snap.Total-snap.Completed, 0)

	if seconds := in.Elapsed.Seconds(); seconds > 0 {
		snap.Throughput = float64(in.SettledThisRun) / seconds
	}
	if snap.Throughput > 0 && snap.Pending > 0 {
		snap.ETA = time.Duration(float64(snap.Pending) * float64(in.Elapsed) / float64(in.SettledThisRun))
	}
	if snap.Completed > 0 {
		tokens := float64(snap.PromptTokens + snap.CompletionTokens)
		snap.AvgTokensPerRecord = tokens / float64(snap.Completed)
		snap.AvgCostPerRecord = snap.CostUSD / float64(snap.Completed)
		snap.ProjectedCostUSD = snap.CostUSD
		if snap.Total > snap.Completed {
			snap.ProjectedCostUSD = snap.CostUSD * float64(snap.Total) / float64(snap.Completed)
		}
	}
	return snap
}

// Percent returns Completed as a share of Total.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return 100 * float64(s.Completed) / float64(s.Total)
}

// PerMinute returns Throughput scaled to records per minute.
func (s Snapshot) PerMinute() float64 {
	return s.Throughput * 60
}

// Attrs renders the snapshot as structured log fields.
func (s Snapshot) Attrs() []logging.Attr {
	return []logging.Attr{
		logging.Int64(logging.FieldRunID, s.RunID),
		logging.Int("completed", s.Completed),
		logging.Int("total", s.Total),
		logging.Float64("percent", round(s.Percent(), 1)),
		logging.Int("valid", s.Valid),
		logging.Int("doubted", s.Doubted),
		logging.Int("not_valid", s.NotValid),
		logging.Int("failed", s.Failed),
		logging.Int64("settled_this_run", s.SettledThisRun),
		logging.Float64("per_second", round(s.Throughput, 3)),
		logging.Int64("tokens", s.PromptTokens+s.CompletionTokens),
		logging.Float64("cost_usd", round(s.CostUSD, 4)),
		logging.Duration("eta", s.ETA.Round(time.Second)),
	}
}

// document is the JSON layout of run snapshots and checkpoint files.
type document struct {
	RunID     int64     `json:"run_id"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
	Stats     stats     `json:"stats"`
}

type stats struct {
	Valid              int     `json:"valid"`
	Doubted            int     `json:"doubted"`
	NotValid           int     `json:"not_valid"`
	Failed             int     `json:"failed"`
	Pending            int     `json:"pending"`
	SettledThisRun     int64   `json:"settled_this_run"`
	ThroughputPerSec   float64 `json:"throughput_per_second"`
	PromptTokens       int64   `json:"prompt_tokens"`
	CompletionTokens   int64   `json:"completion_tokens"`
	CostUSD            float64 `json:"cost_usd"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
	ETASeconds         float64 `json:"eta_seconds"`
	AvgTokensPerRecord float64 `json:"avg_tokens_per_record"`
	AvgCostPerRecord   float64 `json:"avg_cost_per_record"`
	ProjectedCostUSD   float64 `json:"projected_cost_usd"`
}

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{
		RunID:     s.RunID,
		Processed: s.Completed,
		Total:     s.Total,
		Timestamp: s.Timestamp.UTC(),
		Stats: stats{
			Valid:              s.Valid,
			Doubted:            s.Doubted,
			NotValid:           s.NotValid,
			Failed:             s.Failed,
			Pending:            s.Pending,
			SettledThisRun:     s.SettledThisRun,
			ThroughputPerSec:   s.Throughput,
			PromptTokens:       s.PromptTokens,
			CompletionTokens:   s.CompletionTokens,
			CostUSD:            s.CostUSD,
			ElapsedSeconds:     s.Elapsed.Seconds(),
			ETASeconds:         s.ETA.Seconds(),
			AvgTokensPerRecord: s.AvgTokensPerRecord,
			AvgCostPerRecord:   s.AvgCostPerRecord,
			ProjectedCostUSD:   s.ProjectedCostUSD,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*s = Snapshot{
		RunID:              doc.RunID,
		Completed:          doc.Processed,
		Total:              doc.Total,
		Timestamp:          doc.Timestamp,
		Valid:              doc.Stats.Valid,
		Doubted:            doc.Stats.Doubted,
		NotValid:           doc.Stats.NotValid,
		Failed:             doc.Stats.Failed,
		Pending:            doc.Stats.Pending,
		SettledThisRun:     doc.Stats.SettledThisRun,
		Throughput:         doc.Stats.ThroughputPerSec,
		PromptTokens:       doc.Stats.PromptTokens,
		CompletionTokens:   doc.Stats.CompletionTokens,
		CostUSD:            doc.Stats.CostUSD,
		Elapsed:            time.Duration(doc.Stats.ElapsedSeconds * float64(time.Second)),
		ETA:                time.Duration(doc.Stats.ETASeconds * float64(time.Second)),
		AvgTokensPerRecord: doc.Stats.AvgTokensPerRecord,
		AvgCostPerRecord:   doc.Stats.AvgCostPerRecord,
		ProjectedCostUSD:   doc.Stats.ProjectedCostUSD,
	}
	return nil
}

func round(value float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(value*scale) / scale
}
