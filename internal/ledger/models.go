package ledger

import (
	"time"

	"papersift/internal/oracle"
)

// State is the persisted processing state of one record.
type State string

const (
	StatePending        State = "pending"
	StateInFlight       State = "in_flight"
	StateRetryScheduled State = "retry_scheduled"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "permanent_failure"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StatePending,
	StateInFlight,
	StateRetryScheduled,
	StateSucceeded,
	StateFailed,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(AllStates))
	for _, state := range AllStates {
		set[state] = struct{}{}
	}
	return set
}()

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Known reports whether s is a recognised state.
func (s State) Known() bool {
	_, ok := stateSet[s]
	return ok
}

// Checkpoint is the persisted row for one record identifier.
type Checkpoint struct {
	RecordID       string
	State          State
	Result         *oracle.Result
	RetryCount     int
	MalformedCount int
	LastError      string
	LastErrorKind  oracle.Kind
	LastAttemptAt  *time.Time
	NextAttemptAt  *time.Time
	RunID          int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Outcome describes the result of a MarkInFlight claim.
type Outcome int

const (
	// Acquired means the caller owns the attempt.
	Acquired Outcome = iota
	// AlreadyInFlight means another attempt holds the record.
	AlreadyInFlight
	// AlreadySettled means the record has a terminal checkpoint.
	AlreadySettled
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyInFlight:
		return "already_in_flight"
	case AlreadySettled:
		return "already_settled"
	default:
		return "unknown"
	}
}

// Claim is returned by MarkInFlight and carries prior attempt history so
// retry caps hold across restarts.
type Claim struct {
	Outcome        Outcome
	RetryCount     int
	MalformedCount int
}

// Attempt returns the 1-based number of the attempt the claim authorizes.
func (c Claim) Attempt() int {
	return c.RetryCount + 1
}

// Failure describes a failed attempt handed to CommitFailure.
type Failure struct {
	Summary   string
	Kind      oracle.Kind
	Retryable bool
	// RetryAt is when a retryable failure becomes due again.
	RetryAt time.Time
	// Usage and CostUSD are what the provider billed for the failed call.
	Usage   oracle.Usage
	CostUSD float64
}

// Totals aggregates terminal checkpoints.
type Totals struct {
	Succeeded        int
	Failed           int
	ByLabel          map[oracle.Label]int
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
}

// Settled returns the number of terminal checkpoints.
func (t Totals) Settled() int {
	return t.Succeeded + t.Failed
}

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunForced      RunStatus = "forced"
	RunFailed      RunStatus = "failed"
)

// Run is one recorded invocation of the pipeline.
type Run struct {
	ID               int64
	StartedAt        time.Time
	EndedAt          *time.Time
	Status           RunStatus
	Concurrency      int
	RecordLimit      int
	TotalRecords     int
	Succeeded        int
	Failed           int
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	Model            string
	SnapshotJSON     string
}

// RunTally is the per-run progress written by UpdateRun and FinishRun.
type RunTally struct {
	TotalRecords     int
	Succeeded        int
	Failed           int
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	SnapshotJSON     string
}

// Filter selects checkpoints for Scan. Empty fields match everything.
type Filter struct {
	States []State
	Labels []oracle.Label
}

// DatabaseHealth captures diagnostic information about the ledger database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingColumns   []string
	IntegrityCheck   bool
	TotalCheckpoints int
	Error            string
}
