package testsupport

import (
	"context"
	"sync"
	"time"

	"papersift/internal/oracle"
)

// Step is one scripted oracle response. A zero Step returns ValidResult.
type Step struct {
	Result *oracle.Result
	Err    error
	// Delay holds the call open; cancellation of the call context ends it early
	// with the context error.
	Delay time.Duration
}

// Fail returns a step that fails with an oracle error of kind.
func Fail(kind oracle.Kind, message string) Step {
	return Step{Err: oracle.NewError(kind, message, nil)}
}

// Succeed returns a step that answers with label.
func Succeed(label oracle.Label) Step {
	result := ValidResult(label)
	return Step{Result: &result}
}

// Hang returns a step that blocks until the call context ends.
func Hang() Step {
	return Step{Delay: time.Hour}
}

// ValidResult is a well-formed judgment with fixed token usage.
func ValidResult(label oracle.Label) oracle.Result {
	return oracle.Result{
		Label:      label,
		Confidence: 8,
		Reasoning:  "scripted",
		PaperType:  "original",
		Usage:      oracle.Usage{PromptTokens: 100, CompletionTokens: 20},
	}
}

// ScriptedOracle is an oracle.Client whose answers are scripted per record.
// Once a record's script is exhausted its last step repeats; records with no
// script use Default. It tracks call counts and concurrency.
type ScriptedOracle struct {
	// Default answers records without a script; the zero Step answers valid.
	Default Step
	// OnCall runs after each call is counted and before it is answered.
	OnCall func(req oracle.Request, call int)

	mu          sync.Mutex
	scripts     map[string][]Step
	calls       map[string]int
	active      map[string]int
	inFlight    int
	maxInFlight int
	duplicates  int
	total       int
}

// NewScriptedOracle returns an oracle that answers valid unless scripted.
func NewScriptedOracle() *ScriptedOracle {
	return &ScriptedOracle{
		scripts: make(map[string][]Step),
		calls:   make(map[string]int),
		active:  make(map[string]int),
	}
}

// Script sets the responses for id in call order.
func (o *ScriptedOracle) Script(id string, steps ...Step) *ScriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts[id] = steps
	return o
}

// Classify implements oracle.Client.
func (o *ScriptedOracle) Classify(ctx context.Context, req oracle.Request) (oracle.Result, error) {
	o.mu.Lock()
	o.calls[req.RecordID]++
	o.total++
	call := o.calls[req.RecordID]
	if o.active[req.RecordID] > 0 {
		o.duplicates++
	}
	o.active[req.RecordID]++
	o.inFlight++
	o.maxInFlight = max(o.maxInFlight, o.inFlight)
	step := o.stepLocked(req.RecordID, call)
	hook := o.OnCall
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active[req.RecordID]--
		o.inFlight--
		o.mu.Unlock()
	}()

	if hook != nil {
		hook(req, call)
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return oracle.Result{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return oracle.Result{}, step.Err
	}
	if step.Result != nil {
		return *step.Result, nil
	}
	return ValidResult(oracle.LabelValid), nil
}

func (o *ScriptedOracle) stepLocked(id string, call int) Step {
	steps, ok := o.scripts[id]
	if !ok || len(steps) == 0 {
		return o.Default
	}
	if call > len(steps) {
		return steps[len(steps)-1]
	}
	return steps[call-1]
}

// Calls returns how many times id was classified.
func (o *ScriptedOracle) Calls(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[id]
}

// TotalCalls returns the number of Classify calls across all records.
func (o *ScriptedOracle) TotalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// MaxConcurrent returns the highest number of simultaneous calls observed.
func (o *ScriptedOracle) MaxConcurrent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxInFlight
}

// Duplicates returns how many calls started while the same record was
// already being classified.
func (o *ScriptedOracle) Duplicates() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duplicates
}

// InFlight returns the number of calls currently outstanding.
func (o *ScriptedOracle) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}
