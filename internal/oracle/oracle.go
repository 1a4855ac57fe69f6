package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Label is one of the closed set of judgments an oracle may return.
type Label string

const (
	LabelValid    Label = "valid"
	LabelDoubted  Label = "doubted"
	LabelNotValid Label = "not_valid"
)

// Labels lists every accepted label in display order.
var Labels = []Label{LabelValid, LabelDoubted, LabelNotValid}

// ParseLabel normalizes casing and separators ("Not Valid", "not-valid").
func ParseLabel(value string) (Label, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch Label(normalized) {
	case LabelValid, LabelDoubted, LabelNotValid:
		return Label(normalized), true
	}
	return "", false
}

const (
	MinConfidence = 0
	MaxConfidence = 10
	// MaxReasoningRunes bounds the persisted reasoning text.
	MaxReasoningRunes = 2000
)

// Request is the per-attempt classification input derived from a record.
type Request struct {
	RecordID string
	Title    string
	Abstract string
}

// Text renders the user message sent to a model: "title: abstract".
func (r Request) Text() string {
	title := strings.TrimSpace(r.Title)
	abstract := strings.TrimSpace(r.Abstract)
	switch {
	case abstract == "":
		return title
	case title == "":
		return abstract
	default:
		return title + ": " + abstract
	}
}

// Empty reports whether the request carries no classifiable text.
func (r Request) Empty() bool {
	return strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Abstract) == ""
}

// Usage captures token accounting for one oracle call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Result is a structured judgment. It is immutable once committed to the ledger.
type Result struct {
	Label       Label     `json:"label"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning,omitempty"`
	PaperType   string    `json:"paper_type,omitempty"`
	Theory      string    `json:"theory,omitempty"`
	Usage       Usage     `json:"usage"`
	CostUSD     float64   `json:"cost_usd"`
	Model       string    `json:"model,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Client classifies one request. Implementations return *Error for failures
// they can classify; any other error is treated as transient.
type Client interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// ClientFunc adapts a function into a Client.
type ClientFunc func(ctx context.Context, req Request) (Result, error)

// Classify implements Client.
func (f ClientFunc) Classify(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Validate checks the structural contract of a result. Failures are reported
// as KindMalformed errors.
func Validate(result Result) error {
	if _, ok := ParseLabel(string(result.Label)); !ok {
		return NewError(KindMalformed, fmt.Sprintf("label %q outside the accepted set", result.Label), nil)
	}
	if math.IsNaN(result.Confidence) || result.Confidence < MinConfidence || result.Confidence > MaxConfidence {
		return NewError(KindMalformed, fmt.Sprintf("confidence %v outside [%d,%d]", result.Confidence, MinConfidence, MaxConfidence), nil)
	}
	if result.Usage.PromptTokens < 0 || result.Usage.CompletionTokens < 0 {
		return NewError(KindMalformed, "negative token usage", nil)
	}
	return nil
}

// Normalize canonicalizes the label and bounds free text. Call after Validate.
func Normalize(result Result) Result {
	if label, ok := ParseLabel(string(result.Label)); ok {
		result.Label = label
	}
	result.Reasoning = truncateRunes(strings.TrimSpace(result.Reasoning), MaxReasoningRunes)
	result.PaperType = strings.ToLower(strings.TrimSpace(result.PaperType))
	result.Theory = strings.TrimSpace(result.Theory)
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	return result
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
