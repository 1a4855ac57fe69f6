package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// judgment is the JSON object a model is instructed to emit.
type judgment struct {
	Type        string          `json:"type"`
	Reasoning   string          `json:"reasoning"`
	Result      string          `json:"result"`
	Confidence  json.RawMessage `json:"confidence_score"`
	Theory      *string         `json:"theory"`
	AgingTheory *string         `json:"aging_theory"`
}

// DecodeJudgment parses model output into a Result. Code fences and leading
// prose are tolerated. Structural problems return KindMalformed errors.
func DecodeJudgment(content string) (Result, error) {
	var parsed judgment
	if err := DecodeJSON(content, &parsed); err != nil {
		return Result{}, NewError(KindMalformed, "decode judgment", err)
	}
	label, ok := ParseLabel(parsed.Result)
	if !ok {
		return Result{}, NewError(KindMalformed, fmt.Sprintf("unknown result %q", parsed.Result), nil)
	}
	confidence, err := parseConfidence(parsed.Confidence)
	if err != nil {
		return Result{}, NewError(KindMalformed, "confidence_score", err)
	}
	result := Result{
		Label:      label,
		Confidence: confidence,
		Reasoning:  parsed.Reasoning,
		PaperType:  parsed.Type,
	}
	switch {
	case parsed.Theory != nil:
		result.Theory = *parsed.Theory
	case parsed.AgingTheory != nil:
		result.Theory = *parsed.AgingTheory
	}
	if err := Validate(result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// Models occasionally quote numbers.
func parseConfidence(raw json.RawMessage) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, errors.New("missing")
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("unexpected value %s", trimmed)
	}
	return strconv.ParseFloat(strings.TrimSpace(text), 64)
}

// DecodeJSON decodes JSON from an LLM response, handling common formatting quirks.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, Snippet(trimmed))
	}

	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, Snippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" || trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// Snippet collapses whitespace and truncates content to 160 runes for error messages.
func Snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
