package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aktagon/llmkit/anthropic/types"
	llmerrors "github.com/aktagon/llmkit/errors"

	"papersift/internal/oracle"
	"papersift/internal/services"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// useTransport routes llmkit's HTTP client, which builds on
// http.DefaultTransport, through rt for the duration of the test.
func useTransport(t *testing.T, rt http.RoundTripper) {
	t.Helper()
	previous := http.DefaultTransport
	http.DefaultTransport = rt
	t.Cleanup(func() { http.DefaultTransport = previous })
}

func respond(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func messagesBody(t *testing.T, text string) string {
	t.Helper()
	payload := map[string]any{
		"id":    "msg_01",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-3-5-haiku-20241022",
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 321, "output_tokens": 45},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return string(data)
}

func stubPrompt(out completion, err error) promptFunc {
	return func(systemPrompt, userPrompt, schema string, settings types.RequestSettings) (completion, error) {
		if err != nil {
			return completion{}, err
		}
		if schema == "" || settings.Model == "" {
			return completion{}, errors.New("expected schema and model")
		}
		return out, nil
	}
}

func newTestClient(prompt promptFunc) *Client {
	client := NewClient(Config{APIKey: "test", Model: "claude-3-5-haiku-latest"})
	client.prompt = prompt
	return client
}

var request = oracle.Request{RecordID: "10.1/a", Title: "Senolytics", Abstract: "Clearing senescent cells."}

func TestClassifySendsWrappedSchemaThroughLlmkit(t *testing.T) {
	var sent struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    string `json:"system"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	useTransport(t, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Host != "api.anthropic.com" || r.Header.Get("x-api-key") != "test" {
			t.Errorf("unexpected request %s with key %q", r.URL, r.Header.Get("x-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode request: %v", err)
		}
		return respond(r, http.StatusOK, messagesBody(t,
			`{"type":"review","reasoning":"Covers senolytics","result":"doubted","confidence_score":6}`)), nil
	}))

	client := NewClient(Config{APIKey: "test", Model: "claude-3-5-haiku-latest", MaxTokens: 512})
	result, err := client.Classify(context.Background(), request)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if result.Label != oracle.LabelDoubted || result.Confidence != 6 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Usage.PromptTokens != 321 || result.Usage.CompletionTokens != 45 {
		t.Fatalf("expected billed usage, got %+v", result.Usage)
	}
	if result.Model != "claude-3-5-haiku-20241022" || result.CompletedAt.IsZero() {
		t.Fatalf("unexpected metadata: %+v", result)
	}
	if sent.Model != "claude-3-5-haiku-latest" || sent.MaxTokens != 512 || sent.System == "" {
		t.Fatalf("unexpected request payload: %+v", sent)
	}
	if len(sent.Messages) != 1 || !strings.Contains(sent.Messages[0].Content, `"name": "paper_judgment"`) {
		t.Fatalf("expected schema instructions in user message, got %+v", sent.Messages)
	}
	if !strings.Contains(sent.Messages[0].Content, "Senolytics: ") {
		t.Fatalf("expected record text in user message, got %q", sent.Messages[0].Content)
	}
}

func TestClassifyMapsAPIStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   oracle.Kind
		infra  bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error"}}`, oracle.KindRateLimited, false},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error"}}`, oracle.KindTransient, false},
		{"server error", http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error"}}`, oracle.KindTransient, false},
		{
			"bad request mentioning 5000", http.StatusBadRequest,
			`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens: 5000 > 4096"}}`,
			oracle.KindPermanent, false,
		},
		{"unauthorized", http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error"}}`, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			useTransport(t, roundTripFunc(func(r *http.Request) (*http.Response, error) {
				return respond(r, tc.status, tc.body), nil
			}))
			_, err := NewClient(Config{APIKey: "test", Model: "claude"}).Classify(context.Background(), request)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.infra {
				if !services.IsInfrastructure(err) {
					t.Fatalf("expected infrastructure error, got %v", err)
				}
				return
			}
			if kind := oracle.KindOf(err); kind != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, kind, err)
			}
		})
	}
}

func TestClassifyErrorWithoutStatus(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  oracle.Kind
		infra bool
	}{
		{"typed status", &llmerrors.APIError{Provider: "Anthropic", StatusCode: 400, Message: "max_tokens: 5000 > 4096"}, oracle.KindPermanent, false},
		{"network", &llmerrors.RequestError{Operation: "sending request", Err: errors.New("connection refused")}, oracle.KindTransient, false},
		{"bad body", errors.New("failed to parse API response: unexpected end of JSON input"), oracle.KindMalformed, false},
		{"schema", &llmerrors.SchemaError{Field: "name", Message: "required field missing"}, "", true},
		{"unknown", errors.New("something odd"), oracle.KindTransient, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestClient(stubPrompt(completion{}, tc.err)).Classify(context.Background(), request)
			if tc.infra {
				if !services.IsInfrastructure(err) {
					t.Fatalf("expected infrastructure error, got %v", err)
				}
				return
			}
			if kind := oracle.KindOf(err); kind != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, kind, err)
			}
		})
	}
}

func TestClassifyMalformedKeepsBilledUsage(t *testing.T) {
	usage := oracle.Usage{PromptTokens: 80, CompletionTokens: 12}
	for name, text := range map[string]string{"empty": "  ", "prose": "It depends on the reader."} {
		t.Run(name, func(t *testing.T) {
			_, err := newTestClient(stubPrompt(completion{Text: text, Usage: usage}, nil)).Classify(context.Background(), request)
			if oracle.KindOf(err) != oracle.KindMalformed {
				t.Fatalf("expected malformed, got %v", err)
			}
			if got := oracle.UsageOf(err); got != usage {
				t.Fatalf("expected usage %+v on error, got %+v", usage, got)
			}
		})
	}
}

func TestClassifyAbandonsOnDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	client := newTestClient(func(string, string, string, types.RequestSettings) (completion, error) {
		<-release
		return completion{}, errors.New("late")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Classify(ctx, request)
	if !errors.Is(err, context.DeadlineExceeded) || oracle.KindOf(err) != oracle.KindTransient {
		t.Fatalf("expected transient deadline error, got %v", err)
	}
}
