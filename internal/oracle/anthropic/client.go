// Package anthropic implements oracle.Client with Anthropic's Messages API
// through llmkit.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	llmerrors "github.com/aktagon/llmkit/errors"

	"papersift/internal/oracle"
	"papersift/internal/services"
)

// judgmentSchema is the structured output definition llmkit validates and
// appends to the user prompt. llmkit requires the name, description and
// strict wrapper around the JSON Schema itself.
const judgmentSchema = `{
  "name": "paper_judgment",
  "description": "Relevance judgment for one scientific paper",
  "strict": true,
  "schema": {
    "type": "object",
    "properties": {
      "type": {"type": "string"},
      "reasoning": {"type": "string"},
      "result": {"type": "string", "enum": ["valid", "doubted", "not_valid"]},
      "confidence_score": {"type": "number"},
      "theory": {"type": ["string", "null"]}
    },
    "required": ["reasoning", "result", "confidence_score"],
    "additionalProperties": false
  }
}`

// Config captures the settings for the Anthropic adapter.
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// completion is the part of a Messages response the adapter uses.
type completion struct {
	Text  string
	Model string
	Usage oracle.Usage
}

// promptFunc sends one request and returns the first text block together
// with the usage the provider billed.
type promptFunc func(systemPrompt, userPrompt, schema string, settings types.RequestSettings) (completion, error)

func llmkitPrompt(apiKey string) promptFunc {
	return func(systemPrompt, userPrompt, schema string, settings types.RequestSettings) (completion, error) {
		response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, schema, apiKey, settings)
		if err != nil {
			return completion{}, err
		}
		out := completion{
			Model: response.Model,
			Usage: oracle.Usage{
				PromptTokens:     response.Usage.InputTokens,
				CompletionTokens: response.Usage.OutputTokens,
			},
		}
		for _, block := range response.Content {
			if block.Type == "text" || block.Type == "" {
				out.Text = block.Text
				break
			}
		}
		return out, nil
	}
}

// Client classifies records with Claude models.
type Client struct {
	cfg    Config
	prompt promptFunc
	now    func() time.Time
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = oracle.DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{cfg: cfg, prompt: llmkitPrompt(cfg.APIKey), now: time.Now}
}

type reply struct {
	out completion
	err error
}

// Classify sends one Messages request. llmkit calls are not context aware,
// so ctx cancellation abandons the in-flight request and its reply is dropped.
func (c *Client) Classify(ctx context.Context, req oracle.Request) (oracle.Result, error) {
	if req.Empty() {
		return oracle.Result{}, oracle.NewError(oracle.KindPermanent, "record has no title or abstract", nil)
	}
	if c.cfg.APIKey == "" {
		return oracle.Result{}, services.Infrastructure("oracle", "classify", errors.New("api key required"))
	}
	settings := types.RequestSettings{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	done := make(chan reply, 1)
	go func() {
		out, err := c.prompt(c.cfg.SystemPrompt, req.Text(), judgmentSchema, settings)
		done <- reply{out: out, err: err}
	}()

	var got reply
	select {
	case <-ctx.Done():
		return oracle.Result{}, oracle.NewError(oracle.KindTransient, "request abandoned", ctx.Err())
	case got = <-done:
	}
	if got.err != nil {
		return oracle.Result{}, classifyError(got.err)
	}
	usage := got.out.Usage
	if strings.TrimSpace(got.out.Text) == "" {
		return oracle.Result{}, oracle.WithUsage(oracle.NewError(oracle.KindMalformed, "no content in response", nil), usage)
	}

	result, err := oracle.DecodeJudgment(got.out.Text)
	if err != nil {
		return oracle.Result{}, oracle.WithUsage(err, usage)
	}
	result.Usage = usage
	result.Model = c.cfg.Model
	if got.out.Model != "" {
		result.Model = got.out.Model
	}
	result.CompletedAt = c.now().UTC()
	return result, nil
}

// classifyError maps llmkit failures onto the taxonomy. API errors carry the
// HTTP status; request building problems are configuration faults that would
// fail every record.
func classifyError(err error) error {
	var apiErr *llmerrors.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr)
	}
	var schemaErr *llmerrors.SchemaError
	var validationErr *llmerrors.ValidationError
	if errors.As(err, &schemaErr) || errors.As(err, &validationErr) {
		return services.Wrap(services.ErrInfrastructure, "oracle", "build request", "anthropic request rejected before sending", err)
	}
	var requestErr *llmerrors.RequestError
	if errors.As(err, &requestErr) {
		return oracle.NewError(oracle.KindTransient, "anthropic request failed", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "failed to parse api response"):
		return oracle.NewError(oracle.KindMalformed, "decode response", err)
	default:
		return oracle.NewError(oracle.KindTransient, fmt.Sprintf("anthropic: %s", oracle.Snippet(err.Error())), err)
	}
}

func statusError(apiErr *llmerrors.APIError) error {
	message := fmt.Sprintf("http %d: %s", apiErr.StatusCode, oracle.Snippet(strings.TrimSpace(apiErr.Message)))
	switch code := apiErr.StatusCode; {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return services.Infrastructure("oracle", "authenticate", errors.New(message))
	case code == http.StatusTooManyRequests:
		return oracle.NewError(oracle.KindRateLimited, message, nil)
	case code == http.StatusRequestTimeout, code >= http.StatusInternalServerError:
		return oracle.NewError(oracle.KindTransient, message, nil)
	default:
		return oracle.NewError(oracle.KindPermanent, message, nil)
	}
}
