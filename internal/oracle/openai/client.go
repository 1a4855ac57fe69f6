package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"papersift/internal/oracle"
	"papersift/internal/services"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 512
)

// Config captures the runtime settings required to talk to the endpoint.
type Config struct {
	// Provider is "openai" (any compatible endpoint) or "azure".
	Provider       string
	APIKey         string
	BaseURL        string
	APIVersion     string
	Model          string
	Referer        string
	Title          string
	Temperature    float64
	MaxTokens      int
	TimeoutSeconds int
	SystemPrompt   string
}

// Client classifies records with chat completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		// The dispatcher enforces the per-call deadline; this only bounds
		// requests issued without one.
		timeout = time.Duration(cfg.TimeoutSeconds)*time.Second + 5*time.Second
	}
	client := &Client{
		cfg: Config{
			Provider:       strings.ToLower(strings.TrimSpace(cfg.Provider)),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIVersion:     strings.TrimSpace(cfg.APIVersion),
			Model:          strings.TrimSpace(cfg.Model),
			Referer:        strings.TrimSpace(cfg.Referer),
			Title:          strings.TrimSpace(cfg.Title),
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			TimeoutSeconds: cfg.TimeoutSeconds,
			SystemPrompt:   strings.TrimSpace(cfg.SystemPrompt),
		},
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.Provider == "" {
		client.cfg.Provider = "openai"
	}
	if client.cfg.BaseURL == "" && client.cfg.Provider == "openai" {
		client.cfg.BaseURL = "https://api.openai.com/v1/chat/completions"
	}
	if client.cfg.SystemPrompt == "" {
		client.cfg.SystemPrompt = oracle.DefaultSystemPrompt
	}
	return client
}

type chatCompletionRequest struct {
	Model          string            `json:"model,omitempty"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema even when stream=false.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error"`
}

type chatCompletionMessage struct {
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls"`
	Refusal   string     `json:"refusal"`
}

type toolCall struct {
	Function struct {
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (e *apiError) code() string {
	if e == nil || e.Code == nil {
		return ""
	}
	return strings.ToLower(fmt.Sprint(e.Code))
}

// Classify issues one chat completion for req and decodes the judgment.
func (c *Client) Classify(ctx context.Context, req oracle.Request) (oracle.Result, error) {
	if req.Empty() {
		return oracle.Result{}, oracle.NewError(oracle.KindPermanent, "record has no title or abstract", nil)
	}
	if c.cfg.APIKey == "" {
		return oracle.Result{}, services.Infrastructure("oracle", "classify", errors.New("api key required"))
	}
	payload := c.payload(c.cfg.SystemPrompt, req.Text())
	completion, body, err := c.send(ctx, payload)
	if err != nil {
		return oracle.Result{}, err
	}
	var usage oracle.Usage
	if completion.Usage != nil {
		usage = oracle.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		}
	}
	content := extractContent(completion)
	if content == "" {
		refusal := extractRefusal(completion)
		if refusal != "" {
			return oracle.Result{}, oracle.WithUsage(oracle.NewError(oracle.KindMalformed, "model refused: "+oracle.Snippet(refusal), nil), usage)
		}
		return oracle.Result{}, oracle.WithUsage(oracle.NewError(oracle.KindMalformed,
			"empty completion content (response_snippet="+oracle.Snippet(string(body))+")", nil), usage)
	}

	result, err := oracle.DecodeJudgment(content)
	if err != nil {
		return oracle.Result{}, oracle.WithUsage(err, usage)
	}
	result.Usage = usage
	result.Model = firstNonEmpty(completion.Model, c.cfg.Model)
	result.CompletedAt = c.now().UTC()
	return result, nil
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("oracle health: api key required")
	}
	payload := c.payload("You must respond with JSON only.", `Respond with {"ok":true}`)
	payload.MaxTokens = 16
	completion, _, err := c.send(ctx, payload)
	if err != nil {
		return fmt.Errorf("oracle health: %w", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := oracle.DecodeJSON(extractContent(completion), &parsed); err != nil {
		return fmt.Errorf("oracle health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("oracle health: unexpected response")
	}
	return nil
}

func (c *Client) payload(systemPrompt, userPrompt string) chatCompletionRequest {
	payload := chatCompletionRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	if c.cfg.Provider != "azure" {
		payload.Model = c.cfg.Model
	}
	return payload
}

func (c *Client) endpoint() (string, error) {
	if c.cfg.Provider != "azure" {
		return url.JoinPath(c.cfg.BaseURL, "")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "openai", "deployments", c.cfg.Model, "chat", "completions")
	if err != nil {
		return "", err
	}
	return endpoint + "?api-version=" + url.QueryEscape(c.cfg.APIVersion), nil
}

func (c *Client) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, []byte, error) {
	var completion chatCompletionResponse
	endpoint, err := c.endpoint()
	if err != nil {
		return completion, nil, services.Wrap(services.ErrConfiguration, "oracle", "build url", "", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, nil, fmt.Errorf("oracle request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return completion, nil, fmt.Errorf("oracle request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Provider == "azure" {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, nil, oracle.NewError(oracle.KindTransient, "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, nil, oracle.NewError(oracle.KindTransient, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return completion, body, statusError(resp, body)
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, body, oracle.NewError(oracle.KindMalformed,
			"decode response (snippet="+oracle.Snippet(string(body))+")", err)
	}
	if completion.Error != nil {
		return completion, body, oracle.NewError(oracle.KindTransient, "api error: "+strings.TrimSpace(completion.Error.Message), nil)
	}
	return completion, body, nil
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(resp *http.Response, body []byte) error {
	var envelope struct {
		Error *apiError `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	message := fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), maxErrorBody))
	code := envelope.Error.code()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return services.Infrastructure("oracle", "authenticate", errors.New(message))
	case code == "insufficient_quota":
		return services.Infrastructure("oracle", "quota", errors.New(message))
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &oracle.Error{Kind: oracle.KindRateLimited, Message: message, RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= http.StatusInternalServerError:
		return oracle.NewError(oracle.KindTransient, message, nil)
	default:
		return oracle.NewError(oracle.KindPermanent, message, nil)
	}
}

func extractContent(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content
		}
		for _, call := range append(choice.Message.ToolCalls, choice.Delta.ToolCalls...) {
			if args := strings.TrimSpace(call.Function.Arguments); args != "" {
				return args
			}
		}
	}
	return ""
}

func extractRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
