package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"papersift/internal/config"
)

const userAgent = "papersift/0.1.0"

// RunSummary carries the figures reported when a run ends.
type RunSummary struct {
	RunID     int64
	Succeeded int
	Failed    int
	Retries   int
	Pending   int64
	CostUSD   float64
	Duration  time.Duration
	Status    string
}

// Service defines the notification surface exposed to the pipeline.
type Service interface {
	NotifyRunStarted(ctx context.Context, runID int64, pending int64, workers int) error
	NotifyRunFinished(ctx context.Context, summary RunSummary) error
	NotifyRunHalted(ctx context.Context, runID int64, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		started:  cfg.Notifications.RunStarted,
		finished: cfg.Notifications.RunFinished,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	started  bool
	finished bool
	errors   bool
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, runID int64, pending int64, workers int) error {
	if !n.started {
		return nil
	}
	data := payload{
		title:   "papersift - Run Started",
		message: fmt.Sprintf("Run %d started: %d records pending, %d workers", runID, pending, workers),
		tags:    []string{"papersift", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFinished(ctx context.Context, summary RunSummary) error {
	if !n.finished {
		return nil
	}
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "papersift - Run Complete"
	if summary.Failed > 0 {
		title = "papersift - Run Complete (with failures)"
	}
	if summary.Status != "" && summary.Status != "completed" {
		title = fmt.Sprintf("papersift - Run %s", strings.ToUpper(summary.Status[:1])+summary.Status[1:])
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Run %d: %d classified, %d failed in %s", summary.RunID, summary.Succeeded, summary.Failed, duration)
	if summary.Retries > 0 {
		fmt.Fprintf(&builder, "\nRetries: %d", summary.Retries)
	}
	if summary.Pending > 0 {
		fmt.Fprintf(&builder, "\nStill pending: %d", summary.Pending)
	}
	fmt.Fprintf(&builder, "\nCost: $%.4f", summary.CostUSD)

	data := payload{
		title:   title,
		message: builder.String(),
		tags:    []string{"papersift", "run", "finished"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunHalted(ctx context.Context, runID int64, err error) error {
	if !n.errors {
		return nil
	}
	reason := "unknown"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "papersift - Run Halted",
		message:  fmt.Sprintf("Run %d halted: %s", runID, reason),
		tags:     []string{"papersift", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "papersift - Test",
		message:  "Notification system test",
		tags:     []string{"papersift", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, int64, int64, int) error { return nil }
func (noopService) NotifyRunFinished(context.Context, RunSummary) error       { return nil }
func (noopService) NotifyRunHalted(context.Context, int64, error) error       { return nil }
func (noopService) TestNotification(context.Context) error                    { return nil }
