package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// SlackConfig contains configuration for Slack webhook alert delivery.
type SlackConfig struct {
	// Enabled indicates whether Slack delivery is enabled.
	Enabled bool

	// WebhookURL is the Slack Incoming Webhook URL (includes the
	// authentication token, so it must never appear in logs or errors).
	WebhookURL string

	// Timeout is the HTTP request timeout for webhook calls.
	// Default: 10 seconds
	Timeout time.Duration
}

// SlackSink delivers alert events to a Slack Incoming Webhook.
//
// Delivery is guarded two ways: a token bucket at 1 req/s with burst of 1
// (the Slack webhook limit), and a circuit breaker so a dead webhook stops
// consuming call-path latency after repeated failures.
type SlackSink struct {
	config     SlackConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// NewSlackSink creates a Slack sink with the specified configuration.
func NewSlackSink(config SlackConfig) *SlackSink {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "slack-alert-webhook",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("alert webhook circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &SlackSink{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(1.0), 1), // Slack webhook limit: 1 msg/s
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns "slack".
func (s *SlackSink) Name() string { return "slack" }

// slackPayload is the Block Kit payload sent to the webhook.
type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string            `json:"type"`
	Text     *slackTextObject  `json:"text,omitempty"`
	Elements []slackTextObject `json:"elements,omitempty"`
}

type slackTextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var levelEmoji = map[Level]string{
	LevelInfo:     ":information_source:",
	LevelWarning:  ":warning:",
	LevelCritical: ":rotating_light:",
}

func buildPayload(ev Event) slackPayload {
	fallback := fmt.Sprintf("[%s] %s: %s", ev.Level, ev.Source, ev.Message)

	sectionText := fmt.Sprintf("%s *%s*: %s", levelEmoji[ev.Level], ev.Source, ev.Message)
	for k, v := range ev.Metadata {
		sectionText += fmt.Sprintf("\n• %s: `%s`", k, v)
	}

	contextText := fmt.Sprintf("%s • %s", ev.ID, ev.OccurredAt.Format(time.RFC3339))

	return slackPayload{
		Text: fallback,
		Blocks: []slackBlock{
			{
				Type: "section",
				Text: &slackTextObject{Type: "mrkdwn", Text: sectionText},
			},
			{
				Type: "context",
				Elements: []slackTextObject{
					{Type: "mrkdwn", Text: contextText},
				},
			},
		},
	}
}

// Deliver posts the event to the webhook.
//
// Rate limiting is applied before the request; the circuit breaker wraps the
// request itself, so repeated webhook failures trip it and subsequent
// deliveries fail fast with gobreaker.ErrOpenState.
func (s *SlackSink) Deliver(ctx context.Context, ev Event) error {
	if !s.config.Enabled {
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.sendWebhookRequest(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("slack alert delivery failed: %w", err)
	}
	return nil
}

func (s *SlackSink) sendWebhookRequest(ctx context.Context, ev Event) error {
	jsonData, err := json.Marshal(buildPayload(ev))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// Do not echo the body wholesale: webhook error bodies can include the
	// request URL.
	return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
