package watch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// WebhookConfig configures JSON delivery to an HTTP endpoint.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"` // e.g. auth
	Timeout time.Duration     `json:"timeout"`
	// MinInterval spaces consecutive posts. Default 500ms.
	MinInterval time.Duration `json:"min_interval"`
}

// WebhookPayload is the body posted for one batch.
type WebhookPayload struct {
	EventType    string    `json:"event_type"` // transhipment_alert
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
	Count        int       `json:"count"`
	HighPriority int       `json:"high_priority"`
	Verdicts     []Verdict `json:"verdicts"`
}

type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 500 * time.Millisecond
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		headers: headers,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, verdicts []Verdict) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: webhook rate limit: %v", ErrNotificationFailure, err)
	}

	payload := WebhookPayload{
		EventType: "transhipment_alert",
		Source:    "transhipment-watch",
		Timestamp: time.Now().UTC(),
		Count:     len(verdicts),
		Verdicts:  verdicts,
	}
	for _, v := range verdicts {
		if v.Priority == PriorityHigh {
			payload.HighPriority++
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook: %v", ErrNotificationFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: webhook returned status %d", ErrNotificationFailure, resp.StatusCode)
	}
	return nil
}
