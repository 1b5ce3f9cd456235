package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookConfig holds webhook notifier configuration
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookNotifier POSTs events as JSON. The payload carries a "text" field so
// Slack incoming webhooks render it directly.
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
}

type webhookPayload struct {
	Text  string `json:"text"`
	Event Event  `json:"event"`
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Notify implements Notifier
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(webhookPayload{Text: event.Summary(), Event: event})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return nil
}
