package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookAlerter posts alerts as JSON to an incoming-webhook URL. The payload
// uses the {"text": ...} shape accepted by Slack-compatible and Discord
// webhook endpoints.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter creates a WebhookAlerter for the given webhook URL.
func NewWebhookAlerter(url string, timeout time.Duration) *WebhookAlerter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookAlerter) Alert(ctx context.Context, subject, detail string) error {
	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", subject, detail),
	})
	if err != nil {
		return fmt.Errorf("notify.WebhookAlerter.Alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify.WebhookAlerter.Alert: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify.WebhookAlerter.Alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify.WebhookAlerter.Alert: webhook returned %d", resp.StatusCode)
	}

	return nil
}
