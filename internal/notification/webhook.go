package notification

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Send posts subject and body to the webhook.
func (n *WebhookNotifier) Send(subject, body string) error {
	payload, err := json.Marshal(webhookPayload{Subject: subject, Body: body, SentAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "failed to encode webhook payload")
	}
	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to call webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
