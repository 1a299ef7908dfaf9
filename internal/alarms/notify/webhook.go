package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
)

// tokenTTL bounds the lifetime of a delivery signature.
const tokenTTL = 5 * time.Minute

type webhookPayload struct {
	Rule      string            `json:"rule"`
	MachineID string            `json:"machine_id"`
	Severity  string            `json:"severity"`
	Data      alarms.FiringData `json:"data"`
	Message   string            `json:"message"`
	Timestamp string            `json:"timestamp"`
	AlertID   string            `json:"alert_id"`
}

// WebhookChannel posts alert payloads to a generic webhook endpoint.
type WebhookChannel struct {
	url        string
	client     *http.Client
	signingKey []byte
	now        func() time.Time
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithSigningKey signs each delivery with an HS256 bearer token.
func WithSigningKey(key []byte) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.signingKey = key
	}
}

// WithNow overrides the token clock.
func WithNow(now func() time.Time) WebhookOption {
	return func(ch *WebhookChannel) {
		if now != nil {
			ch.now = now
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: defaultHTTPTimeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the alert payload.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		Rule:      msg.Rule,
		MachineID: msg.MachineID,
		Severity:  msg.Severity,
		Data:      msg.Data,
		Message:   msg.Text,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
		AlertID:   msg.AlertID,
	})
	if err != nil {
		return err
	}
	var header http.Header
	if len(w.signingKey) > 0 {
		token, err := w.sign(msg)
		if err != nil {
			return err
		}
		header = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	return postJSON(ctx, w.client, w.url, body, header)
}

func (w *WebhookChannel) sign(msg Message) (string, error) {
	issued := w.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   msg.Rule,
		ID:        msg.AlertID,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.signingKey)
}
