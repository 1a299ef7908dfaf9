package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// ErrChannelDispatch indicates a channel failed to deliver a message.
var ErrChannelDispatch = errors.New("alarm channel: dispatch failed")

// Message is one rendered alert ready for delivery.
type Message struct {
	AlertID   string
	Rule      string
	MachineID string
	Severity  string
	Text      string
	Data      alarms.FiringData
	Timestamp time.Time
}

// Channel delivers rendered messages.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

type slackPayload struct {
	Text string `json:"text"`
}

// SlackChannel posts messages to a Slack incoming webhook.
type SlackChannel struct {
	url    string
	client *http.Client
}

// NewSlackChannel constructs a Slack channel.
func NewSlackChannel(url string, client *http.Client) (*SlackChannel, error) {
	if url == "" {
		return nil, errors.New("slack channel: empty url")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &SlackChannel{url: url, client: client}, nil
}

// Send posts {"text": message}.
func (s *SlackChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(slackPayload{Text: msg.Text})
	if err != nil {
		return err
	}
	return postJSON(ctx, s.client, s.url, body, nil)
}

func postJSON(ctx context.Context, client *http.Client, target string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.New("invalid channel url")
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		// url.Error carries the full target.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("%s request: %w", urlErr.Op, urlErr.Err)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response %d", resp.StatusCode)
	}
	return nil
}
