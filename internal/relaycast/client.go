// Package relaycast is a minimal HTTP client for the remote Relaycast
// messaging service: its implementation is out of scope here, specified
// only by its request shapes. Grounded on the teacher's internal/agentctl/client
// package: a thin http.Client wrapper with context-aware requests and a
// component-tagged logger.
package relaycast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agent-relay/broker/internal/logging"
)

// InboundMessage is one message addressed to a local agent, as returned by
// the remote service's pull endpoint.
type InboundMessage struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Target    string `json:"target"`
	Text      string `json:"text"`
	ThreadID  string `json:"thread_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// Client talks to the remote Relaycast messaging service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logging.Logger
}

// New creates a Client. baseURL may be empty, in which case the returned
// client's methods all fail fast with ErrNoBaseURL — callers (C7) treat
// that as "inbound pull disabled", not a fatal error.
func New(baseURL, apiKey string, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.WithFields(zap.String("component", "relaycast-client")),
	}
}

// ErrNoBaseURL is returned by every Client method when no base URL is configured.
var ErrNoBaseURL = fmt.Errorf("relaycast base url not configured")

// PullInbound fetches up to limit messages addressed to local agents.
func (c *Client) PullInbound(ctx context.Context, limit int) ([]InboundMessage, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	url := fmt.Sprintf("%s/api/v1/inbound?limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read inbound response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pull inbound failed with status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Messages []InboundMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode inbound response: %w", err)
	}
	return payload.Messages, nil
}

// PostOutbound reports an agent-originated outbound message to the remote
// service, mirroring the text the broker also publishes as relay_inbound.
func (c *Client) PostOutbound(ctx context.Context, from, to, threadID, text string) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}
	payload := struct {
		From     string `json:"from"`
		To       string `json:"to"`
		ThreadID string `json:"thread_id,omitempty"`
		Text     string `json:"text"`
	}{From: from, To: to, ThreadID: threadID, Text: text}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/outbound", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("post outbound failed with status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
