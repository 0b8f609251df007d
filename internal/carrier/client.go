// Package carrier integrates with the SMS/iMessage carrier: an outbound
// send-proxy client and the inbound delivery webhook.
package carrier

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

const defaultTimeout = 30 * time.Second

// SendRequest is the payload accepted by the send proxy.
type SendRequest struct {
	GroupID       string   `json:"group_id"`
	Content       string   `json:"content"`
	SenderName    string   `json:"sender_name"`
	TeamMemberID  int64    `json:"team_member_id"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Attachments   []string `json:"attachments,omitempty"`
}

// Sender delivers outbound messages through the carrier proxy.
type Sender interface {
	Send(ctx context.Context, req SendRequest) error
}

// ClientConfig holds send proxy settings.
type ClientConfig struct {
	SendURL    string
	HTTPClient *http.Client
}

// Client is the HTTP send-proxy client. A non-2xx response is a failure and
// no server-side effect is assumed.
type Client struct {
	sendURL    string
	httpClient *http.Client
}

// NewClient creates a send-proxy client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.SendURL) == "" {
		return nil, fmt.Errorf("send URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{sendURL: cfg.SendURL, httpClient: httpClient}, nil
}

// Send implements Sender.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send proxy returned %d", resp.StatusCode)
	}
	return nil
}
