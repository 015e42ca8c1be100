// Package services provides external service integrations and technical concerns like channel gateways and notifications
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/peyk-io/peyk/config"
	"github.com/peyk-io/peyk/utils"
)

// ErrChannelUnavailable indicates the messaging channel itself is down or
// unreachable. Callers treat it as fatal for the whole dispatch run, as
// opposed to a per-recipient delivery failure.
var ErrChannelUnavailable = errors.New("messaging channel unavailable")

// ConnectionState is the reported state of the channel session
type ConnectionState string

const (
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

// ChannelClient abstracts the single messaging channel campaigns send through
type ChannelClient interface {
	SendText(ctx context.Context, session, phone, body string) error
	SendImage(ctx context.Context, session, phone, imageURL, caption string) error
	ConnectionState(ctx context.Context, session string) (ConnectionState, error)
}

// GatewayChannelClient implements ChannelClient against the HTTP messaging gateway
type GatewayChannelClient struct {
	config *config.ChannelConfig
	client *http.Client
}

// gatewaySendRequest represents the request payload for the gateway send API
type gatewaySendRequest struct {
	Session  string `json:"session"`
	Phone    string `json:"phone"`
	Body     string `json:"body,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// gatewayResponse represents the common gateway response envelope
type gatewayResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	State   string `json:"state,omitempty"`
}

// NewGatewayChannelClient creates a new gateway channel client
func NewGatewayChannelClient(cfg *config.ChannelConfig) ChannelClient {
	return &GatewayChannelClient{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SendText delivers a text message to one phone number
func (c *GatewayChannelClient) SendText(ctx context.Context, session, phone, body string) error {
	return c.send(ctx, gatewaySendRequest{
		Session: session,
		Phone:   phone,
		Body:    body,
	}, "/api/v1/messages/text")
}

// SendImage delivers an image message with a caption to one phone number
func (c *GatewayChannelClient) SendImage(ctx context.Context, session, phone, imageURL, caption string) error {
	return c.send(ctx, gatewaySendRequest{
		Session:  session,
		Phone:    phone,
		ImageURL: imageURL,
		Caption:  caption,
	}, "/api/v1/messages/image")
}

func (c *GatewayChannelClient) send(ctx context.Context, payload gatewaySendRequest, path string) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway send request: %w", err)
	}

	url := c.config.GatewayURL + path
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: gateway returned %d", ErrChannelUnavailable, resp.StatusCode)
	}

	var result gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("delivery failed for %s: %s", payload.Phone, result.Message)
	}
	return nil
}

// ConnectionState reports whether the channel session is logged in at the gateway
func (c *GatewayChannelClient) ConnectionState(ctx context.Context, session string) (ConnectionState, error) {
	url := fmt.Sprintf("%s/api/v1/sessions/%s/state", c.config.GatewayURL, session)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return ConnectionStateDisconnected, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return ConnectionStateDisconnected, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	var result gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ConnectionStateDisconnected, fmt.Errorf("failed to decode session state response: %w", err)
	}
	if result.State == string(ConnectionStateConnected) {
		return ConnectionStateConnected, nil
	}
	return ConnectionStateDisconnected, nil
}

// MockChannelClient implements ChannelClient for testing
type MockChannelClient struct {
	mu           sync.Mutex
	SentMessages []MockChannelMessage
	FailFor      map[string]string
	Unavailable  bool
	Disconnected bool
}

// MockChannelMessage represents a message captured by the mock client
type MockChannelMessage struct {
	Session  string
	Phone    string
	Body     string
	ImageURL string
	SentAt   time.Time
}

// NewMockChannelClient creates a new mock channel client
func NewMockChannelClient() *MockChannelClient {
	return &MockChannelClient{
		SentMessages: make([]MockChannelMessage, 0),
		FailFor:      make(map[string]string),
	}
}

// SendText records a mock text delivery
func (m *MockChannelClient) SendText(ctx context.Context, session, phone, body string) error {
	return m.record(MockChannelMessage{Session: session, Phone: phone, Body: body})
}

// SendImage records a mock image delivery
func (m *MockChannelClient) SendImage(ctx context.Context, session, phone, imageURL, caption string) error {
	return m.record(MockChannelMessage{Session: session, Phone: phone, ImageURL: imageURL, Body: caption})
}

func (m *MockChannelClient) record(msg MockChannelMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Unavailable {
		return fmt.Errorf("%w: mock outage", ErrChannelUnavailable)
	}
	if reason, ok := m.FailFor[msg.Phone]; ok {
		return errors.New(reason)
	}

	msg.SentAt = utils.UTCNow()
	m.SentMessages = append(m.SentMessages, msg)
	return nil
}

// ConnectionState reports the configured mock session state
func (m *MockChannelClient) ConnectionState(ctx context.Context, session string) (ConnectionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Disconnected {
		return ConnectionStateDisconnected, nil
	}
	return ConnectionStateConnected, nil
}

// GetSentMessages returns all messages captured by the mock
func (m *MockChannelClient) GetSentMessages() []MockChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MockChannelMessage, len(m.SentMessages))
	copy(out, m.SentMessages)
	return out
}

// ClearSentMessages clears the captured messages
func (m *MockChannelClient) ClearSentMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentMessages = make([]MockChannelMessage, 0)
}
