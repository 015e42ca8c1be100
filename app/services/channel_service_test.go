package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peyk-io/peyk/config"
)

func gatewayClientFor(url string) ChannelClient {
	return NewGatewayChannelClient(&config.ChannelConfig{
		Provider:   "gateway",
		GatewayURL: url,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
	})
}

func TestGatewaySendText(t *testing.T) {
	var captured gatewaySendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages/text", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(gatewayResponse{Success: true})
	}))
	defer server.Close()

	client := gatewayClientFor(server.URL)
	err := client.SendText(context.Background(), "session-a", "+15550001111", "hello")
	require.NoError(t, err)

	assert.Equal(t, "session-a", captured.Session)
	assert.Equal(t, "+15550001111", captured.Phone)
	assert.Equal(t, "hello", captured.Body)
}

func TestGatewaySendImage(t *testing.T) {
	var captured gatewaySendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages/image", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(gatewayResponse{Success: true})
	}))
	defer server.Close()

	client := gatewayClientFor(server.URL)
	err := client.SendImage(context.Background(), "session-a", "+15550001111", "https://cdn.example.com/promo.png", "new offer")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/promo.png", captured.ImageURL)
	assert.Equal(t, "new offer", captured.Caption)
}

func TestGatewaySendDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gatewayResponse{Success: false, Message: "number not on channel"})
	}))
	defer server.Close()

	client := gatewayClientFor(server.URL)
	err := client.SendText(context.Background(), "session-a", "+15550001111", "hello")
	require.Error(t, err)

	// A per-recipient rejection is a plain error, not a channel outage
	assert.NotErrorIs(t, err, ErrChannelUnavailable)
	assert.Contains(t, err.Error(), "number not on channel")
}

func TestGatewaySendServerErrorIsOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := gatewayClientFor(server.URL)
	err := client.SendText(context.Background(), "session-a", "+15550001111", "hello")
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestGatewaySendUnreachableIsOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := gatewayClientFor(server.URL)
	err := client.SendText(context.Background(), "session-a", "+15550001111", "hello")
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestGatewayConnectionState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/session-a/state", r.URL.Path)
		json.NewEncoder(w).Encode(gatewayResponse{Success: true, State: "connected"})
	}))
	defer server.Close()

	client := gatewayClientFor(server.URL)
	state, err := client.ConnectionState(context.Background(), "session-a")
	require.NoError(t, err)
	assert.Equal(t, ConnectionStateConnected, state)
}

func TestGatewayConnectionStateDisconnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gatewayResponse{Success: true, State: "logged_out"})
	}))
	defer server.Close()

	client := gatewayClientFor(server.URL)
	state, err := client.ConnectionState(context.Background(), "session-a")
	require.NoError(t, err)
	assert.Equal(t, ConnectionStateDisconnected, state)
}

func TestMockChannelClientRecordsMessages(t *testing.T) {
	mock := NewMockChannelClient()
	ctx := context.Background()

	require.NoError(t, mock.SendText(ctx, "session-a", "+15550001111", "hi"))
	require.NoError(t, mock.SendImage(ctx, "session-a", "+15550002222", "https://cdn.example.com/a.png", "caption"))

	sent := mock.GetSentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "hi", sent[0].Body)
	assert.Equal(t, "https://cdn.example.com/a.png", sent[1].ImageURL)

	mock.ClearSentMessages()
	assert.Empty(t, mock.GetSentMessages())
}

func TestMockChannelClientFailureModes(t *testing.T) {
	mock := NewMockChannelClient()
	ctx := context.Background()

	mock.FailFor["+15550001111"] = "blocked"
	err := mock.SendText(ctx, "session-a", "+15550001111", "hi")
	require.Error(t, err)
	assert.Equal(t, "blocked", err.Error())
	assert.NotErrorIs(t, err, ErrChannelUnavailable)

	mock.Unavailable = true
	err = mock.SendText(ctx, "session-a", "+15550002222", "hi")
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	mock.Disconnected = true
	state, err := mock.ConnectionState(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, ConnectionStateDisconnected, state)
}
