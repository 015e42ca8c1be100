// Package services provides external service integrations and technical concerns like channel gateways and notifications
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/peyk-io/peyk/utils"
	"github.com/redis/go-redis/v9"
)

// Campaign lifecycle event names published to subscribers
const (
	EventCampaignStarted        = "campaign_started"
	EventCampaignProgress       = "campaign_progress"
	EventCampaignPaused         = "campaign_paused"
	EventCampaignResumed        = "campaign_resumed"
	EventCampaignStopped        = "campaign_stopped"
	EventCampaignCompleted      = "campaign_completed"
	EventCampaignFailed         = "campaign_failed"
	EventCampaignRecipientError = "campaign_recipient_failed"
	EventDailyLimitReached      = "daily_limit_reached"
	EventScheduleDayExecuted    = "schedule_day_executed"
)

// Notifier publishes campaign lifecycle events. The scope groups events
// for one subscriber, typically the campaign UUID.
type Notifier interface {
	Emit(ctx context.Context, scope, event string, payload any) error
}

// eventEnvelope is the wire format published to the event bus
type eventEnvelope struct {
	Event     string `json:"event"`
	Payload   any    `json:"payload"`
	EmittedAt string `json:"emitted_at"`
}

// RedisNotifier implements Notifier over redis pub/sub
type RedisNotifier struct {
	client  *redis.Client
	prefix  string
	channel string
}

// NewRedisNotifier creates a new redis-backed notifier
func NewRedisNotifier(client *redis.Client, prefix string) Notifier {
	return &RedisNotifier{
		client:  client,
		prefix:  prefix,
		channel: prefix + "events",
	}
}

// Emit publishes the event on the scope's channel and on the firehose channel
func (n *RedisNotifier) Emit(ctx context.Context, scope, event string, payload any) error {
	envelope := eventEnvelope{
		Event:     event,
		Payload:   payload,
		EmittedAt: utils.UTCNowRFC3339(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event, err)
	}

	if err := n.client.Publish(ctx, n.channel+":"+scope, body).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event, err)
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event, err)
	}
	return nil
}

// LogNotifier implements Notifier by writing events to the service log.
// It backs deployments that run without a redis event bus.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *log.Logger) Notifier {
	return &LogNotifier{logger: logger}
}

// Emit writes the event envelope as one JSON log line
func (n *LogNotifier) Emit(ctx context.Context, scope, event string, payload any) error {
	envelope := eventEnvelope{
		Event:     event,
		Payload:   payload,
		EmittedAt: utils.UTCNowRFC3339(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event, err)
	}

	n.logger.Printf(`{"scope":%q,"body":%s}`, scope, body)
	return nil
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	mu     sync.Mutex
	Events []MockEvent
}

// MockEvent represents an event captured by the mock notifier
type MockEvent struct {
	Scope   string
	Event   string
	Payload any
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{
		Events: make([]MockEvent, 0),
	}
}

// Emit records the event
func (m *MockNotifier) Emit(ctx context.Context, scope, event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, MockEvent{Scope: scope, Event: event, Payload: payload})
	return nil
}

// GetEvents returns all captured events
func (m *MockNotifier) GetEvents() []MockEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MockEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

// EventsNamed returns captured events matching the given name
func (m *MockNotifier) EventsNamed(event string) []MockEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MockEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
