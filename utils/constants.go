package utils

import (
	"time"
)

// Dispatch pacing defaults, applied when a campaign spec leaves them unset.
const (
	// DefaultMinSendDelay is the lower bound of the per-message jitter delay
	DefaultMinSendDelay = 3 * time.Second

	// DefaultMaxSendDelay is the upper bound of the per-message jitter delay
	DefaultMaxSendDelay = 9 * time.Second

	// DefaultBatchSize is the number of sends between cooldown pauses
	DefaultBatchSize = 50

	// DefaultBatchRest is the cooldown applied after each full batch
	DefaultBatchRest = 5 * time.Minute
)

// Quota constants
const (
	// DefaultDailyQuota is the per-account daily send cap when the account carries none
	DefaultDailyQuota = 1000
)

// Random send-time window for day plans scheduled in "random" mode
const (
	// RandomSendWindowStartHour is the earliest dispatch hour (UTC)
	RandomSendWindowStartHour = 9

	// RandomSendWindowSpanHours is the width of the random dispatch window
	RandomSendWindowSpanHours = 12
)

// Campaign limits enforced at creation time
const (
	MaxRecipientsPerCampaign = 100000

	MaxMessagesPerCampaign = 10

	MaxMessageLength = 4096
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// ContextKey is the type for request-scoped context values
type ContextKey string

// Request-scoped context keys carried from the HTTP layer into business flows
const (
	RequestIDKey  ContextKey = "request_id"
	UserAgentKey  ContextKey = "user_agent"
	IPAddressKey  ContextKey = "ip_address"
	EndpointKey   ContextKey = "endpoint"
	TimeoutKey    ContextKey = "timeout"
	CancelFuncKey ContextKey = "cancel_func"
)
