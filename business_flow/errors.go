// Package businessflow contains the core business logic and use cases for campaign delivery workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Account-related errors
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountInactive = errors.New("account is inactive")

	// Campaign validation errors
	ErrCampaignNotFound       = errors.New("campaign not found")
	ErrCampaignTitleRequired  = errors.New("campaign title is required")
	ErrMessageRequired        = errors.New("at least one message template is required")
	ErrMessageTooLong         = errors.New("message content exceeds maximum length")
	ErrTooManyMessages        = errors.New("message template list exceeds maximum size")
	ErrRecipientsRequired     = errors.New("at least one recipient is required")
	ErrTooManyRecipients      = errors.New("recipient list exceeds maximum size")
	ErrInvalidPhone           = errors.New("recipient phone number is malformed")
	ErrInvalidDelayRange      = errors.New("minimum delay must not exceed maximum delay")
	ErrInvalidDailyPercent    = errors.New("daily percent must be between 1 and 100")
	ErrScheduleTimeInPast     = errors.New("schedule time must be in the future")
	ErrInvalidScheduleMode    = errors.New("schedule mode must be progressive or fixed")
	ErrInvalidSendTimeMode    = errors.New("send time mode must be same or random")

	// Campaign control errors
	ErrCampaignAlreadyRunning  = errors.New("campaign is already running")
	ErrCampaignNotRunning      = errors.New("campaign is not running")
	ErrCampaignNotPaused       = errors.New("campaign is not paused")
	ErrCampaignTerminal        = errors.New("campaign has already finished")
	ErrIllegalStatusTransition = errors.New("illegal campaign status transition")
	ErrChannelNotConnected     = errors.New("messaging channel is not connected")
	ErrChannelInUse            = errors.New("messaging channel is busy with another campaign")
	ErrNoPendingRecipients     = errors.New("campaign has no pending recipients")
	ErrNoFailedRecipients      = errors.New("campaign has no failed recipients to retry")
	ErrDailyQuotaExhausted     = errors.New("daily send quota exhausted")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func IsAccountInactive(err error) bool {
	return errors.Is(err, ErrAccountInactive)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrCampaignTitleRequired) ||
		errors.Is(err, ErrMessageRequired) ||
		errors.Is(err, ErrMessageTooLong) ||
		errors.Is(err, ErrTooManyMessages) ||
		errors.Is(err, ErrRecipientsRequired) ||
		errors.Is(err, ErrTooManyRecipients) ||
		errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, ErrInvalidDelayRange) ||
		errors.Is(err, ErrInvalidDailyPercent) ||
		errors.Is(err, ErrScheduleTimeInPast) ||
		errors.Is(err, ErrInvalidScheduleMode) ||
		errors.Is(err, ErrInvalidSendTimeMode)
}

func IsCampaignAlreadyRunning(err error) bool {
	return errors.Is(err, ErrCampaignAlreadyRunning)
}

func IsCampaignNotRunning(err error) bool {
	return errors.Is(err, ErrCampaignNotRunning)
}

func IsCampaignNotPaused(err error) bool {
	return errors.Is(err, ErrCampaignNotPaused)
}

func IsCampaignTerminal(err error) bool {
	return errors.Is(err, ErrCampaignTerminal)
}

func IsIllegalStatusTransition(err error) bool {
	return errors.Is(err, ErrIllegalStatusTransition)
}

func IsChannelNotConnected(err error) bool {
	return errors.Is(err, ErrChannelNotConnected)
}

func IsChannelInUse(err error) bool {
	return errors.Is(err, ErrChannelInUse)
}

func IsNoPendingRecipients(err error) bool {
	return errors.Is(err, ErrNoPendingRecipients)
}

func IsNoFailedRecipients(err error) bool {
	return errors.Is(err, ErrNoFailedRecipients)
}

func IsDailyQuotaExhausted(err error) bool {
	return errors.Is(err, ErrDailyQuotaExhausted)
}
