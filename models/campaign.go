// Package models contains domain models and database entity definitions
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusCreated   CampaignStatus = "created"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusStopped   CampaignStatus = "stopped"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid reports whether the status is one of the known states
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusCreated, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusStopped,
		CampaignStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusCompleted, CampaignStatusStopped, CampaignStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition to the target status is legal.
// A running day-split campaign returns to scheduled between day slices.
func (s CampaignStatus) CanTransitionTo(target CampaignStatus) bool {
	switch s {
	case CampaignStatusCreated:
		return target == CampaignStatusScheduled || target == CampaignStatusRunning || target == CampaignStatusStopped
	case CampaignStatusScheduled:
		return target == CampaignStatusRunning || target == CampaignStatusStopped
	case CampaignStatusRunning:
		return target == CampaignStatusPaused || target == CampaignStatusCompleted ||
			target == CampaignStatusStopped || target == CampaignStatusFailed ||
			target == CampaignStatusScheduled
	case CampaignStatusPaused:
		return target == CampaignStatusRunning || target == CampaignStatusStopped
	}
	return false
}

// Scan implements the sql.Scanner interface
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (s CampaignStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// MessageTemplate is one message body a campaign rotates through.
// Placeholders of the form {{name}} are substituted per recipient.
type MessageTemplate struct {
	Content  string  `json:"content"`
	MediaURL *string `json:"media_url,omitempty"`
}

// ScheduleMode selects how a day plan distributes recipients across days
type ScheduleMode string

const (
	ScheduleModeProgressive ScheduleMode = "progressive"
	ScheduleModeFixed       ScheduleMode = "fixed"
)

// Valid reports whether the mode is known
func (m ScheduleMode) Valid() bool {
	return m == ScheduleModeProgressive || m == ScheduleModeFixed
}

// SendTimeMode selects the per-day dispatch time policy
type SendTimeMode string

const (
	SendTimeModeSame   SendTimeMode = "same"
	SendTimeModeRandom SendTimeMode = "random"
)

// Valid reports whether the mode is known
func (m SendTimeMode) Valid() bool {
	return m == SendTimeModeSame || m == SendTimeModeRandom
}

// CampaignSpec is the jsonb document holding the campaign's delivery
// configuration. Pointer fields distinguish unset from zero.
type CampaignSpec struct {
	Messages        []MessageTemplate `json:"messages"`
	RotateMessages  bool              `json:"rotate_messages"`
	InjectVariation bool              `json:"inject_variation"`

	MinDelaySeconds int `json:"min_delay_seconds"`
	MaxDelaySeconds int `json:"max_delay_seconds"`
	BatchSize       int `json:"batch_size"`
	CooldownSeconds int `json:"cooldown_seconds"`

	ScheduleAt   *time.Time    `json:"schedule_at,omitempty"`
	ScheduleMode *ScheduleMode `json:"schedule_mode,omitempty"`
	DailyPercent *int          `json:"daily_percent,omitempty"`
	SendTimeMode *SendTimeMode `json:"send_time_mode,omitempty"`
}

// HasDayPlan reports whether the campaign is split across multiple days
func (s CampaignSpec) HasDayPlan() bool {
	return s.DailyPercent != nil
}

// MinDelay returns the per-message jitter lower bound as a duration
func (s CampaignSpec) MinDelay() time.Duration {
	return time.Duration(s.MinDelaySeconds) * time.Second
}

// MaxDelay returns the per-message jitter upper bound as a duration
func (s CampaignSpec) MaxDelay() time.Duration {
	return time.Duration(s.MaxDelaySeconds) * time.Second
}

// Cooldown returns the batch cooldown as a duration
func (s CampaignSpec) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// Value implements the driver.Valuer interface
func (s CampaignSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface
func (s *CampaignSpec) Scan(value any) error {
	if value == nil {
		*s = CampaignSpec{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into CampaignSpec", value)
	}
}

// Campaign represents one delivery campaign and its progress counters.
// The counters satisfy Sent+Failed+Pending == Total at every checkpoint,
// and CurrentIndex is the position in the ordered recipient list where
// dispatch resumes after a pause, stop, or process restart.
type Campaign struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	UUID      uuid.UUID      `json:"uuid" gorm:"type:uuid;not null;uniqueIndex"`
	AccountID uint           `json:"account_id" gorm:"not null;index"`
	Title     string         `json:"title" gorm:"size:200;not null"`
	Status    CampaignStatus `json:"status" gorm:"size:20;not null;index;default:'created'"`
	Spec      CampaignSpec   `json:"spec" gorm:"type:jsonb;not null"`

	Total        int `json:"total" gorm:"not null;default:0"`
	Sent         int `json:"sent" gorm:"not null;default:0"`
	Failed       int `json:"failed" gorm:"not null;default:0"`
	Pending      int `json:"pending" gorm:"not null;default:0"`
	CurrentIndex int `json:"current_index" gorm:"not null;default:0"`

	LastError   *string    `json:"last_error,omitempty" gorm:"type:text"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	ResumedAt   *time.Time `json:"resumed_at,omitempty"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// Relationships
	Account      *Account      `json:"account,omitempty" gorm:"foreignKey:AccountID"`
	Recipients   []Recipient   `json:"recipients,omitempty" gorm:"foreignKey:CampaignID"`
	ScheduleDays []ScheduleDay `json:"schedule_days,omitempty" gorm:"foreignKey:CampaignID"`
}

// TableName specifies the table name for Campaign
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate sets defaults before inserting
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusCreated
	}
	if !c.Status.Valid() {
		return errors.New("invalid campaign status")
	}
	if c.Sent == 0 && c.Failed == 0 && c.Pending == 0 {
		c.Pending = c.Total
	}
	return nil
}

// BeforeUpdate validates the status before persisting
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	if c.Status != "" && !c.Status.Valid() {
		return errors.New("invalid campaign status")
	}
	return nil
}

// CountersConsistent reports whether the progress counters add up
func (c *Campaign) CountersConsistent() bool {
	return c.Sent+c.Failed+c.Pending == c.Total
}

// Progress returns the percentage of recipients with a final outcome
func (c *Campaign) Progress() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Sent+c.Failed) / float64(c.Total) * 100
}

// IsActive reports whether the campaign is in a dispatchable state
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusRunning || c.Status == CampaignStatusPaused
}

// CampaignFilter represents filter criteria for campaign queries
type CampaignFilter struct {
	ID              *uint           `json:"id,omitempty"`
	UUID            *uuid.UUID      `json:"uuid,omitempty"`
	AccountID       *uint           `json:"account_id,omitempty"`
	Status          *CampaignStatus `json:"status,omitempty"`
	Title           *string         `json:"title,omitempty"`
	MinFailed       *int            `json:"min_failed,omitempty"`
	RetryBefore     *time.Time      `json:"retry_before,omitempty"`
	CreatedAfter    *time.Time      `json:"created_after,omitempty"`
	CreatedBefore   *time.Time      `json:"created_before,omitempty"`
	CompletedAfter  *time.Time      `json:"completed_after,omitempty"`
	CompletedBefore *time.Time      `json:"completed_before,omitempty"`
}
