// Package models contains domain models and database entity definitions
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RecipientStatus represents the delivery state of a single recipient
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// String returns the string representation of the status
func (s RecipientStatus) String() string {
	return string(s)
}

// Valid reports whether the status is one of the known states
func (s RecipientStatus) Valid() bool {
	switch s {
	case RecipientStatusPending, RecipientStatusSent, RecipientStatusFailed:
		return true
	}
	return false
}

// Scan implements the sql.Scanner interface
func (s *RecipientStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = RecipientStatus(v)
	case []byte:
		*s = RecipientStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into RecipientStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (s RecipientStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// RecipientAttributes holds free-form per-recipient fields usable as
// template placeholders, stored as jsonb.
type RecipientAttributes map[string]string

// Value implements the driver.Valuer interface
func (a RecipientAttributes) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal(map[string]string{})
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface
func (a *RecipientAttributes) Scan(value any) error {
	if value == nil {
		*a = RecipientAttributes{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into RecipientAttributes", value)
	}
}

// Recipient is one addressable member of a campaign's audience. Rows are
// dispatched in ascending ID order, so the insert order at creation time
// is the send order.
type Recipient struct {
	ID         uint                `json:"id" gorm:"primaryKey;autoIncrement"`
	CampaignID uint                `json:"campaign_id" gorm:"not null;index:idx_recipients_campaign_status"`
	Phone      string              `json:"phone" gorm:"size:20;not null"`
	Name       string              `json:"name" gorm:"size:200"`
	Attributes RecipientAttributes `json:"attributes" gorm:"type:jsonb"`
	Status     RecipientStatus     `json:"status" gorm:"size:10;not null;index:idx_recipients_campaign_status;default:'pending'"`
	LastError  *string             `json:"last_error,omitempty" gorm:"type:text"`
	SentAt     *time.Time          `json:"sent_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// Relationships
	Campaign *Campaign `json:"campaign,omitempty" gorm:"foreignKey:CampaignID"`
}

// TableName specifies the table name for Recipient
func (Recipient) TableName() string {
	return "recipients"
}

// RecipientFilter represents filter criteria for recipient queries
type RecipientFilter struct {
	ID         *uint            `json:"id,omitempty"`
	CampaignID *uint            `json:"campaign_id,omitempty"`
	Phone      *string          `json:"phone,omitempty"`
	Status     *RecipientStatus `json:"status,omitempty"`
	SentAfter  *time.Time       `json:"sent_after,omitempty"`
	SentBefore *time.Time       `json:"sent_before,omitempty"`
}
