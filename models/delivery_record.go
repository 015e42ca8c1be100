// Package models contains domain models and database entity definitions
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DeliveryOutcome is the terminal result of one send attempt
type DeliveryOutcome string

const (
	DeliveryOutcomeDelivered DeliveryOutcome = "delivered"
	DeliveryOutcomeFailed    DeliveryOutcome = "failed"
)

// String returns the string representation of the outcome
func (o DeliveryOutcome) String() string {
	return string(o)
}

// Valid reports whether the outcome is known
func (o DeliveryOutcome) Valid() bool {
	return o == DeliveryOutcomeDelivered || o == DeliveryOutcomeFailed
}

// Scan implements the sql.Scanner interface
func (o *DeliveryOutcome) Scan(value any) error {
	if value == nil {
		*o = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*o = DeliveryOutcome(v)
	case []byte:
		*o = DeliveryOutcome(v)
	default:
		return fmt.Errorf("cannot scan %T into DeliveryOutcome", value)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (o DeliveryOutcome) Value() (driver.Value, error) {
	return string(o), nil
}

// DeliveryRecord is the immutable audit row written for every send
// attempt. Retries append new rows rather than rewriting old ones.
type DeliveryRecord struct {
	ID          uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	CampaignID  uint            `json:"campaign_id" gorm:"not null;index"`
	RecipientID uint            `json:"recipient_id" gorm:"not null;index"`
	Phone       string          `json:"phone" gorm:"size:20;not null"`
	Outcome     DeliveryOutcome `json:"outcome" gorm:"size:10;not null;index"`
	Error       *string         `json:"error,omitempty" gorm:"type:text"`
	Attempt     int             `json:"attempt" gorm:"not null;default:1"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for DeliveryRecord
func (DeliveryRecord) TableName() string {
	return "delivery_records"
}

// DeliveryRecordFilter represents filter criteria for delivery record queries
type DeliveryRecordFilter struct {
	ID            *uint            `json:"id,omitempty"`
	CampaignID    *uint            `json:"campaign_id,omitempty"`
	RecipientID   *uint            `json:"recipient_id,omitempty"`
	Outcome       *DeliveryOutcome `json:"outcome,omitempty"`
	CreatedAfter  *time.Time       `json:"created_after,omitempty"`
	CreatedBefore *time.Time       `json:"created_before,omitempty"`
}
