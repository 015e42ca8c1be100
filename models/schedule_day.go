// Package models contains domain models and database entity definitions
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ScheduleDayStatus represents the execution state of one planned day
type ScheduleDayStatus string

const (
	ScheduleDayStatusPending  ScheduleDayStatus = "pending"
	ScheduleDayStatusExecuted ScheduleDayStatus = "executed"
	ScheduleDayStatusSkipped  ScheduleDayStatus = "skipped"
)

// String returns the string representation of the status
func (s ScheduleDayStatus) String() string {
	return string(s)
}

// Valid reports whether the status is one of the known states
func (s ScheduleDayStatus) Valid() bool {
	switch s {
	case ScheduleDayStatusPending, ScheduleDayStatusExecuted, ScheduleDayStatusSkipped:
		return true
	}
	return false
}

// Scan implements the sql.Scanner interface
func (s *ScheduleDayStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = ScheduleDayStatus(v)
	case []byte:
		*s = ScheduleDayStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into ScheduleDayStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (s ScheduleDayStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// ScheduleDay is one planned slice of a day-split campaign. StartIndex is
// inclusive and EndIndex exclusive over the campaign's ordered recipient
// list. RecipientIDs is filled on execution with the rows actually
// dispatched, as an audit snapshot.
type ScheduleDay struct {
	ID         uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	CampaignID uint              `json:"campaign_id" gorm:"not null;index"`
	Day        int               `json:"day" gorm:"not null"`
	Date       time.Time         `json:"date" gorm:"not null"`
	SendAt     time.Time         `json:"send_at" gorm:"not null;index"`
	Count      int               `json:"count" gorm:"not null"`
	Percent    float64           `json:"percent" gorm:"not null"`
	StartIndex int               `json:"start_index" gorm:"not null"`
	EndIndex   int               `json:"end_index" gorm:"not null"`
	TotalSent  int               `json:"total_sent" gorm:"not null"`
	Remaining  int               `json:"remaining" gorm:"not null"`
	Status     ScheduleDayStatus `json:"status" gorm:"size:10;not null;index;default:'pending'"`

	RecipientIDs pq.Int64Array `json:"recipient_ids,omitempty" gorm:"type:bigint[]"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// Relationships
	Campaign *Campaign `json:"campaign,omitempty" gorm:"foreignKey:CampaignID"`
}

// TableName specifies the table name for ScheduleDay
func (ScheduleDay) TableName() string {
	return "schedule_days"
}

// IsFinal reports whether this is the last day of the plan
func (d *ScheduleDay) IsFinal() bool {
	return d.Remaining == 0
}

// ScheduleDayFilter represents filter criteria for schedule day queries
type ScheduleDayFilter struct {
	ID         *uint              `json:"id,omitempty"`
	CampaignID *uint              `json:"campaign_id,omitempty"`
	Status     *ScheduleDayStatus `json:"status,omitempty"`
	DueBefore  *time.Time         `json:"due_before,omitempty"`
	DueAfter   *time.Time         `json:"due_after,omitempty"`
}
