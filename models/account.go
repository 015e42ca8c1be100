// Package models contains domain models and database entity definitions
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the owner of campaigns and of the messaging channel session
// used to deliver them. ChannelSession identifies the single channel the
// account sends through; at most one campaign may hold it at a time.
type Account struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UUID           uuid.UUID `json:"uuid" gorm:"type:uuid;not null;uniqueIndex"`
	Name           string    `json:"name" gorm:"size:200;not null"`
	ChannelSession string    `json:"channel_session" gorm:"size:100;not null;uniqueIndex"`
	DailyQuota     int       `json:"daily_quota" gorm:"not null;default:1000"`
	IsActive       *bool     `json:"is_active" gorm:"not null;default:true"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// Relationships
	Campaigns []Campaign `json:"campaigns,omitempty" gorm:"foreignKey:AccountID"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// BeforeCreate sets defaults before inserting
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	return nil
}

// AccountFilter represents filter criteria for account queries
type AccountFilter struct {
	ID             *uint      `json:"id,omitempty"`
	UUID           *uuid.UUID `json:"uuid,omitempty"`
	Name           *string    `json:"name,omitempty"`
	ChannelSession *string    `json:"channel_session,omitempty"`
	IsActive       *bool      `json:"is_active,omitempty"`
}
