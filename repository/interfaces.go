// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/peyk-io/peyk/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// AccountRepository defines operations for accounts
type AccountRepository interface {
	Repository[models.Account, models.AccountFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Account, error)
	ByChannelSession(ctx context.Context, session string) (*models.Account, error)
	ListActive(ctx context.Context, limit, offset int) ([]*models.Account, error)
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	UpdateStatus(ctx context.Context, campaignID uint, status models.CampaignStatus, at time.Time) error
	UpdateProgress(ctx context.Context, campaignID uint, sent, failed, pending, currentIndex int) error
	MarkResumed(ctx context.Context, campaignID uint, at time.Time) error
	MarkRetried(ctx context.Context, campaignID uint, at time.Time) error
	ListScheduledDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	ListRetryable(ctx context.Context, retryBefore time.Time, limit int) ([]*models.Campaign, error)
}

// RecipientRepository defines operations for campaign recipients
type RecipientRepository interface {
	Repository[models.Recipient, models.RecipientFilter]
	ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.Recipient, error)
	ListFailedByCampaign(ctx context.Context, campaignID uint) ([]*models.Recipient, error)
	UpdateDelivery(ctx context.Context, recipientID uint, status models.RecipientStatus, lastError *string, sentAt *time.Time) error
	ResetForRetry(ctx context.Context, recipientIDs []uint) error
}

// ScheduleDayRepository defines operations for campaign day plans
type ScheduleDayRepository interface {
	Repository[models.ScheduleDay, models.ScheduleDayFilter]
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduleDay, error)
	ListByCampaign(ctx context.Context, campaignID uint) ([]*models.ScheduleDay, error)
	MarkExecuted(ctx context.Context, dayID uint, recipientIDs []int64, at time.Time) error
}

// DeliveryRecordRepository defines operations for per-attempt audit rows
type DeliveryRecordRepository interface {
	Repository[models.DeliveryRecord, models.DeliveryRecordFilter]
	ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.DeliveryRecord, error)
}
