package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/utils"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ByUUID retrieves a campaign by UUID
func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	filter := models.CampaignFilter{UUID: &parsedUUID}
	campaigns, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to find campaign by UUID: %w", err)
	}

	if len(campaigns) == 0 {
		return nil, nil
	}

	return campaigns[0], nil
}

// Update persists all fields of a campaign
func (r *CampaignRepositoryImpl) Update(ctx context.Context, campaign *models.Campaign) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	campaign.UpdatedAt = utils.UTCNow()

	err = db.Save(campaign).Error
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	return nil
}

// UpdateStatus updates the status of a campaign and stamps the matching
// lifecycle timestamp column.
func (r *CampaignRepositoryImpl) UpdateStatus(ctx context.Context, campaignID uint, status models.CampaignStatus, at time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	switch status {
	case models.CampaignStatusRunning:
		updates["started_at"] = at
	case models.CampaignStatusPaused:
		updates["paused_at"] = at
	case models.CampaignStatusStopped:
		updates["stopped_at"] = at
	case models.CampaignStatusCompleted:
		updates["completed_at"] = at
	}

	err := r.updateColumns(ctx, map[string]any{"id": campaignID}, updates)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return nil
}

// UpdateProgress checkpoints the delivery counters and resume position
func (r *CampaignRepositoryImpl) UpdateProgress(ctx context.Context, campaignID uint, sent, failed, pending, currentIndex int) error {
	err := r.updateColumns(ctx, map[string]any{"id": campaignID}, map[string]any{
		"sent":          sent,
		"failed":        failed,
		"pending":       pending,
		"current_index": currentIndex,
		"updated_at":    utils.UTCNow(),
	})
	if err != nil {
		return fmt.Errorf("failed to update campaign progress: %w", err)
	}
	return nil
}

// MarkResumed returns a paused campaign to running and stamps resumed_at
func (r *CampaignRepositoryImpl) MarkResumed(ctx context.Context, campaignID uint, at time.Time) error {
	err := r.updateColumns(ctx, map[string]any{"id": campaignID}, map[string]any{
		"status":     models.CampaignStatusRunning,
		"resumed_at": at,
		"updated_at": at,
	})
	if err != nil {
		return fmt.Errorf("failed to mark campaign resumed: %w", err)
	}
	return nil
}

// MarkRetried stamps the last retry sweep time
func (r *CampaignRepositoryImpl) MarkRetried(ctx context.Context, campaignID uint, at time.Time) error {
	err := r.updateColumns(ctx, map[string]any{"id": campaignID}, map[string]any{
		"last_retry_at": at,
		"updated_at":    at,
	})
	if err != nil {
		return fmt.Errorf("failed to mark campaign retried: %w", err)
	}
	return nil
}

// ListScheduledDue retrieves single-shot scheduled campaigns whose start
// time has arrived. Day-split campaigns are driven by their schedule_days
// rows instead and are excluded here.
func (r *CampaignRepositoryImpl) ListScheduledDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := db.
		Where("status = ?", models.CampaignStatusScheduled).
		Where("spec->>'schedule_at' IS NOT NULL").
		Where("spec->>'schedule_at' <= ?", now.UTC().Format(time.RFC3339)).
		Where("spec->>'daily_percent' IS NULL").
		Order("spec->>'schedule_at' ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}

	return campaigns, nil
}

// ListRetryable retrieves completed campaigns that still carry failed
// recipients and have not been swept since retryBefore.
func (r *CampaignRepositoryImpl) ListRetryable(ctx context.Context, retryBefore time.Time, limit int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := db.
		Where("status = ?", models.CampaignStatusCompleted).
		Where("failed > 0").
		Where("last_retry_at IS NULL OR last_retry_at <= ?", retryBefore).
		Order("completed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable campaigns: %w", err)
	}

	return campaigns, nil
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := r.applyFilter(db, filter)

	// Apply ordering
	if orderBy != "" {
		query = query.Order(orderBy)
	}

	// Apply pagination
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	query = query.Preload("Account")

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find campaigns by filter: %w", err)
	}

	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var campaign models.Campaign
	query := r.applyFilter(db.Model(&campaign), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.AccountID != nil {
		db = db.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Title != nil {
		db = db.Where("title ILIKE ?", "%"+*filter.Title+"%")
	}
	if filter.MinFailed != nil {
		db = db.Where("failed >= ?", *filter.MinFailed)
	}
	if filter.RetryBefore != nil {
		db = db.Where("last_retry_at IS NULL OR last_retry_at <= ?", *filter.RetryBefore)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	if filter.CompletedAfter != nil {
		db = db.Where("completed_at >= ?", *filter.CompletedAfter)
	}
	if filter.CompletedBefore != nil {
		db = db.Where("completed_at <= ?", *filter.CompletedBefore)
	}

	return db
}
