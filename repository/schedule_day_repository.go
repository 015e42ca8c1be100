package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/peyk-io/peyk/models"
	"gorm.io/gorm"
)

// ScheduleDayRepositoryImpl implements the ScheduleDayRepository interface
type ScheduleDayRepositoryImpl struct {
	*BaseRepository[models.ScheduleDay, models.ScheduleDayFilter]
}

// NewScheduleDayRepository creates a new schedule day repository
func NewScheduleDayRepository(db *gorm.DB) ScheduleDayRepository {
	return &ScheduleDayRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ScheduleDay, models.ScheduleDayFilter](db),
	}
}

// ListDue retrieves pending day slices whose send time has arrived,
// oldest first
func (r *ScheduleDayRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduleDay, error) {
	status := models.ScheduleDayStatusPending
	due := now.UTC()
	filter := models.ScheduleDayFilter{Status: &status, DueBefore: &due}
	return r.ByFilter(ctx, filter, "send_at ASC", limit, 0)
}

// ListByCampaign retrieves all day slices of a campaign in plan order
func (r *ScheduleDayRepositoryImpl) ListByCampaign(ctx context.Context, campaignID uint) ([]*models.ScheduleDay, error) {
	filter := models.ScheduleDayFilter{CampaignID: &campaignID}
	return r.ByFilter(ctx, filter, "day ASC", 0, 0)
}

// MarkExecuted finalizes a day slice, snapshotting the recipient rows
// that were dispatched
func (r *ScheduleDayRepositoryImpl) MarkExecuted(ctx context.Context, dayID uint, recipientIDs []int64, at time.Time) error {
	err := r.updateColumns(ctx, map[string]any{"id": dayID}, map[string]any{
		"status":        models.ScheduleDayStatusExecuted,
		"recipient_ids": pq.Int64Array(recipientIDs),
		"executed_at":   at,
		"updated_at":    at,
	})
	if err != nil {
		return fmt.Errorf("failed to mark schedule day executed: %w", err)
	}
	return nil
}

// ByFilter retrieves schedule days based on filter criteria
func (r *ScheduleDayRepositoryImpl) ByFilter(ctx context.Context, filter models.ScheduleDayFilter, orderBy string, limit, offset int) ([]*models.ScheduleDay, error) {
	db := r.getDB(ctx)

	var days []*models.ScheduleDay
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&days).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule days by filter: %w", err)
	}

	return days, nil
}

// Count returns the number of schedule days matching the filter
func (r *ScheduleDayRepositoryImpl) Count(ctx context.Context, filter models.ScheduleDayFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var day models.ScheduleDay
	query := r.applyFilter(db.Model(&day), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count schedule days: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *ScheduleDayRepositoryImpl) applyFilter(db *gorm.DB, filter models.ScheduleDayFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.DueBefore != nil {
		db = db.Where("send_at <= ?", *filter.DueBefore)
	}
	if filter.DueAfter != nil {
		db = db.Where("send_at >= ?", *filter.DueAfter)
	}

	return db
}
