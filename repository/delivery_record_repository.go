package repository

import (
	"context"
	"fmt"

	"github.com/peyk-io/peyk/models"
	"gorm.io/gorm"
)

// DeliveryRecordRepositoryImpl implements the DeliveryRecordRepository interface
type DeliveryRecordRepositoryImpl struct {
	*BaseRepository[models.DeliveryRecord, models.DeliveryRecordFilter]
}

// NewDeliveryRecordRepository creates a new delivery record repository
func NewDeliveryRecordRepository(db *gorm.DB) DeliveryRecordRepository {
	return &DeliveryRecordRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DeliveryRecord, models.DeliveryRecordFilter](db),
	}
}

// ListByCampaign retrieves the audit trail of a campaign, newest first
func (r *DeliveryRecordRepositoryImpl) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.DeliveryRecord, error) {
	filter := models.DeliveryRecordFilter{CampaignID: &campaignID}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

// ByFilter retrieves delivery records based on filter criteria
func (r *DeliveryRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.DeliveryRecordFilter, orderBy string, limit, offset int) ([]*models.DeliveryRecord, error) {
	db := r.getDB(ctx)

	var records []*models.DeliveryRecord
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

	err := query.Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find delivery records by filter: %w", err)
	}

	return records, nil
}

// Count returns the number of delivery records matching the filter
func (r *DeliveryRecordRepositoryImpl) Count(ctx context.Context, filter models.DeliveryRecordFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var record models.DeliveryRecord
	query := r.applyFilter(db.Model(&record), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count delivery records: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *DeliveryRecordRepositoryImpl) applyFilter(db *gorm.DB, filter models.DeliveryRecordFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.RecipientID != nil {
		db = db.Where("recipient_id = ?", *filter.RecipientID)
	}
	if filter.Outcome != nil {
		db = db.Where("outcome = ?", *filter.Outcome)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}

	return db
}
