package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/peyk-io/peyk/models"
	"gorm.io/gorm"
)

// RecipientRepositoryImpl implements the RecipientRepository interface
type RecipientRepositoryImpl struct {
	*BaseRepository[models.Recipient, models.RecipientFilter]
}

// NewRecipientRepository creates a new recipient repository
func NewRecipientRepository(db *gorm.DB) RecipientRepository {
	return &RecipientRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Recipient, models.RecipientFilter](db),
	}
}

// ListByCampaign retrieves a campaign's recipients in dispatch order.
// Offset and limit cut a window out of the ordered list, which is how
// day-plan slices are loaded.
func (r *RecipientRepositoryImpl) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.Recipient, error) {
	filter := models.RecipientFilter{CampaignID: &campaignID}
	return r.ByFilter(ctx, filter, "id ASC", limit, offset)
}

// ListFailedByCampaign retrieves the failed recipients of a campaign in
// dispatch order
func (r *RecipientRepositoryImpl) ListFailedByCampaign(ctx context.Context, campaignID uint) ([]*models.Recipient, error) {
	status := models.RecipientStatusFailed
	filter := models.RecipientFilter{CampaignID: &campaignID, Status: &status}
	return r.ByFilter(ctx, filter, "id ASC", 0, 0)
}

// UpdateDelivery records the outcome of a send attempt on the recipient row
func (r *RecipientRepositoryImpl) UpdateDelivery(ctx context.Context, recipientID uint, status models.RecipientStatus, lastError *string, sentAt *time.Time) error {
	err := r.updateColumns(ctx, map[string]any{"id": recipientID}, map[string]any{
		"status":     status,
		"last_error": lastError,
		"sent_at":    sentAt,
	})
	if err != nil {
		return fmt.Errorf("failed to update recipient delivery: %w", err)
	}
	return nil
}

// ResetForRetry returns failed recipients to pending so a retry pass can
// pick them up
func (r *RecipientRepositoryImpl) ResetForRetry(ctx context.Context, recipientIDs []uint) error {
	if len(recipientIDs) == 0 {
		return nil
	}

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

	err = db.Model(&models.Recipient{}).
		Where("id IN ?", recipientIDs).
		Where("status = ?", models.RecipientStatusFailed).
		Updates(map[string]any{
			"status":     models.RecipientStatusPending,
			"last_error": nil,
			"sent_at":    nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset recipients for retry: %w", err)
	}

	return nil
}

// ByFilter retrieves recipients based on filter criteria
func (r *RecipientRepositoryImpl) ByFilter(ctx context.Context, filter models.RecipientFilter, orderBy string, limit, offset int) ([]*models.Recipient, error) {
	db := r.getDB(ctx)

	var recipients []*models.Recipient
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

	err := query.Find(&recipients).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find recipients by filter: %w", err)
	}

	return recipients, nil
}

// Count returns the number of recipients matching the filter
func (r *RecipientRepositoryImpl) Count(ctx context.Context, filter models.RecipientFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var recipient models.Recipient
	query := r.applyFilter(db.Model(&recipient), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *RecipientRepositoryImpl) applyFilter(db *gorm.DB, filter models.RecipientFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.Phone != nil {
		db = db.Where("phone = ?", *filter.Phone)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.SentAfter != nil {
		db = db.Where("sent_at >= ?", *filter.SentAfter)
	}
	if filter.SentBefore != nil {
		db = db.Where("sent_at <= ?", *filter.SentBefore)
	}

	return db
}
