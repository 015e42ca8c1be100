package repository

import (
	"context"
	"fmt"

	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/utils"
	"gorm.io/gorm"
)

// AccountRepositoryImpl implements the AccountRepository interface
type AccountRepositoryImpl struct {
	*BaseRepository[models.Account, models.AccountFilter]
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &AccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Account, models.AccountFilter](db),
	}
}

// ByUUID retrieves an account by UUID
func (r *AccountRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Account, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	filter := models.AccountFilter{UUID: &parsedUUID}
	accounts, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by UUID: %w", err)
	}

	if len(accounts) == 0 {
		return nil, nil
	}

	return accounts[0], nil
}

// ByChannelSession retrieves the account owning a channel session
func (r *AccountRepositoryImpl) ByChannelSession(ctx context.Context, session string) (*models.Account, error) {
	filter := models.AccountFilter{ChannelSession: &session}
	accounts, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by channel session: %w", err)
	}

	if len(accounts) == 0 {
		return nil, nil
	}

	return accounts[0], nil
}

// ListActive retrieves active accounts with pagination
func (r *AccountRepositoryImpl) ListActive(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	active := true
	filter := models.AccountFilter{IsActive: &active}
	return r.ByFilter(ctx, filter, "id ASC", limit, offset)
}

// ByFilter retrieves accounts based on filter criteria
func (r *AccountRepositoryImpl) ByFilter(ctx context.Context, filter models.AccountFilter, orderBy string, limit, offset int) ([]*models.Account, error) {
	db := r.getDB(ctx)

	var accounts []*models.Account
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

	err := query.Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find accounts by filter: %w", err)
	}

	return accounts, nil
}

// Count returns the number of accounts matching the filter
func (r *AccountRepositoryImpl) Count(ctx context.Context, filter models.AccountFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var account models.Account
	query := r.applyFilter(db.Model(&account), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *AccountRepositoryImpl) applyFilter(db *gorm.DB, filter models.AccountFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.Name != nil {
		db = db.Where("name = ?", *filter.Name)
	}
	if filter.ChannelSession != nil {
		db = db.Where("channel_session = ?", *filter.ChannelSession)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}

	return db
}
