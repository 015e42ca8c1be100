// Package testing provides test utilities and database setup for testing the delivery engine
package testing

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestAccount creates an active account with a unique channel session
func (tf *TestFixtures) CreateTestAccount() (*models.Account, error) {
	account := &models.Account{
		UUID:           uuid.New(),
		Name:           fmt.Sprintf("Test Account %d", rand.Intn(100000)),
		ChannelSession: fmt.Sprintf("session-%s", uuid.New().String()[:8]),
		DailyQuota:     utils.DefaultDailyQuota,
		IsActive:       utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create test account: %w", err)
	}

	return account, nil
}

// CreateTestCampaign creates a campaign with the given number of pending recipients
func (tf *TestFixtures) CreateTestCampaign(account *models.Account, recipientCount int) (*models.Campaign, []*models.Recipient, error) {
	campaign := &models.Campaign{
		UUID:      uuid.New(),
		AccountID: account.ID,
		Title:     fmt.Sprintf("Test Campaign %d", rand.Intn(100000)),
		Status:    models.CampaignStatusCreated,
		Spec: models.CampaignSpec{
			Messages: []models.MessageTemplate{
				{Content: "Hello {{name}}"},
			},
		},
		Total:   recipientCount,
		Pending: recipientCount,
	}

	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create test campaign: %w", err)
	}

	recipients := make([]*models.Recipient, 0, recipientCount)
	for i := 0; i < recipientCount; i++ {
		recipient := &models.Recipient{
			CampaignID: campaign.ID,
			Phone:      fmt.Sprintf("+1555%07d", i),
			Name:       fmt.Sprintf("Recipient %d", i),
			Status:     models.RecipientStatusPending,
		}
		if err := tf.DB.DB.Create(recipient).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to create test recipient %d: %w", i, err)
		}
		recipients = append(recipients, recipient)
	}

	return campaign, recipients, nil
}
