package dispatcher

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/repository"
	"github.com/peyk-io/peyk/utils"
)

// ErrNoFailedRecipients indicates a retry was requested with nothing to retry
var ErrNoFailedRecipients = errors.New("campaign has no failed recipients")

// RetryResult reports an accepted retry pass
type RetryResult struct {
	CampaignUUID        string
	Requeued            int
	EstimatedDuration   time.Duration
	EstimatedCompletion time.Time
}

// RetryCoordinator re-queues a campaign's failed recipients and runs a
// delivery pass over just that subset. Outcomes merge into the campaign's
// counters: recipients that succeed move from failed to sent, the rest
// return to failed.
type RetryCoordinator struct {
	dispatcher    *Dispatcher
	registry      *Registry
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	logger        *log.Logger
}

// NewRetryCoordinator creates a new retry coordinator
func NewRetryCoordinator(dispatcher *Dispatcher, registry *Registry, campaignRepo repository.CampaignRepository, recipientRepo repository.RecipientRepository, logger *log.Logger) *RetryCoordinator {
	return &RetryCoordinator{
		dispatcher:    dispatcher,
		registry:      registry,
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		logger:        logger,
	}
}

// RetryFailed starts a retry pass. It refuses while the campaign has a
// live run, so a retry can never interleave with first-pass delivery.
func (c *RetryCoordinator) RetryFailed(ctx context.Context, campaign *models.Campaign, account *models.Account) (*RetryResult, error) {
	if c.registry.Active(campaign.ID) {
		return nil, ErrCampaignActive
	}
	if campaign.Status == models.CampaignStatusRunning {
		return nil, ErrCampaignActive
	}

	failed, err := c.recipientRepo.ListFailedByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, ErrNoFailedRecipients
	}

	// All launch preconditions run before any recipient or counter is
	// touched; a refused retry leaves the campaign exactly as it was.
	if err := c.dispatcher.preflight(ctx, account); err != nil {
		return nil, err
	}
	rt, err := c.registry.Register(campaign.ID, account.ChannelSession, 0)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(failed))
	for _, r := range failed {
		ids = append(ids, r.ID)
		r.Status = models.RecipientStatusPending
		r.LastError = nil
		r.SentAt = nil
	}
	if err := c.recipientRepo.ResetForRetry(ctx, ids); err != nil {
		c.registry.Unregister(campaign.ID)
		return nil, err
	}

	now := utils.UTCNow()
	campaign.Failed -= len(failed)
	campaign.Pending += len(failed)
	if err := c.campaignRepo.UpdateProgress(ctx, campaign.ID, campaign.Sent, campaign.Failed, campaign.Pending, campaign.CurrentIndex); err != nil {
		c.registry.Unregister(campaign.ID)
		return nil, err
	}
	if err := c.campaignRepo.MarkRetried(ctx, campaign.ID, now); err != nil {
		c.registry.Unregister(campaign.ID)
		return nil, err
	}
	campaign.LastRetryAt = &now

	result, err := c.dispatcher.launch(ctx, campaign, account, failed, 0, runOptions{
		completeStatus: models.CampaignStatusCompleted,
		attempt:        2,
		rt:             rt,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Printf("campaign %s: retrying %d failed recipients", campaign.UUID, len(failed))
	return &RetryResult{
		CampaignUUID:        campaign.UUID.String(),
		Requeued:            len(failed),
		EstimatedDuration:   result.EstimatedDuration,
		EstimatedCompletion: result.EstimatedCompletion,
	}, nil
}
