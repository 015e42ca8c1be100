// Package scheduler contains the day-plan calculator and the background
// timer that fires due campaigns.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/peyk-io/peyk/app/dispatcher"
	"github.com/peyk-io/peyk/app/services"
	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/repository"
	"github.com/peyk-io/peyk/utils"
)

// CampaignScheduler periodically checks for due campaigns and day slices
// and hands them to the dispatcher. It also resets the daily quota
// buckets at midnight UTC and sweeps campaigns with outstanding failures
// into retry passes.
type CampaignScheduler struct {
	campaignRepo  repository.CampaignRepository
	dayRepo       repository.ScheduleDayRepository
	accountRepo   repository.AccountRepository
	dispatcher    *dispatcher.Dispatcher
	retry         *dispatcher.RetryCoordinator
	registry      *dispatcher.Registry
	quota         services.QuotaService
	logger        *log.Logger
	interval      time.Duration
	retryInterval time.Duration
	retryCooldown time.Duration
	batchLimit    int
}

// NewCampaignScheduler creates a new campaign scheduler
func NewCampaignScheduler(
	campaignRepo repository.CampaignRepository,
	dayRepo repository.ScheduleDayRepository,
	accountRepo repository.AccountRepository,
	disp *dispatcher.Dispatcher,
	retry *dispatcher.RetryCoordinator,
	registry *dispatcher.Registry,
	quota services.QuotaService,
	logger *log.Logger,
	interval, retryInterval, retryCooldown time.Duration,
	batchLimit int,
) *CampaignScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if retryInterval <= 0 {
		retryInterval = 10 * time.Minute
	}
	if retryCooldown <= 0 {
		retryCooldown = 6 * time.Hour
	}
	if batchLimit <= 0 {
		batchLimit = 10
	}
	if logger == nil {
		logger = log.Default()
	}

	return &CampaignScheduler{
		campaignRepo:  campaignRepo,
		dayRepo:       dayRepo,
		accountRepo:   accountRepo,
		dispatcher:    disp,
		retry:         retry,
		registry:      registry,
		quota:         quota,
		logger:        logger,
		interval:      interval,
		retryInterval: retryInterval,
		retryCooldown: retryCooldown,
		batchLimit:    batchLimit,
	}
}

// Start launches the scheduler loops in background goroutines and returns a stop function
func (s *CampaignScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	go s.runQuotaResetWorker(ctx)
	go s.runRetryWorker(ctx)

	return cancel
}

// runOnce fires everything that is due right now. Re-running it is
// harmless: campaigns with a live run are skipped via the registry, and
// executed day slices no longer match the due query.
func (s *CampaignScheduler) runOnce(ctx context.Context) {
	now := utils.UTCNow()

	due, err := s.campaignRepo.ListScheduledDue(ctx, now, s.batchLimit)
	if err != nil {
		s.logger.Printf("scheduler: list due campaigns failed: %v", err)
	} else {
		for _, campaign := range due {
			if s.registry.Active(campaign.ID) {
				continue
			}
			account, err := s.accountRepo.ByID(ctx, campaign.AccountID)
			if err != nil || account == nil {
				s.logger.Printf("scheduler: account %d missing for campaign %s", campaign.AccountID, campaign.UUID)
				continue
			}
			if _, err := s.dispatcher.Start(ctx, campaign, account); err != nil {
				s.logger.Printf("scheduler: start campaign %s failed: %v", campaign.UUID, err)
				continue
			}
			s.logger.Printf("scheduler: started campaign %s", campaign.UUID)
		}
	}

	days, err := s.dayRepo.ListDue(ctx, now, s.batchLimit)
	if err != nil {
		s.logger.Printf("scheduler: list due day slices failed: %v", err)
		return
	}
	for _, day := range days {
		if s.registry.Active(day.CampaignID) {
			continue
		}
		campaign, err := s.campaignRepo.ByID(ctx, day.CampaignID)
		if err != nil || campaign == nil {
			s.logger.Printf("scheduler: campaign %d missing for day slice %d", day.CampaignID, day.ID)
			continue
		}
		if campaign.Status.IsTerminal() || campaign.Status == models.CampaignStatusPaused {
			continue
		}
		account, err := s.accountRepo.ByID(ctx, campaign.AccountID)
		if err != nil || account == nil {
			s.logger.Printf("scheduler: account %d missing for campaign %s", campaign.AccountID, campaign.UUID)
			continue
		}
		if _, err := s.dispatcher.StartDay(ctx, campaign, account, day); err != nil {
			s.logger.Printf("scheduler: start day %d of campaign %s failed: %v", day.Day, campaign.UUID, err)
			continue
		}
		s.logger.Printf("scheduler: started day %d of campaign %s (%d contacts)", day.Day, campaign.UUID, day.Count)
	}
}

// runQuotaResetWorker clears the quota buckets at every midnight UTC
func (s *CampaignScheduler) runQuotaResetWorker(ctx context.Context) {
	for {
		wait := time.Until(utils.NextMidnight(utils.UTCNow()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.quota.ResetAll(ctx); err != nil {
			s.logger.Printf("scheduler: quota reset failed: %v", err)
			continue
		}
		s.logger.Printf("scheduler: daily quota buckets reset")
	}
}

// runRetryWorker periodically sweeps completed campaigns that still have
// failed recipients into retry passes. The cooldown keeps a campaign
// whose recipients never succeed from being retried on every sweep.
func (s *CampaignScheduler) runRetryWorker(ctx context.Context) {
	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := utils.UTCNow().Add(-s.retryCooldown)
		campaigns, err := s.campaignRepo.ListRetryable(ctx, cutoff, s.batchLimit)
		if err != nil {
			s.logger.Printf("scheduler: list retryable campaigns failed: %v", err)
			continue
		}
		for _, campaign := range campaigns {
			if s.registry.Active(campaign.ID) {
				continue
			}
			account, err := s.accountRepo.ByID(ctx, campaign.AccountID)
			if err != nil || account == nil {
				continue
			}
			result, err := s.retry.RetryFailed(ctx, campaign, account)
			if err != nil {
				s.logger.Printf("scheduler: retry campaign %s failed: %v", campaign.UUID, err)
				continue
			}
			s.logger.Printf("scheduler: retrying %d recipients of campaign %s", result.Requeued, campaign.UUID)
		}
	}
}
