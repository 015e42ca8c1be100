// Package businessflow contains the core business logic and use cases for campaign delivery workflows
package businessflow

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/peyk-io/peyk/app/dispatcher"
	"github.com/peyk-io/peyk/app/dto"
	"github.com/peyk-io/peyk/app/scheduler"
	"github.com/peyk-io/peyk/app/services"
	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/repository"
	"github.com/peyk-io/peyk/utils"
	"gorm.io/gorm"
)

// CampaignControlFlow handles the campaign lifecycle: creation with
// optional day plans, start/pause/resume/stop control, retry passes and
// progress queries.
type CampaignControlFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	StartCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error)
	PauseCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error)
	ResumeCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error)
	StopCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error)
	RetryFailed(ctx context.Context, campaignUUID string) (*dto.RetryFailedResponse, error)
	GetCampaign(ctx context.Context, campaignUUID string) (*dto.GetCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
}

// CampaignControlFlowImpl implements the campaign control business flow
type CampaignControlFlowImpl struct {
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	dayRepo       repository.ScheduleDayRepository
	accountRepo   repository.AccountRepository
	dispatcher    *dispatcher.Dispatcher
	retry         *dispatcher.RetryCoordinator
	registry      *dispatcher.Registry
	notifier      services.Notifier
	db            *gorm.DB
	logger        *log.Logger
	rnd           *rand.Rand
	runInTx       func(ctx context.Context, fn func(context.Context) error) error
}

// NewCampaignControlFlow creates a new campaign control flow instance
func NewCampaignControlFlow(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	dayRepo repository.ScheduleDayRepository,
	accountRepo repository.AccountRepository,
	disp *dispatcher.Dispatcher,
	retry *dispatcher.RetryCoordinator,
	registry *dispatcher.Registry,
	notifier services.Notifier,
	db *gorm.DB,
	logger *log.Logger,
) CampaignControlFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &CampaignControlFlowImpl{
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		dayRepo:       dayRepo,
		accountRepo:   accountRepo,
		dispatcher:    disp,
		retry:         retry,
		registry:      registry,
		notifier:      notifier,
		db:            db,
		logger:        logger,
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		runInTx: func(ctx context.Context, fn func(context.Context) error) error {
			return repository.WithTransaction(ctx, db, fn)
		},
	}
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// normalizePhone strips separators, validates the result and canonicalizes
// to the +-prefixed form so one number never maps to two channel addresses
func normalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(raw)
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone, nil
}

// CreateCampaign validates the request, persists the campaign with its
// recipient list and, for day-split campaigns, computes and persists the
// day plan, all in one transaction.
func (f *CampaignControlFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	account, err := f.accountRepo.ByUUID(ctx, req.AccountUUID)
	if err != nil {
		return nil, NewBusinessError("ACCOUNT_LOOKUP_FAILED", "failed to look up account", err)
	}
	if account == nil {
		return nil, NewBusinessError("ACCOUNT_NOT_FOUND", "account not found", ErrAccountNotFound)
	}
	if !utils.IsTrue(account.IsActive) {
		return nil, NewBusinessError("ACCOUNT_INACTIVE", "account is inactive", ErrAccountInactive)
	}

	spec, err := f.buildSpec(req)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "campaign validation failed", err)
	}

	recipients := make([]*models.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		phone, err := normalizePhone(r.Phone)
		if err != nil {
			return nil, NewBusinessErrorf("INVALID_PHONE", "malformed phone number: %s", err, r.Phone)
		}
		recipients = append(recipients, &models.Recipient{
			Phone:      phone,
			Name:       r.Name,
			Attributes: r.Attributes,
			Status:     models.RecipientStatusPending,
			CreatedAt:  utils.UTCNow(),
		})
	}
	if len(recipients) > utils.MaxRecipientsPerCampaign {
		return nil, NewBusinessError("TOO_MANY_RECIPIENTS", "recipient list too large", ErrTooManyRecipients)
	}

	status := models.CampaignStatusCreated
	if spec.ScheduleAt != nil {
		status = models.CampaignStatusScheduled
	}
	campaign := &models.Campaign{
		AccountID: account.ID,
		Title:     strings.TrimSpace(req.Title),
		Status:    status,
		Spec:      spec,
		Total:     len(recipients),
		Pending:   len(recipients),
		CreatedAt: utils.UTCNow(),
		UpdatedAt: utils.UTCNow(),
	}

	var plan []*models.ScheduleDay
	if spec.HasDayPlan() {
		plan, err = scheduler.BuildPlan(len(recipients), *spec.ScheduleMode, *spec.DailyPercent, *spec.ScheduleAt, *spec.SendTimeMode, f.rnd)
		if err != nil {
			return nil, NewBusinessError("INVALID_SCHEDULE", "failed to build day plan", err)
		}
	}

	err = f.runInTx(ctx, func(txCtx context.Context) error {
		if err := f.campaignRepo.Save(txCtx, campaign); err != nil {
			return err
		}
		for _, r := range recipients {
			r.CampaignID = campaign.ID
		}
		if err := f.recipientRepo.SaveBatch(txCtx, recipients); err != nil {
			return err
		}
		for _, d := range plan {
			d.CampaignID = campaign.ID
		}
		return f.dayRepo.SaveBatch(txCtx, plan)
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "failed to create campaign", err)
	}

	f.logger.Printf("campaign %s created: %d recipients, %d plan days", campaign.UUID, len(recipients), len(plan))
	return &dto.CreateCampaignResponse{
		Message:      "Campaign created successfully",
		UUID:         campaign.UUID.String(),
		Status:       campaign.Status.String(),
		Total:        campaign.Total,
		ScheduleDays: toScheduleDayDTOs(plan),
	}, nil
}

// buildSpec applies defaults and validates the delivery configuration
func (f *CampaignControlFlowImpl) buildSpec(req *dto.CreateCampaignRequest) (models.CampaignSpec, error) {
	var spec models.CampaignSpec

	if strings.TrimSpace(req.Title) == "" {
		return spec, ErrCampaignTitleRequired
	}
	if len(req.Messages) == 0 {
		return spec, ErrMessageRequired
	}
	if len(req.Messages) > utils.MaxMessagesPerCampaign {
		return spec, ErrTooManyMessages
	}
	if len(req.Recipients) == 0 {
		return spec, ErrRecipientsRequired
	}

	messages := make([]models.MessageTemplate, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.Content) > utils.MaxMessageLength {
			return spec, ErrMessageTooLong
		}
		messages = append(messages, models.MessageTemplate{
			Content:  m.Content,
			MediaURL: m.MediaURL,
		})
	}

	spec = models.CampaignSpec{
		Messages:        messages,
		RotateMessages:  req.RotateMessages,
		InjectVariation: req.InjectVariation,
		MinDelaySeconds: int(utils.DefaultMinSendDelay / time.Second),
		MaxDelaySeconds: int(utils.DefaultMaxSendDelay / time.Second),
		BatchSize:       utils.DefaultBatchSize,
		CooldownSeconds: int(utils.DefaultBatchRest / time.Second),
	}
	if req.MinDelaySeconds != nil {
		spec.MinDelaySeconds = *req.MinDelaySeconds
	}
	if req.MaxDelaySeconds != nil {
		spec.MaxDelaySeconds = *req.MaxDelaySeconds
	}
	if spec.MinDelaySeconds > spec.MaxDelaySeconds {
		return spec, ErrInvalidDelayRange
	}
	if req.BatchSize != nil {
		spec.BatchSize = *req.BatchSize
	}
	if req.CooldownSeconds != nil {
		spec.CooldownSeconds = *req.CooldownSeconds
	}

	if req.Schedule != nil {
		startAt := req.Schedule.StartAt.UTC()
		if !startAt.After(utils.UTCNow()) {
			return spec, ErrScheduleTimeInPast
		}
		spec.ScheduleAt = &startAt

		if req.Schedule.DailyPercent != nil {
			percent := *req.Schedule.DailyPercent
			if percent <= 0 || percent > 100 {
				return spec, ErrInvalidDailyPercent
			}
			spec.DailyPercent = &percent

			mode := models.ScheduleModeProgressive
			if req.Schedule.Mode != nil {
				mode = models.ScheduleMode(*req.Schedule.Mode)
				if !mode.Valid() {
					return spec, ErrInvalidScheduleMode
				}
			}
			spec.ScheduleMode = &mode

			timeMode := models.SendTimeModeSame
			if req.Schedule.SendTimeMode != nil {
				timeMode = models.SendTimeMode(*req.Schedule.SendTimeMode)
				if !timeMode.Valid() {
					return spec, ErrInvalidSendTimeMode
				}
			}
			spec.SendTimeMode = &timeMode
		}
	}

	return spec, nil
}

// StartCampaign begins or resumes delivery immediately
func (f *CampaignControlFlowImpl) StartCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error) {
	campaign, account, err := f.loadCampaign(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}

	result, err := f.dispatcher.Start(ctx, campaign, account)
	if err != nil {
		return nil, f.mapDispatchError(campaign, err)
	}

	eta := result.EstimatedCompletion
	return &dto.ControlActionResponse{
		Message:             "Campaign started",
		UUID:                campaign.UUID.String(),
		Status:              campaign.Status.String(),
		CurrentIndex:        result.StartIndex,
		EstimatedCompletion: &eta,
	}, nil
}

// PauseCampaign parks a running campaign before its next send
func (f *CampaignControlFlowImpl) PauseCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error) {
	campaign, _, err := f.loadCampaign(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}

	if err := f.dispatcher.Pause(ctx, campaign); err != nil {
		return nil, f.mapDispatchError(campaign, err)
	}

	return &dto.ControlActionResponse{
		Message:      "Campaign paused",
		UUID:         campaign.UUID.String(),
		Status:       campaign.Status.String(),
		CurrentIndex: campaign.CurrentIndex,
	}, nil
}

// ResumeCampaign continues a paused campaign from its parked index. A
// campaign paused by quota exhaustion or a restart has no live run, so
// resuming it launches a fresh run from the persisted index.
func (f *CampaignControlFlowImpl) ResumeCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error) {
	campaign, account, err := f.loadCampaign(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}

	if _, live := f.registry.Lookup(campaign.ID); live {
		if err := f.dispatcher.Resume(ctx, campaign); err != nil {
			return nil, f.mapDispatchError(campaign, err)
		}
	} else {
		if campaign.Status != models.CampaignStatusPaused {
			return nil, NewBusinessError("CAMPAIGN_NOT_PAUSED", "campaign is not paused", ErrCampaignNotPaused)
		}
		if _, err := f.dispatcher.Start(ctx, campaign, account); err != nil {
			return nil, f.mapDispatchError(campaign, err)
		}
	}

	return &dto.ControlActionResponse{
		Message:      "Campaign resumed",
		UUID:         campaign.UUID.String(),
		Status:       campaign.Status.String(),
		CurrentIndex: campaign.CurrentIndex,
	}, nil
}

// StopCampaign terminates delivery permanently, preserving progress
func (f *CampaignControlFlowImpl) StopCampaign(ctx context.Context, campaignUUID string) (*dto.ControlActionResponse, error) {
	campaign, _, err := f.loadCampaign(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}

	if _, live := f.registry.Lookup(campaign.ID); live {
		if err := f.dispatcher.Stop(ctx, campaign); err != nil {
			return nil, f.mapDispatchError(campaign, err)
		}
	} else {
		// No live run; stop the parked campaign directly
		if !campaign.Status.CanTransitionTo(models.CampaignStatusStopped) {
			return nil, NewBusinessError("CAMPAIGN_FINISHED", "campaign has already finished", ErrCampaignTerminal)
		}
		now := utils.UTCNow()
		if err := f.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusStopped, now); err != nil {
			return nil, NewBusinessError("CAMPAIGN_STOP_FAILED", "failed to stop campaign", err)
		}
		campaign.Status = models.CampaignStatusStopped
		if err := f.notifier.Emit(ctx, campaign.UUID.String(), services.EventCampaignStopped, dispatcher.LifecyclePayload{
			ID:           campaign.UUID.String(),
			CurrentIndex: campaign.CurrentIndex,
		}); err != nil {
			f.logger.Printf("campaign %s: failed to emit stop event: %v", campaign.UUID, err)
		}
	}

	return &dto.ControlActionResponse{
		Message:      "Campaign stopped",
		UUID:         campaign.UUID.String(),
		Status:       models.CampaignStatusStopped.String(),
		CurrentIndex: campaign.CurrentIndex,
	}, nil
}

// RetryFailed re-queues the campaign's failed recipients and runs a
// delivery pass over them
func (f *CampaignControlFlowImpl) RetryFailed(ctx context.Context, campaignUUID string) (*dto.RetryFailedResponse, error) {
	campaign, account, err := f.loadCampaign(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}

	result, err := f.retry.RetryFailed(ctx, campaign, account)
	if err != nil {
		return nil, f.mapDispatchError(campaign, err)
	}

	eta := result.EstimatedCompletion
	return &dto.RetryFailedResponse{
		Message:             "Retry pass started",
		UUID:                campaign.UUID.String(),
		Requeued:            result.Requeued,
		EstimatedCompletion: &eta,
	}, nil
}

// GetCampaign returns campaign details, progress counters, the day plan
// and the current failed recipients
func (f *CampaignControlFlowImpl) GetCampaign(ctx context.Context, campaignUUID string) (*dto.GetCampaignResponse, error) {
	campaign, _, err := f.loadCampaign(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}

	days, err := f.dayRepo.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "failed to load day plan", err)
	}
	failed, err := f.recipientRepo.ListFailedByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "failed to load failed recipients", err)
	}

	resp := toCampaignDTO(campaign)
	resp.ScheduleDays = toScheduleDayDTOs(days)
	for _, r := range failed {
		item := dto.FailedRecipientDTO{Phone: r.Phone, Name: r.Name}
		if r.LastError != nil {
			item.Error = *r.LastError
		}
		resp.FailedRecipients = append(resp.FailedRecipients, item)
	}
	return resp, nil
}

// ListCampaigns returns a page of the account's campaigns, newest first
// by default
func (f *CampaignControlFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	account, err := f.accountRepo.ByUUID(ctx, req.AccountUUID)
	if err != nil {
		return nil, NewBusinessError("ACCOUNT_LOOKUP_FAILED", "failed to look up account", err)
	}
	if account == nil {
		return nil, NewBusinessError("ACCOUNT_NOT_FOUND", "account not found", ErrAccountNotFound)
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := models.CampaignFilter{AccountID: &account.ID}
	if req.Filter != nil {
		if req.Filter.Title != nil {
			filter.Title = req.Filter.Title
		}
		if req.Filter.Status != nil {
			status := models.CampaignStatus(*req.Filter.Status)
			if status.Valid() {
				filter.Status = &status
			}
		}
	}

	orderBy := "created_at DESC"
	if req.OrderBy == "oldest" {
		orderBy = "created_at ASC"
	}

	campaigns, err := f.campaignRepo.ByFilter(ctx, filter, orderBy, limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "failed to list campaigns", err)
	}
	total, err := f.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "failed to count campaigns", err)
	}

	items := make([]dto.GetCampaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, *toCampaignDTO(c))
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &dto.ListCampaignsResponse{
		Message: "Campaigns listed successfully",
		Items:   items,
		Pagination: dto.PaginationInfo{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

// loadCampaign resolves a campaign and its owning account
func (f *CampaignControlFlowImpl) loadCampaign(ctx context.Context, campaignUUID string) (*models.Campaign, *models.Account, error) {
	campaign, err := f.campaignRepo.ByUUID(ctx, campaignUUID)
	if err != nil {
		return nil, nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "failed to look up campaign", err)
	}
	if campaign == nil {
		return nil, nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "campaign not found", ErrCampaignNotFound)
	}

	account, err := f.accountRepo.ByID(ctx, campaign.AccountID)
	if err != nil {
		return nil, nil, NewBusinessError("ACCOUNT_LOOKUP_FAILED", "failed to look up account", err)
	}
	if account == nil {
		return nil, nil, NewBusinessError("ACCOUNT_NOT_FOUND", "account not found", ErrAccountNotFound)
	}
	return campaign, account, nil
}

// mapDispatchError translates dispatcher sentinels into business errors
func (f *CampaignControlFlowImpl) mapDispatchError(campaign *models.Campaign, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dispatcher.ErrCampaignActive):
		return NewBusinessError("CAMPAIGN_ALREADY_RUNNING", "campaign is already running", ErrCampaignAlreadyRunning)
	case errors.Is(err, dispatcher.ErrChannelInUse):
		return NewBusinessError("CHANNEL_IN_USE", "channel is busy with another campaign", ErrChannelInUse)
	case errors.Is(err, dispatcher.ErrChannelNotConnected):
		return NewBusinessError("CHANNEL_NOT_CONNECTED", "messaging channel is not connected", ErrChannelNotConnected)
	case errors.Is(err, dispatcher.ErrQuotaExhausted):
		return NewBusinessError("DAILY_QUOTA_EXHAUSTED", "daily send quota exhausted", ErrDailyQuotaExhausted)
	case errors.Is(err, dispatcher.ErrNoPendingRecipients):
		return NewBusinessError("NO_PENDING_RECIPIENTS", "campaign has no pending recipients", ErrNoPendingRecipients)
	case errors.Is(err, dispatcher.ErrNoFailedRecipients):
		return NewBusinessError("NO_FAILED_RECIPIENTS", "campaign has no failed recipients", ErrNoFailedRecipients)
	case errors.Is(err, dispatcher.ErrCampaignNotActive):
		return NewBusinessError("CAMPAIGN_NOT_RUNNING", "campaign is not running", ErrCampaignNotRunning)
	case errors.Is(err, dispatcher.ErrNotPaused):
		return NewBusinessError("CAMPAIGN_NOT_PAUSED", "campaign is not paused", ErrCampaignNotPaused)
	case errors.Is(err, dispatcher.ErrAlreadyPaused):
		return NewBusinessError("CAMPAIGN_ALREADY_PAUSED", "campaign is already paused", ErrIllegalStatusTransition)
	case errors.Is(err, dispatcher.ErrIllegalTransition):
		if campaign.Status.IsTerminal() {
			return NewBusinessError("CAMPAIGN_FINISHED", "campaign has already finished", ErrCampaignTerminal)
		}
		return NewBusinessError("ILLEGAL_TRANSITION", "illegal campaign status transition", ErrIllegalStatusTransition)
	default:
		return NewBusinessError("CAMPAIGN_CONTROL_FAILED", "campaign control operation failed", err)
	}
}

func toCampaignDTO(c *models.Campaign) *dto.GetCampaignResponse {
	return &dto.GetCampaignResponse{
		UUID:         c.UUID.String(),
		Title:        c.Title,
		Status:       c.Status.String(),
		Total:        c.Total,
		Sent:         c.Sent,
		Failed:       c.Failed,
		Pending:      c.Pending,
		CurrentIndex: c.CurrentIndex,
		Percentage:   c.Progress(),
		CreatedAt:    c.CreatedAt,
		StartedAt:    c.StartedAt,
		CompletedAt:  c.CompletedAt,
	}
}

func toScheduleDayDTOs(days []*models.ScheduleDay) []dto.ScheduleDayDTO {
	if len(days) == 0 {
		return nil
	}
	out := make([]dto.ScheduleDayDTO, 0, len(days))
	for _, d := range days {
		out = append(out, dto.ScheduleDayDTO{
			Day:        d.Day,
			Date:       d.Date.Format("2006-01-02"),
			SendAt:     d.SendAt,
			Count:      d.Count,
			Percent:    d.Percent,
			StartIndex: d.StartIndex,
			EndIndex:   d.EndIndex,
			TotalSent:  d.TotalSent,
			Remaining:  d.Remaining,
			Status:     d.Status.String(),
		})
	}
	return out
}
