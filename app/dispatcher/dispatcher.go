package dispatcher

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/peyk-io/peyk/app/services"
	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/repository"
	"github.com/peyk-io/peyk/utils"
)

var (
	// ErrChannelNotConnected indicates the channel session is not logged in
	ErrChannelNotConnected = errors.New("channel session is not connected")

	// ErrQuotaExhausted indicates the account's daily send cap is already spent
	ErrQuotaExhausted = errors.New("daily send quota exhausted")

	// ErrNoPendingRecipients indicates the campaign has nothing left to send
	ErrNoPendingRecipients = errors.New("campaign has no pending recipients")

	// ErrIllegalTransition indicates the campaign state forbids the operation
	ErrIllegalTransition = errors.New("illegal campaign state transition")
)

// StartedPayload is the campaign_started event body
type StartedPayload struct {
	ID                  string    `json:"id"`
	Total               int       `json:"total"`
	StartIndex          int       `json:"start_index"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// ProgressPayload is the campaign_progress event body
type ProgressPayload struct {
	ID         string  `json:"id"`
	Sent       int     `json:"sent"`
	Failed     int     `json:"failed"`
	Pending    int     `json:"pending"`
	Percentage float64 `json:"percentage"`
}

// RecipientFailedPayload is the campaign_recipient_failed event body
type RecipientFailedPayload struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Error string `json:"error"`
}

// LifecyclePayload is the body of pause, resume and stop events
type LifecyclePayload struct {
	ID           string `json:"id"`
	CurrentIndex int    `json:"current_index"`
}

// CompletedPayload is the campaign_completed and campaign_failed event body
type CompletedPayload struct {
	ID     string `json:"id"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
	Total  int    `json:"total"`
	Error  string `json:"error,omitempty"`
}

// QuotaPayload is the daily_limit_reached event body
type QuotaPayload struct {
	ID        string `json:"id"`
	AccountID uint   `json:"account_id"`
	Limit     int    `json:"limit"`
}

// DayExecutedPayload is the schedule_day_executed event body
type DayExecutedPayload struct {
	ID       string `json:"id"`
	Day      int    `json:"day"`
	Contacts int    `json:"contacts"`
}

// StartResult reports the accepted dispatch run to the caller
type StartResult struct {
	CampaignUUID        string
	Total               int
	StartIndex          int
	EstimatedDuration   time.Duration
	EstimatedCompletion time.Time
}

// runOptions shape one dispatch run. A nil day with trackIndex true is a
// plain full-list run; day runs and retry runs dispatch a subset and
// leave the campaign's resume index alone.
type runOptions struct {
	day            *models.ScheduleDay
	completeStatus models.CampaignStatus
	trackIndex     bool
	attempt        int
	// rt carries a registry slot the caller already claimed; launch
	// claims its own when nil
	rt *Runtime
}

// Dispatcher owns the per-campaign send goroutines. Each campaign is
// dispatched by exactly one goroutine; control operations communicate
// with it through the Runtime flags, never by touching its loop state.
type Dispatcher struct {
	registry      *Registry
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	recordRepo    repository.DeliveryRecordRepository
	dayRepo       repository.ScheduleDayRepository
	channel       services.ChannelClient
	quota         services.QuotaService
	notifier      services.Notifier
	logger        *log.Logger

	baseCtx context.Context
	wg      sync.WaitGroup

	randMu sync.Mutex
	rnd    *rand.Rand

	// sleep is swapped out in tests to skip real pacing delays
	sleep func(ctx context.Context, stop <-chan struct{}, d time.Duration) error
}

// NewDispatcher creates a dispatcher whose runs live until baseCtx ends
func NewDispatcher(
	baseCtx context.Context,
	registry *Registry,
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	recordRepo repository.DeliveryRecordRepository,
	dayRepo repository.ScheduleDayRepository,
	channel services.ChannelClient,
	quota services.QuotaService,
	notifier services.Notifier,
	logger *log.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		recordRepo:    recordRepo,
		dayRepo:       dayRepo,
		channel:       channel,
		quota:         quota,
		notifier:      notifier,
		logger:        logger,
		baseCtx:       baseCtx,
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:         sleepUnlessStopped,
	}
}

// Wait blocks until every live dispatch goroutine has checkpointed and exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Start launches a full dispatch run for the campaign, resuming from its
// persisted index. It validates preconditions synchronously and returns
// once the send goroutine is running.
func (d *Dispatcher) Start(ctx context.Context, campaign *models.Campaign, account *models.Account) (*StartResult, error) {
	if !campaign.Status.CanTransitionTo(models.CampaignStatusRunning) {
		return nil, ErrIllegalTransition
	}

	recipients, err := d.recipientRepo.ListByCampaign(ctx, campaign.ID, 0, 0)
	if err != nil {
		return nil, err
	}
	if campaign.CurrentIndex >= len(recipients) {
		return nil, ErrNoPendingRecipients
	}

	return d.launch(ctx, campaign, account, recipients, campaign.CurrentIndex, runOptions{
		completeStatus: models.CampaignStatusCompleted,
		trackIndex:     true,
		attempt:        1,
	})
}

// StartDay launches a dispatch run for one slice of a day-split campaign.
// Non-final days return the campaign to scheduled when the slice drains.
func (d *Dispatcher) StartDay(ctx context.Context, campaign *models.Campaign, account *models.Account, day *models.ScheduleDay) (*StartResult, error) {
	if !campaign.Status.CanTransitionTo(models.CampaignStatusRunning) {
		return nil, ErrIllegalTransition
	}

	count := day.EndIndex - day.StartIndex
	if count <= 0 {
		return nil, ErrNoPendingRecipients
	}
	recipients, err := d.recipientRepo.ListByCampaign(ctx, campaign.ID, count, day.StartIndex)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoPendingRecipients
	}

	completeStatus := models.CampaignStatusScheduled
	if day.IsFinal() {
		completeStatus = models.CampaignStatusCompleted
	}
	return d.launch(ctx, campaign, account, recipients, 0, runOptions{
		day:            day,
		completeStatus: completeStatus,
		attempt:        1,
	})
}

// preflight verifies the account's channel session is connected and its
// daily quota has room for at least one message
func (d *Dispatcher) preflight(ctx context.Context, account *models.Account) error {
	state, err := d.channel.ConnectionState(ctx, account.ChannelSession)
	if err != nil {
		return ErrChannelNotConnected
	}
	if state != services.ConnectionStateConnected {
		return ErrChannelNotConnected
	}

	used, err := d.quota.Used(ctx, account.ID)
	if err != nil {
		return err
	}
	if used >= quotaLimit(account) {
		return ErrQuotaExhausted
	}
	return nil
}

// launch runs the shared preconditions, claims the registry slot and
// spawns the send goroutine.
func (d *Dispatcher) launch(ctx context.Context, campaign *models.Campaign, account *models.Account, recipients []*models.Recipient, startIndex int, opts runOptions) (*StartResult, error) {
	rt := opts.rt
	if rt == nil {
		if err := d.preflight(ctx, account); err != nil {
			return nil, err
		}
		var err error
		rt, err = d.registry.Register(campaign.ID, account.ChannelSession, startIndex)
		if err != nil {
			return nil, err
		}
	}

	now := utils.UTCNow()
	if err := d.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusRunning, now); err != nil {
		d.registry.Unregister(campaign.ID)
		return nil, err
	}
	campaign.Status = models.CampaignStatusRunning
	campaign.StartedAt = &now

	remaining := len(recipients) - startIndex
	eta := estimateDuration(remaining, campaign.Spec)
	result := &StartResult{
		CampaignUUID:        campaign.UUID.String(),
		Total:               campaign.Total,
		StartIndex:          startIndex,
		EstimatedDuration:   eta,
		EstimatedCompletion: now.Add(eta),
	}

	d.emit(campaign, services.EventCampaignStarted, StartedPayload{
		ID:                  campaign.UUID.String(),
		Total:               campaign.Total,
		StartIndex:          startIndex,
		EstimatedCompletion: result.EstimatedCompletion,
	})

	d.wg.Add(1)
	go d.run(rt, campaign, account, recipients, opts)

	return result, nil
}

// Pause parks the campaign's send goroutine before its next send
func (d *Dispatcher) Pause(ctx context.Context, campaign *models.Campaign) error {
	rt, ok := d.registry.Lookup(campaign.ID)
	if !ok {
		return ErrCampaignNotActive
	}
	if err := rt.RequestPause(); err != nil {
		return err
	}

	// Column-scoped write; the run goroutine keeps checkpointing fresher
	// counters through UpdateProgress and must not be overwritten here.
	now := utils.UTCNow()
	if err := d.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusPaused, now); err != nil {
		return err
	}
	campaign.Status = models.CampaignStatusPaused
	campaign.PausedAt = &now

	d.emit(campaign, services.EventCampaignPaused, LifecyclePayload{
		ID:           campaign.UUID.String(),
		CurrentIndex: rt.Index(),
	})
	d.logger.Printf("campaign %s paused at index %d", campaign.UUID, rt.Index())
	return nil
}

// Resume wakes a paused campaign; delivery continues at the parked index
func (d *Dispatcher) Resume(ctx context.Context, campaign *models.Campaign) error {
	rt, ok := d.registry.Lookup(campaign.ID)
	if !ok {
		return ErrCampaignNotActive
	}
	if err := rt.RequestResume(); err != nil {
		return err
	}

	now := utils.UTCNow()
	if err := d.campaignRepo.MarkResumed(ctx, campaign.ID, now); err != nil {
		return err
	}
	campaign.Status = models.CampaignStatusRunning
	campaign.ResumedAt = &now

	d.emit(campaign, services.EventCampaignResumed, LifecyclePayload{
		ID:           campaign.UUID.String(),
		CurrentIndex: rt.Index(),
	})
	d.logger.Printf("campaign %s resumed at index %d", campaign.UUID, rt.Index())
	return nil
}

// Stop requests cooperative termination. The send goroutine finishes its
// in-flight message, checkpoints and emits campaign_stopped on its way out.
func (d *Dispatcher) Stop(ctx context.Context, campaign *models.Campaign) error {
	rt, ok := d.registry.Lookup(campaign.ID)
	if !ok {
		return ErrCampaignNotActive
	}
	rt.RequestStop()
	d.logger.Printf("campaign %s stop requested at index %d", campaign.UUID, rt.Index())
	return nil
}

// run is the send loop. It owns the campaign's counters for the duration
// of the run and checkpoints them after every outcome, so a crash at any
// point loses at most the in-flight message.
func (d *Dispatcher) run(rt *Runtime, campaign *models.Campaign, account *models.Account, recipients []*models.Recipient, opts runOptions) {
	defer d.wg.Done()
	defer d.registry.Unregister(campaign.ID)

	ctx := d.baseCtx
	spec := campaign.Spec
	limit := quotaLimit(account)
	attempted := 0
	dispatched := make([]int64, 0, len(recipients))

	for {
		idx := rt.Index()
		if idx >= len(recipients) {
			d.finishDrained(ctx, campaign, opts, dispatched)
			return
		}
		if rt.Stopped() {
			d.finishStopped(ctx, rt, campaign, opts)
			return
		}
		if err := rt.AwaitResume(ctx); err != nil {
			d.checkpointShutdown(rt, campaign, opts)
			return
		}
		if rt.Stopped() {
			d.finishStopped(ctx, rt, campaign, opts)
			return
		}

		allowed, err := d.quota.Allow(ctx, account.ID, limit)
		if err != nil {
			d.finishFailed(ctx, rt, campaign, opts, "quota backend error: "+err.Error())
			return
		}
		if !allowed {
			d.pauseOnQuota(ctx, rt, campaign, account, limit)
			return
		}

		rcp := recipients[idx]
		tmpl := spec.Messages[0]
		if spec.RotateMessages && len(spec.Messages) > 1 {
			tmpl = spec.Messages[attempted%len(spec.Messages)]
		}
		body := RenderTemplate(tmpl.Content, rcp)
		if spec.InjectVariation {
			body += d.variation()
		}

		sendStart := time.Now()
		var sendErr error
		if tmpl.MediaURL != nil {
			sendErr = d.channel.SendImage(ctx, account.ChannelSession, rcp.Phone, *tmpl.MediaURL, body)
		} else {
			sendErr = d.channel.SendText(ctx, account.ChannelSession, rcp.Phone, body)
		}
		sendDuration.Observe(time.Since(sendStart).Seconds())

		if sendErr != nil && errors.Is(sendErr, services.ErrChannelUnavailable) {
			// The channel itself is gone; the recipient stays pending
			d.finishFailed(ctx, rt, campaign, opts, sendErr.Error())
			return
		}

		now := utils.UTCNow()
		if sendErr != nil {
			campaign.Failed++
			campaign.Pending--
			messagesTotal.WithLabelValues("failed").Inc()
			reason := sendErr.Error()
			if err := d.recipientRepo.UpdateDelivery(ctx, rcp.ID, models.RecipientStatusFailed, &reason, nil); err != nil {
				d.logger.Printf("campaign %s: failed to record delivery for %s: %v", campaign.UUID, rcp.Phone, err)
			}
			d.saveRecord(ctx, campaign, rcp, models.DeliveryOutcomeFailed, &reason, opts.attempt)
			d.emit(campaign, services.EventCampaignRecipientError, RecipientFailedPayload{
				ID:    campaign.UUID.String(),
				Phone: rcp.Phone,
				Error: reason,
			})
		} else {
			campaign.Sent++
			campaign.Pending--
			messagesTotal.WithLabelValues("delivered").Inc()
			if err := d.recipientRepo.UpdateDelivery(ctx, rcp.ID, models.RecipientStatusSent, nil, &now); err != nil {
				d.logger.Printf("campaign %s: failed to record delivery for %s: %v", campaign.UUID, rcp.Phone, err)
			}
			d.saveRecord(ctx, campaign, rcp, models.DeliveryOutcomeDelivered, nil, opts.attempt)
		}
		dispatched = append(dispatched, int64(rcp.ID))

		rt.SetIndex(idx + 1)
		attempted++
		if opts.trackIndex {
			campaign.CurrentIndex = idx + 1
		}
		d.persistProgress(ctx, campaign)

		d.emit(campaign, services.EventCampaignProgress, ProgressPayload{
			ID:         campaign.UUID.String(),
			Sent:       campaign.Sent,
			Failed:     campaign.Failed,
			Pending:    campaign.Pending,
			Percentage: campaign.Progress(),
		})

		if idx+1 >= len(recipients) {
			continue // drain check at loop top
		}

		batchSize := spec.BatchSize
		if batchSize > 0 && attempted%batchSize == 0 {
			cooldownsTotal.Inc()
			d.logger.Printf("campaign %s: batch of %d done, cooling down %s", campaign.UUID, batchSize, spec.Cooldown())
			if err := d.sleep(ctx, rt.StopC(), spec.Cooldown()); err != nil {
				d.checkpointShutdown(rt, campaign, opts)
				return
			}
		}

		if err := d.sleep(ctx, rt.StopC(), d.jitter(spec.MinDelay(), spec.MaxDelay())); err != nil {
			d.checkpointShutdown(rt, campaign, opts)
			return
		}
	}
}

// finishDrained handles a run whose recipient window is exhausted
func (d *Dispatcher) finishDrained(ctx context.Context, campaign *models.Campaign, opts runOptions, dispatched []int64) {
	now := utils.UTCNow()

	if opts.day != nil {
		if err := d.dayRepo.MarkExecuted(ctx, opts.day.ID, dispatched, now); err != nil {
			d.logger.Printf("campaign %s: failed to mark day %d executed: %v", campaign.UUID, opts.day.Day, err)
		}
		d.emit(campaign, services.EventScheduleDayExecuted, DayExecutedPayload{
			ID:       campaign.UUID.String(),
			Day:      opts.day.Day,
			Contacts: len(dispatched),
		})
	}

	campaign.Status = opts.completeStatus
	if err := d.campaignRepo.UpdateStatus(ctx, campaign.ID, opts.completeStatus, now); err != nil {
		d.logger.Printf("campaign %s: failed to finalize status: %v", campaign.UUID, err)
	}

	if opts.completeStatus == models.CampaignStatusCompleted {
		campaign.CompletedAt = &now
		d.emit(campaign, services.EventCampaignCompleted, CompletedPayload{
			ID:     campaign.UUID.String(),
			Sent:   campaign.Sent,
			Failed: campaign.Failed,
			Total:  campaign.Total,
		})
	}
	d.logger.Printf("campaign %s: run finished, sent=%d failed=%d pending=%d", campaign.UUID, campaign.Sent, campaign.Failed, campaign.Pending)
}

// finishStopped persists the stop outcome; unsent recipients stay pending
func (d *Dispatcher) finishStopped(ctx context.Context, rt *Runtime, campaign *models.Campaign, opts runOptions) {
	now := utils.UTCNow()
	if opts.trackIndex {
		campaign.CurrentIndex = rt.Index()
	}
	d.persistProgress(ctx, campaign)
	campaign.Status = models.CampaignStatusStopped
	campaign.StoppedAt = &now
	if err := d.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusStopped, now); err != nil {
		d.logger.Printf("campaign %s: failed to persist stop: %v", campaign.UUID, err)
	}
	d.emit(campaign, services.EventCampaignStopped, LifecyclePayload{
		ID:           campaign.UUID.String(),
		CurrentIndex: rt.Index(),
	})
	d.logger.Printf("campaign %s stopped at index %d", campaign.UUID, rt.Index())
}

// finishFailed aborts the run on an unrecoverable channel condition
func (d *Dispatcher) finishFailed(ctx context.Context, rt *Runtime, campaign *models.Campaign, opts runOptions, reason string) {
	if opts.trackIndex {
		campaign.CurrentIndex = rt.Index()
	}
	d.persistProgress(ctx, campaign)
	campaign.Status = models.CampaignStatusFailed
	campaign.LastError = &reason
	if err := d.campaignRepo.Update(ctx, campaign); err != nil {
		d.logger.Printf("campaign %s: failed to persist failure: %v", campaign.UUID, err)
	}
	d.emit(campaign, services.EventCampaignFailed, CompletedPayload{
		ID:     campaign.UUID.String(),
		Sent:   campaign.Sent,
		Failed: campaign.Failed,
		Total:  campaign.Total,
		Error:  reason,
	})
	d.logger.Printf("campaign %s failed: %s", campaign.UUID, reason)
}

// pauseOnQuota parks the campaign when the daily cap is hit
func (d *Dispatcher) pauseOnQuota(ctx context.Context, rt *Runtime, campaign *models.Campaign, account *models.Account, limit int) {
	quotaPausesTotal.Inc()
	now := utils.UTCNow()
	campaign.Status = models.CampaignStatusPaused
	campaign.PausedAt = &now
	campaign.CurrentIndex = rt.Index()
	if err := d.campaignRepo.Update(ctx, campaign); err != nil {
		d.logger.Printf("campaign %s: failed to persist quota pause: %v", campaign.UUID, err)
	}
	d.emit(campaign, services.EventDailyLimitReached, QuotaPayload{
		ID:        campaign.UUID.String(),
		AccountID: account.ID,
		Limit:     limit,
	})
	d.emit(campaign, services.EventCampaignPaused, LifecyclePayload{
		ID:           campaign.UUID.String(),
		CurrentIndex: rt.Index(),
	})
	d.logger.Printf("campaign %s paused on daily quota (%d) at index %d", campaign.UUID, limit, rt.Index())
}

// checkpointShutdown persists a resumable checkpoint when the process is
// going down mid-run
func (d *Dispatcher) checkpointShutdown(rt *Runtime, campaign *models.Campaign, opts runOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if opts.trackIndex {
		campaign.CurrentIndex = rt.Index()
	}
	d.persistProgress(ctx, campaign)
	now := utils.UTCNow()
	if err := d.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusPaused, now); err != nil {
		d.logger.Printf("campaign %s: failed to checkpoint on shutdown: %v", campaign.UUID, err)
	}
	d.logger.Printf("campaign %s checkpointed at index %d for shutdown", campaign.UUID, rt.Index())
}

func (d *Dispatcher) persistProgress(ctx context.Context, campaign *models.Campaign) {
	err := d.campaignRepo.UpdateProgress(ctx, campaign.ID, campaign.Sent, campaign.Failed, campaign.Pending, campaign.CurrentIndex)
	if err != nil {
		d.logger.Printf("campaign %s: failed to persist progress: %v", campaign.UUID, err)
	}
}

func (d *Dispatcher) saveRecord(ctx context.Context, campaign *models.Campaign, rcp *models.Recipient, outcome models.DeliveryOutcome, reason *string, attempt int) {
	record := &models.DeliveryRecord{
		CampaignID:  campaign.ID,
		RecipientID: rcp.ID,
		Phone:       rcp.Phone,
		Outcome:     outcome,
		Error:       reason,
		Attempt:     attempt,
		CreatedAt:   utils.UTCNow(),
	}
	if err := d.recordRepo.Save(ctx, record); err != nil {
		d.logger.Printf("campaign %s: failed to save delivery record for %s: %v", campaign.UUID, rcp.Phone, err)
	}
}

func (d *Dispatcher) emit(campaign *models.Campaign, event string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := d.notifier.Emit(ctx, campaign.UUID.String(), event, payload); err != nil {
		d.logger.Printf("campaign %s: failed to emit %s: %v", campaign.UUID, event, err)
	}
}

// jitter returns a random duration in [min, max]
func (d *Dispatcher) jitter(min, max time.Duration) time.Duration {
	if min <= 0 {
		min = 0
	}
	if max <= min {
		return min
	}
	d.randMu.Lock()
	defer d.randMu.Unlock()
	return min + time.Duration(d.rnd.Int63n(int64(max-min)+1))
}

func (d *Dispatcher) variation() string {
	d.randMu.Lock()
	defer d.randMu.Unlock()
	return VariationSuffix(d.rnd)
}

func quotaLimit(account *models.Account) int {
	if account.DailyQuota > 0 {
		return account.DailyQuota
	}
	return utils.DefaultDailyQuota
}

// estimateDuration projects how long a run of n sends will take under the
// configured pacing
func estimateDuration(n int, spec models.CampaignSpec) time.Duration {
	if n <= 0 {
		return 0
	}
	avg := (spec.MinDelay() + spec.MaxDelay()) / 2
	total := time.Duration(n) * avg
	if spec.BatchSize > 0 {
		batches := int(math.Ceil(float64(n)/float64(spec.BatchSize))) - 1
		if batches > 0 {
			total += time.Duration(batches) * spec.Cooldown()
		}
	}
	return total
}

// sleepUnlessStopped waits out d, returning early without error when the
// run is stopped, and with ctx.Err() when the process is shutting down
func sleepUnlessStopped(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
