package dispatcher

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peyk-io/peyk/app/services"
	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/utils"
)

type dispatchEnv struct {
	dispatcher    *Dispatcher
	registry      *Registry
	campaignRepo  *fakeCampaignRepo
	recipientRepo *fakeRecipientRepo
	dayRepo       *fakeDayRepo
	recordRepo    *fakeRecordRepo
	channel       *services.MockChannelClient
	quota         *services.MemoryQuotaService
	notifier      *services.MockNotifier
}

func newDispatchEnv(campaign *models.Campaign, recipients []*models.Recipient) *dispatchEnv {
	env := &dispatchEnv{
		registry:      NewRegistry(),
		campaignRepo:  newFakeCampaignRepo(campaign),
		recipientRepo: newFakeRecipientRepo(recipients...),
		dayRepo:       newFakeDayRepo(),
		recordRepo:    newFakeRecordRepo(),
		channel:       services.NewMockChannelClient(),
		quota:         services.NewMemoryQuotaService(),
		notifier:      services.NewMockNotifier(),
	}
	env.dispatcher = NewDispatcher(
		context.Background(),
		env.registry,
		env.campaignRepo,
		env.recipientRepo,
		env.recordRepo,
		env.dayRepo,
		env.channel,
		env.quota,
		env.notifier,
		log.New(testWriter{}, "", 0),
	)
	// Skip real pacing delays
	env.dispatcher.sleep = func(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
		return nil
	}
	return env
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func makeCampaign(id uint, total int) *models.Campaign {
	return &models.Campaign{
		ID:        id,
		UUID:      uuid.New(),
		AccountID: 1,
		Title:     "Launch announcement",
		Status:    models.CampaignStatusCreated,
		Spec: models.CampaignSpec{
			Messages: []models.MessageTemplate{
				{Content: "Hello {{name}}"},
			},
		},
		Total:   total,
		Pending: total,
	}
}

func makeRecipients(campaignID uint, n int) []*models.Recipient {
	out := make([]*models.Recipient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.Recipient{
			ID:         uint(i + 1),
			CampaignID: campaignID,
			Phone:      phoneFor(i),
			Name:       "Recipient",
			Status:     models.RecipientStatusPending,
		})
	}
	return out
}

func phoneFor(i int) string {
	return "+1555000" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func makeAccount() *models.Account {
	return &models.Account{
		ID:             1,
		UUID:           uuid.New(),
		Name:           "Test Account",
		ChannelSession: "session-a",
		DailyQuota:     100,
		IsActive:       utils.ToPtr(true),
	}
}

func TestDispatchRunCompletes(t *testing.T) {
	campaign := makeCampaign(1, 5)
	env := newDispatchEnv(campaign, makeRecipients(1, 5))
	account := makeAccount()

	result, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)
	assert.Equal(t, campaign.UUID.String(), result.CampaignUUID)
	assert.Equal(t, 0, result.StartIndex)

	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 5, stored.Sent)
	assert.Equal(t, 0, stored.Failed)
	assert.Equal(t, 0, stored.Pending)
	assert.True(t, stored.CountersConsistent())

	assert.Len(t, env.channel.GetSentMessages(), 5)

	records, err := env.recordRepo.ListByCampaign(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, records, 5)
	for _, rec := range records {
		assert.Equal(t, models.DeliveryOutcomeDelivered, rec.Outcome)
		assert.Equal(t, 1, rec.Attempt)
	}

	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignStarted), 1)
	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignProgress), 5)
	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignCompleted), 1)

	// The registry slot is released when the run drains
	assert.False(t, env.registry.Active(1))
}

func TestDispatchRecordsPerRecipientFailures(t *testing.T) {
	campaign := makeCampaign(1, 3)
	env := newDispatchEnv(campaign, makeRecipients(1, 3))
	env.channel.FailFor[phoneFor(1)] = "number not registered"
	account := makeAccount()

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)
	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.Sent)
	assert.Equal(t, 1, stored.Failed)
	assert.Equal(t, 0, stored.Pending)
	assert.True(t, stored.CountersConsistent())

	failed := env.recipientRepo.byID(2)
	assert.Equal(t, models.RecipientStatusFailed, failed.Status)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "number not registered", *failed.LastError)

	events := env.notifier.EventsNamed(services.EventCampaignRecipientError)
	require.Len(t, events, 1)
	payload := events[0].Payload.(RecipientFailedPayload)
	assert.Equal(t, phoneFor(1), payload.Phone)
}

func TestDispatchPauseAndResume(t *testing.T) {
	campaign := makeCampaign(1, 3)
	env := newDispatchEnv(campaign, makeRecipients(1, 3))
	account := makeAccount()

	entered := make(chan struct{})
	release := make(chan struct{})
	env.dispatcher.sleep = func(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
		entered <- struct{}{}
		<-release
		return nil
	}

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)

	// First send is done once the run parks in its pacing sleep
	<-entered

	paused := env.campaignRepo.get(1)
	require.NoError(t, env.dispatcher.Pause(context.Background(), paused))

	rt, ok := env.registry.Lookup(1)
	require.True(t, ok)
	assert.True(t, rt.Paused())

	// Release the sleep; the run parks before sending the next recipient
	release <- struct{}{}

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusPaused, stored.Status)
	assert.Equal(t, 1, stored.Sent)
	assert.Equal(t, 1, stored.CurrentIndex)

	resumed := env.campaignRepo.get(1)
	require.NoError(t, env.dispatcher.Resume(context.Background(), resumed))

	// Walk the remaining sends through their sleeps
	<-entered
	release <- struct{}{}
	env.dispatcher.Wait()

	stored = env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.Sent)

	// No recipient was sent twice across the pause
	sends := env.channel.GetSentMessages()
	require.Len(t, sends, 3)
	seen := make(map[string]bool)
	for _, msg := range sends {
		assert.False(t, seen[msg.Phone], "recipient %s dispatched twice", msg.Phone)
		seen[msg.Phone] = true
	}

	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignPaused), 1)
	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignResumed), 1)
}

func TestPauseResumeKeepFreshCheckpoints(t *testing.T) {
	campaign := makeCampaign(1, 3)
	env := newDispatchEnv(campaign, makeRecipients(1, 3))
	account := makeAccount()

	// Control callers hold the row as it looked before the run started
	stale := *campaign

	entered := make(chan struct{})
	release := make(chan struct{})
	env.dispatcher.sleep = func(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
		entered <- struct{}{}
		<-release
		return nil
	}

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)

	<-entered

	// Pausing with the stale snapshot must not regress the counters the
	// run goroutine checkpointed after the first send
	require.NoError(t, env.dispatcher.Pause(context.Background(), &stale))

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusPaused, stored.Status)
	assert.Equal(t, 1, stored.Sent)
	assert.Equal(t, 2, stored.Pending)
	assert.Equal(t, 1, stored.CurrentIndex)

	require.NoError(t, env.dispatcher.Resume(context.Background(), &stale))
	release <- struct{}{}
	<-entered
	release <- struct{}{}
	env.dispatcher.Wait()

	stored = env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.Sent)
	assert.Equal(t, 0, stored.Pending)
	require.NotNil(t, stored.ResumedAt)

	// Pause and Resume write status columns only, never the whole row
	assert.Equal(t, 0, env.campaignRepo.fullSaveCount())
}

func TestDispatchStopPreservesPosition(t *testing.T) {
	campaign := makeCampaign(1, 5)
	env := newDispatchEnv(campaign, makeRecipients(1, 5))
	account := makeAccount()

	entered := make(chan struct{})
	release := make(chan struct{})
	env.dispatcher.sleep = func(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
		entered <- struct{}{}
		<-release
		return nil
	}

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)

	<-entered

	stopping := env.campaignRepo.get(1)
	require.NoError(t, env.dispatcher.Stop(context.Background(), stopping))

	release <- struct{}{}
	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusStopped, stored.Status)
	assert.Equal(t, 1, stored.Sent)
	assert.Equal(t, 1, stored.CurrentIndex)
	assert.Equal(t, 4, stored.Pending)

	events := env.notifier.EventsNamed(services.EventCampaignStopped)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Payload.(LifecyclePayload).CurrentIndex)

	// Stopping again fails: the run is gone
	assert.ErrorIs(t, env.dispatcher.Stop(context.Background(), stored), ErrCampaignNotActive)
}

func TestDispatchPausesOnDailyQuota(t *testing.T) {
	campaign := makeCampaign(1, 4)
	env := newDispatchEnv(campaign, makeRecipients(1, 4))
	account := makeAccount()
	account.DailyQuota = 2

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)
	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusPaused, stored.Status)
	assert.Equal(t, 2, stored.Sent)
	assert.Equal(t, 2, stored.CurrentIndex)
	assert.Equal(t, 2, stored.Pending)

	events := env.notifier.EventsNamed(services.EventDailyLimitReached)
	require.Len(t, events, 1)
	payload := events[0].Payload.(QuotaPayload)
	assert.Equal(t, 2, payload.Limit)

	// The registry slot is free, so a fresh start tomorrow can resume
	assert.False(t, env.registry.Active(1))
}

func TestDispatchRejectsExhaustedQuotaUpfront(t *testing.T) {
	campaign := makeCampaign(1, 3)
	env := newDispatchEnv(campaign, makeRecipients(1, 3))
	account := makeAccount()
	account.DailyQuota = 2

	for i := 0; i < 2; i++ {
		allowed, err := env.quota.Allow(context.Background(), account.ID, 2)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestDispatchFailsOnChannelOutage(t *testing.T) {
	campaign := makeCampaign(1, 3)
	env := newDispatchEnv(campaign, makeRecipients(1, 3))
	env.channel.Unavailable = true
	account := makeAccount()

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)
	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)

	// The in-flight recipient stays pending for a later resume
	first := env.recipientRepo.byID(1)
	assert.Equal(t, models.RecipientStatusPending, first.Status)

	events := env.notifier.EventsNamed(services.EventCampaignFailed)
	require.Len(t, events, 1)
}

func TestDispatchRejectsDisconnectedChannel(t *testing.T) {
	campaign := makeCampaign(1, 3)
	env := newDispatchEnv(campaign, makeRecipients(1, 3))
	env.channel.Disconnected = true
	account := makeAccount()

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	assert.ErrorIs(t, err, ErrChannelNotConnected)
}

func TestDispatchResumesFromPersistedIndex(t *testing.T) {
	campaign := makeCampaign(1, 5)
	campaign.Status = models.CampaignStatusPaused
	campaign.Sent = 2
	campaign.Pending = 3
	campaign.CurrentIndex = 2
	env := newDispatchEnv(campaign, makeRecipients(1, 5))
	account := makeAccount()

	result, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)
	assert.Equal(t, 2, result.StartIndex)

	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 5, stored.Sent)

	// Only the recipients past the checkpoint were dispatched
	sends := env.channel.GetSentMessages()
	require.Len(t, sends, 3)
	assert.Equal(t, phoneFor(2), sends[0].Phone)
}

func TestDispatchRejectsTerminalCampaign(t *testing.T) {
	campaign := makeCampaign(1, 3)
	campaign.Status = models.CampaignStatusStopped
	env := newDispatchEnv(campaign, makeRecipients(1, 3))
	account := makeAccount()

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestStartDayDispatchesSliceOnly(t *testing.T) {
	campaign := makeCampaign(1, 10)
	percent := 30
	mode := models.ScheduleModeFixed
	campaign.Spec.DailyPercent = &percent
	campaign.Spec.ScheduleMode = &mode
	campaign.Status = models.CampaignStatusScheduled

	day := &models.ScheduleDay{
		ID:         7,
		CampaignID: 1,
		Day:        1,
		Count:      3,
		StartIndex: 0,
		EndIndex:   3,
		Remaining:  7,
		Status:     models.ScheduleDayStatusPending,
	}

	env := newDispatchEnv(campaign, makeRecipients(1, 10))
	require.NoError(t, env.dayRepo.Save(context.Background(), day))
	account := makeAccount()

	_, err := env.dispatcher.StartDay(context.Background(), campaign, account, day)
	require.NoError(t, err)
	env.dispatcher.Wait()

	// Only the day's window went out
	assert.Len(t, env.channel.GetSentMessages(), 3)

	// A non-final day returns the campaign to scheduled
	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusScheduled, stored.Status)
	assert.Equal(t, 3, stored.Sent)
	assert.Equal(t, 7, stored.Pending)

	executed := env.dayRepo.get(7)
	assert.Equal(t, models.ScheduleDayStatusExecuted, executed.Status)
	assert.Len(t, []int64(executed.RecipientIDs), 3)
	require.NotNil(t, executed.ExecutedAt)

	events := env.notifier.EventsNamed(services.EventScheduleDayExecuted)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Payload.(DayExecutedPayload).Contacts)
}

func TestStartDayFinalDayCompletesCampaign(t *testing.T) {
	campaign := makeCampaign(1, 4)
	percent := 50
	mode := models.ScheduleModeFixed
	campaign.Spec.DailyPercent = &percent
	campaign.Spec.ScheduleMode = &mode
	campaign.Status = models.CampaignStatusScheduled
	campaign.Sent = 2
	campaign.Pending = 2

	day := &models.ScheduleDay{
		ID:         8,
		CampaignID: 1,
		Day:        2,
		Count:      2,
		StartIndex: 2,
		EndIndex:   4,
		Remaining:  0,
		Status:     models.ScheduleDayStatusPending,
	}

	env := newDispatchEnv(campaign, makeRecipients(1, 4))
	require.NoError(t, env.dayRepo.Save(context.Background(), day))
	account := makeAccount()

	_, err := env.dispatcher.StartDay(context.Background(), campaign, account, day)
	require.NoError(t, err)
	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.Sent)
	assert.Equal(t, 0, stored.Pending)

	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignCompleted), 1)
}

func TestMessageRotationAndVariation(t *testing.T) {
	campaign := makeCampaign(1, 4)
	campaign.Spec.Messages = []models.MessageTemplate{
		{Content: "Variant A {{name}}"},
		{Content: "Variant B {{name}}"},
	}
	campaign.Spec.RotateMessages = true
	campaign.Spec.InjectVariation = true
	env := newDispatchEnv(campaign, makeRecipients(1, 4))
	account := makeAccount()

	_, err := env.dispatcher.Start(context.Background(), campaign, account)
	require.NoError(t, err)
	env.dispatcher.Wait()

	sends := env.channel.GetSentMessages()
	require.Len(t, sends, 4)
	assert.Contains(t, sends[0].Body, "Variant A")
	assert.Contains(t, sends[1].Body, "Variant B")
	assert.Contains(t, sends[2].Body, "Variant A")

	// Variation appends invisible runes beyond the rendered template
	rendered := "Variant A Recipient"
	assert.Greater(t, len(sends[0].Body), len(rendered))
}

func TestEstimateDuration(t *testing.T) {
	spec := models.CampaignSpec{
		MinDelaySeconds: 4,
		MaxDelaySeconds: 8,
		BatchSize:       10,
		CooldownSeconds: 60,
	}

	// 25 sends: 25 * 6s average + 2 cooldowns
	eta := estimateDuration(25, spec)
	assert.Equal(t, 25*6*time.Second+2*time.Minute, eta)

	assert.Equal(t, time.Duration(0), estimateDuration(0, spec))
}
