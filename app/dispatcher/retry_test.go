package dispatcher

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peyk-io/peyk/app/services"
	"github.com/peyk-io/peyk/models"
)

func newRetryCoordinatorFor(env *dispatchEnv) *RetryCoordinator {
	return NewRetryCoordinator(env.dispatcher, env.registry, env.campaignRepo, env.recipientRepo, log.New(testWriter{}, "", 0))
}

func completedCampaignWithFailures(total, failed int) (*models.Campaign, []*models.Recipient) {
	campaign := makeCampaign(1, total)
	campaign.Status = models.CampaignStatusCompleted
	campaign.Sent = total - failed
	campaign.Failed = failed
	campaign.Pending = 0
	campaign.CurrentIndex = total

	recipients := makeRecipients(1, total)
	for i, rcp := range recipients {
		if i < failed {
			reason := "number not registered"
			rcp.Status = models.RecipientStatusFailed
			rcp.LastError = &reason
		} else {
			rcp.Status = models.RecipientStatusSent
		}
	}
	return campaign, recipients
}

func TestRetryFailedRequeuesAndMergesCounters(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(5, 3)
	env := newDispatchEnv(campaign, recipients)
	coordinator := newRetryCoordinatorFor(env)
	account := makeAccount()

	// One recipient keeps failing on the second attempt
	env.channel.FailFor[phoneFor(1)] = "still unreachable"

	result, err := coordinator.RetryFailed(context.Background(), campaign, account)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Requeued)

	env.dispatcher.Wait()

	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.Sent)
	assert.Equal(t, 1, stored.Failed)
	assert.Equal(t, 0, stored.Pending)
	assert.True(t, stored.CountersConsistent())
	require.NotNil(t, stored.LastRetryAt)

	// Only the failed subset was dispatched again
	sends := env.channel.GetSentMessages()
	require.Len(t, sends, 2)
	assert.Equal(t, phoneFor(0), sends[0].Phone)
	assert.Equal(t, phoneFor(2), sends[1].Phone)

	// Recovered recipients carry a sent timestamp again
	recovered := env.recipientRepo.byID(1)
	assert.Equal(t, models.RecipientStatusSent, recovered.Status)
	assert.Nil(t, recovered.LastError)

	stillFailed := env.recipientRepo.byID(2)
	assert.Equal(t, models.RecipientStatusFailed, stillFailed.Status)
	require.NotNil(t, stillFailed.LastError)
	assert.Equal(t, "still unreachable", *stillFailed.LastError)

	// Retry outcomes are recorded as second attempts
	records, err := env.recordRepo.ListByCampaign(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, 2, rec.Attempt)
	}
}

func TestRetryFailedRefusesWithoutFailures(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(3, 0)
	env := newDispatchEnv(campaign, recipients)
	coordinator := newRetryCoordinatorFor(env)

	_, err := coordinator.RetryFailed(context.Background(), campaign, makeAccount())
	assert.ErrorIs(t, err, ErrNoFailedRecipients)
}

func TestRetryFailedRefusesWhileRunning(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(3, 2)
	env := newDispatchEnv(campaign, recipients)
	coordinator := newRetryCoordinatorFor(env)

	_, err := env.registry.Register(campaign.ID, "session-a", 0)
	require.NoError(t, err)
	defer env.registry.Unregister(campaign.ID)

	_, err = coordinator.RetryFailed(context.Background(), campaign, makeAccount())
	assert.ErrorIs(t, err, ErrCampaignActive)
}

func TestRetryFailedRefusesRunningStatus(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(3, 2)
	campaign.Status = models.CampaignStatusRunning
	env := newDispatchEnv(campaign, recipients)
	coordinator := newRetryCoordinatorFor(env)

	_, err := coordinator.RetryFailed(context.Background(), campaign, makeAccount())
	assert.ErrorIs(t, err, ErrCampaignActive)
}

func TestRetryFailedRequiresConnectedChannel(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(3, 2)
	env := newDispatchEnv(campaign, recipients)
	env.channel.Disconnected = true
	coordinator := newRetryCoordinatorFor(env)

	_, err := coordinator.RetryFailed(context.Background(), campaign, makeAccount())
	assert.ErrorIs(t, err, ErrChannelNotConnected)
}

func TestRetryFailedRefusalLeavesStateUntouched(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(3, 2)
	env := newDispatchEnv(campaign, recipients)
	env.channel.Disconnected = true
	coordinator := newRetryCoordinatorFor(env)

	_, err := coordinator.RetryFailed(context.Background(), campaign, makeAccount())
	require.ErrorIs(t, err, ErrChannelNotConnected)

	// The refused retry must not have reset recipients or counters; the
	// failed subset stays findable for the next sweep.
	stored := env.campaignRepo.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.Failed)
	assert.Equal(t, 0, stored.Pending)
	assert.Nil(t, stored.LastRetryAt)

	failed, err := env.recipientRepo.ListFailedByCampaign(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
	for _, rcp := range failed {
		assert.NotNil(t, rcp.LastError)
	}

	// No registry slot may be left claimed either
	assert.False(t, env.registry.Active(campaign.ID))

	// The campaign retries cleanly once the channel is back
	env.channel.Disconnected = false
	result, err := coordinator.RetryFailed(context.Background(), campaign, makeAccount())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requeued)
	env.dispatcher.Wait()

	stored = env.campaignRepo.get(1)
	assert.Equal(t, 3, stored.Sent)
	assert.Equal(t, 0, stored.Failed)
}

func TestRetryFailedRefusesExhaustedQuota(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(3, 2)
	env := newDispatchEnv(campaign, recipients)
	coordinator := newRetryCoordinatorFor(env)
	account := makeAccount()
	account.DailyQuota = 1

	allowed, err := env.quota.Allow(context.Background(), account.ID, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = coordinator.RetryFailed(context.Background(), campaign, account)
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	failed, err := env.recipientRepo.ListFailedByCampaign(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
}

func TestRetryEmitsLifecycleEvents(t *testing.T) {
	campaign, recipients := completedCampaignWithFailures(4, 2)
	env := newDispatchEnv(campaign, recipients)
	coordinator := newRetryCoordinatorFor(env)

	_, err := coordinator.RetryFailed(context.Background(), campaign, makeAccount())
	require.NoError(t, err)
	env.dispatcher.Wait()

	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignStarted), 1)
	assert.Len(t, env.notifier.EventsNamed(services.EventCampaignCompleted), 1)
}
