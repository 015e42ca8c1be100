package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignStatusTransitions(t *testing.T) {
	tests := []struct {
		from    CampaignStatus
		to      CampaignStatus
		allowed bool
	}{
		{CampaignStatusCreated, CampaignStatusRunning, true},
		{CampaignStatusCreated, CampaignStatusScheduled, true},
		{CampaignStatusCreated, CampaignStatusStopped, true},
		{CampaignStatusCreated, CampaignStatusPaused, false},
		{CampaignStatusCreated, CampaignStatusCompleted, false},
		{CampaignStatusScheduled, CampaignStatusRunning, true},
		{CampaignStatusScheduled, CampaignStatusStopped, true},
		{CampaignStatusScheduled, CampaignStatusPaused, false},
		{CampaignStatusRunning, CampaignStatusPaused, true},
		{CampaignStatusRunning, CampaignStatusCompleted, true},
		{CampaignStatusRunning, CampaignStatusStopped, true},
		{CampaignStatusRunning, CampaignStatusFailed, true},
		// A day-split campaign returns to scheduled between slices
		{CampaignStatusRunning, CampaignStatusScheduled, true},
		{CampaignStatusRunning, CampaignStatusCreated, false},
		{CampaignStatusPaused, CampaignStatusRunning, true},
		{CampaignStatusPaused, CampaignStatusStopped, true},
		{CampaignStatusPaused, CampaignStatusCompleted, false},
		{CampaignStatusCompleted, CampaignStatusRunning, false},
		{CampaignStatusStopped, CampaignStatusRunning, false},
		{CampaignStatusFailed, CampaignStatusRunning, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestCampaignStatusTerminal(t *testing.T) {
	assert.True(t, CampaignStatusCompleted.IsTerminal())
	assert.True(t, CampaignStatusStopped.IsTerminal())
	assert.True(t, CampaignStatusFailed.IsTerminal())
	assert.False(t, CampaignStatusRunning.IsTerminal())
	assert.False(t, CampaignStatusPaused.IsTerminal())
	assert.False(t, CampaignStatusCreated.IsTerminal())
	assert.False(t, CampaignStatusScheduled.IsTerminal())
}

func TestCampaignStatusValid(t *testing.T) {
	assert.True(t, CampaignStatusRunning.Valid())
	assert.False(t, CampaignStatus("sending").Valid())
	assert.False(t, CampaignStatus("").Valid())
}

func TestCampaignStatusScan(t *testing.T) {
	var s CampaignStatus
	require.NoError(t, s.Scan("running"))
	assert.Equal(t, CampaignStatusRunning, s)

	require.NoError(t, s.Scan([]byte("paused")))
	assert.Equal(t, CampaignStatusPaused, s)

	require.NoError(t, s.Scan(nil))
	assert.Equal(t, CampaignStatus(""), s)

	assert.Error(t, s.Scan(42))
}

func TestCampaignSpecRoundTrip(t *testing.T) {
	media := "https://cdn.example.com/a.png"
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	percent := 20
	mode := ScheduleModeProgressive
	timeMode := SendTimeModeRandom

	spec := CampaignSpec{
		Messages: []MessageTemplate{
			{Content: "Hello {{name}}"},
			{Content: "Look at this", MediaURL: &media},
		},
		RotateMessages:  true,
		InjectVariation: true,
		MinDelaySeconds: 4,
		MaxDelaySeconds: 9,
		BatchSize:       50,
		CooldownSeconds: 300,
		ScheduleAt:      &at,
		ScheduleMode:    &mode,
		DailyPercent:    &percent,
		SendTimeMode:    &timeMode,
	}

	value, err := spec.Value()
	require.NoError(t, err)

	var decoded CampaignSpec
	require.NoError(t, decoded.Scan(value.([]byte)))
	assert.Equal(t, spec, decoded)
}

func TestCampaignSpecScanNil(t *testing.T) {
	spec := CampaignSpec{MinDelaySeconds: 5}
	require.NoError(t, spec.Scan(nil))
	assert.Equal(t, CampaignSpec{}, spec)
}

func TestCampaignSpecDurations(t *testing.T) {
	spec := CampaignSpec{MinDelaySeconds: 3, MaxDelaySeconds: 9, CooldownSeconds: 300}
	assert.Equal(t, 3*time.Second, spec.MinDelay())
	assert.Equal(t, 9*time.Second, spec.MaxDelay())
	assert.Equal(t, 5*time.Minute, spec.Cooldown())
	assert.False(t, spec.HasDayPlan())

	percent := 10
	spec.DailyPercent = &percent
	assert.True(t, spec.HasDayPlan())
}

func TestCampaignBeforeCreate(t *testing.T) {
	c := &Campaign{Title: "Launch", Total: 5}
	require.NoError(t, c.BeforeCreate(nil))
	assert.NotEqual(t, uuid.Nil, c.UUID)
	assert.Equal(t, CampaignStatusCreated, c.Status)
	assert.Equal(t, 5, c.Pending)

	// An explicit UUID and counters survive the hook
	id := uuid.New()
	c2 := &Campaign{UUID: id, Status: CampaignStatusScheduled, Total: 5, Sent: 2, Pending: 3}
	require.NoError(t, c2.BeforeCreate(nil))
	assert.Equal(t, id, c2.UUID)
	assert.Equal(t, CampaignStatusScheduled, c2.Status)
	assert.Equal(t, 3, c2.Pending)

	c3 := &Campaign{Status: CampaignStatus("bogus")}
	assert.Error(t, c3.BeforeCreate(nil))
}

func TestCampaignProgress(t *testing.T) {
	c := &Campaign{Total: 10, Sent: 3, Failed: 2, Pending: 5}
	assert.True(t, c.CountersConsistent())
	assert.InDelta(t, 50.0, c.Progress(), 0.001)

	empty := &Campaign{}
	assert.Equal(t, 0.0, empty.Progress())

	broken := &Campaign{Total: 10, Sent: 3, Pending: 5}
	assert.False(t, broken.CountersConsistent())
}

func TestCampaignIsActive(t *testing.T) {
	assert.True(t, (&Campaign{Status: CampaignStatusRunning}).IsActive())
	assert.True(t, (&Campaign{Status: CampaignStatusPaused}).IsActive())
	assert.False(t, (&Campaign{Status: CampaignStatusCompleted}).IsActive())
	assert.False(t, (&Campaign{Status: CampaignStatusCreated}).IsActive())
}

func TestCampaignSpecJSONOmitsUnsetSchedule(t *testing.T) {
	data, err := json.Marshal(CampaignSpec{Messages: []MessageTemplate{{Content: "hi"}}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "schedule_at")
	assert.NotContains(t, string(data), "daily_percent")
}
