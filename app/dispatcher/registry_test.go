package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEnforcesOneRunPerCampaign(t *testing.T) {
	reg := NewRegistry()

	rt, err := reg.Register(1, "session-a", 0)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.True(t, reg.Active(1))
	assert.Equal(t, 1, reg.ActiveCount())

	_, err = reg.Register(1, "session-b", 0)
	assert.ErrorIs(t, err, ErrCampaignActive)
}

func TestRegistryEnforcesOneRunPerChannel(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Register(1, "session-a", 0)
	require.NoError(t, err)

	_, err = reg.Register(2, "session-a", 0)
	assert.ErrorIs(t, err, ErrChannelInUse)

	// Releasing the first run frees the channel for the second
	reg.Unregister(1)
	assert.False(t, reg.Active(1))

	_, err = reg.Register(2, "session-a", 0)
	assert.NoError(t, err)
}

func TestRegistryUnregisterUnknownCampaign(t *testing.T) {
	reg := NewRegistry()
	reg.Unregister(42)
	assert.Equal(t, 0, reg.ActiveCount())
}

func TestRuntimeIndexTracking(t *testing.T) {
	reg := NewRegistry()
	rt, err := reg.Register(1, "session-a", 7)
	require.NoError(t, err)

	assert.Equal(t, 7, rt.Index())
	rt.SetIndex(8)
	assert.Equal(t, 8, rt.Index())
}

func TestRuntimePauseResume(t *testing.T) {
	reg := NewRegistry()
	rt, err := reg.Register(1, "session-a", 0)
	require.NoError(t, err)

	assert.False(t, rt.Paused())
	require.NoError(t, rt.RequestPause())
	assert.True(t, rt.Paused())

	assert.ErrorIs(t, rt.RequestPause(), ErrAlreadyPaused)

	// A goroutine parked in AwaitResume wakes when the run resumes
	woke := make(chan error, 1)
	go func() {
		woke <- rt.AwaitResume(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-woke:
		t.Fatal("AwaitResume returned while paused")
	default:
	}

	require.NoError(t, rt.RequestResume())
	select {
	case err := <-woke:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after resume")
	}

	assert.False(t, rt.Paused())
	assert.ErrorIs(t, rt.RequestResume(), ErrNotPaused)
}

func TestRuntimeAwaitResumeNotPaused(t *testing.T) {
	reg := NewRegistry()
	rt, err := reg.Register(1, "session-a", 0)
	require.NoError(t, err)

	assert.NoError(t, rt.AwaitResume(context.Background()))
}

func TestRuntimeAwaitResumeContextCancel(t *testing.T) {
	reg := NewRegistry()
	rt, err := reg.Register(1, "session-a", 0)
	require.NoError(t, err)
	require.NoError(t, rt.RequestPause())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rt.AwaitResume(ctx), context.Canceled)
}

func TestRuntimeStopWakesPausedRun(t *testing.T) {
	reg := NewRegistry()
	rt, err := reg.Register(1, "session-a", 0)
	require.NoError(t, err)
	require.NoError(t, rt.RequestPause())

	woke := make(chan error, 1)
	go func() {
		woke <- rt.AwaitResume(context.Background())
	}()

	rt.RequestStop()
	select {
	case err := <-woke:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after stop")
	}

	assert.True(t, rt.Stopped())
	select {
	case <-rt.StopC():
	default:
		t.Fatal("stop channel is not closed")
	}

	// A stopped run cannot be paused again
	assert.ErrorIs(t, rt.RequestPause(), ErrCampaignNotActive)

	// A second stop request is a no-op
	rt.RequestStop()
	assert.True(t, rt.Stopped())
}

func TestSleepUnlessStopped(t *testing.T) {
	stop := make(chan struct{})

	assert.NoError(t, sleepUnlessStopped(context.Background(), stop, 0))
	assert.NoError(t, sleepUnlessStopped(context.Background(), stop, -time.Second))

	// A stop request cuts the wait short without an error
	close(stop)
	start := time.Now()
	assert.NoError(t, sleepUnlessStopped(context.Background(), stop, time.Minute))
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepUnlessStopped(ctx, make(chan struct{}), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
