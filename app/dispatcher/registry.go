// Package dispatcher drives the delivery of campaigns through the
// messaging channel, pacing sends to stay under rate limits.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/peyk-io/peyk/utils"
)

var (
	// ErrCampaignActive indicates the campaign already has a live dispatch run
	ErrCampaignActive = errors.New("campaign is already running")

	// ErrChannelInUse indicates another campaign holds the channel session
	ErrChannelInUse = errors.New("channel session is in use by another campaign")

	// ErrCampaignNotActive indicates no live dispatch run exists for the campaign
	ErrCampaignNotActive = errors.New("campaign is not running")

	// ErrNotPaused indicates a resume was requested on a run that is not paused
	ErrNotPaused = errors.New("campaign is not paused")

	// ErrAlreadyPaused indicates a pause was requested on an already paused run
	ErrAlreadyPaused = errors.New("campaign is already paused")
)

// Runtime is the in-memory state of one live dispatch run. The dispatch
// goroutine reads the stop and pause flags at the top of every iteration;
// control requests only flip flags and never touch the database row the
// goroutine is checkpointing.
type Runtime struct {
	CampaignID     uint
	ChannelSession string
	StartedAt      time.Time

	mu      sync.Mutex
	index   int
	paused  bool
	stopped bool
	resume  chan struct{}
	stopc   chan struct{}
}

// StopC returns a channel closed when a stop is requested, used to cut
// pacing sleeps short
func (r *Runtime) StopC() <-chan struct{} {
	return r.stopc
}

// Index returns the resume position within the run's recipient list
func (r *Runtime) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// SetIndex records the resume position
func (r *Runtime) SetIndex(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = i
}

// Stopped reports whether a stop has been requested
func (r *Runtime) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Paused reports whether the run is paused
func (r *Runtime) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// RequestStop marks the run for cooperative termination and wakes it if paused
func (r *Runtime) RequestStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	close(r.stopc)
	if r.paused {
		r.paused = false
		close(r.resume)
		r.resume = nil
	}
}

// RequestPause marks the run paused. The dispatch goroutine parks on the
// resume channel before its next send.
func (r *Runtime) RequestPause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrCampaignNotActive
	}
	if r.paused {
		return ErrAlreadyPaused
	}
	r.paused = true
	r.resume = make(chan struct{})
	return nil
}

// RequestResume wakes a paused run
func (r *Runtime) RequestResume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.paused {
		return ErrNotPaused
	}
	r.paused = false
	close(r.resume)
	r.resume = nil
	return nil
}

// AwaitResume blocks while the run is paused, without busy-waiting.
// It returns ctx.Err() if the context ends first.
func (r *Runtime) AwaitResume(ctx context.Context) error {
	r.mu.Lock()
	if !r.paused {
		r.mu.Unlock()
		return nil
	}
	resume := r.resume
	r.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry tracks live dispatch runs and enforces one run per campaign
// and one run per channel session.
type Registry struct {
	mu        sync.Mutex
	byID      map[uint]*Runtime
	byChannel map[string]uint
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[uint]*Runtime),
		byChannel: make(map[string]uint),
	}
}

// Register claims the campaign and its channel session for a new run
func (g *Registry) Register(campaignID uint, channelSession string, startIndex int) (*Runtime, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.byID[campaignID]; exists {
		return nil, ErrCampaignActive
	}
	if _, busy := g.byChannel[channelSession]; busy {
		return nil, ErrChannelInUse
	}

	rt := &Runtime{
		CampaignID:     campaignID,
		ChannelSession: channelSession,
		StartedAt:      utils.UTCNow(),
		index:          startIndex,
		stopc:          make(chan struct{}),
	}
	g.byID[campaignID] = rt
	g.byChannel[channelSession] = campaignID
	activeRuns.Inc()
	return rt, nil
}

// Lookup returns the live run for a campaign, if any
func (g *Registry) Lookup(campaignID uint) (*Runtime, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rt, ok := g.byID[campaignID]
	return rt, ok
}

// Active reports whether the campaign has a live run
func (g *Registry) Active(campaignID uint) bool {
	_, ok := g.Lookup(campaignID)
	return ok
}

// Unregister releases the campaign and its channel session
func (g *Registry) Unregister(campaignID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rt, ok := g.byID[campaignID]
	if !ok {
		return
	}
	delete(g.byID, campaignID)
	delete(g.byChannel, rt.ChannelSession)
	activeRuns.Dec()
}

// ActiveCount returns the number of live runs
func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byID)
}
