package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/peyk-io/peyk/models"
)

// fakeCampaignRepo is an in-memory CampaignRepository for dispatch tests
type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uint]*models.Campaign
	fullSaves int
}

func newFakeCampaignRepo(campaigns ...*models.Campaign) *fakeCampaignRepo {
	r := &fakeCampaignRepo{campaigns: make(map[uint]*models.Campaign)}
	for _, c := range campaigns {
		cp := *c
		r.campaigns[c.ID] = &cp
	}
	return r
}

func (r *fakeCampaignRepo) get(id uint) *models.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.campaigns[id]
	return &c
}

func (r *fakeCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) Save(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeCampaignRepo) SaveBatch(ctx context.Context, cs []*models.Campaign) error {
	for _, c := range cs {
		if err := r.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.campaigns)), nil
}

func (r *fakeCampaignRepo) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.campaigns {
		if c.UUID.String() == uuid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	r.fullSaves++
	r.mu.Unlock()
	return r.Save(ctx, c)
}

func (r *fakeCampaignRepo) fullSaveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fullSaves
}

func (r *fakeCampaignRepo) UpdateStatus(ctx context.Context, campaignID uint, status models.CampaignStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[campaignID]; ok {
		c.Status = status
	}
	return nil
}

func (r *fakeCampaignRepo) MarkResumed(ctx context.Context, campaignID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[campaignID]; ok {
		c.Status = models.CampaignStatusRunning
		c.ResumedAt = &at
	}
	return nil
}

func (r *fakeCampaignRepo) UpdateProgress(ctx context.Context, campaignID uint, sent, failed, pending, currentIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[campaignID]; ok {
		c.Sent = sent
		c.Failed = failed
		c.Pending = pending
		c.CurrentIndex = currentIndex
	}
	return nil
}

func (r *fakeCampaignRepo) MarkRetried(ctx context.Context, campaignID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[campaignID]; ok {
		c.LastRetryAt = &at
	}
	return nil
}

func (r *fakeCampaignRepo) ListScheduledDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) ListRetryable(ctx context.Context, retryBefore time.Time, limit int) ([]*models.Campaign, error) {
	return nil, nil
}

// fakeRecipientRepo is an in-memory RecipientRepository for dispatch tests
type fakeRecipientRepo struct {
	mu         sync.Mutex
	recipients []*models.Recipient
}

func newFakeRecipientRepo(recipients ...*models.Recipient) *fakeRecipientRepo {
	r := &fakeRecipientRepo{}
	for _, rcp := range recipients {
		cp := *rcp
		r.recipients = append(r.recipients, &cp)
	}
	return r
}

func (r *fakeRecipientRepo) byID(id uint) *models.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rcp := range r.recipients {
		if rcp.ID == id {
			cp := *rcp
			return &cp
		}
	}
	return nil
}

func (r *fakeRecipientRepo) ByID(ctx context.Context, id uint) (*models.Recipient, error) {
	return r.byID(id), nil
}

func (r *fakeRecipientRepo) ByFilter(ctx context.Context, filter models.RecipientFilter, orderBy string, limit, offset int) ([]*models.Recipient, error) {
	return nil, nil
}

func (r *fakeRecipientRepo) Save(ctx context.Context, rcp *models.Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rcp
	r.recipients = append(r.recipients, &cp)
	return nil
}

func (r *fakeRecipientRepo) SaveBatch(ctx context.Context, rcps []*models.Recipient) error {
	for _, rcp := range rcps {
		if err := r.Save(ctx, rcp); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRecipientRepo) Count(ctx context.Context, filter models.RecipientFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.recipients)), nil
}

func (r *fakeRecipientRepo) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.Recipient
	for _, rcp := range r.recipients {
		if rcp.CampaignID == campaignID {
			cp := *rcp
			matched = append(matched, &cp)
		}
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeRecipientRepo) ListFailedByCampaign(ctx context.Context, campaignID uint) ([]*models.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []*models.Recipient
	for _, rcp := range r.recipients {
		if rcp.CampaignID == campaignID && rcp.Status == models.RecipientStatusFailed {
			cp := *rcp
			failed = append(failed, &cp)
		}
	}
	return failed, nil
}

func (r *fakeRecipientRepo) UpdateDelivery(ctx context.Context, recipientID uint, status models.RecipientStatus, lastError *string, sentAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rcp := range r.recipients {
		if rcp.ID == recipientID {
			rcp.Status = status
			rcp.LastError = lastError
			rcp.SentAt = sentAt
			return nil
		}
	}
	return nil
}

func (r *fakeRecipientRepo) ResetForRetry(ctx context.Context, recipientIDs []uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[uint]bool, len(recipientIDs))
	for _, id := range recipientIDs {
		ids[id] = true
	}
	for _, rcp := range r.recipients {
		if ids[rcp.ID] && rcp.Status == models.RecipientStatusFailed {
			rcp.Status = models.RecipientStatusPending
			rcp.LastError = nil
			rcp.SentAt = nil
		}
	}
	return nil
}

// fakeDayRepo is an in-memory ScheduleDayRepository for dispatch tests
type fakeDayRepo struct {
	mu   sync.Mutex
	days map[uint]*models.ScheduleDay
}

func newFakeDayRepo(days ...*models.ScheduleDay) *fakeDayRepo {
	r := &fakeDayRepo{days: make(map[uint]*models.ScheduleDay)}
	for _, d := range days {
		cp := *d
		r.days[d.ID] = &cp
	}
	return r
}

func (r *fakeDayRepo) get(id uint) *models.ScheduleDay {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := *r.days[id]
	return &d
}

func (r *fakeDayRepo) ByID(ctx context.Context, id uint) (*models.ScheduleDay, error) {
	return r.get(id), nil
}

func (r *fakeDayRepo) ByFilter(ctx context.Context, filter models.ScheduleDayFilter, orderBy string, limit, offset int) ([]*models.ScheduleDay, error) {
	return nil, nil
}

func (r *fakeDayRepo) Save(ctx context.Context, d *models.ScheduleDay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.days[d.ID] = &cp
	return nil
}

func (r *fakeDayRepo) SaveBatch(ctx context.Context, ds []*models.ScheduleDay) error {
	for _, d := range ds {
		if err := r.Save(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeDayRepo) Count(ctx context.Context, filter models.ScheduleDayFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.days)), nil
}

func (r *fakeDayRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduleDay, error) {
	return nil, nil
}

func (r *fakeDayRepo) ListByCampaign(ctx context.Context, campaignID uint) ([]*models.ScheduleDay, error) {
	return nil, nil
}

func (r *fakeDayRepo) MarkExecuted(ctx context.Context, dayID uint, recipientIDs []int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.days[dayID]; ok {
		d.Status = models.ScheduleDayStatusExecuted
		d.RecipientIDs = pq.Int64Array(recipientIDs)
		d.TotalSent += len(recipientIDs)
		d.ExecutedAt = &at
	}
	return nil
}

// fakeRecordRepo is an in-memory DeliveryRecordRepository for dispatch tests
type fakeRecordRepo struct {
	mu      sync.Mutex
	records []*models.DeliveryRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{}
}

func (r *fakeRecordRepo) ByID(ctx context.Context, id uint) (*models.DeliveryRecord, error) {
	return nil, nil
}

func (r *fakeRecordRepo) ByFilter(ctx context.Context, filter models.DeliveryRecordFilter, orderBy string, limit, offset int) ([]*models.DeliveryRecord, error) {
	return nil, nil
}

func (r *fakeRecordRepo) Save(ctx context.Context, rec *models.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeRecordRepo) SaveBatch(ctx context.Context, recs []*models.DeliveryRecord) error {
	for _, rec := range recs {
		if err := r.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRecordRepo) Count(ctx context.Context, filter models.DeliveryRecordFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.records)), nil
}

func (r *fakeRecordRepo) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.DeliveryRecord
	for _, rec := range r.records {
		if rec.CampaignID == campaignID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
