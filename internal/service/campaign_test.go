package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/internal/domain"
	"outreach/internal/quota"
	"outreach/internal/render"
	"outreach/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newService() (*CampaignService, *store.Memory, *quota.MemoryCounter) {
	m := store.NewMemory()
	c := quota.NewMemoryCounter()
	clock := func() time.Time { return t0 }
	return &CampaignService{
		Store:   m,
		Tracker: &quota.Tracker{Counter: c, Now: clock},
		Now:     clock,
	}, m, c
}

func TestCreateLeadNormalizesEmail(t *testing.T) {
	svc, m, _ := newService()
	l, err := svc.CreateLead(context.Background(), domain.CreateLeadRequest{Email: "  Ana@Example.COM ", Name: "Ana", List: "beta"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", l.Email)
	assert.Contains(t, l.ID, "lead_")

	got, err := m.GetLead(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, "beta", got.List)

	_, err = svc.CreateLead(context.Background(), domain.CreateLeadRequest{Email: "ana@example.com"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = svc.CreateLead(context.Background(), domain.CreateLeadRequest{Email: "   "})
	assert.ErrorIs(t, err, domain.ErrMissingFields)
}

func TestCreateCampaignEnqueuesSubscribedAudience(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newService()
	ana, err := svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "ana@example.com", Name: "Ana", List: "beta",
		Fields: map[string]*string{"city": nil}})
	require.NoError(t, err)
	bob, err := svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "bob@example.com", Name: "Bob", List: "beta"})
	require.NoError(t, err)
	_, err = svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "cy@example.com", Name: "Cy", List: "other"})
	require.NoError(t, err)
	require.NoError(t, svc.Unsubscribe(ctx, bob.ID))

	resp, err := svc.CreateCampaign(ctx, domain.CreateCampaignRequest{
		Name: "Launch", Subject: "Hi {name}", Body: "From {city}", Audience: "beta", SendImmediately: true,
		FollowUps: []domain.FollowUpRequest{{Subject: "Re", Body: "Bump", DaysAfterPrevious: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Queued)

	items := m.QueueItems()
	require.Len(t, items, 1)
	assert.Equal(t, ana.ID, items[0].LeadID)
	assert.Equal(t, "Hi Ana", items[0].Subject)
	assert.Equal(t, "From ", items[0].Body)
	assert.Equal(t, 0, items[0].Sequence)
	assert.Equal(t, t0, items[0].ScheduledFor)

	c, err := m.GetCampaign(ctx, resp.CampaignID)
	require.NoError(t, err)
	require.Len(t, c.FollowUps, 1)
	assert.Equal(t, 1, c.FollowUps[0].Sequence)
}

func TestCampaignSubjectStaysPlainWithHTMLFormatting(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newService()
	svc.Renderer = render.Renderer{HTMLFormatting: true}
	_, err := svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "ana@example.com", Name: "Ana"})
	require.NoError(t, err)

	_, err = svc.CreateCampaign(ctx, domain.CreateCampaignRequest{
		Name: "Launch", Subject: "Hi  {name}\nnews", Body: "Line one\nLine  two", SendImmediately: true,
	})
	require.NoError(t, err)

	items := m.QueueItems()
	require.Len(t, items, 1)
	assert.Equal(t, "Hi  Ana news", items[0].Subject)
	assert.Contains(t, items[0].Body, "<br>")
}

func TestCreateLeadQueuesWelcome(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newService()
	svc.Renderer = render.Renderer{HTMLFormatting: true}
	svc.Welcome = &Welcome{Subject: "Welcome, {name}", Body: "Hi {name},\n\nThanks.", Delay: 5 * time.Minute}

	ana, err := svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "ana@example.com", Name: "Ana"})
	require.NoError(t, err)
	bob, err := svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "bob@example.com", Name: "Bob"})
	require.NoError(t, err)

	byLead := map[string]domain.QueueItem{}
	for _, q := range m.QueueItems() {
		byLead[q.LeadID] = q
	}
	require.Len(t, byLead, 2)
	for _, l := range []domain.Lead{ana, bob} {
		q := byLead[l.ID]
		assert.Equal(t, WelcomeCampaignID, q.CampaignID)
		assert.Equal(t, l.ID, q.LeadID)
		assert.Equal(t, l.Email, q.LeadEmail)
		assert.Equal(t, 0, q.Sequence)
		assert.Equal(t, t0.Add(5*time.Minute), q.ScheduledFor)
		assert.Equal(t, "Welcome, "+l.Name, q.Subject)
		assert.Contains(t, q.Body, "Hi "+l.Name)
	}

	c, err := m.GetCampaign(ctx, WelcomeCampaignID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome, {name}", c.Subject)
	assert.Empty(t, c.FollowUps)

	_, err = svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "ana@example.com"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, m.QueueItems(), 2, "a duplicate signup queues nothing")
}

func TestCreateLeadWithoutWelcomeQueuesNothing(t *testing.T) {
	svc, m, _ := newService()
	_, err := svc.CreateLead(context.Background(), domain.CreateLeadRequest{Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Empty(t, m.QueueItems())
}

func TestCreateCampaignScheduledStart(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newService()
	_, err := svc.CreateLead(ctx, domain.CreateLeadRequest{Email: "ana@example.com"})
	require.NoError(t, err)

	_, err = svc.CreateCampaign(ctx, domain.CreateCampaignRequest{Name: "Later", Subject: "s", Body: "b"})
	assert.ErrorIs(t, err, domain.ErrMissingFields)

	start := t0.Add(48 * time.Hour)
	_, err = svc.CreateCampaign(ctx, domain.CreateCampaignRequest{Name: "Later", Subject: "s", Body: "b", StartsAt: &start})
	require.NoError(t, err)
	assert.Equal(t, start, m.QueueItems()[0].ScheduledFor)
}

func TestCreateCampaignPagesThroughLargeAudience(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newService()
	total := EnqueueChunk*2 + 17
	for i := 0; i < total; i++ {
		_, err := svc.CreateLead(ctx, domain.CreateLeadRequest{Email: fmt.Sprintf("lead%04d@example.com", i)})
		require.NoError(t, err)
	}

	resp, err := svc.CreateCampaign(ctx, domain.CreateCampaignRequest{Name: "Big", Subject: "s", Body: "b", SendImmediately: true})
	require.NoError(t, err)
	assert.Equal(t, total, resp.Queued)
	assert.Len(t, m.QueueItems(), total)
}

func TestGetQueueItemView(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newService()
	_, err := m.InsertQueueItem(ctx, domain.QueueItem{ID: "q1", CampaignID: "c", LeadID: "l", Attempts: 2, LastError: "transient: boom", ScheduledFor: t0})
	require.NoError(t, err)

	v, err := svc.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, v.Status)
	assert.Equal(t, 2, v.Attempts)
	assert.Equal(t, "transient: boom", v.LastError)

	_, err = svc.GetQueueItem(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountQuota(t *testing.T) {
	ctx := context.Background()
	svc, m, c := newService()
	require.NoError(t, m.UpsertSenderAccount(ctx, domain.SenderAccount{Address: "a@x.io", Kind: domain.AccountGmail, DailyCap: 3}))
	require.NoError(t, m.UpsertSenderAccount(ctx, domain.SenderAccount{Address: "b@x.io", Kind: domain.AccountSMTP, Position: 1, CredentialError: "auth"}))
	_, _, err := c.IncrementIfBelow(ctx, "a@x.io", t0, 3)
	require.NoError(t, err)

	views, err := svc.AccountQuota(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, domain.AccountQuotaView{Address: "a@x.io", Kind: "gmail", SentToday: 1, DailyCap: 3}, views[0])
	assert.Equal(t, domain.DefaultDailyCap, views[1].DailyCap)
	assert.Equal(t, "auth", views[1].CredentialError)
}

