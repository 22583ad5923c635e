package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"outreach/internal/domain"
	"outreach/internal/observability"
	"outreach/internal/quota"
	"outreach/internal/render"
	"outreach/internal/util"
)

// EnqueueChunk is how many audience leads are read and enqueued per round trip.
const EnqueueChunk = 500

type Store interface {
	CreateLead(ctx context.Context, l domain.Lead) error
	Unsubscribe(ctx context.Context, id string) error
	ListAudience(ctx context.Context, audience, afterID string, limit int) ([]domain.Lead, error)
	CreateCampaign(ctx context.Context, c domain.Campaign) error
	InsertQueueItems(ctx context.Context, items []domain.QueueItem) (int, error)
	GetQueueItem(ctx context.Context, id string) (domain.QueueItem, error)
	ListSenderAccounts(ctx context.Context) ([]domain.SenderAccount, error)
}

// WelcomeCampaignID is the campaign every welcome email is queued under.
const WelcomeCampaignID = "cmp_welcome"

// Welcome is the email queued for a lead when it signs up. Subject and body are
// templates rendered with the lead's fields.
type Welcome struct {
	Subject string
	Body    string
	Delay   time.Duration
}

type CampaignService struct {
	Store    Store
	Tracker  *quota.Tracker
	Renderer render.Renderer
	// Welcome is nil when no welcome email is sent.
	Welcome *Welcome
	Now     func() time.Time

	welcomeReady atomic.Bool
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

func (s *CampaignService) CreateLead(ctx context.Context, req domain.CreateLeadRequest) (domain.Lead, error) {
	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		return domain.Lead{}, fmt.Errorf("email: %w", domain.ErrMissingFields)
	}
	l := domain.Lead{
		ID:        util.NewLeadID(),
		Email:     email,
		Name:      req.Name,
		List:      req.List,
		Fields:    req.Fields,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateLead(ctx, l); err != nil {
		return domain.Lead{}, err
	}
	if s.Welcome != nil {
		if err := s.enqueueWelcome(ctx, l); err != nil {
			// the lead exists either way; a retried signup would only get a conflict
			slog.Error("enqueue welcome email failed", "lead_id", l.ID, "err", err)
		}
	}
	return l, nil
}

func (s *CampaignService) enqueueWelcome(ctx context.Context, l domain.Lead) error {
	w := s.Welcome
	if !s.welcomeReady.Load() {
		err := s.Store.CreateCampaign(ctx, domain.Campaign{
			ID:              WelcomeCampaignID,
			Name:            "welcome",
			Subject:         w.Subject,
			Body:            w.Body,
			SendImmediately: true,
			StartsAt:        l.CreatedAt,
			CreatedAt:       l.CreatedAt,
		})
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("create welcome campaign: %w", err)
		}
		s.welcomeReady.Store(true)
	}

	fields := render.LeadFields(l)
	n, err := s.Store.InsertQueueItems(ctx, []domain.QueueItem{{
		ID:           util.NewQueueItemID(),
		CampaignID:   WelcomeCampaignID,
		LeadID:       l.ID,
		LeadEmail:    l.Email,
		Subject:      s.Renderer.RenderSubject(w.Subject, fields),
		Body:         s.Renderer.Render(w.Body, fields),
		ScheduledFor: l.CreatedAt.Add(w.Delay),
		CreatedAt:    l.CreatedAt,
	}})
	if err != nil {
		return err
	}
	observability.Enqueues.WithLabelValues("welcome").Add(float64(n))
	return nil
}

func (s *CampaignService) Unsubscribe(ctx context.Context, leadID string) error {
	if err := s.Store.Unsubscribe(ctx, leadID); err != nil {
		return err
	}
	slog.Info("lead unsubscribed", "lead_id", leadID)
	return nil
}

// CreateCampaign stores the campaign and enqueues its first step for every subscribed
// lead in the audience. Subject and body are rendered per lead at enqueue time.
func (s *CampaignService) CreateCampaign(ctx context.Context, req domain.CreateCampaignRequest) (domain.CreateCampaignResponse, error) {
	now := s.now()
	startsAt := now
	if !req.SendImmediately {
		if req.StartsAt == nil {
			return domain.CreateCampaignResponse{}, fmt.Errorf("startsAt: %w", domain.ErrMissingFields)
		}
		startsAt = req.StartsAt.UTC()
	}

	c := domain.Campaign{
		ID:              util.NewCampaignID(),
		Name:            req.Name,
		Subject:         req.Subject,
		Body:            req.Body,
		Audience:        req.Audience,
		SendImmediately: req.SendImmediately,
		StartsAt:        startsAt,
		CreatedAt:       now,
	}
	for i, f := range req.FollowUps {
		c.FollowUps = append(c.FollowUps, domain.FollowUp{
			CampaignID:        c.ID,
			Sequence:          i + 1,
			Subject:           f.Subject,
			Body:              f.Body,
			DaysAfterPrevious: f.DaysAfterPrevious,
		})
	}
	if err := s.Store.CreateCampaign(ctx, c); err != nil {
		return domain.CreateCampaignResponse{}, fmt.Errorf("create campaign: %w", err)
	}

	queued, err := s.enqueueAudience(ctx, c)
	if err != nil {
		return domain.CreateCampaignResponse{CampaignID: c.ID, Queued: queued}, fmt.Errorf("enqueue campaign %s: %w", c.ID, err)
	}
	slog.Info("campaign created", "campaign_id", c.ID, "audience", c.Audience, "queued", queued, "follow_ups", len(c.FollowUps))
	return domain.CreateCampaignResponse{CampaignID: c.ID, Queued: queued}, nil
}

func (s *CampaignService) enqueueAudience(ctx context.Context, c domain.Campaign) (int, error) {
	queued := 0
	after := ""
	for {
		leads, err := s.Store.ListAudience(ctx, c.Audience, after, EnqueueChunk)
		if err != nil {
			return queued, err
		}
		if len(leads) == 0 {
			return queued, nil
		}
		items := make([]domain.QueueItem, 0, len(leads))
		for _, l := range leads {
			fields := render.LeadFields(l)
			items = append(items, domain.QueueItem{
				ID:           util.NewQueueItemID(),
				CampaignID:   c.ID,
				LeadID:       l.ID,
				LeadEmail:    l.Email,
				Subject:      s.Renderer.RenderSubject(c.Subject, fields),
				Body:         s.Renderer.Render(c.Body, fields),
				Sequence:     0,
				ScheduledFor: c.StartsAt,
				CreatedAt:    c.CreatedAt,
			})
		}
		n, err := s.Store.InsertQueueItems(ctx, items)
		if err != nil {
			return queued, err
		}
		queued += n
		observability.Enqueues.WithLabelValues("campaign").Add(float64(n))
		if len(leads) < EnqueueChunk {
			return queued, nil
		}
		after = leads[len(leads)-1].ID
	}
}

func (s *CampaignService) GetQueueItem(ctx context.Context, id string) (domain.QueueItemView, error) {
	q, err := s.Store.GetQueueItem(ctx, id)
	if err != nil {
		return domain.QueueItemView{}, err
	}
	return domain.ViewQueueItem(q), nil
}

func (s *CampaignService) AccountQuota(ctx context.Context) ([]domain.AccountQuotaView, error) {
	accounts, err := s.Store.ListSenderAccounts(ctx)
	if err != nil {
		return nil, err
	}
	day := s.Tracker.Today()
	out := make([]domain.AccountQuotaView, 0, len(accounts))
	for _, a := range accounts {
		n, err := s.Tracker.Count(ctx, a, day)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.AccountQuotaView{
			Address:         a.Address,
			Kind:            string(a.Kind),
			SentToday:       n,
			DailyCap:        a.Cap(),
			CredentialError: a.CredentialError,
		})
	}
	return out, nil
}
