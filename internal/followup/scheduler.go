package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"outreach/internal/domain"
	"outreach/internal/render"
	"outreach/internal/util"
)

type Store interface {
	GetFollowUp(ctx context.Context, campaignID string, sequence int) (domain.FollowUp, error)
	GetLead(ctx context.Context, leadID string) (domain.Lead, error)
	// InsertQueueItem inserts q unless an item with the same campaign, lead and sequence
	// already exists. inserted is false in that case.
	InsertQueueItem(ctx context.Context, q domain.QueueItem) (inserted bool, err error)
}

// Scheduler enqueues the next step of a campaign for a lead once the previous step is sent.
type Scheduler struct {
	Store    Store
	Renderer render.Renderer
	Now      func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ScheduleNext enqueues follow-up completedSequence+1. It returns ok=false without error
// when the campaign has no such step, the lead has unsubscribed, or the step was already
// enqueued by an earlier call.
func (s *Scheduler) ScheduleNext(ctx context.Context, campaignID, leadID string, completedSequence int) (domain.QueueItem, bool, error) {
	next := completedSequence + 1
	fu, err := s.Store.GetFollowUp(ctx, campaignID, next)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.QueueItem{}, false, nil
	}
	if err != nil {
		return domain.QueueItem{}, false, fmt.Errorf("get follow-up %s/%d: %w", campaignID, next, err)
	}

	lead, err := s.Store.GetLead(ctx, leadID)
	if err != nil {
		return domain.QueueItem{}, false, fmt.Errorf("get lead %s: %w", leadID, err)
	}
	if lead.Unsubscribed {
		slog.Info("follow-up skipped, lead unsubscribed", "campaign_id", campaignID, "lead_id", leadID, "sequence", next)
		return domain.QueueItem{}, false, nil
	}

	fields := render.LeadFields(lead)
	now := s.now()
	q := domain.QueueItem{
		ID:           util.NewQueueItemID(),
		CampaignID:   campaignID,
		LeadID:       leadID,
		LeadEmail:    lead.Email,
		Subject:      s.Renderer.RenderSubject(fu.Subject, fields),
		Body:         s.Renderer.Render(fu.Body, fields),
		Sequence:     next,
		ScheduledFor: now.Add(fu.Delay()),
		CreatedAt:    now,
	}

	inserted, err := s.Store.InsertQueueItem(ctx, q)
	if err != nil {
		return domain.QueueItem{}, false, fmt.Errorf("insert follow-up %s/%s/%d: %w", campaignID, leadID, next, err)
	}
	if !inserted {
		slog.Info("follow-up already scheduled", "campaign_id", campaignID, "lead_id", leadID, "sequence", next)
		return domain.QueueItem{}, false, nil
	}
	return q, true, nil
}
