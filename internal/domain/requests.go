package domain

import "time"

type CreateLeadRequest struct {
	Email  string             `json:"email" validate:"required,email"`
	Name   string             `json:"name"`
	List   string             `json:"list"`
	Fields map[string]*string `json:"fields"`
}

type FollowUpRequest struct {
	Subject           string `json:"subject" validate:"required"`
	Body              string `json:"body" validate:"required"`
	DaysAfterPrevious int    `json:"daysAfterPrevious" validate:"gte=0"`
}

type CreateCampaignRequest struct {
	Name            string            `json:"name" validate:"required"`
	Subject         string            `json:"subject" validate:"required"`
	Body            string            `json:"body" validate:"required"`
	Audience        string            `json:"audience"`
	SendImmediately bool              `json:"sendImmediately"`
	StartsAt        *time.Time        `json:"startsAt"`
	FollowUps       []FollowUpRequest `json:"followUps" validate:"dive"`
}

type CreateCampaignResponse struct {
	CampaignID string `json:"campaignId"`
	Queued     int    `json:"queued"`
}

type QueueItemView struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaignId"`
	LeadID       string     `json:"leadId"`
	LeadEmail    string     `json:"leadEmail"`
	Sequence     int        `json:"sequence"`
	Status       Status     `json:"status"`
	ScheduledFor time.Time  `json:"scheduledFor"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	SentFrom     string     `json:"sentFrom,omitempty"`
	MessageID    string     `json:"messageId,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"lastError,omitempty"`
	NextTry      *time.Time `json:"nextTry,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
}

func ViewQueueItem(q QueueItem) QueueItemView {
	return QueueItemView{
		ID: q.ID, CampaignID: q.CampaignID, LeadID: q.LeadID, LeadEmail: q.LeadEmail,
		Sequence: q.Sequence, Status: q.Status(), ScheduledFor: q.ScheduledFor,
		SentAt: q.SentAt, SentFrom: q.SentFrom, MessageID: q.MessageID,
		Attempts: q.Attempts, LastError: q.LastError, NextTry: q.NextTry, FailedAt: q.FailedAt,
	}
}

type AccountQuotaView struct {
	Address         string `json:"address"`
	Kind            string `json:"kind"`
	SentToday       int    `json:"sentToday"`
	DailyCap        int    `json:"dailyCap"`
	CredentialError string `json:"credentialError,omitempty"`
}
