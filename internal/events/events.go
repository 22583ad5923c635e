// Package events publishes dispatch outcomes for downstream consumers (CRM sync, reporting).
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"time"

	"outreach/internal/domain"
	"outreach/internal/util"
)

type Type string

const (
	QueueItemSent      Type = "queue_item.sent"
	QueueItemRetry     Type = "queue_item.retry"
	QueueItemFailed    Type = "queue_item.failed"
	FollowUpScheduled  Type = "followup.scheduled"
	AccountCredentials Type = "account.credential_error"
)

type Event struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	QueueItemID string     `json:"queueItemId,omitempty"`
	CampaignID  string     `json:"campaignId,omitempty"`
	LeadID      string     `json:"leadId,omitempty"`
	Sequence    int        `json:"sequence"`
	Account     string     `json:"account,omitempty"`
	MessageID   string     `json:"messageId,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Error       string     `json:"error,omitempty"`
	NextTry     *time.Time `json:"nextTry,omitempty"`
	At          time.Time  `json:"at"`
}

// ForItem builds an event describing q after its latest transition.
func ForItem(t Type, q domain.QueueItem, at time.Time) Event {
	return Event{
		ID:          util.NewEventID(),
		Type:        t,
		QueueItemID: q.ID,
		CampaignID:  q.CampaignID,
		LeadID:      q.LeadID,
		Sequence:    q.Sequence,
		Account:     q.SentFrom,
		MessageID:   q.MessageID,
		Attempts:    q.Attempts,
		Error:       q.LastError,
		NextTry:     q.NextTry,
		At:          at.UTC(),
	}
}

func ForAccount(t Type, account, reason string, at time.Time) Event {
	return Event{ID: util.NewEventID(), Type: t, Account: account, Error: reason, At: at.UTC()}
}

// PartitionKey keeps all events of one lead in a campaign in order.
func (e Event) PartitionKey() string {
	if e.CampaignID == "" && e.LeadID == "" {
		return e.Account
	}
	return e.CampaignID + ":" + e.LeadID
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
