package domain

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// QueueItem is one scheduled outbound message for a lead and a campaign step.
// Sequence 0 is the initial send, N the Nth follow-up.
type QueueItem struct {
	ID           string
	CampaignID   string
	LeadID       string
	LeadEmail    string
	Subject      string
	Body         string
	Sequence     int
	ScheduledFor time.Time

	SentAt    *time.Time
	SentFrom  string
	MessageID string

	Attempts  int
	LastError string
	NextTry   *time.Time
	FailedAt  *time.Time

	ClaimedUntil *time.Time
	CreatedAt    time.Time
}

func (q QueueItem) Status() Status {
	switch {
	case q.SentAt != nil:
		return StatusSent
	case q.FailedAt != nil:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Due reports whether a pending item may be attempted at now.
func (q QueueItem) Due(now time.Time) bool {
	if q.Status() != StatusPending {
		return false
	}
	if q.ScheduledFor.After(now) {
		return false
	}
	return q.NextTry == nil || !q.NextTry.After(now)
}

// Rendered reports whether subject and body were rendered when the item was enqueued.
func (q QueueItem) Rendered() bool {
	return q.Subject != "" && q.Body != ""
}
