package domain

import "time"

// All queue item state changes go through the functions in this file. Each returns the
// item as it must be persisted; callers never mutate the status fields directly.

func terminal(q QueueItem) error {
	switch q.Status() {
	case StatusSent:
		return ErrAlreadySent
	case StatusFailed:
		return ErrAlreadyFailed
	}
	return nil
}

// MarkSent moves a pending item to SENT.
func MarkSent(q QueueItem, at time.Time, from, messageID string) (QueueItem, error) {
	if err := terminal(q); err != nil {
		return q, err
	}
	at = at.UTC()
	q.SentAt = &at
	q.SentFrom = from
	q.MessageID = messageID
	q.NextTry = nil
	q.ClaimedUntil = nil
	return q, nil
}

// MarkRetry records a failed attempt and keeps the item pending until nextTry.
func MarkRetry(q QueueItem, reason string, nextTry time.Time) (QueueItem, error) {
	if err := terminal(q); err != nil {
		return q, err
	}
	nextTry = nextTry.UTC()
	q.Attempts++
	q.LastError = reason
	q.NextTry = &nextTry
	q.ClaimedUntil = nil
	return q, nil
}

// MarkFailed records a terminal failure. countAttempt is false for failures that happened
// before any send was attempted (missing campaign, lead, follow-up).
func MarkFailed(q QueueItem, reason string, at time.Time, countAttempt bool) (QueueItem, error) {
	if err := terminal(q); err != nil {
		return q, err
	}
	at = at.UTC()
	if countAttempt {
		q.Attempts++
	}
	q.LastError = reason
	q.FailedAt = &at
	q.NextTry = nil
	q.ClaimedUntil = nil
	return q, nil
}
