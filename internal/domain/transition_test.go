package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSentIsTerminal(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := QueueItem{ID: "q1", ScheduledFor: now.Add(-time.Minute)}
	require.Equal(t, StatusPending, q.Status())

	sent, err := MarkSent(q, now, "a@example.com", "m-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, sent.Status())
	assert.Equal(t, "a@example.com", sent.SentFrom)
	assert.False(t, sent.Due(now.Add(time.Hour)))

	_, err = MarkSent(sent, now, "b@example.com", "m-2")
	assert.ErrorIs(t, err, ErrAlreadySent)
	_, err = MarkRetry(sent, "boom", now)
	assert.ErrorIs(t, err, ErrAlreadySent)
	_, err = MarkFailed(sent, "boom", now, true)
	assert.ErrorIs(t, err, ErrAlreadySent)
}

func TestMarkRetryKeepsItemPending(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := QueueItem{ID: "q1", ScheduledFor: now}

	q, err := MarkRetry(q, "timeout", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, q.Status())
	assert.Equal(t, 1, q.Attempts)
	assert.Equal(t, "timeout", q.LastError)
	assert.False(t, q.Due(now.Add(30*time.Minute)))
	assert.True(t, q.Due(now.Add(time.Hour)))
}

func TestMarkFailedWithoutAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := QueueItem{ID: "q1", ScheduledFor: now, Attempts: 2}

	failed, err := MarkFailed(q, "campaign not found", now, false)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status())
	assert.Equal(t, 2, failed.Attempts)
	assert.False(t, failed.Due(now))

	_, err = MarkRetry(failed, "x", now)
	assert.ErrorIs(t, err, ErrAlreadyFailed)
}

func TestDayIsUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 3, 2, 2, 0, 0, 0, loc) // 2026-03-01 21:00 UTC
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Day(local))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ana@example.com", NormalizeEmail("  Ana@Example.COM "))
}
