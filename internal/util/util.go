package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func newID(prefix string) string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewQueueItemID() string { return newID("q_") }
func NewLeadID() string      { return newID("lead_") }
func NewCampaignID() string  { return newID("cmp_") }
func NewAccountID() string   { return newID("acct_") }
func NewEventID() string     { return newID("evt_") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
