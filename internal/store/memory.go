// Package store holds the in-process store used by tests and by single-instance dev runs.
// The Postgres store in store/pg has the same method set.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"outreach/internal/domain"
)

type queueKey struct {
	campaignID string
	leadID     string
	sequence   int
}

type Memory struct {
	mu        sync.Mutex
	leads     map[string]domain.Lead
	campaigns map[string]domain.Campaign
	items     map[string]domain.QueueItem
	byKey     map[queueKey]string
	accounts  map[string]domain.SenderAccount
}

func NewMemory() *Memory {
	return &Memory{
		leads:     map[string]domain.Lead{},
		campaigns: map[string]domain.Campaign{},
		items:     map[string]domain.QueueItem{},
		byKey:     map[queueKey]string{},
		accounts:  map[string]domain.SenderAccount{},
	}
}

func (m *Memory) CreateLead(_ context.Context, l domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.leads {
		if existing.Email == l.Email {
			return fmt.Errorf("lead %s: %w", l.Email, domain.ErrConflict)
		}
	}
	m.leads[l.ID] = l
	return nil
}

func (m *Memory) GetLead(_ context.Context, id string) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return domain.Lead{}, fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	return l, nil
}

func (m *Memory) Unsubscribe(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	l.Unsubscribed = true
	m.leads[id] = l
	return nil
}

// ListAudience pages through subscribed leads of a list in id order. An empty audience
// means every list.
func (m *Memory) ListAudience(_ context.Context, audience, afterID string, limit int) ([]domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Lead
	for _, l := range m.leads {
		if l.Unsubscribed || l.ID <= afterID {
			continue
		}
		if audience != "" && l.List != audience {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateCampaign(_ context.Context, c domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.ID]; ok {
		return fmt.Errorf("campaign %s: %w", c.ID, domain.ErrConflict)
	}
	c.FollowUps = append([]domain.FollowUp(nil), c.FollowUps...)
	m.campaigns[c.ID] = c
	return nil
}

func (m *Memory) GetCampaign(_ context.Context, id string) (domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.Campaign{}, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) GetFollowUp(_ context.Context, campaignID string, sequence int) (domain.FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return domain.FollowUp{}, fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}
	for _, f := range c.FollowUps {
		if f.Sequence == sequence {
			return f, nil
		}
	}
	return domain.FollowUp{}, fmt.Errorf("follow-up %s/%d: %w", campaignID, sequence, domain.ErrNotFound)
}

func (m *Memory) InsertQueueItem(_ context.Context, q domain.QueueItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(q), nil
}

func (m *Memory) InsertQueueItems(_ context.Context, items []domain.QueueItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range items {
		if m.insertLocked(q) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) insertLocked(q domain.QueueItem) bool {
	k := queueKey{q.CampaignID, q.LeadID, q.Sequence}
	if _, ok := m.byKey[k]; ok {
		return false
	}
	m.byKey[k] = q.ID
	m.items[q.ID] = q
	return true
}

func (m *Memory) GetQueueItem(_ context.Context, id string) (domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok {
		return domain.QueueItem{}, fmt.Errorf("queue item %s: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

// QueueItems returns every item ordered by scheduled_for, for tests and inspection.
func (m *Memory) QueueItems() []domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.QueueItem, 0, len(m.items))
	for _, q := range m.items {
		out = append(out, q)
	}
	sortQueue(out)
	return out
}

func (m *Memory) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.QueueItem
	for _, q := range m.items {
		if !q.Due(now) {
			continue
		}
		if q.ClaimedUntil != nil && q.ClaimedUntil.After(now) {
			continue
		}
		if l, ok := m.leads[q.LeadID]; ok && l.Unsubscribed {
			continue
		}
		due = append(due, q)
	}
	sortQueue(due)
	if len(due) > limit {
		due = due[:limit]
	}
	until := now.Add(lease).UTC()
	for i := range due {
		due[i].ClaimedUntil = &until
		m.items[due[i].ID] = due[i]
	}
	return due, nil
}

func (m *Memory) ReleaseClaims(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if q, ok := m.items[id]; ok && q.Status() == domain.StatusPending {
			q.ClaimedUntil = nil
			m.items[id] = q
		}
	}
	return nil
}

// SaveOutcome persists the lifecycle fields of q. It refuses to overwrite an item that is
// already sent or failed.
func (m *Memory) SaveOutcome(_ context.Context, q domain.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[q.ID]
	if !ok {
		return fmt.Errorf("queue item %s: %w", q.ID, domain.ErrNotFound)
	}
	switch cur.Status() {
	case domain.StatusSent:
		return domain.ErrAlreadySent
	case domain.StatusFailed:
		return domain.ErrAlreadyFailed
	}
	cur.Subject, cur.Body = q.Subject, q.Body
	cur.SentAt, cur.SentFrom, cur.MessageID = q.SentAt, q.SentFrom, q.MessageID
	cur.Attempts, cur.LastError, cur.NextTry, cur.FailedAt = q.Attempts, q.LastError, q.NextTry, q.FailedAt
	cur.ClaimedUntil = nil
	m.items[q.ID] = cur
	return nil
}

func (m *Memory) UpsertSenderAccount(_ context.Context, a domain.SenderAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.accounts[a.Address]; ok {
		a.ID = cur.ID
	}
	m.accounts[a.Address] = a
	return nil
}

func (m *Memory) ListSenderAccounts(_ context.Context) ([]domain.SenderAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SenderAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return strings.Compare(out[i].Address, out[j].Address) < 0
	})
	return out, nil
}

func (m *Memory) MarkAccountCredentialError(_ context.Context, address, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[address]
	if !ok {
		return fmt.Errorf("account %s: %w", address, domain.ErrNotFound)
	}
	at = at.UTC()
	a.CredentialError, a.CredentialErrorAt = reason, &at
	m.accounts[address] = a
	return nil
}

func (m *Memory) ClearCredentialError(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[address]
	if !ok {
		return fmt.Errorf("account %s: %w", address, domain.ErrNotFound)
	}
	a.CredentialError, a.CredentialErrorAt = "", nil
	m.accounts[address] = a
	return nil
}

func sortQueue(items []domain.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].ScheduledFor.Equal(items[j].ScheduledFor) {
			return items[i].ScheduledFor.Before(items[j].ScheduledFor)
		}
		return items[i].ID < items[j].ID
	})
}
