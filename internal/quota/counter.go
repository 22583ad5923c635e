package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"outreach/internal/domain"
)

// ErrCapReached is returned instead of pushing a counter past its cap.
var ErrCapReached = errors.New("daily cap reached")

// Counter stores per-account daily send counts. Implementations must make
// IncrementIfBelow atomic with respect to every other caller, including other processes
// sharing the backend.
type Counter interface {
	Count(ctx context.Context, account string, day time.Time) (int, error)
	// IncrementIfBelow adds one when the current count is below limit and returns the
	// resulting count. ok is false, and nothing changes, when the count is already at limit.
	IncrementIfBelow(ctx context.Context, account string, day time.Time, limit int) (count int, ok bool, err error)
	// Decrement undoes one increment. It never goes below zero.
	Decrement(ctx context.Context, account string, day time.Time) error
	// Seed makes sure a zero row exists for each account and day.
	Seed(ctx context.Context, accounts []string, day time.Time) error
}

type counterKey struct {
	account string
	day     time.Time
}

type slot struct {
	mu sync.Mutex
	n  int
}

// MemoryCounter keeps counts in process. It is meant for tests and single-instance runs.
type MemoryCounter struct {
	mu    sync.Mutex
	slots map[counterKey]*slot
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{slots: map[counterKey]*slot{}}
}

func (m *MemoryCounter) slot(account string, day time.Time) *slot {
	k := counterKey{account: account, day: domain.Day(day)}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[k]
	if !ok {
		s = &slot{}
		m.slots[k] = s
	}
	return s
}

func (m *MemoryCounter) Count(_ context.Context, account string, day time.Time) (int, error) {
	s := m.slot(account, day)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n, nil
}

func (m *MemoryCounter) IncrementIfBelow(_ context.Context, account string, day time.Time, limit int) (int, bool, error) {
	s := m.slot(account, day)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n >= limit {
		return s.n, false, nil
	}
	s.n++
	return s.n, true, nil
}

func (m *MemoryCounter) Decrement(_ context.Context, account string, day time.Time) error {
	s := m.slot(account, day)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n > 0 {
		s.n--
	}
	return nil
}

func (m *MemoryCounter) Seed(_ context.Context, accounts []string, day time.Time) error {
	for _, a := range accounts {
		m.slot(a, day)
	}
	return nil
}

// Len is the number of (account, day) rows, for tests.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
