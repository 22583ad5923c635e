package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach/internal/domain"
)

// Tracker answers "can this account send today" and records sends against the daily cap.
// Days are UTC calendar dates of the tracker clock.
type Tracker struct {
	Counter Counter
	Now     func() time.Time
}

func NewTracker(c Counter) *Tracker {
	return &Tracker{Counter: c, Now: time.Now}
}

// Today is the counter day for the current instant.
func (t *Tracker) Today() time.Time {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return domain.Day(now())
}

func (t *Tracker) Count(ctx context.Context, account domain.SenderAccount, day time.Time) (int, error) {
	return t.Counter.Count(ctx, account.Address, day)
}

func (t *Tracker) HasCapacity(ctx context.Context, account domain.SenderAccount, day time.Time) (bool, error) {
	n, err := t.Counter.Count(ctx, account.Address, day)
	if err != nil {
		return false, fmt.Errorf("count %s: %w", account.Address, err)
	}
	return n < account.Cap(), nil
}

// Increment records one send and returns the new count, or ErrCapReached when the account
// is already at its cap.
func (t *Tracker) Increment(ctx context.Context, account domain.SenderAccount, day time.Time) (int, error) {
	n, ok, err := t.Counter.IncrementIfBelow(ctx, account.Address, day, account.Cap())
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", account.Address, err)
	}
	if !ok {
		return n, ErrCapReached
	}
	return n, nil
}

// Reservation is one unit of an account's daily cap held for a send in flight. Keeping it
// counts the send; releasing it gives the unit back.
type Reservation struct {
	Account domain.SenderAccount
	Day     time.Time
	Count   int
}

// Reserve takes one unit of today's cap. ok is false when the account is full.
func (t *Tracker) Reserve(ctx context.Context, account domain.SenderAccount) (Reservation, bool, error) {
	day := t.Today()
	n, err := t.Increment(ctx, account, day)
	if errors.Is(err, ErrCapReached) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}
	return Reservation{Account: account, Day: day, Count: n}, true, nil
}

func (t *Tracker) Release(ctx context.Context, r Reservation) error {
	if err := t.Counter.Decrement(ctx, r.Account.Address, r.Day); err != nil {
		return fmt.Errorf("release %s: %w", r.Account.Address, err)
	}
	return nil
}

// Seed creates zero counters for today so quota views list every account.
func (t *Tracker) Seed(ctx context.Context, accounts []domain.SenderAccount) error {
	addrs := make([]string, 0, len(accounts))
	for _, a := range accounts {
		addrs = append(addrs, a.Address)
	}
	return t.Counter.Seed(ctx, addrs, t.Today())
}
