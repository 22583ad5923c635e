package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"outreach/internal/domain"
)

type Policy string

const (
	PolicyOrdered    Policy = "ordered"
	PolicyRoundRobin Policy = "round_robin"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyOrdered, PolicyRoundRobin:
		return Policy(s), nil
	case "":
		return PolicyRoundRobin, nil
	}
	return "", fmt.Errorf("unknown selection policy %q", s)
}

// Selector picks the account for the next send and reserves one unit of its cap.
// Accounts with a credential problem have no capacity until cleared.
type Selector struct {
	Tracker *Tracker
	Policy  Policy

	mu       sync.Mutex
	next     int
	disabled map[string]string
}

func NewSelector(t *Tracker, p Policy) *Selector {
	if p == "" {
		p = PolicyRoundRobin
	}
	return &Selector{Tracker: t, Policy: p, disabled: map[string]string{}}
}

// Select returns a reservation on the first usable account with capacity. ok is false when
// no account can send right now.
func (s *Selector) Select(ctx context.Context, pool []domain.SenderAccount) (Reservation, bool, error) {
	if len(pool) == 0 {
		return Reservation{}, false, nil
	}

	s.mu.Lock()
	start := 0
	if s.Policy == PolicyRoundRobin {
		start = s.next % len(pool)
	}
	s.mu.Unlock()

	for i := 0; i < len(pool); i++ {
		idx := (start + i) % len(pool)
		acct := pool[idx]
		if !s.usable(acct) {
			continue
		}
		r, ok, err := s.Tracker.Reserve(ctx, acct)
		if err != nil {
			return Reservation{}, false, err
		}
		if !ok {
			continue
		}
		if s.Policy == PolicyRoundRobin {
			s.mu.Lock()
			s.next = idx + 1
			s.mu.Unlock()
		}
		return r, true, nil
	}
	return Reservation{}, false, nil
}

func (s *Selector) usable(a domain.SenderAccount) bool {
	if a.CredentialError != "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, off := s.disabled[a.Address]
	return !off
}

// Disable removes an account from selection until Enable is called.
func (s *Selector) Disable(address, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disabled[address]; !ok {
		slog.Warn("sender account disabled", "account", address, "reason", reason)
	}
	s.disabled[address] = reason
}

func (s *Selector) Enable(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.disabled, address)
}

func (s *Selector) Disabled(address string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.disabled[address]
	return r, ok
}
