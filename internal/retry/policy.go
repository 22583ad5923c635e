package retry

import (
	"errors"
	"time"

	"outreach/internal/credentials"
	"outreach/internal/domain"
	"outreach/internal/transport"
)

const (
	DefaultBase        = time.Hour
	DefaultMax         = 24 * time.Hour
	DefaultMaxAttempts = 10
)

// Policy decides when a failed send is tried again.
//
// Linear: min(attempts*Base, Max). Exponential: min(Base*2^(attempts-1), Max).
// MaxAttempts of 0 retries forever.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	Exponential bool
	MaxAttempts int
}

func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, MaxAttempts: DefaultMaxAttempts}
}

// NextDelay returns the wait after the given number of failed attempts (>= 1).
func (p Policy) NextDelay(attempts int) time.Duration {
	base, max := p.Base, p.Max
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	if attempts < 1 {
		attempts = 1
	}

	var d time.Duration
	if p.Exponential {
		d = base
		for i := 1; i < attempts; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
	} else {
		if int64(attempts) > int64(max/base) {
			return max
		}
		d = time.Duration(attempts) * base
	}
	if d > max {
		return max
	}
	return d
}

// Exhausted reports whether an item that has now failed attempts times gets no more tries.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// IsTerminal reports whether err can never succeed on a later try for the same item.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, credentials.ErrCredential) || errors.Is(err, domain.ErrNotFound) {
		return true
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return te.Kind == transport.KindAuth || te.Kind == transport.KindRejected
	}
	return false
}

// Reason is the short error label stored as last_error.
func Reason(err error) string {
	var te *transport.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, credentials.ErrCredential):
		return "credential_error: " + err.Error()
	case errors.As(err, &te):
		return string(te.Kind) + ": " + te.Err.Error()
	}
	return err.Error()
}
