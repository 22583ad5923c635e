package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"outreach/internal/domain"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Result struct {
	MessageID string
}

// Sender performs exactly one send for one account. It never retries and never touches
// queue or counter state.
type Sender interface {
	Send(ctx context.Context, account domain.SenderAccount, msg Message) (Result, error)
}

type Kind string

const (
	// KindAuth means the account credential was refused; the account needs new credentials.
	KindAuth Kind = "auth"
	// KindRateLimited means the provider rejected the send for rate or quota reasons.
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	// KindRejected means the provider refused this message (bad recipient, malformed).
	KindRejected Kind = "rejected"
	// KindUnavailable means no call was made (local breaker open or limiter timeout).
	KindUnavailable Kind = "unavailable"
)

type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, Status: status, Err: err}
}

// KindOf extracts the failure kind. Errors that are not *Error are reported as transient.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}

// ClassifyHTTP maps an HTTP API failure to a kind, in the spirit of the provider retry
// rules: timeouts, 408, 429 and 5xx are retryable.
func ClassifyHTTP(err error, status int) Kind {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return KindTransient
		}
		var ne net.Error
		if errors.As(err, &ne) {
			return KindTransient
		}
	}
	switch {
	case status == 401:
		return KindAuth
	case status == 429:
		return KindRateLimited
	case status == 408, status >= 500 && status <= 599:
		return KindTransient
	case status >= 400 && status <= 499:
		return KindRejected
	}
	return KindTransient
}
