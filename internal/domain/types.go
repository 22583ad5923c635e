package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadySent   = errors.New("queue item already sent")
	ErrAlreadyFailed = errors.New("queue item already failed")
	ErrMissingFields = errors.New("missing required fields")
	ErrConflict      = errors.New("already exists")
)

// DefaultDailyCap is the per-account send cap used when an account does not set one.
const DefaultDailyCap = 50

type Lead struct {
	ID           string
	Email        string
	Name         string
	List         string
	Fields       map[string]*string
	Unsubscribed bool
	CreatedAt    time.Time
}

// NormalizeEmail trims and lower-cases an address so leads stay unique per mailbox.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Campaign struct {
	ID              string
	Name            string
	Subject         string
	Body            string
	Audience        string
	SendImmediately bool
	StartsAt        time.Time
	FollowUps       []FollowUp
	CreatedAt       time.Time
}

type FollowUp struct {
	CampaignID        string
	Sequence          int
	Subject           string
	Body              string
	DaysAfterPrevious int
}

// Delay is the wait between the previous step being sent and this one becoming due.
func (f FollowUp) Delay() time.Duration {
	return time.Duration(f.DaysAfterPrevious) * 24 * time.Hour
}

type AccountKind string

const (
	AccountGmail AccountKind = "gmail"
	AccountSMTP  AccountKind = "smtp"
)

type SenderAccount struct {
	ID            string
	Address       string
	DisplayName   string
	Kind          AccountKind
	CredentialRef string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string

	DailyCap int
	Position int

	CredentialError   string
	CredentialErrorAt *time.Time
}

func (a SenderAccount) Cap() int {
	if a.DailyCap <= 0 {
		return DefaultDailyCap
	}
	return a.DailyCap
}

// Day is the UTC calendar date used to key daily counters.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
