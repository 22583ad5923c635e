package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"outreach/internal/credentials"
	"outreach/internal/domain"
	"outreach/internal/transport"
)

func TestNextDelayLinear(t *testing.T) {
	p := Default()
	assert.Equal(t, time.Hour, p.NextDelay(1))
	assert.Equal(t, 3*time.Hour, p.NextDelay(3))
	assert.Equal(t, 24*time.Hour, p.NextDelay(24))
	assert.Equal(t, 24*time.Hour, p.NextDelay(1000))
	assert.Equal(t, time.Hour, p.NextDelay(0))
}

func TestNextDelayExponential(t *testing.T) {
	p := Policy{Base: time.Minute, Max: time.Hour, Exponential: true}
	assert.Equal(t, time.Minute, p.NextDelay(1))
	assert.Equal(t, 2*time.Minute, p.NextDelay(2))
	assert.Equal(t, 32*time.Minute, p.NextDelay(6))
	assert.Equal(t, time.Hour, p.NextDelay(7))
	assert.Equal(t, time.Hour, p.NextDelay(500))
}

func TestNextDelayNonDecreasingAndCapped(t *testing.T) {
	for _, p := range []Policy{Default(), {Base: 7 * time.Minute, Max: 5 * time.Hour, Exponential: true}} {
		prev := time.Duration(0)
		for n := 1; n <= 200; n++ {
			d := p.NextDelay(n)
			assert.GreaterOrEqual(t, d, prev, "attempts=%d", n)
			assert.LessOrEqual(t, d, p.Max, "attempts=%d", n)
			prev = d
		}
	}
}

func TestExhausted(t *testing.T) {
	p := Default()
	assert.False(t, p.Exhausted(9))
	assert.True(t, p.Exhausted(10))
	assert.False(t, Policy{}.Exhausted(1_000))
}

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{transport.NewError(transport.KindTransient, 503, errors.New("x")), false},
		{transport.NewError(transport.KindRateLimited, 429, errors.New("x")), false},
		{transport.NewError(transport.KindUnavailable, 0, errors.New("x")), false},
		{transport.NewError(transport.KindRejected, 400, errors.New("x")), true},
		{transport.NewError(transport.KindAuth, 401, errors.New("x")), true},
		{fmt.Errorf("%w: revoked", credentials.ErrCredential), true},
		{fmt.Errorf("campaign c1: %w", domain.ErrNotFound), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsTerminal(tc.err), "err=%v", tc.err)
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, "rate_limited: slow down", Reason(transport.NewError(transport.KindRateLimited, 429, errors.New("slow down"))))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
}
