package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"outreach/internal/domain"
)

type GuardOptions struct {
	RPS          float64
	Burst        int
	LimiterWait  time.Duration
	CallTimeout  time.Duration
	TripAfter    uint32
	OpenDuration time.Duration
}

// Guarded wraps a Sender with one rate limiter and one circuit breaker per account.
type Guarded struct {
	Next Sender
	Opts GuardOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewGuarded(next Sender, opts GuardOptions) *Guarded {
	if opts.LimiterWait <= 0 {
		opts.LimiterWait = 2 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.TripAfter == 0 {
		opts.TripAfter = 10
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 30 * time.Second
	}
	return &Guarded{
		Next:     next,
		Opts:     opts,
		limiters: map[string]*rate.Limiter{},
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
}

func (g *Guarded) Send(ctx context.Context, account domain.SenderAccount, msg Message) (Result, error) {
	limiter, breaker := g.guards(account.Address)

	if limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, g.Opts.LimiterWait)
		err := limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return Result{}, NewError(KindUnavailable, 0, err)
		}
	}

	out, err := breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.Opts.CallTimeout)
		defer cancel()
		return g.Next.Send(callCtx, account, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, NewError(KindUnavailable, 0, err)
	}
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

func (g *Guarded) guards(address string) (*rate.Limiter, *gobreaker.CircuitBreaker) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[address]
	if !ok {
		trip := g.Opts.TripAfter
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "send:" + address,
			MaxRequests: 3,
			Timeout:     g.Opts.OpenDuration,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trip },
			// Only provider-side trouble counts against the breaker.
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				k := KindOf(err)
				return k == KindRejected || k == KindAuth
			},
		})
		g.breakers[address] = b
	}

	if g.Opts.RPS <= 0 {
		return nil, b
	}
	l, ok := g.limiters[address]
	if !ok {
		burst := g.Opts.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(g.Opts.RPS), burst)
		g.limiters[address] = l
	}
	return l, b
}
