package transport

import (
	"context"
	"fmt"

	"outreach/internal/domain"
)

var _ Sender = (*Router)(nil)

// Router sends through the implementation registered for the account kind.
type Router struct {
	senders map[domain.AccountKind]Sender
}

func NewRouter(senders map[domain.AccountKind]Sender) *Router {
	return &Router{senders: senders}
}

func (r *Router) Send(ctx context.Context, account domain.SenderAccount, msg Message) (Result, error) {
	s, ok := r.senders[account.Kind]
	if !ok || s == nil {
		return Result{}, NewError(KindAuth, 0, fmt.Errorf("no transport for account kind %q", account.Kind))
	}
	return s.Send(ctx, account, msg)
}
