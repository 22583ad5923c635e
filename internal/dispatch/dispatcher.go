package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"outreach/internal/credentials"
	"outreach/internal/domain"
	"outreach/internal/events"
	"outreach/internal/observability"
	"outreach/internal/quota"
	"outreach/internal/render"
	"outreach/internal/retry"
	"outreach/internal/transport"
)

type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.QueueItem, error)
	ReleaseClaims(ctx context.Context, ids []string) error
	SaveOutcome(ctx context.Context, q domain.QueueItem) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	GetFollowUp(ctx context.Context, campaignID string, sequence int) (domain.FollowUp, error)
	GetLead(ctx context.Context, id string) (domain.Lead, error)
	ListSenderAccounts(ctx context.Context) ([]domain.SenderAccount, error)
	MarkAccountCredentialError(ctx context.Context, address, reason string, at time.Time) error
}

type FollowUps interface {
	ScheduleNext(ctx context.Context, campaignID, leadID string, completedSequence int) (domain.QueueItem, bool, error)
}

// CredentialCache drops cached credentials of an account that was refused.
type CredentialCache interface {
	Invalidate(account domain.SenderAccount)
}

type Config struct {
	BatchSize int
	Workers   int
	Interval  time.Duration
	ClaimTTL  time.Duration
	// first pause between attempts to record a sent item; doubles each time
	SaveBackoff time.Duration
}

const saveAttempts = 4

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Workers > c.BatchSize {
		c.Workers = c.BatchSize
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	if c.SaveBackoff <= 0 {
		c.SaveBackoff = 100 * time.Millisecond
	}
	return c
}

// Stats summarizes one batch.
type Stats struct {
	Claimed  int
	Sent     int
	Retried  int
	Failed   int
	Released int
	// NoAccount is set when the batch stopped early because every account was at its cap
	// or unusable.
	NoAccount bool
}

type Dispatcher struct {
	Store       Store
	Selector    *quota.Selector
	Sender      transport.Sender
	FollowUps   FollowUps
	Renderer    render.Renderer
	Retry       retry.Policy
	Events      events.Publisher
	Credentials CredentialCache
	Config      Config
	Now         func() time.Time

	batchMu  sync.Mutex
	seededOn time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Run dispatches a batch every Config.Interval until ctx is cancelled. A failing or
// panicking batch is logged and the loop keeps going. On cancellation the items already
// being sent finish, unstarted claims are released, and Run returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	cfg := d.Config.withDefaults()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	slog.Info("dispatcher started", "interval", cfg.Interval.String(), "batch_size", cfg.BatchSize, "workers", cfg.Workers)
	for {
		d.safeBatch(ctx)
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	return d.RunBatch(ctx)
}

func (d *Dispatcher) safeBatch(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.Batches.WithLabelValues("panic").Inc()
			slog.Error("dispatch batch panicked", "panic", fmt.Sprint(r))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	st, err := d.RunBatch(ctx)
	if err != nil {
		slog.Error("dispatch batch failed", "err", err)
		return
	}
	if st.Claimed > 0 {
		slog.Info("dispatch batch done", "claimed", st.Claimed, "sent", st.Sent, "retried", st.Retried,
			"failed", st.Failed, "released", st.Released, "no_account", st.NoAccount)
	}
}

// RunBatch claims due items and sends them. Store failures abort the batch without
// penalizing any item; per-item failures never abort it.
func (d *Dispatcher) RunBatch(ctx context.Context) (Stats, error) {
	d.batchMu.Lock()
	defer d.batchMu.Unlock()
	cfg := d.Config.withDefaults()

	accounts, err := d.Store.ListSenderAccounts(ctx)
	if err != nil {
		observability.Batches.WithLabelValues("store_error").Inc()
		return Stats{}, fmt.Errorf("list sender accounts: %w", err)
	}
	d.syncAccounts(ctx, accounts)

	items, err := d.Store.ClaimDue(ctx, d.now(), cfg.BatchSize, cfg.ClaimTTL)
	if err != nil {
		observability.Batches.WithLabelValues("store_error").Inc()
		return Stats{}, fmt.Errorf("claim due items: %w", err)
	}
	st := Stats{Claimed: len(items)}
	if len(items) == 0 {
		observability.Batches.WithLabelValues("empty").Inc()
		return st, nil
	}

	var (
		mu      sync.Mutex
		release []string
		stop    bool
	)
	record := func(q domain.QueueItem, o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSent:
			st.Sent++
		case outcomeRetry:
			st.Retried++
		case outcomeFailed:
			st.Failed++
		case outcomeNoAccount:
			stop = true
			st.NoAccount = true
			release = append(release, q.ID)
		case outcomeReleased:
			release = append(release, q.ID)
		}
	}
	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stop
	}

	// Items run detached from ctx so a shutdown lets in-flight sends finish and record.
	work := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for i, q := range items {
		if ctx.Err() != nil || stopped() {
			mu.Lock()
			for _, rest := range items[i:] {
				release = append(release, rest.ID)
			}
			mu.Unlock()
			break
		}
		q := q
		g.Go(func() error {
			if stopped() {
				record(q, outcomeReleased)
				return nil
			}
			record(q, d.safeProcess(work, q, accounts))
			return nil
		})
	}
	_ = g.Wait()

	if len(release) > 0 {
		st.Released = len(release)
		observability.Items.WithLabelValues("released").Add(float64(len(release)))
		if err := d.Store.ReleaseClaims(work, release); err != nil {
			// leases expire on their own
			slog.Warn("release claims failed", "count", len(release), "err", err)
		}
	}
	observability.Batches.WithLabelValues("ok").Inc()
	return st, nil
}

// syncAccounts lets the store decide which accounts are usable at the start of a batch
// and seeds today's counters once per UTC day.
func (d *Dispatcher) syncAccounts(ctx context.Context, accounts []domain.SenderAccount) {
	for _, a := range accounts {
		if a.CredentialError == "" {
			d.Selector.Enable(a.Address)
		}
	}
	today := d.Selector.Tracker.Today()
	if d.seededOn.Equal(today) {
		return
	}
	if err := d.Selector.Tracker.Seed(ctx, accounts); err != nil {
		slog.Warn("seed daily counters failed", "err", err)
		return
	}
	d.seededOn = today
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetry
	outcomeFailed
	outcomeReleased
	outcomeNoAccount
)

func (d *Dispatcher) safeProcess(ctx context.Context, q domain.QueueItem, accounts []domain.SenderAccount) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("queue item panicked", "queue_item_id", q.ID, "panic", fmt.Sprint(r))
			o = outcomeReleased
		}
	}()
	return d.process(ctx, q, accounts)
}

func (d *Dispatcher) process(ctx context.Context, q domain.QueueItem, accounts []domain.SenderAccount) outcome {
	log := slog.With("queue_item_id", q.ID, "campaign_id", q.CampaignID, "sequence", q.Sequence)

	if !q.Rendered() {
		rendered, err := d.render(ctx, q)
		if errors.Is(err, domain.ErrNotFound) {
			return d.fail(ctx, q, err.Error(), false)
		}
		if err != nil {
			log.Warn("render lookup failed", "err", err)
			return outcomeReleased
		}
		q = rendered
	}
	msg := transport.Message{To: q.LeadEmail, Subject: q.Subject, HTML: q.Body}

	// accounts whose credentials were already refreshed once for this item
	refreshed := map[string]bool{}
	var again *domain.SenderAccount
	for {
		res, ok, err := d.pick(ctx, accounts, again)
		again = nil
		if err != nil {
			log.Warn("account selection failed", "err", err)
			return outcomeReleased
		}
		if !ok {
			return outcomeNoAccount
		}
		acct := res.Account

		start := time.Now()
		result, err := d.Sender.Send(ctx, acct, msg)
		observability.SendLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			observability.Sends.WithLabelValues(string(acct.Kind), "ok").Inc()
			return d.succeed(ctx, q, acct, result.MessageID)
		}

		kind := transport.KindOf(err)
		if errors.Is(err, credentials.ErrCredential) {
			kind = "credential"
		}
		observability.Sends.WithLabelValues(string(acct.Kind), string(kind)).Inc()
		if rerr := d.Selector.Tracker.Release(ctx, res); rerr != nil {
			log.Warn("release reservation failed", "account", acct.Address, "err", rerr)
		}

		switch {
		case kind == transport.KindAuth && d.Credentials != nil && !refreshed[acct.Address]:
			// A 401 can be a stale access token; refresh and retry the same account once.
			refreshed[acct.Address] = true
			d.Credentials.Invalidate(acct)
			log.Info("send refused, retrying with fresh credentials", "account", acct.Address)
			again = &acct
			continue
		case errors.Is(err, credentials.ErrCredential), kind == transport.KindAuth:
			d.disable(ctx, acct, retry.Reason(err))
			continue
		case kind == transport.KindUnavailable:
			log.Info("send skipped, account guard closed", "account", acct.Address, "err", err)
			return outcomeReleased
		case retry.IsTerminal(err):
			return d.fail(ctx, q, retry.Reason(err), true)
		}
		return d.retry(ctx, q, err)
	}
}

// pick reserves a send on prefer when set and it still has capacity, otherwise on
// whatever the selector chooses.
func (d *Dispatcher) pick(ctx context.Context, accounts []domain.SenderAccount, prefer *domain.SenderAccount) (quota.Reservation, bool, error) {
	if prefer != nil {
		if _, disabled := d.Selector.Disabled(prefer.Address); !disabled {
			res, ok, err := d.Selector.Tracker.Reserve(ctx, *prefer)
			if err == nil && ok {
				return res, true, nil
			}
		}
	}
	return d.Selector.Select(ctx, accounts)
}

func (d *Dispatcher) render(ctx context.Context, q domain.QueueItem) (domain.QueueItem, error) {
	lead, err := d.Store.GetLead(ctx, q.LeadID)
	if err != nil {
		return q, err
	}
	subject, body := "", ""
	if q.Sequence == 0 {
		c, err := d.Store.GetCampaign(ctx, q.CampaignID)
		if err != nil {
			return q, err
		}
		subject, body = c.Subject, c.Body
	} else {
		f, err := d.Store.GetFollowUp(ctx, q.CampaignID, q.Sequence)
		if err != nil {
			return q, err
		}
		subject, body = f.Subject, f.Body
	}
	fields := render.LeadFields(lead)
	q.Subject = d.Renderer.RenderSubject(subject, fields)
	q.Body = d.Renderer.Render(body, fields)
	if q.LeadEmail == "" {
		q.LeadEmail = lead.Email
	}
	return q, nil
}

func (d *Dispatcher) succeed(ctx context.Context, q domain.QueueItem, acct domain.SenderAccount, messageID string) outcome {
	now := d.now()
	sent, err := domain.MarkSent(q, now, acct.Address, messageID)
	if err == nil {
		err = d.saveSent(ctx, sent)
	}
	if err != nil {
		// The message went out, so the reservation stays counted either way.
		slog.Error("record sent item failed", "queue_item_id", q.ID, "account", acct.Address,
			"message_id", messageID, "err", err)
		observability.Items.WithLabelValues("unrecorded").Inc()
		return outcomeSent
	}
	observability.Items.WithLabelValues("sent").Inc()
	d.publish(ctx, events.ForItem(events.QueueItemSent, sent, now))

	next, ok, err := d.FollowUps.ScheduleNext(ctx, q.CampaignID, q.LeadID, q.Sequence)
	if err != nil {
		slog.Error("schedule follow-up failed", "queue_item_id", q.ID, "err", err)
		return outcomeSent
	}
	if ok {
		observability.Enqueues.WithLabelValues("followup").Inc()
		d.publish(ctx, events.ForItem(events.FollowUpScheduled, next, now))
	}
	return outcomeSent
}

// saveSent records a sent item, retrying transient store errors with a short backoff.
// Once every attempt fails the claim lease lapses and the item can be claimed again.
func (d *Dispatcher) saveSent(ctx context.Context, sent domain.QueueItem) error {
	delay := d.Config.withDefaults().SaveBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = d.Store.SaveOutcome(ctx, sent)
		if err == nil || errors.Is(err, domain.ErrAlreadySent) || errors.Is(err, domain.ErrAlreadyFailed) {
			return err
		}
		if attempt == saveAttempts {
			return err
		}
		slog.Warn("record sent item failed, retrying", "queue_item_id", sent.ID, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (d *Dispatcher) retry(ctx context.Context, q domain.QueueItem, cause error) outcome {
	now := d.now()
	reason := retry.Reason(cause)
	if d.Retry.Exhausted(q.Attempts + 1) {
		return d.fail(ctx, q, "retry_exhausted: "+reason, true)
	}
	next, err := domain.MarkRetry(q, reason, now.Add(d.Retry.NextDelay(q.Attempts+1)))
	if err == nil {
		err = d.Store.SaveOutcome(ctx, next)
	}
	if err != nil {
		slog.Error("record retry failed", "queue_item_id", q.ID, "err", err)
		return outcomeReleased
	}
	slog.Warn("send failed, will retry", "queue_item_id", q.ID, "attempts", next.Attempts, "next_try", next.NextTry, "err", cause)
	observability.Items.WithLabelValues("retry").Inc()
	d.publish(ctx, events.ForItem(events.QueueItemRetry, next, now))
	return outcomeRetry
}

func (d *Dispatcher) fail(ctx context.Context, q domain.QueueItem, reason string, countAttempt bool) outcome {
	now := d.now()
	failed, err := domain.MarkFailed(q, reason, now, countAttempt)
	if err == nil {
		err = d.Store.SaveOutcome(ctx, failed)
	}
	if err != nil {
		slog.Error("record failed item failed", "queue_item_id", q.ID, "err", err)
		return outcomeReleased
	}
	slog.Warn("queue item failed", "queue_item_id", q.ID, "reason", reason)
	observability.Items.WithLabelValues("failed").Inc()
	d.publish(ctx, events.ForItem(events.QueueItemFailed, failed, now))
	return outcomeFailed
}

func (d *Dispatcher) disable(ctx context.Context, acct domain.SenderAccount, reason string) {
	d.Selector.Disable(acct.Address, reason)
	observability.AccountsDisabled.WithLabelValues(acct.Address).Inc()
	if d.Credentials != nil {
		d.Credentials.Invalidate(acct)
	}
	now := d.now()
	if err := d.Store.MarkAccountCredentialError(ctx, acct.Address, reason, now); err != nil {
		slog.Error("persist credential error failed", "account", acct.Address, "err", err)
	}
	d.publish(ctx, events.ForAccount(events.AccountCredentials, acct.Address, reason, now))
}

func (d *Dispatcher) publish(ctx context.Context, e events.Event) {
	if d.Events == nil {
		return
	}
	if err := d.Events.Publish(ctx, e); err != nil {
		observability.EventsPublished.WithLabelValues("error").Inc()
		slog.Warn("publish event failed", "type", e.Type, "queue_item_id", e.QueueItemID, "err", err)
		return
	}
	observability.EventsPublished.WithLabelValues("ok").Inc()
}
