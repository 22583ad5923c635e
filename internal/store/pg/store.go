package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach/internal/domain"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

const queueColumns = `id, campaign_id, lead_id, lead_email, subject, body, sequence, scheduled_for,
	sent_at, COALESCE(sent_from,''), COALESCE(message_id,''), attempts, COALESCE(last_error,''),
	next_try, failed_at, claimed_until, created_at`

func scanQueueItem(row pgx.Row) (domain.QueueItem, error) {
	var q domain.QueueItem
	err := row.Scan(&q.ID, &q.CampaignID, &q.LeadID, &q.LeadEmail, &q.Subject, &q.Body, &q.Sequence, &q.ScheduledFor,
		&q.SentAt, &q.SentFrom, &q.MessageID, &q.Attempts, &q.LastError,
		&q.NextTry, &q.FailedAt, &q.ClaimedUntil, &q.CreatedAt)
	return q, err
}

// ClaimDue leases up to limit due items to the caller. Concurrent dispatchers never get
// the same item while its lease is live.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.QueueItem, error) {
	rows, err := s.DB.Query(ctx, `
		UPDATE queue_items SET claimed_until = $3
		WHERE id IN (
			SELECT qi.id FROM queue_items qi
			JOIN leads l ON l.id = qi.lead_id
			WHERE qi.sent_at IS NULL AND qi.failed_at IS NULL
			  AND qi.scheduled_for <= $1
			  AND (qi.next_try IS NULL OR qi.next_try <= $1)
			  AND (qi.claimed_until IS NULL OR qi.claimed_until <= $1)
			  AND NOT l.unsubscribed
			ORDER BY qi.scheduled_for, qi.id
			LIMIT $2
			FOR UPDATE OF qi SKIP LOCKED
		)
		RETURNING `+queueColumns, now, limit, now.Add(lease))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING has no order
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ReleaseClaims(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE queue_items SET claimed_until = NULL
		WHERE id = ANY($1) AND sent_at IS NULL AND failed_at IS NULL
	`, ids)
	return err
}

// SaveOutcome writes the lifecycle fields of q. An item already sent or failed is never
// overwritten.
func (s *Store) SaveOutcome(ctx context.Context, q domain.QueueItem) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE queue_items
		SET subject=$2, body=$3, sent_at=$4, sent_from=$5, message_id=$6, attempts=$7,
		    last_error=$8, next_try=$9, failed_at=$10, claimed_until=NULL
		WHERE id=$1 AND sent_at IS NULL AND failed_at IS NULL
	`, q.ID, q.Subject, q.Body, q.SentAt, nullIfEmpty(q.SentFrom), nullIfEmpty(q.MessageID), q.Attempts,
		nullIfEmpty(q.LastError), q.NextTry, q.FailedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	cur, err := s.GetQueueItem(ctx, q.ID)
	if err != nil {
		return err
	}
	if cur.Status() == domain.StatusSent {
		return domain.ErrAlreadySent
	}
	return domain.ErrAlreadyFailed
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (domain.QueueItem, error) {
	q, err := scanQueueItem(s.DB.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QueueItem{}, fmt.Errorf("queue item %s: %w", id, domain.ErrNotFound)
	}
	return q, err
}

const insertQueueItem = `
	INSERT INTO queue_items (id, campaign_id, lead_id, lead_email, subject, body, sequence, scheduled_for, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (campaign_id, lead_id, sequence) DO NOTHING
`

func queueArgs(q domain.QueueItem) []any {
	created := q.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return []any{q.ID, q.CampaignID, q.LeadID, q.LeadEmail, q.Subject, q.Body, q.Sequence, q.ScheduledFor, created}
}

func (s *Store) InsertQueueItem(ctx context.Context, q domain.QueueItem) (bool, error) {
	ct, err := s.DB.Exec(ctx, insertQueueItem, queueArgs(q)...)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// InsertQueueItems inserts a chunk of items in one round trip and returns how many were new.
func (s *Store) InsertQueueItems(ctx context.Context, items []domain.QueueItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, q := range items {
		b.Queue(insertQueueItem, queueArgs(q)...)
	}
	br := tx.SendBatch(ctx, b)
	inserted := 0
	for range items {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, err
		}
		inserted += int(ct.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) CreateLead(ctx context.Context, l domain.Lead) error {
	fields, err := json.Marshal(nonNilFields(l.Fields))
	if err != nil {
		return fmt.Errorf("encode lead %s fields: %w", l.ID, err)
	}
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO leads (id, email, name, list, fields, unsubscribed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, l.ID, l.Email, l.Name, l.List, fields, l.Unsubscribed, created)
	if isUniqueViolation(err) {
		return fmt.Errorf("lead %s: %w", l.Email, domain.ErrConflict)
	}
	return err
}

const leadColumns = `id, email, name, list, fields, unsubscribed, created_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	var fields []byte
	if err := row.Scan(&l.ID, &l.Email, &l.Name, &l.List, &fields, &l.Unsubscribed, &l.CreatedAt); err != nil {
		return domain.Lead{}, err
	}
	f, err := decodeFields(fields)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("decode lead %s fields: %w", l.ID, err)
	}
	l.Fields = f
	return l, nil
}

// decodeFields reads the jsonb fields column. NULL decodes to nil.
func decodeFields(raw []byte) (map[string]*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var f map[string]*string
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	l, err := scanLead(s.DB.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	return l, err
}

func (s *Store) Unsubscribe(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `UPDATE leads SET unsubscribed = true WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListAudience pages through subscribed leads of a list in id order. An empty audience
// means every list.
func (s *Store) ListAudience(ctx context.Context, audience, afterID string, limit int) ([]domain.Lead, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE NOT unsubscribed AND ($1 = '' OR list = $1) AND id > $2
		ORDER BY id
		LIMIT $3
	`, audience, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CreateCampaign(ctx context.Context, c domain.Campaign) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO campaigns (id, name, subject, body, audience, send_immediately, starts_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.Name, c.Subject, c.Body, c.Audience, c.SendImmediately, c.StartsAt, created)
	if isUniqueViolation(err) {
		return fmt.Errorf("campaign %s: %w", c.ID, domain.ErrConflict)
	}
	if err != nil {
		return err
	}
	for _, f := range c.FollowUps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO campaign_followups (campaign_id, sequence, subject, body, days_after_previous)
			VALUES ($1,$2,$3,$4,$5)
		`, c.ID, f.Sequence, f.Subject, f.Body, f.DaysAfterPrevious); err != nil {
			return fmt.Errorf("insert follow-up %d: %w", f.Sequence, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	var c domain.Campaign
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, subject, body, audience, send_immediately, starts_at, created_at
		FROM campaigns WHERE id=$1
	`, id).Scan(&c.ID, &c.Name, &c.Subject, &c.Body, &c.Audience, &c.SendImmediately, &c.StartsAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Campaign{}, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT campaign_id, sequence, subject, body, days_after_previous
		FROM campaign_followups WHERE campaign_id=$1 ORDER BY sequence
	`, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var f domain.FollowUp
		if err := rows.Scan(&f.CampaignID, &f.Sequence, &f.Subject, &f.Body, &f.DaysAfterPrevious); err != nil {
			return domain.Campaign{}, err
		}
		c.FollowUps = append(c.FollowUps, f)
	}
	return c, rows.Err()
}

func (s *Store) GetFollowUp(ctx context.Context, campaignID string, sequence int) (domain.FollowUp, error) {
	var f domain.FollowUp
	err := s.DB.QueryRow(ctx, `
		SELECT campaign_id, sequence, subject, body, days_after_previous
		FROM campaign_followups WHERE campaign_id=$1 AND sequence=$2
	`, campaignID, sequence).Scan(&f.CampaignID, &f.Sequence, &f.Subject, &f.Body, &f.DaysAfterPrevious)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FollowUp{}, fmt.Errorf("follow-up %s/%d: %w", campaignID, sequence, domain.ErrNotFound)
	}
	return f, err
}

func (s *Store) UpsertSenderAccount(ctx context.Context, a domain.SenderAccount) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO sender_accounts (id, address, display_name, kind, credential_ref, smtp_host, smtp_port, smtp_username, daily_cap, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (address) DO UPDATE SET
			display_name=EXCLUDED.display_name, kind=EXCLUDED.kind, credential_ref=EXCLUDED.credential_ref,
			smtp_host=EXCLUDED.smtp_host, smtp_port=EXCLUDED.smtp_port, smtp_username=EXCLUDED.smtp_username,
			daily_cap=EXCLUDED.daily_cap, position=EXCLUDED.position,
			credential_error=NULL, credential_error_at=NULL
	`, a.ID, a.Address, a.DisplayName, string(a.Kind), a.CredentialRef, nullIfEmpty(a.SMTPHost), nullIfZero(a.SMTPPort),
		nullIfEmpty(a.SMTPUsername), a.Cap(), a.Position)
	return err
}

func (s *Store) ListSenderAccounts(ctx context.Context) ([]domain.SenderAccount, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, address, display_name, kind, credential_ref, COALESCE(smtp_host,''), COALESCE(smtp_port,0),
		       COALESCE(smtp_username,''), daily_cap, position, COALESCE(credential_error,''), credential_error_at
		FROM sender_accounts ORDER BY position, address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SenderAccount
	for rows.Next() {
		var a domain.SenderAccount
		var kind string
		if err := rows.Scan(&a.ID, &a.Address, &a.DisplayName, &kind, &a.CredentialRef, &a.SMTPHost, &a.SMTPPort,
			&a.SMTPUsername, &a.DailyCap, &a.Position, &a.CredentialError, &a.CredentialErrorAt); err != nil {
			return nil, err
		}
		a.Kind = domain.AccountKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) MarkAccountCredentialError(ctx context.Context, address, reason string, at time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE sender_accounts SET credential_error=$2, credential_error_at=$3 WHERE address=$1
	`, address, reason, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", address, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ClearCredentialError(ctx context.Context, address string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE sender_accounts SET credential_error=NULL, credential_error_at=NULL WHERE address=$1
	`, address)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", address, domain.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nonNilFields(m map[string]*string) map[string]*string {
	if m == nil {
		return map[string]*string{}
	}
	return m
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
