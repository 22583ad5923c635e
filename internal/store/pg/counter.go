package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach/internal/domain"
)

// Counter keeps daily send counts in the daily_counters table.
type Counter struct {
	DB *pgxpool.Pool
}

func NewCounter(db *pgxpool.Pool) *Counter { return &Counter{DB: db} }

func (c *Counter) Count(ctx context.Context, account string, day time.Time) (int, error) {
	var n int
	err := c.DB.QueryRow(ctx, `
		SELECT count FROM daily_counters WHERE account=$1 AND day=$2
	`, account, domain.Day(day)).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// IncrementIfBelow is a single conditional upsert, so concurrent dispatchers can never
// push a row past limit.
func (c *Counter) IncrementIfBelow(ctx context.Context, account string, day time.Time, limit int) (int, bool, error) {
	if limit <= 0 {
		n, err := c.Count(ctx, account, day)
		return n, false, err
	}
	d := domain.Day(day)
	var n int
	err := c.DB.QueryRow(ctx, `
		INSERT INTO daily_counters (account, day, count, updated_at)
		VALUES ($1,$2,1,now())
		ON CONFLICT (account, day)
		DO UPDATE SET count = daily_counters.count + 1, updated_at=now()
		WHERE daily_counters.count < $3
		RETURNING count
	`, account, d, limit).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		n, err = c.Count(ctx, account, d)
		return n, false, err
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *Counter) Decrement(ctx context.Context, account string, day time.Time) error {
	_, err := c.DB.Exec(ctx, `
		UPDATE daily_counters SET count = count - 1, updated_at=now()
		WHERE account=$1 AND day=$2 AND count > 0
	`, account, domain.Day(day))
	return err
}

func (c *Counter) Seed(ctx context.Context, accounts []string, day time.Time) error {
	if len(accounts) == 0 {
		return nil
	}
	_, err := c.DB.Exec(ctx, `
		INSERT INTO daily_counters (account, day, count)
		SELECT a, $2::date, 0 FROM unnest($1::text[]) AS a
		ON CONFLICT (account, day) DO NOTHING
	`, accounts, domain.Day(day))
	return err
}
