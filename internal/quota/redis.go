package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"outreach/internal/domain"
)

// RedisCounter keeps daily counts in Redis so several dispatchers can share quotas without
// a database round trip per reservation. Keys expire a day after the day they count.
type RedisCounter struct {
	rc     *redis.Client
	prefix string
}

func NewRedisCounter(rc *redis.Client) *RedisCounter {
	return &RedisCounter{rc: rc, prefix: "quota:"}
}

var luaIncrementIfBelow = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then return {0, current} end
current = redis.call('INCR', KEYS[1])
if current == 1 then redis.call('PEXPIREAT', KEYS[1], ARGV[2]) end
return {1, current}
`)

var luaDecrement = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then return 0 end
return redis.call('DECR', KEYS[1])
`)

func (r *RedisCounter) key(account string, day time.Time) string {
	return r.prefix + account + ":" + domain.Day(day).Format("2006-01-02")
}

func expireAt(day time.Time) time.Time {
	return domain.Day(day).Add(48 * time.Hour)
}

func (r *RedisCounter) Count(ctx context.Context, account string, day time.Time) (int, error) {
	n, err := r.rc.Get(ctx, r.key(account, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisCounter) IncrementIfBelow(ctx context.Context, account string, day time.Time, limit int) (int, bool, error) {
	res, err := luaIncrementIfBelow.Run(ctx, r.rc, []string{r.key(account, day)}, limit, expireAt(day).UnixMilli()).Result()
	if err != nil {
		return 0, false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, false, fmt.Errorf("unexpected script result %T", res)
	}
	allowed, _ := arr[0].(int64)
	current, _ := arr[1].(int64)
	return int(current), allowed == 1, nil
}

func (r *RedisCounter) Decrement(ctx context.Context, account string, day time.Time) error {
	return luaDecrement.Run(ctx, r.rc, []string{r.key(account, day)}).Err()
}

func (r *RedisCounter) Seed(ctx context.Context, accounts []string, day time.Time) error {
	ttl := time.Until(expireAt(day))
	if ttl <= 0 {
		return nil
	}
	_, err := r.rc.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, a := range accounts {
			p.SetNX(ctx, r.key(a, day), 0, ttl)
		}
		return nil
	})
	return err
}
