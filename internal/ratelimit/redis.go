package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// fixed window: first hit creates the key with a PEXPIRE of one period,
// the counter only grows while the key lives.
const fixedWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local period = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current >= limit then
	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, period)
		ttl = period
	end
	return {0, current, ttl}
end

current = redis.call('INCR', key)
if current == 1 then
	redis.call('PEXPIRE', key, period)
end
return {1, current, 0}
`

// Evaler is the subset of the redis client used by RedisLimiter.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisLimiter shares the fixed-window quota between processes.
type RedisLimiter struct {
	cfg    Config
	client Evaler
	prefix string
}

func NewRedisLimiter(client Evaler, cfg Config, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "vidgrab:ratelimit"
	}
	return &RedisLimiter{
		cfg:    cfg.withDefaults(),
		client: client,
		prefix: prefix,
	}
}

func (l *RedisLimiter) key(userID int64) string {
	return fmt.Sprintf("%s:user:%d", l.prefix, userID)
}

func (l *RedisLimiter) Allow(ctx context.Context, userID int64) (Decision, error) {
	res, err := l.client.Eval(ctx, fixedWindowScript, []string{l.key(userID)},
		l.cfg.MaxRequests, l.cfg.Period.Milliseconds())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected result %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	ttl, _ := vals[2].(int64)

	return Decision{
		Allowed:    allowed == 1,
		Count:      int(count),
		RetryAfter: time.Duration(ttl) * time.Millisecond,
	}, nil
}
