package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taskmanager:ratelimit:"

// tokenBucketLua refills the bucket stored at KEYS[1] and tries to take one token.
// Returns {allowed, retry_after_ms, remaining_tokens}.
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + (delta * rate) / 1000.0)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed, retry_ms, tostring(tokens)}
`

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  float64
}

// Limiter is a Redis-backed token bucket keyed per caller (e.g. client IP).
// A nil Limiter, or one with a non-positive rate or burst, allows everything.
type Limiter struct {
	rdb    *redis.Client
	scope  string
	rate   float64
	burst  float64
	now    func() time.Time
	script *redis.Script
}

// NewLimiter creates a limiter for scope refilling rate tokens/s up to burst.
func NewLimiter(rdb *redis.Client, scope string, rate float64, burst float64) *Limiter {
	if scope == "" {
		scope = "default"
	}
	return &Limiter{
		rdb:    rdb,
		scope:  scope,
		rate:   rate,
		burst:  burst,
		now:    time.Now,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Scope returns the limiter's scope label.
func (l *Limiter) Scope() string {
	if l == nil {
		return ""
	}
	return l.scope
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rdb != nil && l.rate > 0 && l.burst > 0
}

// Allow takes one token from the bucket for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	res, err := l.script.Run(ctx, l.rdb, []string{l.bucketKey(key)}, l.rate, l.burst, l.now().UnixMilli()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 3 {
		return Decision{}, fmt.Errorf("ratelimit invalid result")
	}
	remaining, _ := strconv.ParseFloat(fmt.Sprint(values[2]), 64)
	return Decision{
		Allowed:    toInt64(values[0]) == 1,
		RetryAfter: time.Duration(toInt64(values[1])) * time.Millisecond,
		Remaining:  remaining,
	}, nil
}

func (l *Limiter) bucketKey(key string) string {
	return keyPrefix + l.scope + ":" + key
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
