package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket hash; ARGV rate per second, burst, idle ttl in ms.
// Returns {granted, wait_ms}. Time comes from the Redis server so every
// process paces against the same clock.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + (now - last) * rate / 1000)
end

local granted = 0
local wait = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {granted, wait}
`

var errBucketReply = errors.New("unexpected token bucket reply")

// TokenBucket is a Redis-backed bucket shared by every process using the same key.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Take removes one token from key. It returns zero when a token was granted,
// otherwise how long until the next one is due.
func (t *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int) (time.Duration, error) {
	reply, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, idleTTL(rate, burst).Milliseconds()).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("token bucket %s: %w", key, err)
	}
	if len(reply) != 2 {
		return 0, errBucketReply
	}
	if reply[0] == 1 {
		return 0, nil
	}
	return time.Duration(reply[1]) * time.Millisecond, nil
}

// idleTTL keeps a bucket around for twice its refill time after the last take.
func idleTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(2 * float64(burst) / rate)
	return time.Duration(max(seconds, 1)) * time.Second
}
