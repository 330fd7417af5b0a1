package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript counts one request unless the window is full. The key carries the
// count and expires with the window, so an expired key is a fresh window.
//
// Returns {allowed, count, pttl}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = tonumber(redis.call('GET', key) or '0')
local ttl = redis.call('PTTL', key)

if count == 0 or ttl < 0 then
    redis.call('SET', key, 1, 'PX', window_ms)
    if limit >= 1 then
        return {1, 1, window_ms}
    end
    return {0, 1, window_ms}
end

if count >= limit then
    return {0, count, ttl}
end

count = redis.call('INCR', key)
return {1, count, ttl}
`)

// RedisStore keeps counters in Redis so every instance shares one budget per key.
type RedisStore struct {
	client redis.Scripter
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a store over a go-redis client.
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Window, bool, error) {
	vals, err := takeScript.Run(ctx, s.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("ratelimit: redis take %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Window{}, false, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	return Window{
		Count:   int(vals[1]),
		ResetAt: s.now().Add(time.Duration(vals[2]) * time.Millisecond),
	}, vals[0] == 1, nil
}
