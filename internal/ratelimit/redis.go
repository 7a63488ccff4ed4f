package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "ratelimit:fixed:"

// stepScript is the fixed-window step done server side so that every gateway
// instance sharing the redis sees the same counter.
//
// KEYS[1] record hash
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] retention (ms)
var stepScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local retention = tonumber(ARGV[4])

local reset = redis.call('HGET', key, 'reset_at')
if reset then
	reset = tonumber(reset)
end

if (not reset) or now > reset then
	reset = now + window
	redis.call('HSET', key, 'count', 0, 'reset_at', reset, 'limit', limit)
end

local count = redis.call('HINCRBY', key, 'count', 1)
local recorded = tonumber(redis.call('HGET', key, 'limit'))
redis.call('PEXPIRE', key, (reset - now) + retention)

return {count, reset, recorded}
`)

// RedisStore keeps records as hashes {count, reset_at, limit}. Keys expire
// on their own Retention after the window closes, so Sweep has nothing to do.
type RedisStore struct {
	redis     *storage.RedisClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

type RedisStoreConfig struct {
	KeyPrefix string
	Retention time.Duration
	Now       func() time.Time
}

func NewRedisStore(r *storage.RedisClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &RedisStore{
		redis:     r,
		prefix:    cfg.KeyPrefix,
		retention: cfg.Retention,
		now:       cfg.Now,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Step(ctx context.Context, id string, now time.Time, policy Policy) (Record, error) {
	vals, err := stepScript.Run(ctx, s.redis.Client(), []string{s.key(id)},
		now.UnixMilli(),
		policy.Window.Milliseconds(),
		policy.MaxRequests,
		s.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Record{}, fmt.Errorf("rate limit step for %s: %w", id, err)
	}

	if len(vals) != 3 {
		return Record{}, fmt.Errorf("rate limit step for %s: unexpected reply %v", id, vals)
	}

	return Record{
		Count:   int(vals[0]),
		ResetAt: time.UnixMilli(vals[1]).UTC(),
		Limit:   int(vals[2]),
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, bool, error) {
	fields, err := s.redis.Client().HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Record{}, false, err
	}

	if len(fields) == 0 {
		return Record{}, false, nil
	}

	rec, err := parseRecord(fields)
	if err != nil {
		return Record{}, false, fmt.Errorf("corrupt rate limit record %s: %w", id, err)
	}

	return rec, true, nil
}

func (s *RedisStore) Set(ctx context.Context, id string, rec Record) error {
	ttl := rec.ResetAt.Sub(s.now()) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}

	key := s.key(id)
	pipe := s.redis.Client().TxPipeline()
	pipe.HSet(ctx, key,
		"count", rec.Count,
		"reset_at", rec.ResetAt.UnixMilli(),
		"limit", rec.Limit,
	)
	pipe.PExpire(ctx, key, ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.redis.Del(ctx, s.key(id))
}

func (s *RedisStore) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[string]Record, error) {
	out := make(map[string]Record)
	client := s.redis.Client()

	iter := client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		fields, err := client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			// expired between SCAN and HGETALL
			continue
		}

		rec, err := parseRecord(fields)
		if err != nil {
			continue
		}
		out[strings.TrimPrefix(key, s.prefix)] = rec
	}

	if err := iter.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}

func parseRecord(fields map[string]string) (Record, error) {
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return Record{}, fmt.Errorf("count: %w", err)
	}

	resetMs, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("reset_at: %w", err)
	}

	limit, err := strconv.Atoi(fields["limit"])
	if err != nil {
		return Record{}, fmt.Errorf("limit: %w", err)
	}

	return Record{
		Count:   count,
		ResetAt: time.UnixMilli(resetMs).UTC(),
		Limit:   limit,
	}, nil
}
