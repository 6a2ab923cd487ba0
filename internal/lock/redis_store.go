package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kneutral-org/rating-service/internal/storage"
)

const defaultRedisPrefix = "rating-lock:"

// Each record is a hash {holder, acquired_at(ms)}. PEXPIRE lets Redis drop
// dead records on its own; liveness is still decided from acquired_at.
var (
	acquireScript = redis.NewScript(`
		local cur = redis.call("HMGET", KEYS[1], "holder", "acquired_at")
		local now = tonumber(ARGV[2])
		local ttl = tonumber(ARGV[3])
		if cur[1] and cur[1] ~= ARGV[1] and now - tonumber(cur[2]) < ttl then
			return {0, cur[1], cur[2]}
		end
		redis.call("HSET", KEYS[1], "holder", ARGV[1], "acquired_at", ARGV[2])
		redis.call("PEXPIRE", KEYS[1], ttl)
		return {1, ARGV[1], ARGV[2]}
	`)

	releaseScript = redis.NewScript(`
		if redis.call("HGET", KEYS[1], "holder") == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)

	sweepScript = redis.NewScript(`
		local at = redis.call("HGET", KEYS[1], "acquired_at")
		if at and tonumber(at) <= tonumber(ARGV[1]) then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

// RedisStore keeps lock records in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets a prefix for all lock keys in Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed lock store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend implements Store.
func (s *RedisStore) Backend() string {
	return "redis"
}

// TryAcquire implements Store.TryAcquire in one Lua script.
func (s *RedisStore) TryAcquire(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) (*Record, bool, error) {
	res, err := acquireScript.Run(ctx, s.client, []string{s.prefix + key},
		holder, now.UnixMilli(), ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, false, storage.Unavailable("acquire lock", err)
	}
	if len(res) != 3 {
		return nil, false, fmt.Errorf("acquire lock: unexpected script reply %v", res)
	}

	acquired, _ := res[0].(int64)
	heldBy, _ := res[1].(string)
	at, err := parseMillis(res[2])
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock: %w", err)
	}
	return &Record{Key: key, Holder: heldBy, AcquiredAt: at}, acquired == 1, nil
}

// Put implements Store.Put.
func (s *RedisStore) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	fullKey := s.prefix + rec.Key
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, fullKey, "holder", rec.Holder, "acquired_at", rec.AcquiredAt.UnixMilli())
		pipe.PExpire(ctx, fullKey, ttl)
		return nil
	})
	return storage.Unavailable("put lock", err)
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return nil, storage.Unavailable("get lock", err)
	}
	holder, ok := fields["holder"]
	if !ok {
		return nil, nil
	}
	at, err := parseMillis(fields["acquired_at"])
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	return &Record{Key: key, Holder: holder, AcquiredAt: at}, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return storage.Unavailable("delete lock", s.client.Del(ctx, s.prefix+key).Err())
}

// DeleteIfHolder implements Store.DeleteIfHolder.
func (s *RedisStore) DeleteIfHolder(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, holder).Int64()
	if err != nil {
		return false, storage.Unavailable("delete lock", err)
	}
	return n == 1, nil
}

// DeleteExpired implements Store.DeleteExpired by scanning the key prefix.
func (s *RedisStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := sweepScript.Run(ctx, s.client, []string{iter.Val()}, cutoff.UnixMilli()).Int64()
		if err != nil {
			return removed, storage.Unavailable("sweep locks", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, storage.Unavailable("sweep locks", err)
	}
	return removed, nil
}

// Ping checks if the Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return storage.Unavailable("ping", s.client.Ping(ctx).Err())
}

func parseMillis(v interface{}) (time.Time, error) {
	var ms int64
	switch t := v.(type) {
	case int64:
		ms = t
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse acquired_at %q: %w", t, err)
		}
		ms = parsed
	default:
		return time.Time{}, fmt.Errorf("parse acquired_at: unexpected type %T", v)
	}
	return time.UnixMilli(ms), nil
}
