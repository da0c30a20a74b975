package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisLockTTL  = 10 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	redisKeyPrefix       = "availability:unit-lock:"
)

const releaseScriptSource = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// releaseScript deletes KEYS[1] only while it still holds the owner token ARGV[1].
var releaseScript = redis.NewScript(releaseScriptSource)

// redisStore is the subset of Redis commands the lock needs.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) (any, error)
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

// Redis is a Locker shared by every engine instance pointing at the same
// Redis server. A lock expires after its TTL if the holder dies.
type Redis struct {
	client        redisStore
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedis constructs a Redis-backed locker.
func NewRedis(client redisStore, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	return &Redis{client: client, ttl: ttl, retryInterval: defaultRetryInterval}, nil
}

// Lock polls SETNX until the key is acquired or ctx ends.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	owner := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, redisKey, owner)
	}, nil
}

// release deletes the key only while this owner still holds it. The check
// and the delete run as one script so a lock that lapsed and was taken by
// another owner is left alone.
func (l *Redis) release(ctx context.Context, key, owner string) error {
	keys := []string{key}
	_, err := l.client.EvalSha(ctx, releaseScript.Hash(), keys, owner)
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		_, err = l.client.Eval(ctx, releaseScriptSource, keys, owner)
	}
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// RedisClient adapts *redis.Client to the commands used by Redis.
type RedisClient struct {
	raw *redis.Client
}

// DialRedis parses a redis:// URL and verifies the server responds.
func DialRedis(ctx context.Context, url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisClient{raw: raw}, nil
}

func (c *RedisClient) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.raw.SetNX(ctx, key, value, ttl).Result()
}

func (c *RedisClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) (any, error) {
	return c.raw.EvalSha(ctx, sha1, keys, args...).Result()
}

func (c *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return c.raw.Eval(ctx, script, keys, args...).Result()
}

// Close releases the underlying connection pool.
func (c *RedisClient) Close() error {
	return c.raw.Close()
}
