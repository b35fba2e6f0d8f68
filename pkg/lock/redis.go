package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

// ErrNotAcquired is returned when the lock stays held by someone else for the
// whole wait window.
var ErrNotAcquired = errors.New("lock not acquired")

var errLockHeld = errors.New("lock held")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// NewRedisClient returns a configured Redis client.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// RedisLocker is a single-key compare-and-swap mutex on top of SET NX PX.
// The holder token makes release a compare-and-delete, so an expired holder
// can never drop a lock that was re-acquired by another process.
type RedisLocker struct {
	client     redisClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

// NewRedisLocker builds a locker whose keys expire after ttl.
func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{client: client, prefix: "lock:session:", ttl: ttl, retryDelay: 25 * time.Millisecond}
}

// Lock blocks until the key is held, the context ends, or one TTL elapses.
// Waiting out the TTL yields ErrNotAcquired; an ended context yields its own
// error so callers can tell contention from cancellation.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errLockHeld
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(l.retryDelay)),
		backoff.WithMaxElapsedTime(l.ttl),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctxErr)
		}
		if errors.Is(err, errLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return func(releaseCtx context.Context) error {
		if err := l.client.Eval(releaseCtx, releaseScript, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
