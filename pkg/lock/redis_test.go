package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	client := &fakeRedis{values: map[string]string{}}
	locker := NewRedisLocker(client, time.Second)

	unlock, err := locker.Lock(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Contains(t, client.values, "lock:session:session-1")

	require.NoError(t, unlock(context.Background()))
	assert.Empty(t, client.values)
}

func TestRedisLockerTimesOutWhileHeld(t *testing.T) {
	client := &fakeRedis{values: map[string]string{"lock:session:session-1": "other"}}
	locker := NewRedisLocker(client, 60*time.Millisecond)

	_, err := locker.Lock(context.Background(), "session-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.Equal(t, "other", client.values["lock:session:session-1"])
}

func TestRedisLockerReleaseKeepsForeignHolder(t *testing.T) {
	client := &fakeRedis{values: map[string]string{}}
	locker := NewRedisLocker(client, time.Second)

	unlock, err := locker.Lock(context.Background(), "session-1")
	require.NoError(t, err)
	client.values["lock:session:session-1"] = "someone-else"

	require.NoError(t, unlock(context.Background()))
	assert.Equal(t, "someone-else", client.values["lock:session:session-1"])
}

func TestRedisLockerPropagatesClientError(t *testing.T) {
	client := &fakeRedis{values: map[string]string{}, setErr: errors.New("connection refused")}
	locker := NewRedisLocker(client, time.Second)

	_, err := locker.Lock(context.Background(), "session-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotAcquired))
}

func TestRedisLockerContextEndsWhileWaiting(t *testing.T) {
	client := &fakeRedis{values: map[string]string{"lock:session:session-1": "other"}}
	locker := NewRedisLocker(client, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, err := locker.Lock(ctx, "session-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrNotAcquired))
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	client := &fakeRedis{values: map[string]string{}}
	locker := NewRedisLocker(client, time.Second)

	unlock, err := locker.Lock(context.Background(), "session-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = unlock(context.Background())
	}()

	second, err := locker.Lock(context.Background(), "session-1")
	require.NoError(t, err)
	require.NoError(t, second(context.Background()))
}
