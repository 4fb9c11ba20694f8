// Package redis implements the ephemeral Lock, Idempotency, and
// Conversation Buffer stores on top of redis/go-redis/v9.
// The lock uses `SET NX PX` to acquire and a Lua compare-and-delete to
// release, so only the lease owner can drop it.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
)

// releaseScript only deletes the lock key if it is still held by the
// requesting owner, preventing a renewed-elsewhere lock from being torn
// down by a stale releaser.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends a lock's TTL only if still held by owner.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// LockStore is the per-session distributed lock, leased
// at ~10s and renewable.
type LockStore struct {
	client *redis.Client
	log    *logrus.Logger
}

// NewLockStore wraps an already-configured *redis.Client.
func NewLockStore(client *redis.Client, log *logrus.Logger) *LockStore {
	return &LockStore{client: client, log: log}
}

func lockKey(resource string) string { return "lock:" + resource }

// Acquire attempts a `SET NX PX` for resource, returning false (not an
// error) when another owner already holds the lease.
func (l *LockStore) Acquire(ctx context.Context, resource, owner string, lease time.Duration) (bool, error) {
	fields := logging.SecurityFields("lock_acquire", resource)

	ok, err := l.client.SetNX(ctx, lockKey(resource), owner, lease).Result()
	if err != nil {
		l.log.WithFields(fields.Error(err).ToLogrus()).Warn("lock acquire failed")
		return false, &sharederrors.UnavailableError{Resource: resource, Cause: err}
	}
	return ok, nil
}

// Release deletes the lock only if owner still holds it, per the Lua
// compare-and-delete guard above.
func (l *LockStore) Release(ctx context.Context, resource, owner string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{lockKey(resource)}, owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return sharederrors.FailedToWithDetails("release lock", "redis", resource, err)
	}
	return nil
}

// Renew extends the lease for resource if still held by owner, used by
// long-running turns to avoid losing the lock mid-flight before the
// overall per-request deadline elapses.
func (l *LockStore) Renew(ctx context.Context, resource, owner string, lease time.Duration) (bool, error) {
	result, err := renewScript.Run(ctx, l.client, []string{lockKey(resource)}, owner, lease.Milliseconds()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, sharederrors.FailedToWithDetails("renew lock", "redis", resource, err)
	}
	n, _ := result.(int64)
	return n == 1, nil
}

// AcquireWithRetry retries Acquire up to maxAttempts times with jittered
// backoff, returning *sharederrors.LockDeniedError once the budget is
// exhausted, per the "bounded retry (≤ 3, jittered)" rule.
func (l *LockStore) AcquireWithRetry(ctx context.Context, resource, owner string, lease time.Duration, maxAttempts int, backoff func(attempt int) time.Duration) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, err := l.Acquire(ctx, resource, owner, lease)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}
	}
	return &sharederrors.LockDeniedError{Resource: resource, Owner: owner}
}
