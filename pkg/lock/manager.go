// Package lock implements the distributed Lock Manager (§5): per-key
// leases with an owner token, backed by Redis SET NX / compare-and-del,
// degrading to a one-shot-warned no-op when the backend is unreachable.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

// degradedToken is returned by Acquire when the backend is unreachable;
// Release treats it as a no-op rather than attempting a compare-and-del
// against a Redis instance that never granted it.
const degradedToken = "degraded"

// Manager acquires, releases, and extends workspace-scoped leases.
type Manager struct {
	client *redis.Client
	log    *zap.Logger

	warnOnce sync.Once
}

// NewManager wraps an existing Redis client. The manager never owns the
// client's lifecycle (it is shared with the rate limiter and job queue).
func NewManager(client *redis.Client, log *zap.Logger) *Manager {
	return &Manager{client: client, log: log}
}

// Acquire attempts to take key's lease for ttl, returning a unique owner
// token on success. A held lease (not owned by the caller) returns
// ("", false, nil). When Redis itself is unreachable, Acquire degrades
// to always-granted, logging a one-shot warning — per spec §5 this
// trades serialization guarantees for availability; callers MUST be
// idempotent on this path.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		m.warnOnce.Do(func() {
			m.log.Warn("lock backend unreachable, degrading to no-op locking", zap.Error(err))
		})
		return degradedToken, true, nil
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// releaseScript performs a compare-and-delete: only the owner that set
// the value may clear it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Release clears key's lease iff token is the current owner. A
// degraded-mode token is always a no-op (§5: "subsequent release is a
// no-op").
func (m *Manager) Release(ctx context.Context, key, token string) error {
	if token == degradedToken {
		return nil
	}
	if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return govplaneerrors.FailedToWithDetails("release lock", "lock", key, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Extend refreshes key's TTL iff token is the current owner.
func (m *Manager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if token == degradedToken {
		return true, nil
	}
	n, err := extendScript.Run(ctx, m.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, govplaneerrors.FailedToWithDetails("extend lock", "lock", key, err)
	}
	return n == 1, nil
}

// WorkspaceHydrationKey is the canonical lock key for one workspace's
// hydration run, per spec §5.
func WorkspaceHydrationKey(workspaceID string) string {
	return "lock:workspace:" + workspaceID + ":hydration"
}
