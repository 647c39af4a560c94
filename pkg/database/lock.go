package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
)

// DeployLocker serializes deployment attempts per (solution, module) pair.
// Installing the same module concurrently into the same ERP database is
// unsafe, so a lock is held for the whole attempt.
type DeployLocker interface {
	// Acquire takes the lock for the given solution/module pair.
	// Returns apperrors.ErrLockHeld without blocking when another attempt
	// already holds it. The returned LockHandle MUST be released with
	// defer handle.Release().
	Acquire(ctx context.Context, solutionName, moduleName string, ttl time.Duration) (LockHandle, error)
}

// LockHandle represents a held deployment lock.
type LockHandle interface {
	Release()
}

func lockKey(solutionName, moduleName string) string {
	return fmt.Sprintf("forge:deploy:%s:%s", solutionName, moduleName)
}

// ===== In-process locker =====

// keyedLocker serializes deployments within a single process. It is the
// default when Redis is not configured.
type keyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedLocker creates an in-process deployment locker.
func NewKeyedLocker() DeployLocker {
	return &keyedLocker{held: make(map[string]struct{})}
}

func (l *keyedLocker) Acquire(_ context.Context, solutionName, moduleName string, _ time.Duration) (LockHandle, error) {
	key := lockKey(solutionName, moduleName)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; taken {
		return nil, fmt.Errorf("deployment of %s/%s already in progress: %w",
			solutionName, moduleName, apperrors.ErrLockHeld)
	}
	l.held[key] = struct{}{}
	return &keyedHandle{locker: l, key: key}, nil
}

type keyedHandle struct {
	locker *keyedLocker
	key    string
	once   sync.Once
}

// Release frees the lock. Safe to call multiple times.
func (h *keyedHandle) Release() {
	h.once.Do(func() {
		h.locker.mu.Lock()
		defer h.locker.mu.Unlock()
		delete(h.locker.held, h.key)
	})
}

// ===== Redis-backed locker =====

// redisLocker serializes deployments across platform instances using
// SET NX EX. The TTL bounds how long a crashed deployer can wedge a
// (solution, module) pair.
type redisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a Redis-backed deployment locker.
func NewRedisLocker(client *redis.Client) DeployLocker {
	return &redisLocker{client: client}
}

func (l *redisLocker) Acquire(ctx context.Context, solutionName, moduleName string, ttl time.Duration) (LockHandle, error) {
	key := lockKey(solutionName, moduleName)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire deployment lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("deployment of %s/%s already in progress: %w",
			solutionName, moduleName, apperrors.ErrLockHeld)
	}

	return &redisHandle{client: l.client, key: key, token: token}, nil
}

// releaseScript deletes the lock only when the stored token matches, so a
// handle whose TTL expired cannot release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisHandle struct {
	client *redis.Client
	key    string
	token  string
	once   sync.Once
}

// Release frees the lock. Safe to call multiple times. Release is
// best-effort: an unreachable Redis leaves the key to expire via TTL.
func (h *redisHandle) Release() {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err()
	})
}
