// Package distlock guards a campaign's dispatch loop so that only one process
// runs it at a time.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing or extending a lock this holder no
// longer owns.
var ErrNotHeld = errors.New("lock not held")

// Lock is a single-holder lock on one key. An instance must not be shared
// between goroutines; call the Factory again for each holder.
type Lock interface {
	// Acquire tries once without blocking. Returns true if this holder now
	// owns the lock.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if still owned.
	Release(ctx context.Context) error
	// Extend pushes the expiry out by ttl for long loops.
	Extend(ctx context.Context, ttl time.Duration) error
}

// Factory builds a lock for a key.
type Factory func(key string) Lock

// DispatchKey is the lock key for a campaign's send loop.
func DispatchKey(campaignID string) string {
	return "campaign-dispatch:" + campaignID
}

// NewFactory picks the best available backend. Redis is preferred because its
// TTL frees the lock if the holder dies; without Redis, PostgreSQL advisory
// locks are used. With neither, locks are process-local.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return func(key string) Lock { return NewRedisLock(redisClient, key, ttl) }
	case db != nil:
		return func(key string) Lock { return NewPGAdvisoryLock(db, key) }
	default:
		local := newLocalLocks()
		return func(key string) Lock { return local.lock(key) }
	}
}

// PGAdvisoryLock implements Lock with pg_try_advisory_lock. Advisory locks are
// session scoped, so the holder pins one pooled connection from Acquire until
// Release. A dropped connection frees the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable 64-bit lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d: already acquired by this holder", l.lockID)
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	var released bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}

// Extend is a no-op: advisory locks live as long as the session.
func (l *PGAdvisoryLock) Extend(context.Context, time.Duration) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	return nil
}

type localLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLocalLocks() *localLocks {
	return &localLocks{held: make(map[string]bool)}
}

func (ll *localLocks) lock(key string) Lock {
	return &localLock{locks: ll, key: key}
}

type localLock struct {
	locks *localLocks
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()
	if l.locks.held[l.key] {
		return false, nil
	}
	l.locks.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()
	if !l.owned {
		return ErrNotHeld
	}
	delete(l.locks.held, l.key)
	l.owned = false
	return nil
}

func (l *localLock) Extend(context.Context, time.Duration) error {
	if !l.owned {
		return ErrNotHeld
	}
	return nil
}
