package services

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
)

// Locker serializes work on a key. The returned unlock func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// NoopLocker relies on the processor running a single worker.
type NoopLocker struct{}

func (NoopLocker) Lock(ctx context.Context, key string) (func(), error) {
	return func() {}, ctx.Err()
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a keyed mutex for workers inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, k)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.ch
			l.release(key, k)
		})
	}, nil
}

func (l *LocalLocker) release(key string, k *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.locks, key)
	}
}

// PostgresLocker takes a session-level advisory lock on a dedicated
// connection, so workers in different processes exclude each other.
type PostgresLocker struct {
	db     *sql.DB
	logger logging.Logger
}

func NewPostgresLocker(db *sql.DB, logger logging.Logger) *PostgresLocker {
	return &PostgresLocker{db: db, logger: logger}
}

func (l *PostgresLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	id := advisoryLockKey(key)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db error: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", id); err != nil {
				l.logger.Error(context.Background(), "advisory unlock failed", "key", key, "error", err)
			}
			conn.Close()
		})
	}, nil
}

func advisoryLockKey(key string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte("folder_cache"))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(key))
	return int64(hasher.Sum64())
}

// NewLocker picks a Locker by strategy name: none, local or postgres.
func NewLocker(strategy string, db *sql.DB, logger logging.Logger) (Locker, error) {
	switch strategy {
	case "", config.LockNone:
		return NoopLocker{}, nil
	case config.LockLocal:
		return NewLocalLocker(), nil
	case config.LockPostgres:
		return NewPostgresLocker(db, logger), nil
	}
	return nil, fmt.Errorf("unknown lock strategy %q", strategy)
}
