package repositories

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/luris-nation/wallet_service/pkg/keymutex"
)

// userLockClass namespaces per-user advisory locks away from derivationLockKey.
const userLockClass int32 = 0x64706c67 // "dplg"

// UserLocker serialises deposit detection and sweeping per user across every process sharing the
// database. Waiters in one process queue on a local mutex first so each held lock pins at most one
// pooled connection per user.
type UserLocker struct {
	db    *sqlx.DB
	local *keymutex.KeyMutex
}

func NewUserLocker(db *sqlx.DB) *UserLocker {
	return &UserLocker{db: db, local: keymutex.New()}
}

// Acquire blocks until key is held or ctx is done. The lock is session scoped, so the connection
// that took it is held until unlock.
func (l *UserLocker) Acquire(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1, hashtext($2))`, userLockClass, key); err != nil {
		_ = conn.Close()
		unlockLocal()
		return nil, fmt.Errorf("failed to acquire user lock: %w", err)
	}

	return func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1, hashtext($2))`, userLockClass, key); err != nil {
			// Drop the session rather than return it to the pool still holding the lock.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
		unlockLocal()
	}, nil
}
