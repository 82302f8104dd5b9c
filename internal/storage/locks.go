// locks.go defines advisory lock key derivation and acquisition helpers.
//
// Two lock flavors are used:
//
//   - Transaction-scoped (pg_advisory_xact_lock): serializes all callers
//     contending on the same (condition, threshold) first-trigger key.
//     Released automatically at commit/rollback.
//
//   - Session-scoped try-lock (pg_try_advisory_lock): guarantees a single
//     active sync runner across replicas. Must be acquired and released on
//     the same pinned connection.
package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Well-known advisory lock IDs for the sync loops. Full sync and price-only
// sync are independent loops and must not block each other.
const (
	LockFullSync  int64 = 7001
	LockPriceSync int64 = 7002
)

// TriggerLockKey derives a deterministic 64-bit advisory lock ID from
// (condition_id, threshold). Every caller contending for the same pair
// lands on the same lock. The threshold is formatted at fixed precision so
// 0.95 and 0.9500 derive the same key.
func TriggerLockKey(conditionID string, threshold float64) int64 {
	h := fnv.New64a()
	h.Write([]byte(conditionID))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(threshold, 'f', 6, 64)))
	return int64(h.Sum64())
}

// xactLock takes the transaction-scoped advisory lock inside tx. Blocks
// until the lock is granted; the lock releases at commit/rollback.
func xactLock(ctx context.Context, tx pgx.Tx, key int64) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("advisory xact lock %d: %w", key, err)
	}
	return nil
}

// TrySessionLock attempts a non-blocking session advisory lock on the given
// pinned connection. Returns false when another session holds it.
func TrySessionLock(ctx context.Context, conn *pgxpool.Conn, key int64) (bool, error) {
	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		return false, fmt.Errorf("try advisory lock %d: %w", key, err)
	}
	return got, nil
}

// ReleaseSessionLock releases a session advisory lock taken on conn.
func ReleaseSessionLock(ctx context.Context, conn *pgxpool.Conn, key int64) error {
	var released bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", key, err)
	}
	if !released {
		return fmt.Errorf("advisory unlock %d: lock was not held", key)
	}
	return nil
}
