package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockFailed means the advisory lock machinery itself failed, as opposed
// to the lock simply being held by a concurrent run.
var ErrLockFailed = errors.New("advisory lock operation failed")

// lockKeyPrefix namespaces the advisory lock keyspace against other users
// of the same database.
const lockKeyPrefix = "ingest-run:"

// TryAcquire takes a per-tenant session-level advisory lock on a dedicated
// pooled connection. Concurrent triggers for the same tenant (a manual call
// racing a scheduled tick) serialize here instead of racing on the cursor
// read-modify-write.
func (s *Store) TryAcquire(ctx context.Context, storeDomain string) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrLockFailed, err)
	}

	var acquired bool
	err = conn.QueryRow(ctx, `
		SELECT pg_try_advisory_lock(hashtext($1))
	`, lockKeyPrefix+storeDomain).Scan(&acquired)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		// Session locks outlive a pooled release, so unlock explicitly.
		// Best effort with a fresh context: the run's own context may
		// already be cancelled on error exit paths.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := conn.Exec(unlockCtx, `
			SELECT pg_advisory_unlock(hashtext($1))
		`, lockKeyPrefix+storeDomain)
		if err != nil {
			// Destroy the session; the lock dies with it.
			conn.Conn().Close(unlockCtx) //nolint:errcheck // connection is being discarded
		}
		conn.Release()
	}
	return release, true, nil
}
