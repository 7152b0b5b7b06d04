// Package pgxstore persists ingestion state and staged records using pgx.
package pgxstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/ingest/store/dbrow"
	"github.com/merchfeed/merchfeed/pkg/pgxdb"
	"github.com/merchfeed/merchfeed/pkg/retry"
)

// Sentinel errors for store operations
var (
	ErrTransactionFailed = errors.New("transaction failed")
	ErrCopyFailed        = errors.New("bulk copy operation failed")
	ErrCursorFailed      = errors.New("cursor state operation failed")
	ErrStateFailed       = errors.New("sync state operation failed")
	ErrScheduleFailed    = errors.New("schedule state operation failed")
)

// Per-tenant sync_state keys
const (
	cursorKey       = "page_info"
	backfillDoneKey = "backfill_done"
)

// Store implements the ingest staging, state, schedule and lock interfaces
// using pgx. All operations retry transient storage failures under one
// policy before escalating.
type Store struct {
	pool   *pgxpool.Pool
	policy retry.Policy
	caps   *capabilities
}

// New creates a new PostgreSQL ingestion store with an existing connection
// pool. Returns the store and a closer function.
func New(pool *pgxpool.Pool) (*Store, func()) {
	policy := retry.NewPolicy(pgxdb.IsTransient)
	store := &Store{
		pool:   pool,
		policy: policy,
		caps:   newCapabilities(pool, policy),
	}
	closer := func() {
		pool.Close()
	}
	return store, closer
}

// StagePage appends one fetched page and checkpoints the cursor in a single
// transaction. Re-staging the same page after a retry is harmless: staging
// is append-only and dedup happens in the transform.
func (s *Store) StagePage(ctx context.Context, page ingest.StagedPage) error {
	columns, err := s.caps.stagingColumns(ctx)
	if err != nil {
		return err
	}

	return s.policy.Do(ctx, func(ctx context.Context) error {
		return s.stagePageOnce(ctx, page, columns)
	})
}

func (s *Store) stagePageOnce(ctx context.Context, page ingest.StagedPage, columns []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op if commit succeeds

	// Keep the tenant reference row current.
	_, err = tx.Exec(ctx, `
		INSERT INTO stores (domain, channel)
		VALUES ($1, $2)
		ON CONFLICT (domain) DO NOTHING
	`, page.StoreDomain, ingest.ChannelShopify)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	if len(page.Records) > 0 {
		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"staging_orders"},
			columns,
			pgx.CopyFromRows(dbrow.StagingRecordsToRows(page.Records, columns)),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCopyFailed, err)
		}
	}

	if err := s.checkpointCursor(ctx, tx, page.StoreDomain, page.NextPageToken); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return nil
}

// checkpointCursor persists the resume token inside the staging transaction.
// An empty token means the window is exhausted and the cursor row goes away.
func (s *Store) checkpointCursor(ctx context.Context, tx pgx.Tx, storeDomain, token string) error {
	if token == "" {
		_, err := tx.Exec(ctx, `
			DELETE FROM sync_state WHERE store_domain = $1 AND key = $2
		`, storeDomain, cursorKey)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCursorFailed, err)
		}
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO sync_state (store_domain, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_domain, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, storeDomain, cursorKey, token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCursorFailed, err)
	}
	return nil
}

// Cursor returns the tenant's persisted resume token, if any.
func (s *Store) Cursor(ctx context.Context, storeDomain string) (string, bool, error) {
	var (
		token   string
		present bool
	)
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, `
			SELECT value FROM sync_state WHERE store_domain = $1 AND key = $2
		`, storeDomain, cursorKey).Scan(&token)
		if errors.Is(err, pgx.ErrNoRows) {
			token, present = "", false
			return nil
		}
		if err != nil {
			return err
		}
		present = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrCursorFailed, err)
	}
	return token, present, nil
}

// ClearCursor removes the tenant's resume token, transitioning it back to
// NotStarted.
func (s *Store) ClearCursor(ctx context.Context, storeDomain string) error {
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			DELETE FROM sync_state WHERE store_domain = $1 AND key = $2
		`, storeDomain, cursorKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCursorFailed, err)
	}
	return nil
}

// BackfillDone reports whether the tenant's first full-history ingestion
// completed.
func (s *Store) BackfillDone(ctx context.Context, storeDomain string) (bool, error) {
	var done bool
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var value string
		err := s.pool.QueryRow(ctx, `
			SELECT value FROM sync_state WHERE store_domain = $1 AND key = $2
		`, storeDomain, backfillDoneKey).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			done = false
			return nil
		}
		if err != nil {
			return err
		}
		done = value == "1"
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStateFailed, err)
	}
	return done, nil
}

// MarkBackfillDone sets the one-time backfill completion flag.
func (s *Store) MarkBackfillDone(ctx context.Context, storeDomain string) error {
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO sync_state (store_domain, key, value)
			VALUES ($1, $2, '1')
			ON CONFLICT (store_domain, key) DO UPDATE SET value = '1', updated_at = now()
		`, storeDomain, backfillDoneKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStateFailed, err)
	}
	return nil
}

// Position returns the persisted round-robin position, zero before the
// first tick.
func (s *Store) Position(ctx context.Context) (int, error) {
	var position int
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, `SELECT position FROM schedule_state`).Scan(&position)
		if errors.Is(err, pgx.ErrNoRows) {
			position = 0
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	return position, nil
}

// SetPosition persists the round-robin position (singleton row upsert).
func (s *Store) SetPosition(ctx context.Context, position int) error {
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO schedule_state (single_row, position) VALUES (TRUE, $1)
			ON CONFLICT (single_row) DO UPDATE SET position = EXCLUDED.position
		`, position)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	return nil
}
