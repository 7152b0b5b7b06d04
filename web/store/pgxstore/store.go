// Package pgxstore implements the health endpoint's diagnostics queries
// using pgx.
package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchfeed/merchfeed/web/diag"
)

// Sentinel errors for store operations
var (
	ErrCountQueryFailed = errors.New("tenant count query failed")
)

// CountsFinder resolves per-tenant volume figures with aggregate queries
// against the staging and normalized tables.
type CountsFinder struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL counts finder with an existing connection
// pool. Returns the finder and a closer function.
func New(pool *pgxpool.Pool) (*CountsFinder, func()) {
	finder := &CountsFinder{pool: pool}
	closer := func() {
		pool.Close()
	}
	return finder, closer
}

// TenantCounts returns the tenant's staged-record count, normalized-order
// count, and newest order timestamp in a single round trip.
func (f *CountsFinder) TenantCounts(ctx context.Context, storeDomain string) (diag.TenantCounts, error) {
	var (
		counts      diag.TenantCounts
		lastOrderAt *time.Time
	)

	err := f.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM staging_orders WHERE store_domain = $1),
			(SELECT count(*) FROM orders WHERE store_domain = $1),
			(SELECT max(placed_at) FROM orders WHERE store_domain = $1)
	`, storeDomain).Scan(&counts.StagedRecords, &counts.Orders, &lastOrderAt)
	if err != nil {
		return diag.TenantCounts{}, fmt.Errorf("%w: %w", ErrCountQueryFailed, err)
	}

	counts.LastOrderAt = lastOrderAt
	return counts, nil
}
