// Package diag defines the read-only diagnostics the health endpoint serves.
package diag

import (
	"context"
	"time"
)

// TenantCounts are the per-tenant volume figures: how much is staged, how
// much has been normalized, and how fresh the newest order is.
type TenantCounts struct {
	StagedRecords int64
	Orders        int64
	LastOrderAt   *time.Time
}

// CountsFinder resolves per-tenant volume figures. Implementations may be
// slower than the cursor-state reads; callers treat failures as degradation,
// not as fatal.
type CountsFinder interface {
	TenantCounts(ctx context.Context, storeDomain string) (TenantCounts, error)
}
