// Package ingest implements the multi-tenant order ingestion pipeline:
// bounded, cursor-resumable fetch runs against the upstream commerce API,
// round-robin scheduling across tenants, and iterative backfill.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/merchfeed/merchfeed/pkg/shopify"
)

// Sentinel errors for failure cases
var (
	ErrNoStores        = errors.New("no stores configured")
	ErrUnknownStore    = errors.New("unknown store")
	ErrRunInProgress   = errors.New("run already in progress for store")
	ErrLockFailed      = errors.New("run lock acquisition failed")
	ErrCursorRetrieval = errors.New("cursor retrieval failed")
	ErrCursorReset     = errors.New("cursor reset failed")
	ErrFetchFailed     = errors.New("order fetch failed")
	ErrStagePageFailed = errors.New("staging page failed")
	ErrScheduleFailed  = errors.New("schedule state operation failed")
	ErrBackfillFlag    = errors.New("backfill flag operation failed")
	ErrTransformFailed = errors.New("transform failed")
)

// Default configuration values
const (
	DefaultPagesPerRun   = 10
	DefaultPageSize      = 250
	DefaultWindowDays    = 90
	DefaultMaxIterations = 200
	DefaultTickInterval  = time.Minute

	ChannelShopify  = "shopify"
	SourceKindOrder = "order"
)

// Fetcher pulls pages of raw orders from the upstream commerce API
// ----------------------------------------------------------------
type Fetcher interface {
	ListOrders(ctx context.Context, creds shopify.Credentials, req shopify.OrdersRequest) (*shopify.OrdersPage, error)
}

// StagingStore appends one fetched page and checkpoints the cursor in the
// same transaction, so a crash after page N only ever re-fetches from page N.
type StagingStore interface {
	StagePage(ctx context.Context, page StagedPage) error
}

// StateStore persists per-tenant cursor and backfill state.
type StateStore interface {
	// Cursor returns the persisted resume token. present is false when the
	// tenant has no token (NotStarted or Exhausted).
	Cursor(ctx context.Context, storeDomain string) (token string, present bool, err error)
	// ClearCursor transitions the tenant back to NotStarted.
	ClearCursor(ctx context.Context, storeDomain string) error
	// BackfillDone reports whether the first full-history ingestion completed.
	BackfillDone(ctx context.Context, storeDomain string) (bool, error)
	// MarkBackfillDone sets the one-time backfill completion flag.
	MarkBackfillDone(ctx context.Context, storeDomain string) error
}

// ScheduleStore persists the round-robin rotation position.
type ScheduleStore interface {
	Position(ctx context.Context) (int, error)
	SetPosition(ctx context.Context, position int) error
}

// RunLocker serializes runs per tenant, so a manual trigger racing a
// scheduled tick skips instead of corrupting the cursor read-modify-write.
type RunLocker interface {
	// TryAcquire returns acquired=false without blocking when another run
	// holds the tenant's lock. release must be called when acquired.
	TryAcquire(ctx context.Context, storeDomain string) (release func(), acquired bool, err error)
}

// Transformer folds staged records into the normalized schema.
type Transformer interface {
	TransformStore(ctx context.Context, storeDomain string) (TransformSummary, error)
}

// TransformSummary reports what one transform pass upserted.
type TransformSummary struct {
	Orders  int
	Items   int
	Skipped int
}

// Clock abstracts time for production and testing
// -----------------------------------------------
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

// RunOptions tune one bounded ingestion run.
type RunOptions struct {
	// WindowDays is the history window for a date-filtered first page.
	// Zero means the service default.
	WindowDays int
	// Reset clears the tenant's cursor before the run, forcing a re-walk.
	Reset bool
}

// RunResult describes one bounded ingestion run for one tenant.
type RunResult struct {
	StoreDomain string
	Pages       int
	Records     int
	// Exhausted is true when the upstream window ran out before the page cap.
	Exhausted bool
	// Resumed is true when the run started from a persisted token rather
	// than a date-filtered first page.
	Resumed   bool
	Transform TransformSummary
}

// TickResult describes one scheduler tick.
type TickResult struct {
	Position int
	RunResult
}

// BackfillOptions tune an iterative backfill.
type BackfillOptions struct {
	WindowDays int
	Reset      bool
	// MaxIterations caps the run loop. Zero means DefaultMaxIterations.
	MaxIterations int
}

// BackfillResult describes one backfill for one tenant.
type BackfillResult struct {
	StoreDomain string
	Iterations  int
	Pages       int
	Records     int
	// Completed is true on natural exhaustion, false when the iteration
	// ceiling stopped the loop.
	Completed bool
}
