// Package normalize folds staged raw order records into the normalized
// relational model: customers, orders and order items, upserted
// idempotently by external identifiers.
package normalize

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for failure cases
var (
	ErrSourceFailed     = errors.New("staged source read failed")
	ErrUpsertFailed     = errors.New("normalized upsert failed")
	ErrCostLookupFailed = errors.New("cost schedule lookup failed")

	// ErrMissingExternalID marks a staged record that cannot be keyed.
	// Such records are skipped and counted, never aborting the batch.
	ErrMissingExternalID = errors.New("staged record has no external id")
)

// Customer is created on first sighting of an email, never deleted.
type Customer struct {
	Email string
}

// Order is the normalized order, unique per (tenant, external id).
// Conflicting upserts resolve last-writer-wins on every mutable field.
type Order struct {
	StoreDomain   string
	ExternalID    string
	PlacedAt      time.Time // zero means the upstream carried no usable date
	Total         decimal.Decimal
	Currency      string
	CustomerEmail string // empty means unknown
}

// OrderItem is one normalized line item, unique within its order.
// AllocatedUnitCost stays unset when no cost schedule covers the order
// date, to avoid silently understating margin.
type OrderItem struct {
	StoreDomain       string
	OrderExternalID   string
	ExternalItemID    string
	SKU               string
	Quantity          int64
	UnitPrice         decimal.Decimal
	AllocatedUnitCost decimal.NullDecimal
	AllocatedCost     decimal.NullDecimal // AllocatedUnitCost × Quantity
}

// StagedOrder is one staged record as the transform sees it.
type StagedOrder struct {
	Payload    []byte
	ReceivedAt time.Time
}

// StagedSource reads a tenant's staged records.
type StagedSource interface {
	StagedOrders(ctx context.Context, storeDomain string) ([]StagedOrder, error)
}

// UpsertStore persists one normalized order with its items atomically.
type UpsertStore interface {
	UpsertOrder(ctx context.Context, order Order, items []OrderItem) error
}

// CostResolver answers the effective-dated unit cost for a SKU as of a
// date. found is false when no schedule row covers the date.
type CostResolver interface {
	UnitCost(ctx context.Context, sku string, on time.Time) (cost decimal.Decimal, found bool, err error)
}
