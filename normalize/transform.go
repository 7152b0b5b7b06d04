package normalize

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/merchfeed/merchfeed/ingest"
)

// Engine is the staging-to-normalized transform. Running it twice over
// identical staging content produces identical normalized rows: dedup keys
// on external ids and the store upserts instead of inserting.
type Engine struct {
	source StagedSource
	sink   UpsertStore
	costs  CostResolver
}

// NewEngine constructs the transform engine.
func NewEngine(source StagedSource, sink UpsertStore, costs CostResolver) *Engine {
	return &Engine{
		source: source,
		sink:   sink,
		costs:  costs,
	}
}

// mapped is one staged record after parsing, paired with its arrival time
// for latest-write-wins dedup.
type mapped struct {
	order      Order
	items      []OrderItem
	receivedAt int64
}

// TransformStore reads every staged record for the tenant, keeps the latest
// arrival per external order id, allocates effective-dated costs and
// upserts the result.
func (e *Engine) TransformStore(ctx context.Context, storeDomain string) (ingest.TransformSummary, error) {
	var summary ingest.TransformSummary

	staged, err := e.source.StagedOrders(ctx, storeDomain)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}

	// Latest write wins per external order id. Staging is append-only, so a
	// superseded record is simply an older row for the same id.
	latest := make(map[string]mapped)
	for _, record := range staged {
		order, items, err := MapRecord(storeDomain, record.Payload)
		if err != nil {
			if errors.Is(err, ErrMissingExternalID) {
				summary.Skipped++
				continue
			}
			return summary, err
		}

		receivedAt := record.ReceivedAt.UnixNano()
		if existing, ok := latest[order.ExternalID]; ok && existing.receivedAt >= receivedAt {
			continue
		}
		latest[order.ExternalID] = mapped{order: order, items: items, receivedAt: receivedAt}
	}

	// Deterministic upsert order keeps reruns byte-for-byte comparable.
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m := latest[id]

		if err := e.allocateCosts(ctx, m.order, m.items); err != nil {
			return summary, err
		}

		if err := e.sink.UpsertOrder(ctx, m.order, m.items); err != nil {
			return summary, fmt.Errorf("%w: %w", ErrUpsertFailed, err)
		}
		summary.Orders++
		summary.Items += len(m.items)
	}

	return summary, nil
}

// allocateCosts values each SKU-bearing item as of the order's own date.
// Items without a SKU, or dated outside every schedule row, keep their
// allocated cost unset rather than zero.
func (e *Engine) allocateCosts(ctx context.Context, order Order, items []OrderItem) error {
	if order.PlacedAt.IsZero() {
		return nil
	}

	for i := range items {
		if items[i].SKU == "" {
			continue
		}

		unitCost, found, err := e.costs.UnitCost(ctx, items[i].SKU, order.PlacedAt)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCostLookupFailed, err)
		}
		if !found {
			continue
		}

		items[i].AllocatedUnitCost = decimal.NewNullDecimal(unitCost)
		items[i].AllocatedCost = decimal.NewNullDecimal(unitCost.Mul(decimal.NewFromInt(items[i].Quantity)))
	}
	return nil
}
