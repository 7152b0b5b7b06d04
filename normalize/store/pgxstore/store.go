// Package pgxstore persists normalized orders and reads staged records
// using pgx.
package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchfeed/merchfeed/normalize"
	"github.com/merchfeed/merchfeed/normalize/store/dbrow"
	"github.com/merchfeed/merchfeed/pkg/pgxdb"
	"github.com/merchfeed/merchfeed/pkg/retry"
)

// Sentinel errors for store operations
var (
	ErrQueryFailed       = errors.New("query failed")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrUpsertFailed      = errors.New("upsert failed")
	ErrCostQueryFailed   = errors.New("cost schedule query failed")
)

// Store implements the transform's staged source, upsert sink and cost
// resolver interfaces using pgx. All operations retry transient storage
// failures under one policy before escalating.
type Store struct {
	pool   *pgxpool.Pool
	policy retry.Policy
}

// New creates a new PostgreSQL normalization store with an existing
// connection pool. Returns the store and a closer function.
func New(pool *pgxpool.Pool) (*Store, func()) {
	store := &Store{
		pool:   pool,
		policy: retry.NewPolicy(pgxdb.IsTransient),
	}
	closer := func() {
		pool.Close()
	}
	return store, closer
}

// StagedOrders returns every staged record for the tenant in arrival order.
func (s *Store) StagedOrders(ctx context.Context, storeDomain string) ([]normalize.StagedOrder, error) {
	var staged []normalize.StagedOrder
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT payload, received_at
			FROM staging_orders
			WHERE store_domain = $1
			ORDER BY received_at
		`, storeDomain)
		if err != nil {
			return err
		}
		defer rows.Close()

		staged = staged[:0] // reset on retry
		for rows.Next() {
			var record normalize.StagedOrder
			if err := rows.Scan(&record.Payload, &record.ReceivedAt); err != nil {
				return err
			}
			staged = append(staged, record)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return staged, nil
}

// UpsertOrder writes one order and its line items in a single transaction,
// keyed on external ids so reruns update in place.
func (s *Store) UpsertOrder(ctx context.Context, order normalize.Order, items []normalize.OrderItem) error {
	return s.policy.Do(ctx, func(ctx context.Context) error {
		return s.upsertOrderOnce(ctx, order, items)
	})
}

func (s *Store) upsertOrderOnce(ctx context.Context, order normalize.Order, items []normalize.OrderItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op if commit succeeds

	if order.CustomerEmail != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO customers (email)
			VALUES ($1)
			ON CONFLICT (email) DO NOTHING
		`, order.CustomerEmail)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpsertFailed, err)
		}
	}

	row := dbrow.OrderToRow(order)
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (store_domain, external_id, placed_at, total, currency, customer_email)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (store_domain, external_id) DO UPDATE SET
			placed_at = EXCLUDED.placed_at,
			total = EXCLUDED.total,
			currency = EXCLUDED.currency,
			customer_email = EXCLUDED.customer_email,
			updated_at = now()
	`, row.StoreDomain, row.ExternalID, row.PlacedAt, row.Total, row.Currency, row.CustomerEmail)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpsertFailed, err)
	}

	for _, item := range items {
		itemRow := dbrow.ItemToRow(item)
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (
				store_domain, order_external_id, external_item_id,
				sku, quantity, unit_price, allocated_unit_cost, allocated_cost
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (store_domain, order_external_id, external_item_id) DO UPDATE SET
				sku = EXCLUDED.sku,
				quantity = EXCLUDED.quantity,
				unit_price = EXCLUDED.unit_price,
				allocated_unit_cost = EXCLUDED.allocated_unit_cost,
				allocated_cost = EXCLUDED.allocated_cost
		`, itemRow.StoreDomain, itemRow.OrderExternalID, itemRow.ExternalItemID,
			itemRow.SKU, itemRow.Quantity, itemRow.UnitPrice,
			itemRow.AllocatedUnitCost, itemRow.AllocatedCost)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpsertFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return nil
}

// UnitCost returns the cost schedule row in effect for the SKU on the given
// date. Overlapping rows resolve to the most recently effective one.
func (s *Store) UnitCost(ctx context.Context, sku string, on time.Time) (decimal.Decimal, bool, error) {
	var (
		cost  decimal.Decimal
		found bool
	)
	day := normalize.DateOf(on)
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var value string
		err := s.pool.QueryRow(ctx, `
			SELECT unit_cost
			FROM cost_schedules
			WHERE sku = $1
			  AND effective_from <= $2
			  AND (effective_to IS NULL OR effective_to >= $2)
			ORDER BY effective_from DESC
			LIMIT 1
		`, sku, day).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		cost, err = decimal.NewFromString(value)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("%w: %w", ErrCostQueryFailed, err)
	}
	return cost, found, nil
}
