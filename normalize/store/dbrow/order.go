// Package dbrow converts between domain entities and their database rows.
package dbrow

import (
	"time"

	"github.com/merchfeed/merchfeed/normalize"
)

// OrderRow is the orders table shape. Nullable columns are pointers so the
// driver writes SQL NULL instead of zero values.
type OrderRow struct {
	StoreDomain   string     `db:"store_domain"`
	ExternalID    string     `db:"external_id"`
	PlacedAt      *time.Time `db:"placed_at"`
	Total         string     `db:"total"`
	Currency      *string    `db:"currency"`
	CustomerEmail *string    `db:"customer_email"`
}

// OrderToRow prepares an order for persistence.
func OrderToRow(order normalize.Order) OrderRow {
	row := OrderRow{
		StoreDomain: order.StoreDomain,
		ExternalID:  order.ExternalID,
		Total:       order.Total.String(),
	}
	if !order.PlacedAt.IsZero() {
		placedAt := order.PlacedAt
		row.PlacedAt = &placedAt
	}
	if order.Currency != "" {
		currency := order.Currency
		row.Currency = &currency
	}
	if order.CustomerEmail != "" {
		email := order.CustomerEmail
		row.CustomerEmail = &email
	}
	return row
}

// ItemRow is the order_items table shape.
type ItemRow struct {
	StoreDomain       string  `db:"store_domain"`
	OrderExternalID   string  `db:"order_external_id"`
	ExternalItemID    string  `db:"external_item_id"`
	SKU               *string `db:"sku"`
	Quantity          int64   `db:"quantity"`
	UnitPrice         string  `db:"unit_price"`
	AllocatedUnitCost *string `db:"allocated_unit_cost"`
	AllocatedCost     *string `db:"allocated_cost"`
}

// ItemToRow prepares a line item for persistence.
func ItemToRow(item normalize.OrderItem) ItemRow {
	row := ItemRow{
		StoreDomain:     item.StoreDomain,
		OrderExternalID: item.OrderExternalID,
		ExternalItemID:  item.ExternalItemID,
		Quantity:        item.Quantity,
		UnitPrice:       item.UnitPrice.String(),
	}
	if item.SKU != "" {
		sku := item.SKU
		row.SKU = &sku
	}
	if item.AllocatedUnitCost.Valid {
		unitCost := item.AllocatedUnitCost.Decimal.String()
		row.AllocatedUnitCost = &unitCost
	}
	if item.AllocatedCost.Valid {
		cost := item.AllocatedCost.Decimal.String()
		row.AllocatedCost = &cost
	}
	return row
}
