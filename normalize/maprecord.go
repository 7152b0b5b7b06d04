package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Wire shapes of the upstream order document. Everything beyond the external
// identifier is optional: missing or malformed fields degrade to their zero
// value rather than failing the record.
type orderDoc struct {
	ID         json.Number   `json:"id"`
	Email      string        `json:"email"`
	CreatedAt  string        `json:"created_at"`
	TotalPrice string        `json:"total_price"`
	Currency   string        `json:"currency"`
	LineItems  []lineItemDoc `json:"line_items"`
}

type lineItemDoc struct {
	ID       json.Number `json:"id"`
	SKU      string      `json:"sku"`
	Quantity int64       `json:"quantity"`
	Price    string      `json:"price"`
}

// MapRecord is the single pure function from a staged raw payload to
// normalized entities. It returns ErrMissingExternalID only for records
// that cannot be keyed. A field-level type mismatch still populates the
// fields that did decode, so a keyable record proceeds with the bad
// fields degraded rather than being dropped.
func MapRecord(storeDomain string, payload []byte) (Order, []OrderItem, error) {
	var doc orderDoc
	if err := json.Unmarshal(payload, &doc); err != nil && doc.ID.String() == "" {
		return Order{}, nil, fmt.Errorf("%w: %w", ErrMissingExternalID, err)
	}
	if doc.ID.String() == "" {
		return Order{}, nil, ErrMissingExternalID
	}

	order := Order{
		StoreDomain:   storeDomain,
		ExternalID:    doc.ID.String(),
		PlacedAt:      parseTime(doc.CreatedAt),
		Total:         parseDecimal(doc.TotalPrice),
		Currency:      doc.Currency,
		CustomerEmail: doc.Email,
	}

	items := make([]OrderItem, 0, len(doc.LineItems))
	for i, item := range doc.LineItems {
		externalItemID := item.ID.String()
		if externalItemID == "" {
			// An unkeyable line item cannot be upserted idempotently;
			// fall back to its position within the order.
			externalItemID = "pos-" + strconv.Itoa(i)
		}
		items = append(items, OrderItem{
			StoreDomain:     storeDomain,
			OrderExternalID: order.ExternalID,
			ExternalItemID:  externalItemID,
			SKU:             item.SKU,
			Quantity:        item.Quantity,
			UnitPrice:       parseDecimal(item.Price),
		})
	}

	return order, items, nil
}

// parseTime accepts the upstream RFC 3339 timestamp, degrading to the zero
// time (persisted as NULL) when absent or malformed.
func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseDecimal accepts the upstream string-encoded money amount, degrading
// to zero when absent or malformed.
func parseDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
