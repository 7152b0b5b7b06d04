package normalize_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchfeed/merchfeed/normalize"
)

// TestTransformBehavior tests the staging-to-normalized transform engine
func TestTransformBehavior(t *testing.T) {
	t.Parallel()

	t.Run("it upserts every staged order", func(t *testing.T) {
		t.Parallel()

		// Arrange
		source := stagedSource(
			stagedAt("2025-06-01T10:00:00Z", orderJSON(1, "10.00")),
			stagedAt("2025-06-01T10:00:01Z", orderJSON(2, "20.00")),
		)
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, normalize.ScheduleSet{})

		// Act
		summary, err := engine.TransformStore(t.Context(), testDomain)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Orders)
		assert.Zero(t, summary.Skipped)
		assert.Equal(t, []string{"1", "2"}, sink.upsertedIDs())
	})

	t.Run("it keeps the latest staged version of a re-fetched order", func(t *testing.T) {
		t.Parallel()

		// Arrange: the same external id staged twice, newer total last.
		source := stagedSource(
			stagedAt("2025-06-01T10:00:00Z", orderJSON(1, "10.00")),
			stagedAt("2025-06-02T10:00:00Z", orderJSON(1, "15.00")),
		)
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, normalize.ScheduleSet{})

		// Act
		summary, err := engine.TransformStore(t.Context(), testDomain)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Orders)
		orders := sink.orders()
		require.Len(t, orders, 1)
		assert.Equal(t, "15", orders[0].Total.String())
	})

	t.Run("it keeps the latest version regardless of staging order", func(t *testing.T) {
		t.Parallel()

		// Arrange: newest arrival listed first.
		source := stagedSource(
			stagedAt("2025-06-02T10:00:00Z", orderJSON(1, "15.00")),
			stagedAt("2025-06-01T10:00:00Z", orderJSON(1, "10.00")),
		)
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, normalize.ScheduleSet{})

		// Act
		_, err := engine.TransformStore(t.Context(), testDomain)

		// Assert
		require.NoError(t, err)
		orders := sink.orders()
		require.Len(t, orders, 1)
		assert.Equal(t, "15", orders[0].Total.String())
	})

	t.Run("it skips unkeyable records without aborting the batch", func(t *testing.T) {
		t.Parallel()

		// Arrange
		source := stagedSource(
			stagedAt("2025-06-01T10:00:00Z", []byte(`{"email":"orphan@example.com"}`)),
			stagedAt("2025-06-01T10:00:01Z", orderJSON(2, "20.00")),
		)
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, normalize.ScheduleSet{})

		// Act
		summary, err := engine.TransformStore(t.Context(), testDomain)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Orders)
		assert.Equal(t, 1, summary.Skipped)
	})

	t.Run("it is idempotent over identical staging content", func(t *testing.T) {
		t.Parallel()

		// Arrange
		source := stagedSource(
			stagedAt("2025-06-01T10:00:00Z", orderJSON(1, "10.00")),
			stagedAt("2025-06-01T10:00:01Z", orderJSON(2, "20.00")),
		)
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, normalize.ScheduleSet{})

		// Act
		first, err := engine.TransformStore(t.Context(), testDomain)
		require.NoError(t, err)
		second, err := engine.TransformStore(t.Context(), testDomain)
		require.NoError(t, err)

		// Assert: the second pass replays the exact same upserts.
		assert.Equal(t, first, second)
		assert.Equal(t, []string{"1", "2", "1", "2"}, sink.upsertedIDs())
		assert.Equal(t, sink.orders()[0], sink.orders()[2])
		assert.Equal(t, sink.orders()[1], sink.orders()[3])
	})

	t.Run("it allocates the unit cost in effect on the order date", func(t *testing.T) {
		t.Parallel()

		// Arrange: $10 through June 14th, $12 from June 15th; the order is
		// placed June 15th with quantity 3.
		costs := normalize.ScheduleSet{
			schedule("WIDGET-1", "10.00", "2025-01-01", "2025-06-14"),
			schedule("WIDGET-1", "12.00", "2025-06-15", ""),
		}
		payload := []byte(`{
			"id": 1,
			"created_at": "2025-06-15T09:00:00Z",
			"total_price": "60.00",
			"line_items": [{"id": 11, "sku": "WIDGET-1", "quantity": 3, "price": "20.00"}]
		}`)
		source := stagedSource(stagedAt("2025-06-15T10:00:00Z", payload))
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, costs)

		// Act
		_, err := engine.TransformStore(t.Context(), testDomain)

		// Assert
		require.NoError(t, err)
		items := sink.items()
		require.Len(t, items, 1)
		require.True(t, items[0].AllocatedUnitCost.Valid)
		assert.Equal(t, "12", items[0].AllocatedUnitCost.Decimal.String())
		require.True(t, items[0].AllocatedCost.Valid)
		assert.Equal(t, "36", items[0].AllocatedCost.Decimal.String())
	})

	t.Run("it leaves the allocated cost unset without a covering schedule", func(t *testing.T) {
		t.Parallel()

		// Arrange
		payload := []byte(`{
			"id": 1,
			"created_at": "2025-06-15T09:00:00Z",
			"line_items": [{"id": 11, "sku": "UNPRICED", "quantity": 2, "price": "5.00"}]
		}`)
		source := stagedSource(stagedAt("2025-06-15T10:00:00Z", payload))
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, normalize.ScheduleSet{})

		// Act
		_, err := engine.TransformStore(t.Context(), testDomain)

		// Assert
		require.NoError(t, err)
		items := sink.items()
		require.Len(t, items, 1)
		assert.False(t, items[0].AllocatedUnitCost.Valid)
		assert.False(t, items[0].AllocatedCost.Valid)
	})

	t.Run("it skips allocation for items without a SKU and orders without a date", func(t *testing.T) {
		t.Parallel()

		// Arrange
		costs := normalize.ScheduleSet{schedule("WIDGET-1", "10.00", "2025-01-01", "")}
		source := stagedSource(
			stagedAt("2025-06-15T10:00:00Z", []byte(`{"id": 1, "created_at": "2025-06-15T09:00:00Z", "line_items": [{"id": 11, "quantity": 1}]}`)),
			stagedAt("2025-06-15T10:00:01Z", []byte(`{"id": 2, "line_items": [{"id": 21, "sku": "WIDGET-1", "quantity": 1}]}`)),
		)
		sink := newCapturingSink()
		engine := normalize.NewEngine(source, sink, costs)

		// Act
		_, err := engine.TransformStore(t.Context(), testDomain)

		// Assert
		require.NoError(t, err)
		for _, item := range sink.items() {
			assert.False(t, item.AllocatedCost.Valid)
		}
	})
}

// Test constants and builders

const testDomain = "acme.myshopify.com"

func orderJSON(id int, total string) []byte {
	return []byte(fmt.Sprintf(`{"id": %d, "created_at": "2025-06-01T09:00:00Z", "total_price": "%s"}`, id, total))
}

func stagedAt(receivedAt string, payload []byte) normalize.StagedOrder {
	ts, err := time.Parse(time.RFC3339, receivedAt)
	if err != nil {
		panic(err)
	}
	return normalize.StagedOrder{Payload: payload, ReceivedAt: ts}
}

type fakeSource []normalize.StagedOrder

func stagedSource(records ...normalize.StagedOrder) fakeSource {
	return fakeSource(records)
}

func (f fakeSource) StagedOrders(context.Context, string) ([]normalize.StagedOrder, error) {
	return f, nil
}

// capturingSink records upserts in call order.
type capturingSink struct {
	mu        sync.Mutex
	upserted  []normalize.Order
	itemRows  []normalize.OrderItem
	callOrder []string
}

func newCapturingSink() *capturingSink {
	return &capturingSink{}
}

func (s *capturingSink) UpsertOrder(_ context.Context, order normalize.Order, items []normalize.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, order)
	s.itemRows = append(s.itemRows, items...)
	s.callOrder = append(s.callOrder, order.ExternalID)
	return nil
}

func (s *capturingSink) orders() []normalize.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]normalize.Order(nil), s.upserted...)
}

func (s *capturingSink) items() []normalize.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]normalize.OrderItem(nil), s.itemRows...)
}

func (s *capturingSink) upsertedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.callOrder...)
}
