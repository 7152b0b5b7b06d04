package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchfeed/merchfeed/ingest"
)

// TestStoreConfiguration tests tenant parsing and registry validation
func TestStoreConfiguration(t *testing.T) {
	t.Parallel()

	t.Run("it parses a comma-separated store specification", func(t *testing.T) {
		t.Parallel()

		// Act
		stores, err := ingest.ParseStores("acme.myshopify.com=shpat_aaaa1111, widgets.myshopify.com=shpat_bbbb2222")

		// Assert
		require.NoError(t, err)
		require.Len(t, stores, 2)
		assert.Equal(t, "acme.myshopify.com", stores[0].Domain)
		assert.Equal(t, "shpat_aaaa1111", stores[0].AccessToken)
		assert.Equal(t, "widgets.myshopify.com", stores[1].Domain)
	})

	t.Run("it rejects a pair without a token separator", func(t *testing.T) {
		t.Parallel()

		// Act
		_, err := ingest.ParseStores("acme.myshopify.com")

		// Assert
		assert.ErrorIs(t, err, ingest.ErrInvalidStoreSpec)
	})

	t.Run("it rejects an empty specification", func(t *testing.T) {
		t.Parallel()

		// Act
		_, err := ingest.ParseStores("  ")

		// Assert
		assert.ErrorIs(t, err, ingest.ErrNoStores)
	})

	t.Run("it normalizes configured domains", func(t *testing.T) {
		t.Parallel()

		// Act
		registry, err := ingest.NewRegistry([]ingest.Store{
			{Domain: "https://Acme.MyShopify.com/", AccessToken: "shpat_aaaa1111"},
		})

		// Assert
		require.NoError(t, err)
		require.Len(t, registry.All(), 1)
		assert.Equal(t, "acme.myshopify.com", registry.All()[0].Domain)
	})

	t.Run("it rejects duplicate domains after normalization", func(t *testing.T) {
		t.Parallel()

		// Act
		_, err := ingest.NewRegistry([]ingest.Store{
			{Domain: "acme.myshopify.com", AccessToken: "shpat_aaaa1111"},
			{Domain: "HTTPS://ACME.MYSHOPIFY.COM", AccessToken: "shpat_bbbb2222"},
		})

		// Assert
		assert.ErrorIs(t, err, ingest.ErrDuplicateStore)
	})

	t.Run("it rejects a store with a short token", func(t *testing.T) {
		t.Parallel()

		// Act
		_, err := ingest.NewRegistry([]ingest.Store{
			{Domain: "acme.myshopify.com", AccessToken: "short"},
		})

		// Assert
		assert.ErrorIs(t, err, ingest.ErrInvalidStore)
	})

	t.Run("it rejects a store with a bare hostname", func(t *testing.T) {
		t.Parallel()

		// Act
		_, err := ingest.NewRegistry([]ingest.Store{
			{Domain: "localhost", AccessToken: "shpat_aaaa1111"},
		})

		// Assert
		assert.ErrorIs(t, err, ingest.ErrInvalidStore)
	})

	t.Run("it looks up stores by any spelling of their domain", func(t *testing.T) {
		t.Parallel()

		// Arrange
		registry, err := ingest.NewRegistry([]ingest.Store{
			{Domain: "acme.myshopify.com", AccessToken: "shpat_aaaa1111"},
		})
		require.NoError(t, err)

		// Act
		store, ok := registry.Lookup("https://ACME.myshopify.com/admin")

		// Assert
		require.True(t, ok)
		assert.Equal(t, "acme.myshopify.com", store.Domain)
	})

	t.Run("it preserves registration order", func(t *testing.T) {
		t.Parallel()

		// Arrange
		registry, err := ingest.NewRegistry([]ingest.Store{
			{Domain: "c.myshopify.com", AccessToken: "shpat_cccc3333"},
			{Domain: "a.myshopify.com", AccessToken: "shpat_aaaa1111"},
			{Domain: "b.myshopify.com", AccessToken: "shpat_bbbb2222"},
		})
		require.NoError(t, err)

		// Act
		var domains []string
		for _, store := range registry.All() {
			domains = append(domains, store.Domain)
		}

		// Assert
		assert.Equal(t, []string{"c.myshopify.com", "a.myshopify.com", "b.myshopify.com"}, domains)
	})
}
