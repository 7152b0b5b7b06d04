package ingest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/pkg/shopify"
)

// TestServiceRunBehavior tests one bounded ingestion run
func TestServiceRunBehavior(t *testing.T) {
	t.Parallel()

	t.Run("it issues a date-filtered first page for a fresh tenant", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 3, ""))
		store := newMemStore()
		svc := serviceWith(t, api, store, ingest.WithWindowDays(90))

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		require.NoError(t, err)
		assert.False(t, result.Resumed)
		assertFirstRequestDateFiltered(t, api, 90)
	})

	t.Run("it resumes exactly from the persisted cursor", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("tok-42", 2, ""))
		store := newMemStore()
		store.setCursor("tok-42")
		svc := serviceWith(t, api, store)

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		require.NoError(t, err)
		assert.True(t, result.Resumed)
		require.NotEmpty(t, api.requests())
		assert.Equal(t, "tok-42", api.requests()[0].PageToken)
		assert.True(t, api.requests()[0].CreatedAtMin.IsZero(), "resumed request must not re-filter by date")
	})

	t.Run("it checkpoints the cursor with every staged page", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(
			pageWithOrders("", 2, "tok-a"),
			pageWithOrders("tok-a", 2, "tok-b"),
			pageWithOrders("tok-b", 1, ""),
		)
		store := newMemStore()
		svc := serviceWith(t, api, store)

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 3, result.Pages)
		assert.Equal(t, 5, result.Records)
		assert.Equal(t, []string{"tok-a", "tok-b", ""}, store.stagedTokens())
	})

	t.Run("it stops at the page budget and leaves the cursor in progress", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(
			pageWithOrders("", 2, "tok-a"),
			pageWithOrders("tok-a", 2, "tok-b"),
			pageWithOrders("tok-b", 2, "tok-c"),
		)
		store := newMemStore()
		svc := serviceWith(t, api, store, ingest.WithPagesPerRun(2))

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, result.Pages)
		assert.False(t, result.Exhausted)
		token, present := store.cursor()
		require.True(t, present, "cursor must survive a budget-bounded run")
		assert.Equal(t, "tok-b", token)
	})

	t.Run("it marks backfill done on natural exhaustion", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 1, ""))
		store := newMemStore()
		svc := serviceWith(t, api, store)

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		require.NoError(t, err)
		assert.True(t, result.Exhausted)
		assert.True(t, store.isBackfillDone())
		_, present := store.cursor()
		assert.False(t, present, "exhaustion must clear the cursor")
	})

	t.Run("it clears the cursor when reset is requested", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 1, ""))
		store := newMemStore()
		store.setCursor("stale-token")
		svc := serviceWith(t, api, store)

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{Reset: true})

		// Assert
		require.NoError(t, err)
		assert.False(t, result.Resumed, "a reset run starts from scratch")
		assert.True(t, api.requests()[0].PageToken == "", "reset run must not reuse the stale token")
	})

	t.Run("it skips when the tenant lock is held", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 1, ""))
		store := newMemStore()
		store.holdLock(testDomain)
		svc := serviceWith(t, api, store)

		// Act
		_, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		assert.ErrorIs(t, err, ingest.ErrRunInProgress)
		assert.Empty(t, api.requests(), "a skipped run must not touch the upstream")
	})

	t.Run("it keeps committed pages when a later fetch fails", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 2, "tok-a"))
		// tok-a is not scripted, so the second fetch fails.
		store := newMemStore()
		svc := serviceWith(t, api, store)

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		assert.ErrorIs(t, err, ingest.ErrFetchFailed)
		assert.Equal(t, 1, result.Pages)
		token, present := store.cursor()
		require.True(t, present)
		assert.Equal(t, "tok-a", token, "the next run must resume after the committed page")
	})

	t.Run("it runs the transform after staging records", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 2, ""))
		store := newMemStore()
		transform := &fakeTransformer{summary: ingest.TransformSummary{Orders: 2, Items: 4}}
		svc := serviceWith(t, api, store, ingest.WithTransformer(transform))

		// Act
		result, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{testDomain}, transform.calls())
		assert.Equal(t, 2, result.Transform.Orders)
		assert.Equal(t, 4, result.Transform.Items)
	})

	t.Run("it skips the transform when nothing was staged", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 0, ""))
		store := newMemStore()
		transform := &fakeTransformer{}
		svc := serviceWith(t, api, store, ingest.WithTransformer(transform))

		// Act
		_, err := svc.RunStore(t.Context(), testDomain, ingest.RunOptions{})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, transform.calls())
	})

	t.Run("it rejects an unknown store", func(t *testing.T) {
		t.Parallel()

		// Arrange
		svc := serviceWith(t, apiServing(), newMemStore())

		// Act
		_, err := svc.RunStore(t.Context(), "nobody.myshopify.com", ingest.RunOptions{})

		// Assert
		assert.ErrorIs(t, err, ingest.ErrUnknownStore)
	})
}

// TestServiceTickBehavior tests the round-robin scheduler step
func TestServiceTickBehavior(t *testing.T) {
	t.Parallel()

	t.Run("it visits every tenant exactly once over a full rotation", func(t *testing.T) {
		t.Parallel()

		// Arrange
		domains := []string{"a.myshopify.com", "b.myshopify.com", "c.myshopify.com"}
		api := apiAlwaysEmpty()
		store := newMemStore()
		svc := serviceForDomains(t, domains, api, store)

		// Act
		var visited []string
		for range domains {
			result, err := svc.Tick(t.Context())
			require.NoError(t, err)
			visited = append(visited, result.StoreDomain)
		}

		// Assert
		assert.Equal(t, domains, visited)
		assert.Equal(t, 0, store.schedulePosition(), "position wraps after a full rotation")
	})

	t.Run("it advances the position even when the run fails", func(t *testing.T) {
		t.Parallel()

		// Arrange
		domains := []string{"a.myshopify.com", "b.myshopify.com"}
		api := apiServing() // nothing scripted: every fetch fails
		store := newMemStore()
		svc := serviceForDomains(t, domains, api, store)

		// Act
		_, err := svc.Tick(t.Context())

		// Assert
		assert.ErrorIs(t, err, ingest.ErrFetchFailed)
		assert.Equal(t, 1, store.schedulePosition(), "a broken tenant must not starve the rotation")
	})
}

// Test constants and builders

const testDomain = "acme.myshopify.com"

func orderPayload(id int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%d,"created_at":"2025-06-15T10:00:00Z","total_price":"10.00"}`, id))
}

// pageWithOrders scripts one upstream page, keyed by the token the client is
// expected to present ("" for a date-filtered first page).
func pageWithOrders(forToken string, count int, nextToken string) scriptedPage {
	records := make([]json.RawMessage, count)
	for i := range records {
		records[i] = orderPayload(i + 1)
	}
	return scriptedPage{forToken: forToken, page: shopify.OrdersPage{Records: records, NextPageToken: nextToken}}
}

type scriptedPage struct {
	forToken string
	page     shopify.OrdersPage
}

// fakeAPI serves scripted pages keyed by the presented continuation token.
type fakeAPI struct {
	mu    sync.Mutex
	pages map[string]shopify.OrdersPage
	reqs  []shopify.OrdersRequest
	empty bool
}

func apiServing(pages ...scriptedPage) *fakeAPI {
	api := &fakeAPI{pages: make(map[string]shopify.OrdersPage)}
	for _, p := range pages {
		api.pages[p.forToken] = p.page
	}
	return api
}

func apiAlwaysEmpty() *fakeAPI {
	return &fakeAPI{pages: map[string]shopify.OrdersPage{}, empty: true}
}

func (f *fakeAPI) ListOrders(_ context.Context, _ shopify.Credentials, req shopify.OrdersRequest) (*shopify.OrdersPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)

	if f.empty {
		return &shopify.OrdersPage{}, nil
	}
	page, ok := f.pages[req.PageToken]
	if !ok {
		return nil, fmt.Errorf("%w: no page scripted for token %q", shopify.ErrUpstreamStatus, req.PageToken)
	}
	return &page, nil
}

func (f *fakeAPI) requests() []shopify.OrdersRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shopify.OrdersRequest(nil), f.reqs...)
}

// memStore is an in-memory implementation of the staging, state, schedule
// and lock interfaces, mirroring the transactional per-page checkpoint of
// the real store.
type memStore struct {
	mu           sync.Mutex
	tokens       map[string]string
	backfillDone map[string]bool
	staged       []ingest.StagedPage
	position     int
	held         map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		tokens:       make(map[string]string),
		backfillDone: make(map[string]bool),
		held:         make(map[string]bool),
	}
}

func (m *memStore) StagePage(_ context.Context, page ingest.StagedPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = append(m.staged, page)
	if page.NextPageToken == "" {
		delete(m.tokens, page.StoreDomain)
	} else {
		m.tokens[page.StoreDomain] = page.NextPageToken
	}
	return nil
}

func (m *memStore) Cursor(_ context.Context, domain string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, present := m.tokens[domain]
	return token, present, nil
}

func (m *memStore) ClearCursor(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, domain)
	return nil
}

func (m *memStore) BackfillDone(_ context.Context, domain string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backfillDone[domain], nil
}

func (m *memStore) MarkBackfillDone(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfillDone[domain] = true
	return nil
}

func (m *memStore) Position(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, nil
}

func (m *memStore) SetPosition(_ context.Context, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = position
	return nil
}

func (m *memStore) TryAcquire(_ context.Context, domain string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[domain] {
		return nil, false, nil
	}
	m.held[domain] = true
	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, domain)
	}
	return release, true, nil
}

func (m *memStore) setCursor(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[testDomain] = token
}

func (m *memStore) cursor() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, present := m.tokens[testDomain]
	return token, present
}

func (m *memStore) isBackfillDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backfillDone[testDomain]
}

func (m *memStore) holdLock(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[domain] = true
}

func (m *memStore) schedulePosition() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *memStore) stagedTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := make([]string, len(m.staged))
	for i, page := range m.staged {
		tokens[i] = page.NextPageToken
	}
	return tokens
}

// fakeTransformer records the stores it was asked to transform.
type fakeTransformer struct {
	mu      sync.Mutex
	stores  []string
	summary ingest.TransformSummary
}

func (f *fakeTransformer) TransformStore(_ context.Context, domain string) (ingest.TransformSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores = append(f.stores, domain)
	return f.summary, nil
}

func (f *fakeTransformer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stores...)
}

func serviceWith(t *testing.T, api *fakeAPI, store *memStore, opts ...ingest.Option) *ingest.Service {
	t.Helper()
	return serviceForDomains(t, []string{testDomain}, api, store, opts...)
}

func serviceForDomains(t *testing.T, domains []string, api *fakeAPI, store *memStore, opts ...ingest.Option) *ingest.Service {
	t.Helper()
	stores := make([]ingest.Store, len(domains))
	for i, domain := range domains {
		stores[i] = ingest.Store{Domain: domain, AccessToken: "shpat_test_token"}
	}
	registry, err := ingest.NewRegistry(stores)
	require.NoError(t, err)
	return ingest.NewService(registry, api, store, store, store, store, opts...)
}

func assertFirstRequestDateFiltered(t *testing.T, api *fakeAPI, windowDays int) {
	t.Helper()
	reqs := api.requests()
	require.NotEmpty(t, reqs)
	assert.Empty(t, reqs[0].PageToken)
	expected := time.Now().AddDate(0, 0, -windowDays)
	assert.WithinDuration(t, expected, reqs[0].CreatedAtMin, time.Minute)
}
