package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/merchfeed/merchfeed/pkg/clock"
	"github.com/merchfeed/merchfeed/pkg/shopify"
)

// Option configures the Service
// ------------------------------------------------
type Option func(*Service)

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPagesPerRun bounds the pages fetched by one run, so every invocation
// finishes inside its wall-clock budget and defers the remainder via the
// persisted cursor.
func WithPagesPerRun(n int) Option {
	return func(s *Service) { s.pagesPerRun = n }
}

// WithPageSize sets the records requested per page.
func WithPageSize(n int) Option {
	return func(s *Service) { s.pageSize = n }
}

// WithWindowDays sets the default history window for first pages.
func WithWindowDays(n int) Option {
	return func(s *Service) { s.windowDays = n }
}

// WithTransformer attaches the staging-to-normalized transform, run after
// each ingestion that staged records.
func WithTransformer(t Transformer) Option {
	return func(s *Service) { s.transform = t }
}

// Service runs bounded, resumable ingestion for the configured tenants
// --------------------------------------------------------------------
type Service struct {
	registry *Registry
	api      Fetcher
	staging  StagingStore
	state    StateStore
	schedule ScheduleStore
	locks    RunLocker

	transform   Transformer
	clock       Clock
	pagesPerRun int
	pageSize    int
	windowDays  int
}

// NewService constructs a Service with required dependencies and options.
func NewService(
	registry *Registry,
	api Fetcher,
	staging StagingStore,
	state StateStore,
	schedule ScheduleStore,
	locks RunLocker,
	opts ...Option,
) *Service {
	s := &Service{
		registry:    registry,
		api:         api,
		staging:     staging,
		state:       state,
		schedule:    schedule,
		locks:       locks,
		clock:       clock.SystemClock{},
		pagesPerRun: DefaultPagesPerRun,
		pageSize:    DefaultPageSize,
		windowDays:  DefaultWindowDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the tenant set, mainly for diagnostics.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Tick runs exactly one tenant's bounded ingestion and advances the
// round-robin position. Over N consecutive ticks every one of N tenants is
// visited exactly once. The position advances even when the run fails, so
// one broken tenant cannot starve the rotation.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	stores := s.registry.All()
	if len(stores) == 0 {
		return TickResult{}, ErrNoStores
	}

	position, err := s.schedule.Position(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}

	store := PickStore(stores, position)
	result, runErr := s.runStore(ctx, store, RunOptions{})

	if err := s.schedule.SetPosition(ctx, NextPosition(position, len(stores))); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("%w: %w", ErrScheduleFailed, err))
	}

	return TickResult{Position: position, RunResult: result}, runErr
}

// RunStore runs one bounded ingestion for the named tenant.
func (s *Service) RunStore(ctx context.Context, domain string, opts RunOptions) (RunResult, error) {
	store, ok := s.registry.Lookup(domain)
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %q", ErrUnknownStore, domain)
	}
	return s.runStore(ctx, store, opts)
}

// RunAll runs one bounded ingestion for every tenant in registration order.
// Tenants are independent: a failed run never stops the others, and all
// failures come back joined.
func (s *Service) RunAll(ctx context.Context, opts RunOptions) ([]RunResult, error) {
	var (
		results []RunResult
		errs    error
	)
	for _, store := range s.registry.All() {
		result, err := s.runStore(ctx, store, opts)
		results = append(results, result)
		if err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return results, errs
}

// runStore is the bounded ingestion core. Each successful page commits its
// records and its new resume token atomically before the next page is
// requested, so a crash after page N resumes from page N+1.
func (s *Service) runStore(ctx context.Context, store Store, opts RunOptions) (RunResult, error) {
	result := RunResult{StoreDomain: store.Domain}

	release, acquired, err := s.locks.TryAcquire(ctx, store.Domain)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	if !acquired {
		return result, fmt.Errorf("%w: %s", ErrRunInProgress, store.Domain)
	}
	defer release()

	if opts.Reset {
		if err := s.state.ClearCursor(ctx, store.Domain); err != nil {
			return result, fmt.Errorf("%w: %w", ErrCursorReset, err)
		}
	}

	token, present, err := s.state.Cursor(ctx, store.Domain)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrCursorRetrieval, err)
	}
	result.Resumed = present

	windowDays := opts.WindowDays
	if windowDays <= 0 {
		windowDays = s.windowDays
	}

	for page := 0; page < s.pagesPerRun; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		req := shopify.OrdersRequest{PageSize: s.pageSize}
		if present {
			req.PageToken = token
		} else {
			req.CreatedAtMin = s.clock.Now().AddDate(0, 0, -windowDays)
		}

		fetched, err := s.api.ListOrders(ctx, store.Credentials(), req)
		if err != nil {
			// Pages committed so far stay committed; the persisted cursor
			// lets the next invocation pick up right here.
			return result, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}

		records := make([]StagingRecord, len(fetched.Records))
		for i, raw := range fetched.Records {
			records[i] = NewOrderRecord(store.Domain, raw, s.clock.Now())
		}

		staged := StagedPage{
			StoreDomain:   store.Domain,
			Records:       records,
			NextPageToken: fetched.NextPageToken,
		}
		if err := s.staging.StagePage(ctx, staged); err != nil {
			return result, fmt.Errorf("%w: %w", ErrStagePageFailed, err)
		}

		result.Pages++
		result.Records += len(records)

		token = fetched.NextPageToken
		present = token != ""
		if !present {
			result.Exhausted = true
			break
		}
	}

	if result.Exhausted {
		if err := s.markBackfillDone(ctx, store.Domain); err != nil {
			return result, err
		}
	}

	if s.transform != nil && result.Records > 0 {
		summary, err := s.transform.TransformStore(ctx, store.Domain)
		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrTransformFailed, err)
		}
		result.Transform = summary
	}

	return result, nil
}

// markBackfillDone sets the one-time flag on first natural exhaustion.
func (s *Service) markBackfillDone(ctx context.Context, domain string) error {
	done, err := s.state.BackfillDone(ctx, domain)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackfillFlag, err)
	}
	if done {
		return nil
	}
	if err := s.state.MarkBackfillDone(ctx, domain); err != nil {
		return fmt.Errorf("%w: %w", ErrBackfillFlag, err)
	}
	return nil
}
