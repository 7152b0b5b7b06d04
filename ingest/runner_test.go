package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/pkg/alert"
)

// TestRunnerEventEmission tests the scheduled loop's observability
func TestRunnerEventEmission(t *testing.T) {
	t.Parallel()

	t.Run("it emits started and tick-completed events", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 2, ""))
		store := newMemStore()
		clock, runner := tickControlledRunner(t, api, store)

		// Act
		events, _ := runner.Start(t.Context())
		started := nextEvent[ingest.RunnerStarted](t, events)
		clock.tick <- time.Now()
		completed := nextEvent[ingest.TickCompleted](t, events)

		// Assert
		assert.Equal(t, 1, started.Stores)
		assert.Equal(t, testDomain, completed.Result.StoreDomain)
		assert.Equal(t, 2, completed.Result.Records)
	})

	t.Run("it emits a skipped event on lock contention", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing(pageWithOrders("", 1, ""))
		store := newMemStore()
		store.holdLock(testDomain)
		clock, runner := tickControlledRunner(t, api, store)

		// Act
		events, _ := runner.Start(t.Context())
		nextEvent[ingest.RunnerStarted](t, events)
		clock.tick <- time.Now()
		skipped := nextEvent[ingest.TickSkipped](t, events)

		// Assert
		assert.Equal(t, testDomain, skipped.StoreDomain)
		assert.Empty(t, api.requests())
	})

	t.Run("it alerts on a fatal tick failure", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing() // nothing scripted: every fetch fails
		store := newMemStore()
		sink := &capturingSink{}
		clock, runner := tickControlledRunner(t, api, store, ingest.WithAlertSink(sink))

		// Act
		events, _ := runner.Start(t.Context())
		nextEvent[ingest.RunnerStarted](t, events)
		clock.tick <- time.Now()
		failed := nextEvent[ingest.TickFailed](t, events)

		// Assert
		assert.ErrorIs(t, failed.Err, ingest.ErrFetchFailed)
		require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, 5*time.Second, 10*time.Millisecond,
			"the fatal failure must reach the alert sink")
		alerts := sink.sent()
		assert.Equal(t, alert.SeverityError, alerts[0].Severity)
		assert.Equal(t, testDomain, alerts[0].StoreDomain)
	})

	t.Run("it reports a failing alert sink without escalating", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiServing()
		store := newMemStore()
		sink := &capturingSink{err: errors.New("smtp unreachable")}
		clock, runner := tickControlledRunner(t, api, store, ingest.WithAlertSink(sink))

		// Act
		events, _ := runner.Start(t.Context())
		nextEvent[ingest.RunnerStarted](t, events)
		clock.tick <- time.Now()
		nextEvent[ingest.TickFailed](t, events)
		dropped := nextEvent[ingest.AlertDropped](t, events)

		// Assert
		assert.Equal(t, testDomain, dropped.StoreDomain)
		assert.ErrorContains(t, dropped.Err, "smtp unreachable")
	})

	t.Run("it shuts down cleanly when the context is cancelled", func(t *testing.T) {
		t.Parallel()

		// Arrange
		api := apiAlwaysEmpty()
		store := newMemStore()
		_, runner := tickControlledRunner(t, api, store)
		ctx, cancel := context.WithCancel(t.Context())

		// Act
		events, done := runner.Start(ctx)
		nextEvent[ingest.RunnerStarted](t, events)
		cancel()
		shutdown := nextEvent[ingest.RunnerShutdown](t, events)
		<-done

		// Assert
		assert.ErrorIs(t, shutdown.Reason, context.Canceled)
	})
}

// fakeClock drives ticks by hand; After always returns the shared channel.
type fakeClock struct {
	tick chan time.Time
}

func (f *fakeClock) After(time.Duration) <-chan time.Time { return f.tick }
func (f *fakeClock) Now() time.Time                       { return time.Now() }

func tickControlledRunner(t *testing.T, api *fakeAPI, store *memStore, opts ...ingest.RunnerOption) (*fakeClock, *ingest.Runner) {
	t.Helper()
	clock := &fakeClock{tick: make(chan time.Time, 10)}
	svc := serviceWith(t, api, store)
	opts = append([]ingest.RunnerOption{ingest.WithRunnerClock(clock)}, opts...)
	return clock, ingest.NewRunner(svc, opts...)
}

// nextEvent reads events until one of the wanted type arrives.
func nextEvent[E ingest.Event](t *testing.T, events <-chan ingest.Event) E {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events channel closed before the expected event")
			if e, match := ev.(E); match {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %T", *new(E))
		}
	}
}

type capturingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
	err    error
}

func (s *capturingSink) Send(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *capturingSink) sent() []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Alert(nil), s.alerts...)
}
