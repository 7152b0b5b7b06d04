package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/merchfeed/merchfeed/pkg/alert"
	"github.com/merchfeed/merchfeed/pkg/clock"
)

// RunnerOption configures the Runner.
type RunnerOption func(*Runner)

// WithTickInterval sets the delay between scheduler ticks.
func WithTickInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

// WithRunnerClock injects a custom Clock (e.g., for testing).
func WithRunnerClock(c Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithAlertSink sets the sink notified on fatal scheduled failures.
func WithAlertSink(sink alert.Sink) RunnerOption {
	return func(r *Runner) { r.alerts = sink }
}

// Runner drives the recurring round-robin schedule: one tenant per tick,
// fatal failures alerted, lock contention skipped quietly.
// -------------------------------------------------------------------------
type Runner struct {
	svc      *Service
	clock    Clock
	interval time.Duration
	alerts   alert.Sink
	events   chan Event
}

// NewRunner constructs a Runner with required dependencies and options.
func NewRunner(svc *Service, opts ...RunnerOption) *Runner {
	r := &Runner{
		svc:      svc,
		clock:    clock.SystemClock{},
		interval: DefaultTickInterval,
		alerts:   alert.Nop{},
		events:   make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the scheduled loop and returns the events channel and done
// channel.
//
// Shutdown pattern:
//  1. Cancel context to request shutdown: cancel()
//  2. Runner stops producing events and closes the events channel
//  3. Wait for complete shutdown: <-done
func (r *Runner) Start(ctx context.Context) (<-chan Event, <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		defer close(r.events)
		defer close(done)
		r.run(ctx)
	}()
	return r.events, done
}

func (r *Runner) run(ctx context.Context) {
	r.events <- RunnerStarted{Interval: r.interval, Stores: r.svc.Registry().Len()}

	for {
		select {
		case <-ctx.Done():
			r.events <- RunnerShutdown{Reason: ctx.Err()}
			return
		case <-r.clock.After(r.interval):
			result, err := r.svc.Tick(ctx)
			switch {
			case err == nil:
				r.events <- TickCompleted{Result: result}
			case errors.Is(err, ErrRunInProgress):
				r.events <- TickSkipped{StoreDomain: result.StoreDomain}
			default:
				r.events <- TickFailed{StoreDomain: result.StoreDomain, Err: err}
				r.dispatchAlert(ctx, result.StoreDomain, err)
			}
		}
	}
}

// dispatchAlert notifies the sink about a fatal scheduled failure. A sink
// failure is reported as its own event and otherwise swallowed, so it can
// never mask the original error.
func (r *Runner) dispatchAlert(ctx context.Context, storeDomain string, cause error) {
	a := alert.Alert{
		Severity:    alert.SeverityError,
		StoreDomain: storeDomain,
		Subject:     "scheduled ingestion run failed",
		Body:        fmt.Sprintf("The scheduled ingestion run failed fatally:\n\n%v", cause),
		OccurredAt:  r.clock.Now(),
	}
	if err := r.alerts.Send(ctx, a); err != nil {
		r.events <- AlertDropped{StoreDomain: storeDomain, Err: err}
	}
}
