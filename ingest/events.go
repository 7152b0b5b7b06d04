package ingest

import (
	"time"
)

// Event represents a pipeline lifecycle event
// -------------------------------------------
type Event any

// RunnerStarted is emitted once when the scheduled loop begins.
type RunnerStarted struct {
	Interval time.Duration
	Stores   int
}

// TickCompleted is emitted after a successful scheduled run.
type TickCompleted struct {
	Result TickResult
}

// TickSkipped is emitted when a tick found its tenant already locked by a
// concurrent run.
type TickSkipped struct {
	StoreDomain string
}

// TickFailed is emitted when a scheduled run fails fatally.
type TickFailed struct {
	StoreDomain string
	Err         error
}

// AlertDropped is emitted when dispatching a failure alert itself failed.
// It is informational only: a sink failure never masks the original error.
type AlertDropped struct {
	StoreDomain string
	Err         error
}

// RunnerShutdown is emitted when the loop stops.
type RunnerShutdown struct {
	Reason error // why shutdown occurred (ctx.Err())
}
