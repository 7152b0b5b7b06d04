// Package alert dispatches failure notifications through a pluggable sink.
// A sink failure must never mask the original error: callers log it and move on.
package alert

import (
	"context"
	"time"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Alert is one outbound failure notification.
type Alert struct {
	Severity    Severity
	StoreDomain string // empty for process-wide failures
	Subject     string
	Body        string
	OccurredAt  time.Time
}

// Sink delivers alerts. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// Nop is a Sink that discards every alert. Used when no sink is configured.
type Nop struct{}

func (Nop) Send(context.Context, Alert) error { return nil }
