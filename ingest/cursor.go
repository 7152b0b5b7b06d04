package ingest

// CursorState is the per-tenant pagination state machine:
//
//	NotStarted -> InProgress -> Exhausted
//
// NotStarted: no token persisted, the next run issues a date-filtered query.
// InProgress: a token is persisted, the next run resumes exactly there.
// Exhausted: the history window was walked to the end; no token remains and
// the one-time backfill flag is set. A manual reset returns any state to
// NotStarted.
type CursorState string

const (
	CursorNotStarted CursorState = "not_started"
	CursorInProgress CursorState = "in_progress"
	CursorExhausted  CursorState = "exhausted"
)

// DeriveCursorState maps the durable per-tenant state onto the state machine.
// Only the token and the backfill flag are persisted; the state itself is
// always derived, never stored.
func DeriveCursorState(tokenPresent, backfillDone bool) CursorState {
	switch {
	case tokenPresent:
		return CursorInProgress
	case backfillDone:
		return CursorExhausted
	default:
		return CursorNotStarted
	}
}
