package api

// RunRequest represents the body of POST /ingest/runs
type RunRequest struct {
	Store string `json:"store"` // Optional: single store domain; empty runs every tenant
	Days  int    `json:"days"`  // Optional days-back window (default: 90)
	Reset bool   `json:"reset"` // Clear the persisted cursor before running
}

// RunResult represents one tenant's outcome in a run response
type RunResult struct {
	Store     string `json:"store"`
	Pages     int    `json:"pages"`
	Records   int    `json:"records"`
	Exhausted bool   `json:"exhausted"`
	Resumed   bool   `json:"resumed"`
	Orders    int    `json:"orders"`
	Items     int    `json:"items"`
	Skipped   int    `json:"skipped"`
}

// RunResponse represents the API response for POST /ingest/runs
type RunResponse struct {
	Data []RunResult `json:"data"`
}

// BackfillRequest represents the body of POST /ingest/backfills
type BackfillRequest struct {
	Store string `json:"store"` // Optional: single store domain; empty backfills every tenant
	Days  int    `json:"days"`  // Optional days-back window (default: 90)
	Reset bool   `json:"reset"` // Clear the persisted cursor before the first iteration
}

// BackfillResult represents one tenant's outcome in a backfill response
type BackfillResult struct {
	Store      string `json:"store"`
	Iterations int    `json:"iterations"`
	Pages      int    `json:"pages"`
	Records    int    `json:"records"`
	Completed  bool   `json:"completed"`
}

// BackfillResponse represents the API response for POST /ingest/backfills
type BackfillResponse struct {
	Data []BackfillResult `json:"data"`
}

// CursorResponse represents the API response for GET /ingest/cursors/{store}
type CursorResponse struct {
	Store        string `json:"store"`
	State        string `json:"state"` // not_started | in_progress | exhausted
	TokenPresent bool   `json:"token_present"`
	BackfillDone bool   `json:"backfill_done"`
}

// TenantHealth represents one tenant's slice of the health response
type TenantHealth struct {
	Store         string `json:"store"`
	CursorState   string `json:"cursor_state"`
	BackfillDone  bool   `json:"backfill_done"`
	StagedRecords *int64 `json:"staged_records,omitempty"`
	Orders        *int64 `json:"orders,omitempty"`
	LastOrderAt   string `json:"last_order_at,omitempty"`
}

// HealthResponse represents the API response for GET /health
type HealthResponse struct {
	Status           string         `json:"status"` // ok | degraded
	SchedulePosition int            `json:"schedule_position"`
	Tenants          []TenantHealth `json:"tenants"`
}
