// Package bind converts between HTTP requests/responses and the domain types.
package bind

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/web/api"
)

// Sentinel errors for request binding
var (
	ErrInvalidBody  = errors.New("invalid request body")
	ErrInvalidDays  = errors.New("invalid days parameter")
	ErrInvalidStore = errors.New("invalid store parameter")

	ErrDaysNegative = errors.New("days must not be negative")
	ErrDaysTooLarge = errors.New("days must be at most 3650")
	ErrStoreEmpty   = errors.New("store must not be empty")
)

// PostRunRequest binds the POST /ingest/runs body with defaults. An empty
// body is a run over every tenant with the default window.
func PostRunRequest(r *http.Request) (api.RunRequest, error) {
	var req api.RunRequest
	if err := decodeBody(r, &req); err != nil {
		return req, err
	}
	req.Store = ingest.NormalizeDomain(req.Store)
	if err := validateDays(req.Days); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidDays, err)
	}
	return req, nil
}

// PostBackfillRequest binds the POST /ingest/backfills body with defaults.
func PostBackfillRequest(r *http.Request) (api.BackfillRequest, error) {
	var req api.BackfillRequest
	if err := decodeBody(r, &req); err != nil {
		return req, err
	}
	req.Store = ingest.NormalizeDomain(req.Store)
	if err := validateDays(req.Days); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidDays, err)
	}
	return req, nil
}

// CursorStorePath binds the {store} path segment, normalized to a bare domain.
func CursorStorePath(r *http.Request) (string, error) {
	store := ingest.NormalizeDomain(r.PathValue("store"))
	if store == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidStore, ErrStoreEmpty)
	}
	return store, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil // empty body means all defaults
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return nil
}

func validateDays(days int) error {
	if days < 0 {
		return ErrDaysNegative
	}
	if days > 3650 {
		return ErrDaysTooLarge
	}
	return nil
}

// RunResponse binds run results to the API response format.
func RunResponse(results []ingest.RunResult) api.RunResponse {
	data := make([]api.RunResult, len(results))
	for i, res := range results {
		data[i] = api.RunResult{
			Store:     res.StoreDomain,
			Pages:     res.Pages,
			Records:   res.Records,
			Exhausted: res.Exhausted,
			Resumed:   res.Resumed,
			Orders:    res.Transform.Orders,
			Items:     res.Transform.Items,
			Skipped:   res.Transform.Skipped,
		}
	}
	return api.RunResponse{Data: data}
}

// BackfillResponse binds backfill results to the API response format.
func BackfillResponse(results []ingest.BackfillResult) api.BackfillResponse {
	data := make([]api.BackfillResult, len(results))
	for i, res := range results {
		data[i] = api.BackfillResult{
			Store:      res.StoreDomain,
			Iterations: res.Iterations,
			Pages:      res.Pages,
			Records:    res.Records,
			Completed:  res.Completed,
		}
	}
	return api.BackfillResponse{Data: data}
}

// CursorResponse binds cursor state to the API response format.
func CursorResponse(store string, tokenPresent, backfillDone bool) api.CursorResponse {
	state := ingest.DeriveCursorState(tokenPresent, backfillDone)
	return api.CursorResponse{
		Store:        store,
		State:        string(state),
		TokenPresent: tokenPresent,
		BackfillDone: backfillDone,
	}
}

// FormatTimestamp renders an optional timestamp for API responses.
func FormatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
