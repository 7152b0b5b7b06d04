package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/pkg/httpkit"
	"github.com/merchfeed/merchfeed/web/api"
	"github.com/merchfeed/merchfeed/web/handler/bind"
)

const (
	GetCursorRoute    = http.MethodGet + " " + "/ingest/cursors/{store}"
	DeleteCursorRoute = http.MethodDelete + " " + "/ingest/cursors/{store}"
)

// Sentinel errors
var (
	ErrCursorLookupFailed = errors.New("cursor lookup failed")
	ErrCursorResetFailed  = errors.New("cursor reset failed")
)

// TenantLookup reports whether a domain is a configured tenant.
type TenantLookup interface {
	Lookup(domain string) (ingest.Store, bool)
}

// IngestCursor exposes the per-tenant cursor state machine: read the derived
// state, or reset a tenant back to NotStarted.
type IngestCursor struct {
	tenants TenantLookup
	state   ingest.StateStore
}

func NewIngestCursor(tenants TenantLookup, state ingest.StateStore) *IngestCursor {
	return &IngestCursor{
		tenants: tenants,
		state:   state,
	}
}

func (h *IngestCursor) AddRoutes(m *http.ServeMux) {
	m.Handle(GetCursorRoute, httpkit.HandlerFunc(h.GetCursor))
	m.Handle(DeleteCursorRoute, httpkit.HandlerFunc(h.DeleteCursor))
}

// GetCursor returns the tenant's derived cursor state.
func (h *IngestCursor) GetCursor(w http.ResponseWriter, r *http.Request) http.HandlerFunc {
	store, errResp := h.resolveStore(r)
	if errResp != nil {
		return errResp
	}

	tokenPresent, backfillDone, err := h.cursorState(r.Context(), store)
	if err != nil {
		return httpkit.JSONError(api.InternalServerError(fmt.Errorf("%w: %w", ErrCursorLookupFailed, err)))
	}

	return httpkit.JSON(bind.CursorResponse(store, tokenPresent, backfillDone))
}

// DeleteCursor resets the tenant to NotStarted. The next run re-walks the
// history window from its date-filtered first page.
func (h *IngestCursor) DeleteCursor(w http.ResponseWriter, r *http.Request) http.HandlerFunc {
	store, errResp := h.resolveStore(r)
	if errResp != nil {
		return errResp
	}

	if err := h.state.ClearCursor(r.Context(), store); err != nil {
		return httpkit.JSONError(api.InternalServerError(fmt.Errorf("%w: %w", ErrCursorResetFailed, err)))
	}

	return httpkit.NoContent()
}

// resolveStore binds and validates the {store} path segment against the
// tenant registry. The second return value is the error response to send,
// nil when resolution succeeded.
func (h *IngestCursor) resolveStore(r *http.Request) (string, http.HandlerFunc) {
	store, err := bind.CursorStorePath(r)
	if err != nil {
		return "", httpkit.JSONError(api.BadRequest(err))
	}
	if _, ok := h.tenants.Lookup(store); !ok {
		return "", httpkit.JSONError(api.NotFound(ingest.ErrUnknownStore))
	}
	return store, nil
}

func (h *IngestCursor) cursorState(ctx context.Context, store string) (tokenPresent, backfillDone bool, err error) {
	_, tokenPresent, err = h.state.Cursor(ctx, store)
	if err != nil {
		return false, false, err
	}
	backfillDone, err = h.state.BackfillDone(ctx, store)
	if err != nil {
		return false, false, err
	}
	return tokenPresent, backfillDone, nil
}
