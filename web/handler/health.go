package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/pkg/httpkit"
	"github.com/merchfeed/merchfeed/web/api"
	"github.com/merchfeed/merchfeed/web/diag"
	"github.com/merchfeed/merchfeed/web/handler/bind"
)

const GetHealthRoute = http.MethodGet + " " + "/health"

// Sentinel errors
var (
	ErrHealthFailed = errors.New("health check failed")
)

// TenantList enumerates the configured tenants in registration order.
type TenantList interface {
	All() []ingest.Store
}

// Health reports the scheduler position and per-tenant pipeline state. The
// cheap state reads are authoritative; the volume counts are best effort and
// their failure only degrades the response.
type Health struct {
	tenants  TenantList
	state    ingest.StateStore
	schedule ingest.ScheduleStore
	counts   diag.CountsFinder
}

func NewHealth(tenants TenantList, state ingest.StateStore, schedule ingest.ScheduleStore, counts diag.CountsFinder) *Health {
	return &Health{
		tenants:  tenants,
		state:    state,
		schedule: schedule,
		counts:   counts,
	}
}

func (h *Health) AddRoutes(m *http.ServeMux) {
	m.Handle(GetHealthRoute, httpkit.HandlerFunc(h.GetHealth))
}

// GetHealth returns the pipeline diagnostics snapshot.
func (h *Health) GetHealth(w http.ResponseWriter, r *http.Request) http.HandlerFunc {
	ctx := r.Context()

	position, err := h.schedule.Position(ctx)
	if err != nil {
		return httpkit.JSONError(api.InternalServerError(fmt.Errorf("%w: %w", ErrHealthFailed, err)))
	}

	resp := api.HealthResponse{
		Status:           "ok",
		SchedulePosition: position,
		Tenants:          []api.TenantHealth{},
	}

	for _, store := range h.tenants.All() {
		tenant, degraded, err := h.tenantHealth(r, store.Domain)
		if err != nil {
			return httpkit.JSONError(api.InternalServerError(fmt.Errorf("%w: %w", ErrHealthFailed, err)))
		}
		if degraded {
			resp.Status = "degraded"
		}
		resp.Tenants = append(resp.Tenants, tenant)
	}

	return httpkit.JSON(resp)
}

// tenantHealth assembles one tenant's entry. Cursor-state failures are fatal;
// count failures leave the counts out and mark the response degraded.
func (h *Health) tenantHealth(r *http.Request, domain string) (api.TenantHealth, bool, error) {
	ctx := r.Context()

	_, tokenPresent, err := h.state.Cursor(ctx, domain)
	if err != nil {
		return api.TenantHealth{}, false, err
	}
	backfillDone, err := h.state.BackfillDone(ctx, domain)
	if err != nil {
		return api.TenantHealth{}, false, err
	}

	tenant := api.TenantHealth{
		Store:        domain,
		CursorState:  string(ingest.DeriveCursorState(tokenPresent, backfillDone)),
		BackfillDone: backfillDone,
	}

	counts, err := h.counts.TenantCounts(ctx, domain)
	if err != nil {
		return tenant, true, nil
	}

	tenant.StagedRecords = &counts.StagedRecords
	tenant.Orders = &counts.Orders
	tenant.LastOrderAt = bind.FormatTimestamp(counts.LastOrderAt)
	return tenant, false, nil
}
