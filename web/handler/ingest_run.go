// Package handler exposes the control and health endpoints of the ingestion
// daemon.
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

const PostRunRoute = http.MethodPost + " " + "/ingest/runs"

// Sentinel errors
var (
	ErrRunFailed = errors.New("ingestion run failed")
)

// RunService is the slice of the ingestion service the run endpoint needs.
type RunService interface {
	RunStore(ctx context.Context, domain string, opts ingest.RunOptions) (ingest.RunResult, error)
	RunAll(ctx context.Context, opts ingest.RunOptions) ([]ingest.RunResult, error)
}

type IngestPostRun struct {
	svc RunService
}

func NewIngestPostRun(svc RunService) *IngestPostRun {
	return &IngestPostRun{
		svc: svc,
	}
}

func (h *IngestPostRun) AddRoutes(m *http.ServeMux) {
	m.Handle(PostRunRoute, httpkit.HandlerFunc(h.PostRun))
}

// PostRun triggers one bounded ingestion run, for a single store or for every
// tenant in registration order.
func (h *IngestPostRun) PostRun(w http.ResponseWriter, r *http.Request) http.HandlerFunc {
	req, err := bind.PostRunRequest(r)
	if err != nil {
		return httpkit.JSONError(api.BadRequest(err))
	}

	opts := ingest.RunOptions{WindowDays: req.Days, Reset: req.Reset}

	results, err := h.runRequested(r.Context(), req.Store, opts)
	if err != nil {
		return httpkit.JSONError(classifyRunError(err))
	}

	return httpkit.JSON(bind.RunResponse(results))
}

func (h *IngestPostRun) runRequested(ctx context.Context, store string, opts ingest.RunOptions) ([]ingest.RunResult, error) {
	if store != "" {
		result, err := h.svc.RunStore(ctx, store, opts)
		if err != nil {
			return nil, err
		}
		return []ingest.RunResult{result}, nil
	}
	return h.svc.RunAll(ctx, opts)
}

// classifyRunError maps pipeline failures onto safe API errors. Concurrent
// runs report 409, unknown tenants 404, everything else stays internal.
func classifyRunError(err error) *api.Error {
	switch {
	case errors.Is(err, ingest.ErrUnknownStore):
		return api.NotFound(ingest.ErrUnknownStore)
	case errors.Is(err, ingest.ErrRunInProgress):
		return api.Conflict(ingest.ErrRunInProgress)
	default:
		return api.InternalServerError(fmt.Errorf("%w: %w", ErrRunFailed, err))
	}
}
