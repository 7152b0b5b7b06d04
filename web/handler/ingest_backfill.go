package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/pkg/httpkit"
	"github.com/merchfeed/merchfeed/web/api"
	"github.com/merchfeed/merchfeed/web/handler/bind"
)

const PostBackfillRoute = http.MethodPost + " " + "/ingest/backfills"

// Sentinel errors
var (
	ErrBackfillFailed  = errors.New("backfill failed")
	ErrMissingToken    = errors.New("missing bearer token")
	ErrInvalidToken    = errors.New("invalid bearer token")
	ErrNoTokenRequired = errors.New("backfill endpoint has no token configured")
)

// BackfillService is the slice of the ingestion service the backfill
// endpoint needs.
type BackfillService interface {
	BackfillStore(ctx context.Context, domain string, opts ingest.BackfillOptions) (ingest.BackfillResult, error)
	BackfillAll(ctx context.Context, opts ingest.BackfillOptions) ([]ingest.BackfillResult, error)
}

// IngestPostBackfill protects the expensive iterative backfill behind a
// static bearer token, since a single request can drive hundreds of upstream
// page fetches.
type IngestPostBackfill struct {
	svc   BackfillService
	token string
}

func NewIngestPostBackfill(svc BackfillService, token string) *IngestPostBackfill {
	return &IngestPostBackfill{
		svc:   svc,
		token: token,
	}
}

func (h *IngestPostBackfill) AddRoutes(m *http.ServeMux) {
	m.Handle(PostBackfillRoute, httpkit.HandlerFunc(h.PostBackfill))
}

// PostBackfill runs an iterative backfill for a single store or every tenant.
func (h *IngestPostBackfill) PostBackfill(w http.ResponseWriter, r *http.Request) http.HandlerFunc {
	if err := h.authorize(r); err != nil {
		return httpkit.JSONError(api.Unauthorized(err))
	}

	req, err := bind.PostBackfillRequest(r)
	if err != nil {
		return httpkit.JSONError(api.BadRequest(err))
	}

	opts := ingest.BackfillOptions{WindowDays: req.Days, Reset: req.Reset}

	results, err := h.backfillRequested(r.Context(), req.Store, opts)
	if err != nil {
		return httpkit.JSONError(classifyBackfillError(err))
	}

	return httpkit.JSON(bind.BackfillResponse(results))
}

func (h *IngestPostBackfill) backfillRequested(ctx context.Context, store string, opts ingest.BackfillOptions) ([]ingest.BackfillResult, error) {
	if store != "" {
		result, err := h.svc.BackfillStore(ctx, store, opts)
		if err != nil {
			return nil, err
		}
		return []ingest.BackfillResult{result}, nil
	}
	return h.svc.BackfillAll(ctx, opts)
}

func (h *IngestPostBackfill) authorize(r *http.Request) error {
	if h.token == "" {
		// Refusing outright beats silently running unauthenticated.
		return ErrNoTokenRequired
	}

	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || presented == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

func classifyBackfillError(err error) *api.Error {
	switch {
	case errors.Is(err, ingest.ErrUnknownStore):
		return api.NotFound(ingest.ErrUnknownStore)
	case errors.Is(err, ingest.ErrRunInProgress):
		return api.Conflict(ingest.ErrRunInProgress)
	default:
		return api.InternalServerError(fmt.Errorf("%w: %w", ErrBackfillFailed, err))
	}
}
