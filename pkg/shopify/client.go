// Package shopify implements the upstream commerce API client: authenticated,
// cursor-paginated order listing with rate limiting and bounded retry.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/merchfeed/merchfeed/pkg/retry"
)

// Sentinel errors for client failure cases
var (
	ErrRequestFailed   = errors.New("orders request failed")
	ErrMalformedBody   = errors.New("malformed orders response")
	ErrUpstreamStatus  = errors.New("unexpected upstream status")
	ErrMissingToken    = errors.New("access token is required")
	ErrRateLimited     = errors.New("upstream rate limit exceeded")
	ErrUpstreamFailure = errors.New("upstream server failure")
)

// Default client values
const (
	DefaultAPIVersion     = "2024-10"
	DefaultPageSize       = 250
	DefaultRequestsPerSec = 2

	accessTokenHeader = "X-Shopify-Access-Token"
)

// Credentials identify one storefront against the upstream API.
type Credentials struct {
	// Domain is the bare storefront host, e.g. "acme.myshopify.com".
	Domain string
	// AccessToken is the private app admin token for that storefront.
	AccessToken string
}

// OrdersRequest describes one page request. Exactly one of CreatedAtMin or
// PageToken drives the query: the first page of a window is date-filtered,
// every subsequent page carries only the continuation token.
type OrdersRequest struct {
	CreatedAtMin time.Time
	PageToken    string
	PageSize     int
}

// OrdersPage is one fetched page of raw order documents. NextPageToken is
// empty when the window is exhausted.
type OrdersPage struct {
	Records       []json.RawMessage
	NextPageToken string
}

// StatusError is returned for non-2xx upstream responses. RetryAfter carries
// the server-provided retry hint, when present.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// Transient reports whether the status is worth retrying (429 or 5xx).
// Every other non-2xx status is fatal for the tenant's run.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// IsTransient reports whether err represents a retryable upstream condition.
func IsTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	// Network-level failures (resets, timeouts) surface as url.Error.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Client is the upstream commerce API client. One client serves every
// configured storefront; credentials are supplied per call.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	apiVersion string
	scheme     string
}

// Option configures the Client.
type Option func(*Client)

// WithAPIVersion overrides the admin API version segment.
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRequestsPerSecond overrides the client-side rate limit.
func WithRequestsPerSecond(n float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(n), 1) }
}

// WithInsecureHTTP switches to plain http. Used by tests against httptest servers.
func WithInsecureHTTP() Option {
	return func(c *Client) { c.scheme = "http" }
}

// NewClient creates a commerce API client with the given HTTP client.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSec), 1),
		policy:     retry.NewPolicy(IsTransient),
		apiVersion: DefaultAPIVersion,
		scheme:     "https",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ordersEnvelope is the wire shape of the orders-list response.
type ordersEnvelope struct {
	Orders []json.RawMessage `json:"orders"`
}

// ListOrders fetches one page of orders for the storefront. Transient upstream
// failures (429, 5xx, connection errors) are retried under the client policy,
// honoring any Retry-After hint; other non-2xx statuses and malformed bodies
// are returned as-is so the caller can abort the tenant's run.
func (c *Client) ListOrders(ctx context.Context, creds Credentials, req OrdersRequest) (*OrdersPage, error) {
	if creds.AccessToken == "" {
		return nil, ErrMissingToken
	}

	var page *OrdersPage
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = c.listOrdersOnce(ctx, creds, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	return page, nil
}

func (c *Client) listOrdersOnce(ctx context.Context, creds Credentials, req OrdersRequest) (*OrdersPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ordersURL(creds.Domain, req), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set(accessTokenHeader, creds.AccessToken)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining to reuse the connection
		return nil, statusError(resp)
	}

	var envelope ordersEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	return &OrdersPage{
		Records:       envelope.Orders,
		NextPageToken: NextPageToken(resp.Header.Get("Link")),
	}, nil
}

// ordersURL builds the page URL. A present continuation token replaces the
// date filter entirely: the token already encodes the query.
func (c *Client) ordersURL(domain string, req OrdersRequest) string {
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	if req.PageToken != "" {
		q.Set("page_info", req.PageToken)
	} else {
		q.Set("status", "any")
		if !req.CreatedAtMin.IsZero() {
			q.Set("created_at_min", req.CreatedAtMin.UTC().Format(time.RFC3339))
		}
	}

	return fmt.Sprintf("%s://%s/admin/api/%s/orders.json?%s", c.scheme, domain, c.apiVersion, q.Encode())
}

// statusError converts a non-2xx response into a StatusError, attaching the
// Retry-After hint for rate-limited responses.
func statusError(resp *http.Response) error {
	statusErr := &StatusError{Code: resp.StatusCode}

	if hint := resp.Header.Get("Retry-After"); hint != "" {
		if seconds, err := strconv.ParseFloat(hint, 64); err == nil && seconds > 0 {
			statusErr.RetryAfter = time.Duration(seconds * float64(time.Second))
		}
	}

	var classified error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		classified = fmt.Errorf("%w: %w", ErrRateLimited, statusErr)
	case resp.StatusCode >= http.StatusInternalServerError:
		classified = fmt.Errorf("%w: %w", ErrUpstreamFailure, statusErr)
	default:
		classified = fmt.Errorf("%w: %w", ErrUpstreamStatus, statusErr)
	}

	if statusErr.RetryAfter > 0 {
		return retry.After(statusErr.RetryAfter, classified)
	}
	return classified
}
