package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/merchfeed/merchfeed/pkg/shopify"
)

// Tenant configuration errors: all fatal, reported at startup, never retried.
var (
	ErrInvalidStoreSpec = errors.New("invalid store specification")
	ErrInvalidStore     = errors.New("invalid store configuration")
	ErrDuplicateStore   = errors.New("duplicate store domain")
)

// Store is one independently-credentialed storefront being ingested.
type Store struct {
	Domain      string `validate:"required,fqdn"`
	AccessToken string `validate:"required,min=8"`
}

// Credentials returns the upstream API credentials for this store.
func (s Store) Credentials() shopify.Credentials {
	return shopify.Credentials{Domain: s.Domain, AccessToken: s.AccessToken}
}

// Registry holds the validated, immutable set of tenant storefronts for a run.
type Registry struct {
	stores []Store
	byDom  map[string]Store
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewRegistry validates and normalizes the configured storefronts.
// Registration order is preserved: the round-robin rotation depends on it.
func NewRegistry(stores []Store) (*Registry, error) {
	if len(stores) == 0 {
		return nil, ErrNoStores
	}

	r := &Registry{
		stores: make([]Store, 0, len(stores)),
		byDom:  make(map[string]Store, len(stores)),
	}

	for _, store := range stores {
		store.Domain = NormalizeDomain(store.Domain)
		store.AccessToken = strings.TrimSpace(store.AccessToken)

		if err := validate.Struct(store); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidStore, store.Domain, err)
		}
		if _, exists := r.byDom[store.Domain]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStore, store.Domain)
		}

		r.stores = append(r.stores, store)
		r.byDom[store.Domain] = store
	}

	return r, nil
}

// All returns the stores in registration order.
func (r *Registry) All() []Store {
	return r.stores
}

// Lookup finds a store by its normalized domain.
func (r *Registry) Lookup(domain string) (Store, bool) {
	store, ok := r.byDom[NormalizeDomain(domain)]
	return store, ok
}

// Len returns the tenant count.
func (r *Registry) Len() int {
	return len(r.stores)
}

// NormalizeDomain lowercases a configured domain and strips scheme,
// path and surrounding whitespace, so "https://Acme.myshopify.com/"
// and "acme.myshopify.com" identify the same tenant.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	return domain
}

// ParseStores parses the configured storefront list. The format is a
// comma-separated list of domain=token pairs:
//
//	acme.myshopify.com=shpat_xxx,widgets.myshopify.com=shpat_yyy
func ParseStores(spec string) ([]Store, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, ErrNoStores
	}

	var stores []Store
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		domain, token, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("%w: %q is not domain=token", ErrInvalidStoreSpec, pair)
		}

		stores = append(stores, Store{Domain: domain, AccessToken: token})
	}

	if len(stores) == 0 {
		return nil, ErrNoStores
	}
	return stores, nil
}
