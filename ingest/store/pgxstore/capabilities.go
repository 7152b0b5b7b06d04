package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchfeed/merchfeed/pkg/retry"
)

// ErrStagingSchema means the staging table is missing a required column.
var ErrStagingSchema = errors.New("staging table schema is unusable")

// Column sets for the staging table. Some deployments carry the optional
// provenance columns, some do not; the writer inserts only what exists.
var (
	requiredStagingColumns = []string{"id", "store_domain", "payload", "received_at"}
	optionalStagingColumns = []string{"channel", "source_kind"}
)

// capabilities resolves the deployment's staging column set once per
// process instead of scattering introspection through the write path.
// Only a successful resolution is cached: a transient failure on the
// first write must not poison every later one.
type capabilities struct {
	policy  retry.Policy
	resolve func(ctx context.Context) ([]string, error)

	mu      sync.Mutex
	columns []string
}

func newCapabilities(pool *pgxpool.Pool, policy retry.Policy) *capabilities {
	return &capabilities{
		policy: policy,
		resolve: func(ctx context.Context) ([]string, error) {
			return resolveStagingColumns(ctx, pool)
		},
	}
}

// stagingColumns returns the insertable column list in a stable order:
// required columns first, then whichever optional ones the table has.
func (c *capabilities) stagingColumns(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.columns != nil {
		return c.columns, nil
	}

	var columns []string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		columns, err = c.resolve(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.columns = columns
	return c.columns, nil
}

func resolveStagingColumns(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'staging_orders'
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStagingSchema, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStagingSchema, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStagingSchema, err)
	}

	columns := make([]string, 0, len(requiredStagingColumns)+len(optionalStagingColumns))
	for _, name := range requiredStagingColumns {
		if !present[name] {
			return nil, fmt.Errorf("%w: missing column %q", ErrStagingSchema, name)
		}
		columns = append(columns, name)
	}
	for _, name := range optionalStagingColumns {
		if present[name] {
			columns = append(columns, name)
		}
	}

	return columns, nil
}
