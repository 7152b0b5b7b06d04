package pgxstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchfeed/merchfeed/pkg/pgxdb"
	"github.com/merchfeed/merchfeed/pkg/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Retryable:   pgxdb.IsTransient,
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	connectionLost := &pgconn.PgError{Code: "08006", Message: "connection failure"}

	t.Run("it retries a transient resolution failure within one call", func(t *testing.T) {
		t.Parallel()

		// Arrange
		calls := 0
		caps := &capabilities{
			policy: testPolicy(),
			resolve: func(context.Context) ([]string, error) {
				calls++
				if calls == 1 {
					return nil, connectionLost
				}
				return requiredStagingColumns, nil
			},
		}

		// Act
		columns, err := caps.stagingColumns(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, requiredStagingColumns, columns)
		assert.Equal(t, 2, calls)
	})

	t.Run("it resolves again after an exhausted attempt budget", func(t *testing.T) {
		t.Parallel()

		// Arrange: every attempt of the first call fails, the next call succeeds.
		calls := 0
		caps := &capabilities{
			policy: testPolicy(),
			resolve: func(context.Context) ([]string, error) {
				calls++
				if calls <= 2 {
					return nil, connectionLost
				}
				return requiredStagingColumns, nil
			},
		}

		// Act
		_, firstErr := caps.stagingColumns(context.Background())
		columns, secondErr := caps.stagingColumns(context.Background())

		// Assert
		require.ErrorIs(t, firstErr, connectionLost)
		require.NoError(t, secondErr)
		assert.Equal(t, requiredStagingColumns, columns)
	})

	t.Run("it caches a successful resolution", func(t *testing.T) {
		t.Parallel()

		// Arrange
		calls := 0
		caps := &capabilities{
			policy: testPolicy(),
			resolve: func(context.Context) ([]string, error) {
				calls++
				return requiredStagingColumns, nil
			},
		}

		// Act
		_, err := caps.stagingColumns(context.Background())
		require.NoError(t, err)
		columns, err := caps.stagingColumns(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, requiredStagingColumns, columns)
		assert.Equal(t, 1, calls)
	})

	t.Run("it does not retry a schema error", func(t *testing.T) {
		t.Parallel()

		// Arrange: a missing column is permanent, not transient.
		schemaErr := errors.New("staging table schema is unusable: missing column \"payload\"")
		calls := 0
		caps := &capabilities{
			policy: testPolicy(),
			resolve: func(context.Context) ([]string, error) {
				calls++
				return nil, schemaErr
			},
		}

		// Act
		_, err := caps.stagingColumns(context.Background())

		// Assert
		require.ErrorIs(t, err, schemaErr)
		assert.Equal(t, 1, calls)
	})
}
