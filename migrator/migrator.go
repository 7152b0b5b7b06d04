// Package migrator applies the schema migrations and seeds reference data.
package migrator

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/peterldowns/pgtestdb"
	"github.com/peterldowns/pgtestdb/migrators/sqlmigrator"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/shopspring/decimal"
)

// Migration constants
const (
	migrationsTableName = "schema_migrations"
	schemaHashPrefix    = "schema_only_"

	costDateLayout = "2006-01-02"
)

// SQL queries
const (
	upsertCostScheduleSQL = `
		INSERT INTO cost_schedules (sku, unit_cost, effective_from, effective_to)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sku, effective_from) DO UPDATE SET
			unit_cost = EXCLUDED.unit_cost,
			effective_to = EXCLUDED.effective_to`
)

// Migration-related errors
var (
	ErrMigrationExecution = errors.New("migration execution failed")
	ErrCostSeedOperation  = errors.New("cost schedule seeding failed")
	ErrCostSeedFormat     = errors.New("malformed cost schedule row")
)

// SchemaMigrator applies only database schema migrations
// Used for production and tests that need schema-only setup
type SchemaMigrator struct {
	migrationsDir string
}

// NewSchemaMigrator creates a migrator that applies schema migrations only
func NewSchemaMigrator(migrationsDir string) *SchemaMigrator {
	return &SchemaMigrator{
		migrationsDir: migrationsDir,
	}
}

func (m *SchemaMigrator) Hash() (string, error) {
	source := &migrate.FileMigrationSource{Dir: m.migrationsDir}
	migrationSet := &migrate.MigrationSet{TableName: migrationsTableName}
	sqlMigrator := sqlmigrator.New(source, migrationSet)

	baseHash, err := sqlMigrator.Hash()
	if err != nil {
		return "", fmt.Errorf("failed to calculate migration hash for %s: %w", m.migrationsDir, err)
	}

	return schemaHashPrefix + baseHash, nil
}

func (m *SchemaMigrator) Migrate(ctx context.Context, db *sql.DB, conf pgtestdb.Config) error {
	return applyMigrations(db, m.migrationsDir)
}

// ApplyMigrations applies database migrations using sql-migrate with the provided pgx pool
func ApplyMigrations(pool *pgxpool.Pool, migrationsDir string) error {
	// Create sql.DB from the pgx pool for sql-migrate
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	return applyMigrations(db, migrationsDir)
}

// SeedCostSchedules loads effective-dated unit costs from a CSV file into
// cost_schedules. Columns: sku, unit_cost, effective_from, effective_to
// (dates YYYY-MM-DD, effective_to may be empty for an open-ended row).
// Rows upsert on (sku, effective_from), so re-seeding is idempotent.
func SeedCostSchedules(ctx context.Context, pool *pgxpool.Pool, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCostSeedOperation, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true

	seeded := 0
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return seeded, nil
		}
		if err != nil {
			return seeded, fmt.Errorf("%w: %w", ErrCostSeedOperation, err)
		}

		// Skip a header row if present.
		if line == 1 && record[0] == "sku" {
			continue
		}

		sku, unitCost, from, to, err := parseCostRow(record)
		if err != nil {
			return seeded, fmt.Errorf("%w: line %d: %w", ErrCostSeedFormat, line, err)
		}

		_, err = pool.Exec(ctx, upsertCostScheduleSQL, sku, unitCost.String(), from, to)
		if err != nil {
			return seeded, fmt.Errorf("%w: %w", ErrCostSeedOperation, err)
		}
		seeded++
	}
}

func parseCostRow(record []string) (sku string, unitCost decimal.Decimal, from time.Time, to *time.Time, err error) {
	sku = record[0]
	if sku == "" {
		return "", decimal.Decimal{}, time.Time{}, nil, errors.New("empty sku")
	}

	unitCost, err = decimal.NewFromString(record[1])
	if err != nil {
		return "", decimal.Decimal{}, time.Time{}, nil, fmt.Errorf("unit_cost: %w", err)
	}

	from, err = time.Parse(costDateLayout, record[2])
	if err != nil {
		return "", decimal.Decimal{}, time.Time{}, nil, fmt.Errorf("effective_from: %w", err)
	}

	if record[3] != "" {
		parsed, err := time.Parse(costDateLayout, record[3])
		if err != nil {
			return "", decimal.Decimal{}, time.Time{}, nil, fmt.Errorf("effective_to: %w", err)
		}
		to = &parsed
	}

	return sku, unitCost, from, to, nil
}

// applyMigrations applies database migrations using sql-migrate
func applyMigrations(db *sql.DB, migrationsDir string) error {
	source := &migrate.FileMigrationSource{Dir: migrationsDir}
	migrationSet := &migrate.MigrationSet{TableName: migrationsTableName}

	_, err := migrationSet.Exec(db, "postgres", source, migrate.Up)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationExecution, err)
	}
	return nil
}
