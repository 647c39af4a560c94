package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// SchemaMigrationRepository appends to the tenant schema migration log.
// The log lives in the control-plane database even though the DDL it
// records ran against tenant databases, so one place answers what changed
// where. Rows are never updated or deleted.
type SchemaMigrationRepository interface {
	Record(ctx context.Context, migration *models.SchemaMigration) error
	ListBySolution(ctx context.Context, solutionName string) ([]*models.SchemaMigration, error)
	ListByTable(ctx context.Context, solutionName, tableName string) ([]*models.SchemaMigration, error)
}

type schemaMigrationRepository struct {
	db *database.DB
}

// NewSchemaMigrationRepository creates a new SchemaMigrationRepository
// backed by the control-plane database.
func NewSchemaMigrationRepository(db *database.DB) SchemaMigrationRepository {
	return &schemaMigrationRepository{db: db}
}

var _ SchemaMigrationRepository = (*schemaMigrationRepository)(nil)

func (r *schemaMigrationRepository) Record(ctx context.Context, migration *models.SchemaMigration) error {
	if migration.ID == uuid.Nil {
		migration.ID = uuid.New()
	}
	if migration.ExecutedAt.IsZero() {
		migration.ExecutedAt = time.Now()
	}
	if migration.Status == "" {
		migration.Status = models.MigrationStatusApplied
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO forge_schema_migrations (
			id, solution_name, table_name, migration_type, statement, status, error_detail, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		migration.ID, migration.SolutionName, migration.TableName, migration.MigrationType,
		migration.Statement, migration.Status, migration.ErrorDetail, migration.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record schema migration: %w", err)
	}
	return nil
}

func (r *schemaMigrationRepository) ListBySolution(ctx context.Context, solutionName string) ([]*models.SchemaMigration, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, solution_name, table_name, migration_type, statement, status, error_detail, executed_at
		FROM forge_schema_migrations
		WHERE solution_name = $1
		ORDER BY executed_at`,
		solutionName)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema migrations: %w", err)
	}
	defer rows.Close()

	return collectMigrations(rows)
}

func (r *schemaMigrationRepository) ListByTable(ctx context.Context, solutionName, tableName string) ([]*models.SchemaMigration, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, solution_name, table_name, migration_type, statement, status, error_detail, executed_at
		FROM forge_schema_migrations
		WHERE solution_name = $1 AND table_name = $2
		ORDER BY executed_at`,
		solutionName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema migrations for table: %w", err)
	}
	defer rows.Close()

	return collectMigrations(rows)
}

func collectMigrations(rows pgx.Rows) ([]*models.SchemaMigration, error) {
	var migrations []*models.SchemaMigration
	for rows.Next() {
		var m models.SchemaMigration
		err := rows.Scan(
			&m.ID, &m.SolutionName, &m.TableName, &m.MigrationType,
			&m.Statement, &m.Status, &m.ErrorDetail, &m.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema migration row: %w", err)
		}
		migrations = append(migrations, &m)
	}
	return migrations, rows.Err()
}
