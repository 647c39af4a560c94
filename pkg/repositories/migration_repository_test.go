//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/testhelpers"
)

type migrationLogTestContext struct {
	t    *testing.T
	db   *testhelpers.PlatformDB
	repo SchemaMigrationRepository
}

// setupMigrationLogTest resets rows for one test solution and seeds its
// registry entry for the foreign key.
func setupMigrationLogTest(t *testing.T, solutionName string) *migrationLogTestContext {
	platformDB := testhelpers.GetPlatformDB(t)
	tc := &migrationLogTestContext{
		t:    t,
		db:   platformDB,
		repo: NewSchemaMigrationRepository(platformDB.DB),
	}
	tc.cleanupSolutionLog(solutionName)
	ensureTestSolution(t, platformDB, solutionName)
	return tc
}

func (tc *migrationLogTestContext) cleanupSolutionLog(solutionName string) {
	tc.t.Helper()
	_, err := tc.db.DB.Exec(context.Background(),
		"DELETE FROM forge_schema_migrations WHERE solution_name = $1", solutionName)
	if err != nil {
		tc.t.Fatalf("failed to clean up migration log for %s: %v", solutionName, err)
	}
}

func TestSchemaMigrationRepository_RecordAndList(t *testing.T) {
	tc := setupMigrationLogTest(t, "migtest_record")
	ctx := context.Background()

	first := &models.SchemaMigration{
		SolutionName:  "migtest_record",
		TableName:     "rental_units",
		MigrationType: models.MigrationTypeCreate,
		Statement:     `CREATE TABLE rental_units (id BIGSERIAL PRIMARY KEY)`,
	}
	if err := tc.repo.Record(ctx, first); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if first.Status != models.MigrationStatusApplied {
		t.Errorf("expected default applied status, got %s", first.Status)
	}
	if first.ExecutedAt.IsZero() {
		t.Error("expected ExecutedAt to be set")
	}

	detail := `column "rent_amount" cannot be cast automatically`
	second := &models.SchemaMigration{
		SolutionName:  "migtest_record",
		TableName:     "rental_units",
		MigrationType: models.MigrationTypeAlter,
		Statement:     `ALTER TABLE rental_units ADD COLUMN rent_amount NUMERIC(12,2)`,
		Status:        models.MigrationStatusFailed,
		ErrorDetail:   &detail,
	}
	if err := tc.repo.Record(ctx, second); err != nil {
		t.Fatalf("Record of failed statement failed: %v", err)
	}

	log, err := tc.repo.ListBySolution(ctx, "migtest_record")
	if err != nil {
		t.Fatalf("ListBySolution failed: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(log))
	}
	// Chronological order
	if log[0].MigrationType != models.MigrationTypeCreate {
		t.Errorf("expected create first, got %s", log[0].MigrationType)
	}
	if log[1].Status != models.MigrationStatusFailed {
		t.Errorf("expected failed status on second row, got %s", log[1].Status)
	}
	if log[1].ErrorDetail == nil || *log[1].ErrorDetail != detail {
		t.Errorf("unexpected error detail %v", log[1].ErrorDetail)
	}
}

func TestSchemaMigrationRepository_ListByTable(t *testing.T) {
	tc := setupMigrationLogTest(t, "migtest_bytable")
	ctx := context.Background()

	rows := []*models.SchemaMigration{
		{
			SolutionName:  "migtest_bytable",
			TableName:     "rental_units",
			MigrationType: models.MigrationTypeCreate,
			Statement:     `CREATE TABLE rental_units (id BIGSERIAL PRIMARY KEY)`,
		},
		{
			SolutionName:  "migtest_bytable",
			TableName:     "rental_lines",
			MigrationType: models.MigrationTypeCreate,
			Statement:     `CREATE TABLE rental_lines (id BIGSERIAL PRIMARY KEY)`,
		},
		{
			SolutionName:  "migtest_bytable",
			TableName:     "rental_units",
			MigrationType: models.MigrationTypeAlter,
			Statement:     `CREATE INDEX idx_rental_units_code ON rental_units (code)`,
		},
	}
	for _, row := range rows {
		if err := tc.repo.Record(ctx, row); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	unitLog, err := tc.repo.ListByTable(ctx, "migtest_bytable", "rental_units")
	if err != nil {
		t.Fatalf("ListByTable failed: %v", err)
	}
	if len(unitLog) != 2 {
		t.Fatalf("expected 2 rows for rental_units, got %d", len(unitLog))
	}
	for _, row := range unitLog {
		if row.TableName != "rental_units" {
			t.Errorf("unexpected table %s in filtered log", row.TableName)
		}
	}
}
