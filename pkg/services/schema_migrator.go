package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/repositories"
	"github.com/modforge-io/modforge-platform/pkg/sqlguard"
)

// MigrationSummary reports what one migration run planned and applied.
type MigrationSummary struct {
	SolutionName   string   `json:"solution_name"`
	Planned        int      `json:"planned"`
	TablesCreated  []string `json:"tables_created,omitempty"`
	ColumnsAdded   []string `json:"columns_added,omitempty"`
	IndexesCreated []string `json:"indexes_created,omitempty"`
}

// SchemaMigrator diffs table templates against a tenant database and creates
// whatever is missing. The planner has no destructive operation type: it can
// create tables, add columns and create indexes, nothing else. Existing
// columns are never altered, even when a template disagrees with them.
type SchemaMigrator interface {
	// MigrateSolutionSchema applies the platform templates under the
	// solution's table prefix and the domain templates under its business
	// prefix. Statements run one at a time and every execution is appended
	// to the migration log; the first failure stops the run with a
	// SchemaMigrationError, leaving earlier statements applied. A schema
	// already matching its templates plans zero statements.
	MigrateSolutionSchema(ctx context.Context, solutionName string) (*MigrationSummary, error)
}

type schemaMigrator struct {
	solutions repositories.SolutionRepository
	log       repositories.SchemaMigrationRepository
	router    *database.Router
	templates *TemplateRegistry
	logger    *zap.Logger
}

// NewSchemaMigrator creates a new schema migrator.
func NewSchemaMigrator(
	solutions repositories.SolutionRepository,
	log repositories.SchemaMigrationRepository,
	router *database.Router,
	templates *TemplateRegistry,
	logger *zap.Logger,
) SchemaMigrator {
	return &schemaMigrator{
		solutions: solutions,
		log:       log,
		router:    router,
		templates: templates,
		logger:    logger,
	}
}

var _ SchemaMigrator = (*schemaMigrator)(nil)

func (s *schemaMigrator) MigrateSolutionSchema(ctx context.Context, solutionName string) (summary *MigrationSummary, err error) {
	// Planner bugs surface as SchemaMigrationError, never as a panic.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Schema migration panicked",
				zap.String("solution", solutionName),
				zap.Any("panic", r),
				zap.Stack("stack"))
			summary = nil
			err = &apperrors.SchemaMigrationError{Solution: solutionName, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := time.Now()

	entry, err := s.solutions.GetByName(ctx, solutionName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up solution %s: %w", solutionName, err)
	}
	if !entry.IsActive {
		return nil, apperrors.ErrSolutionInactive
	}

	ctx = database.WithSolution(ctx, solutionName)
	alias, err := s.router.ResolveAlias(ctx, database.NamespaceBusiness)
	if err != nil {
		return nil, err
	}
	if !s.router.AllowMigrate(database.NamespaceBusiness, alias) {
		return nil, fmt.Errorf("schema changes for solution %s are not allowed on database %s", solutionName, alias)
	}

	pool, err := s.router.ForWrite(ctx, database.NamespaceBusiness)
	if err != nil {
		return nil, err
	}

	sets := []templateSet{
		{prefix: entry.TablePrefix, templates: PlatformTemplates()},
		{prefix: entry.BusinessPrefix, templates: s.templates.ForDomain(entry.Domain)},
	}

	observed, err := observeSchema(ctx, pool, setPrefixes(sets))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema for %s: %w", solutionName, err)
	}

	var plan []plannedStatement
	for _, set := range sets {
		stmts, err := planAdditive(set.templates, set.prefix, observed)
		if err != nil {
			return nil, &apperrors.SchemaMigrationError{Solution: solutionName, Err: err}
		}
		plan = append(plan, stmts...)
	}

	summary = &MigrationSummary{SolutionName: solutionName, Planned: len(plan)}
	for _, stmt := range plan {
		if err := s.apply(ctx, pool, solutionName, stmt); err != nil {
			return nil, err
		}
		switch stmt.change {
		case changeCreateTable:
			summary.TablesCreated = append(summary.TablesCreated, stmt.label)
		case changeAddColumn:
			summary.ColumnsAdded = append(summary.ColumnsAdded, stmt.label)
		case changeCreateIndex:
			summary.IndexesCreated = append(summary.IndexesCreated, stmt.label)
		}
	}

	s.logger.Info("Schema migration completed",
		zap.String("solution", solutionName),
		zap.Int("planned", summary.Planned),
		zap.Int("tablesCreated", len(summary.TablesCreated)),
		zap.Int("columnsAdded", len(summary.ColumnsAdded)),
		zap.Int("indexesCreated", len(summary.IndexesCreated)),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

// apply executes one planned statement and appends the outcome to the
// migration log. A failed statement is logged as failed before the error is
// returned; a failed log write after successful DDL fails the run too, since
// the log is the audit trail for what ran where.
func (s *schemaMigrator) apply(ctx context.Context, pool *pgxpool.Pool, solutionName string, stmt plannedStatement) error {
	if _, err := pool.Exec(ctx, stmt.sql); err != nil {
		detail := err.Error()
		record := &models.SchemaMigration{
			SolutionName:  solutionName,
			TableName:     stmt.table,
			MigrationType: stmt.migrationType(),
			Statement:     stmt.sql,
			Status:        models.MigrationStatusFailed,
			ErrorDetail:   &detail,
		}
		if logErr := s.log.Record(ctx, record); logErr != nil {
			s.logger.Error("Failed to record failed migration statement",
				zap.String("solution", solutionName),
				zap.String("table", stmt.table),
				zap.Error(logErr),
			)
		}
		return &apperrors.SchemaMigrationError{
			Solution:  solutionName,
			Table:     stmt.table,
			Statement: stmt.sql,
			Err:       err,
		}
	}

	record := &models.SchemaMigration{
		SolutionName:  solutionName,
		TableName:     stmt.table,
		MigrationType: stmt.migrationType(),
		Statement:     stmt.sql,
		Status:        models.MigrationStatusApplied,
	}
	if err := s.log.Record(ctx, record); err != nil {
		return fmt.Errorf("failed to record migration statement for %s: %w", stmt.table, err)
	}
	return nil
}

type templateSet struct {
	prefix    string
	templates []models.TableTemplate
}

func setPrefixes(sets []templateSet) []string {
	prefixes := make([]string, 0, len(sets))
	for _, set := range sets {
		prefixes = append(prefixes, set.prefix)
	}
	return prefixes
}

type changeKind int

const (
	changeCreateTable changeKind = iota
	changeAddColumn
	changeCreateIndex
)

// plannedStatement is one additive DDL statement the planner decided to run.
type plannedStatement struct {
	change changeKind
	table  string // prefixed table the statement targets
	label  string // created table, table.column, or index name
	sql    string
}

func (p plannedStatement) migrationType() models.MigrationType {
	if p.change == changeCreateTable {
		return models.MigrationTypeCreate
	}
	return models.MigrationTypeAlter
}

// observedSchema is the current shape of a tenant database, keyed by
// physical (prefixed) names.
type observedSchema struct {
	columns map[string]map[string]bool // table name → column set
	indexes map[string]bool
}

func (o *observedSchema) hasTable(table string) bool {
	_, ok := o.columns[table]
	return ok
}

func (o *observedSchema) hasColumn(table, column string) bool {
	return o.columns[table][column]
}

func (o *observedSchema) hasIndex(name string) bool {
	return o.indexes[name]
}

// observeSchema loads every column and index under the given prefixes.
// Existence questions are answered from these sets; nothing is probed by
// trial statement.
func observeSchema(ctx context.Context, pool *pgxpool.Pool, prefixes []string) (*observedSchema, error) {
	observed := &observedSchema{
		columns: make(map[string]map[string]bool),
		indexes: make(map[string]bool),
	}
	for _, prefix := range prefixes {
		if err := observePrefix(ctx, pool, prefix, observed); err != nil {
			return nil, err
		}
	}
	return observed, nil
}

// likePrefix escapes LIKE wildcards so a table prefix matches literally.
// Prefixes routinely contain underscores, which LIKE would otherwise treat
// as single-character wildcards.
func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}

func observePrefix(ctx context.Context, pool *pgxpool.Pool, prefix string, observed *observedSchema) error {
	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name LIKE $1`,
		likePrefix(prefix))
	if err != nil {
		return fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("failed to scan column row: %w", err)
		}
		if observed.columns[table] == nil {
			observed.columns[table] = make(map[string]bool)
		}
		observed.columns[table][column] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read column rows: %w", err)
	}

	idxRows, err := pool.Query(ctx, `
		SELECT indexname
		FROM pg_indexes
		WHERE schemaname = 'public' AND tablename LIKE $1`,
		likePrefix(prefix))
	if err != nil {
		return fmt.Errorf("failed to query indexes: %w", err)
	}
	defer idxRows.Close()

	for idxRows.Next() {
		var name string
		if err := idxRows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan index row: %w", err)
		}
		observed.indexes[name] = true
	}
	if err := idxRows.Err(); err != nil {
		return fmt.Errorf("failed to read index rows: %w", err)
	}
	return nil
}

// planAdditive diffs the templates under one prefix against the observed
// schema. Every identifier that will be interpolated into DDL is validated
// first; bind parameters cannot carry identifiers.
func planAdditive(templates []models.TableTemplate, prefix string, observed *observedSchema) ([]plannedStatement, error) {
	var plan []plannedStatement

	for i := range templates {
		tpl := &templates[i]
		table := tpl.PrefixedName(prefix)
		if !sqlguard.ValidIdentifier(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
		if len(tpl.Columns) == 0 {
			return nil, fmt.Errorf("table %q has no columns", table)
		}
		for _, col := range tpl.Columns {
			if !sqlguard.ValidIdentifier(col.Name) {
				return nil, fmt.Errorf("invalid column name %q on table %q", col.Name, table)
			}
		}

		if !observed.hasTable(table) {
			plan = append(plan, plannedStatement{
				change: changeCreateTable,
				table:  table,
				label:  table,
				sql:    renderCreateTable(table, tpl.Columns),
			})
		} else {
			for _, col := range tpl.Columns {
				if observed.hasColumn(table, col.Name) {
					continue
				}
				plan = append(plan, plannedStatement{
					change: changeAddColumn,
					table:  table,
					label:  table + "." + col.Name,
					sql:    renderAddColumn(table, col),
				})
			}
		}

		for _, idx := range tpl.Indexes {
			name := prefix + idx.Name
			if !sqlguard.ValidIdentifier(name) {
				return nil, fmt.Errorf("invalid index name %q", name)
			}
			for _, col := range idx.Columns {
				if !sqlguard.ValidIdentifier(col) {
					return nil, fmt.Errorf("invalid column %q in index %q", col, name)
				}
			}
			if observed.hasIndex(name) {
				continue
			}
			plan = append(plan, plannedStatement{
				change: changeCreateIndex,
				table:  table,
				label:  name,
				sql:    renderCreateIndex(name, table, idx),
			})
		}
	}

	return plan, nil
}

func renderCreateTable(table string, columns []models.ColumnTemplate) string {
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		defs = append(defs, renderColumn(col, false))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", table, strings.Join(defs, ",\n    "))
}

// renderAddColumn emits the ALTER for one missing column. NOT NULL without a
// default cannot be added to a populated table, so such columns are added
// nullable.
func renderAddColumn(table string, col models.ColumnTemplate) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, renderColumn(col, true))
}

func renderColumn(col models.ColumnTemplate, relaxNotNull bool) string {
	parts := []string{col.Name, col.DataType}
	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if !col.Nullable && !col.PrimaryKey && (!relaxNotNull || col.Default != "") {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != "" {
		parts = append(parts, "DEFAULT "+col.Default)
	}
	return strings.Join(parts, " ")
}

func renderCreateIndex(name, table string, idx models.IndexTemplate) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, name, table, strings.Join(idx.Columns, ", "))
}
