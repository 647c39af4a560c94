package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/repositories"
	"github.com/modforge-io/modforge-platform/pkg/retry"
	"github.com/modforge-io/modforge-platform/pkg/sqlguard"
)

// maintenanceDatabase is the database used to create tenant databases.
const maintenanceDatabase = "postgres"

// SetupRequest onboards one solution. Empty prefixes default to
// "<name>plat_" and "<name>_".
type SetupRequest struct {
	SolutionName   string                      `json:"solution_name"`
	Domain         string                      `json:"domain"`
	Database       models.TenantDatabaseConfig `json:"database"`
	TablePrefix    string                      `json:"table_prefix,omitempty"`
	BusinessPrefix string                      `json:"business_prefix,omitempty"`
}

// SetupResult reports what provisioning found and did.
type SetupResult struct {
	SolutionName       string   `json:"solution_name"`
	AlreadyProvisioned bool     `json:"already_provisioned"`
	DatabaseCreated    bool     `json:"database_created"`
	TablesCreated      []string `json:"tables_created,omitempty"`
}

// SolutionStatusReport is the diagnostic view of one solution.
type SolutionStatusReport struct {
	SolutionName      string              `json:"solution_name"`
	Domain            string              `json:"domain"`
	Active            bool                `json:"active"`
	DatabaseReachable bool                `json:"database_reachable"`
	PlatformTables    int                 `json:"platform_tables"`
	BusinessTables    int                 `json:"business_tables"`
	LastMigrationAt   *time.Time          `json:"last_migration_at,omitempty"`
	Discovery         *DiscoveryFreshness `json:"discovery,omitempty"`
}

// SolutionService provisions and manages solutions (tenants). Each solution
// owns one physical database holding its platform-metadata tables and its
// generated business tables, under separate prefixes.
type SolutionService interface {
	// SetupSolution is idempotent: an active registry entry whose database
	// needs no DDL reports AlreadyProvisioned with zero changes. A new
	// solution gets its physical database created, its registry entry
	// persisted (credentials encrypted at the write boundary) and its
	// schema migrated. When an entry already exists, its stored database
	// settings win over the request's. With the ERP configured, setup
	// finishes by refreshing discovery for the solution's domain;
	// a failed refresh is logged and does not fail setup.
	SetupSolution(ctx context.Context, req *SetupRequest) (*SetupResult, error)

	// SolutionStatus reports reachability, table counts per prefix, the
	// last migration time and discovery freshness. It works for
	// deactivated solutions too; their database is reported unreachable.
	SolutionStatus(ctx context.Context, solutionName string) (*SolutionStatusReport, error)

	ListSolutions(ctx context.Context) ([]*models.SolutionRegistryEntry, error)

	// DeactivateSolution marks the registry entry inactive and drops the
	// cached tenant pool. Storage is left untouched.
	DeactivateSolution(ctx context.Context, solutionName string) error
}

type solutionService struct {
	solutions  repositories.SolutionRepository
	migrations repositories.SchemaMigrationRepository
	migrator   SchemaMigrator
	discovery  DiscoveryService
	router     *database.Router
	pools      *database.PoolManager
	erpCfg     *config.ERPConfig
	logger     *zap.Logger
}

// NewSolutionService creates a new solution service.
func NewSolutionService(
	solutions repositories.SolutionRepository,
	migrations repositories.SchemaMigrationRepository,
	migrator SchemaMigrator,
	discovery DiscoveryService,
	router *database.Router,
	pools *database.PoolManager,
	erpCfg *config.ERPConfig,
	logger *zap.Logger,
) SolutionService {
	return &solutionService{
		solutions:  solutions,
		migrations: migrations,
		migrator:   migrator,
		discovery:  discovery,
		router:     router,
		pools:      pools,
		erpCfg:     erpCfg,
		logger:     logger,
	}
}

var _ SolutionService = (*solutionService)(nil)

func (s *solutionService) SetupSolution(ctx context.Context, req *SetupRequest) (*SetupResult, error) {
	s.normalize(req)
	if err := s.validateSetup(req); err != nil {
		return nil, err
	}

	entryExisted := true
	entry, err := s.solutions.GetByName(ctx, req.SolutionName)
	if errors.Is(err, apperrors.ErrNotFound) {
		entryExisted = false
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up solution %s: %w", req.SolutionName, err)
	} else if !entry.IsActive {
		return nil, apperrors.ErrSolutionInactive
	}

	dbcfg := req.Database
	if entryExisted {
		dbcfg = entry.Database
	}

	created, err := s.ensureDatabase(ctx, dbcfg)
	if err != nil {
		return nil, err
	}

	if !entryExisted {
		entry = &models.SolutionRegistryEntry{
			SolutionName:   req.SolutionName,
			Domain:         req.Domain,
			Database:       req.Database,
			TablePrefix:    req.TablePrefix,
			BusinessPrefix: req.BusinessPrefix,
			IsActive:       true,
		}
		if err := s.solutions.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to register solution %s: %w", req.SolutionName, err)
		}
	}

	summary, err := s.migrator.MigrateSolutionSchema(ctx, req.SolutionName)
	if err != nil {
		return nil, err
	}

	if s.erpCfg.IsAvailable() {
		if _, err := s.discovery.RefreshDomain(ctx, entry.Domain); err != nil {
			s.logger.Warn("Discovery refresh after setup failed",
				zap.String("solution", req.SolutionName),
				zap.String("domain", entry.Domain),
				zap.Error(err),
			)
		}
	}

	result := &SetupResult{
		SolutionName:       req.SolutionName,
		AlreadyProvisioned: entryExisted && summary.Planned == 0,
		DatabaseCreated:    created,
		TablesCreated:      summary.TablesCreated,
	}

	s.logger.Info("Solution setup completed",
		zap.String("solution", req.SolutionName),
		zap.String("domain", entry.Domain),
		zap.Bool("alreadyProvisioned", result.AlreadyProvisioned),
		zap.Bool("databaseCreated", created),
		zap.Int("tablesCreated", len(result.TablesCreated)),
	)
	return result, nil
}

func (s *solutionService) SolutionStatus(ctx context.Context, solutionName string) (*SolutionStatusReport, error) {
	entry, err := s.solutions.GetByName(ctx, solutionName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up solution %s: %w", solutionName, err)
	}

	report := &SolutionStatusReport{
		SolutionName: solutionName,
		Domain:       entry.Domain,
		Active:       entry.IsActive,
	}

	if entry.IsActive {
		tenantCtx := database.WithSolution(ctx, solutionName)
		pool, err := s.router.ForRead(tenantCtx, database.NamespaceBusiness)
		if err != nil {
			s.logger.Debug("tenant database unreachable",
				zap.String("solution", solutionName),
				zap.Error(err),
			)
		} else {
			pingCtx, cancel := context.WithTimeout(tenantCtx, 5*time.Second)
			if pingErr := pool.Ping(pingCtx); pingErr == nil {
				report.DatabaseReachable = true
				report.PlatformTables = s.countTables(tenantCtx, pool, entry.TablePrefix)
				report.BusinessTables = s.countTables(tenantCtx, pool, entry.BusinessPrefix)
			}
			cancel()
		}
	}

	if migrations, err := s.migrations.ListBySolution(ctx, solutionName); err == nil && len(migrations) > 0 {
		last := migrations[len(migrations)-1].ExecutedAt
		report.LastMigrationAt = &last
	}

	if freshness, err := s.discovery.Freshness(ctx, entry.Domain); err == nil {
		report.Discovery = freshness
	}

	return report, nil
}

func (s *solutionService) ListSolutions(ctx context.Context) ([]*models.SolutionRegistryEntry, error) {
	return s.solutions.List(ctx)
}

func (s *solutionService) DeactivateSolution(ctx context.Context, solutionName string) error {
	if err := s.solutions.Deactivate(ctx, solutionName); err != nil {
		return fmt.Errorf("failed to deactivate solution %s: %w", solutionName, err)
	}
	s.pools.Invalidate(solutionName)
	s.logger.Info("Solution deactivated", zap.String("solution", solutionName))
	return nil
}

func (s *solutionService) normalize(req *SetupRequest) {
	if req.TablePrefix == "" {
		req.TablePrefix = req.SolutionName + "plat_"
	}
	if req.BusinessPrefix == "" {
		req.BusinessPrefix = req.SolutionName + "_"
	}
	if req.Database.Port == 0 {
		req.Database.Port = 5432
	}
}

func (s *solutionService) validateSetup(req *SetupRequest) error {
	switch {
	case req.SolutionName == "":
		return fmt.Errorf("solution name is required")
	case !sqlguard.ValidIdentifier(req.SolutionName):
		return fmt.Errorf("invalid solution name %q: must be a lowercase identifier", req.SolutionName)
	case req.Domain == "":
		return fmt.Errorf("domain is required")
	case req.Database.Host == "":
		return fmt.Errorf("database host is required")
	case req.Database.User == "":
		return fmt.Errorf("database user is required")
	case req.Database.Database == "":
		return fmt.Errorf("database name is required")
	case !sqlguard.ValidIdentifier(req.Database.Database):
		return fmt.Errorf("invalid database name %q", req.Database.Database)
	case !sqlguard.ValidIdentifier(req.TablePrefix):
		return fmt.Errorf("invalid table prefix %q", req.TablePrefix)
	case !sqlguard.ValidIdentifier(req.BusinessPrefix):
		return fmt.Errorf("invalid business prefix %q", req.BusinessPrefix)
	}
	return nil
}

// ensureDatabase creates the solution's physical database when it does not
// exist yet. Existence is a typed query against pg_database; CREATE DATABASE
// cannot run inside a transaction and cannot take the name as a bind
// parameter, so the identifier is validated before interpolation.
func (s *solutionService) ensureDatabase(ctx context.Context, dbcfg models.TenantDatabaseConfig) (bool, error) {
	if !sqlguard.ValidIdentifier(dbcfg.Database) {
		return false, fmt.Errorf("invalid database name %q", dbcfg.Database)
	}

	maint := dbcfg
	maint.Host = config.ResolveHostForDocker(maint.Host)

	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgx.Conn, error) {
		return pgx.Connect(ctx, maint.MaintenanceConnectionString(maintenanceDatabase))
	})
	if err != nil {
		return false, fmt.Errorf("failed to connect to maintenance database on %s: %w", dbcfg.Host, err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`,
		dbcfg.Database,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+dbcfg.Database); err != nil {
		return false, fmt.Errorf("failed to create database %s: %w", dbcfg.Database, err)
	}

	s.logger.Info("Created tenant database",
		zap.String("database", dbcfg.Database),
		zap.String("host", dbcfg.Host),
	)
	return true, nil
}

func (s *solutionService) countTables(ctx context.Context, pool *pgxpool.Pool, prefix string) int {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name LIKE $1`,
		likePrefix(prefix)).Scan(&count)
	if err != nil {
		s.logger.Debug("failed to count tables",
			zap.String("prefix", prefix),
			zap.Error(err),
		)
		return 0
	}
	return count
}

// solutionDirectory adapts the solution repository to the router's
// directory interface. Deactivated solutions do not resolve.
type solutionDirectory struct {
	solutions repositories.SolutionRepository
}

// NewSolutionDirectory exposes the solution registry as the router's tenant
// database directory.
func NewSolutionDirectory(solutions repositories.SolutionRepository) database.SolutionDirectory {
	return &solutionDirectory{solutions: solutions}
}

var _ database.SolutionDirectory = (*solutionDirectory)(nil)

func (d *solutionDirectory) TenantDatabase(ctx context.Context, solutionName string) (models.TenantDatabaseConfig, error) {
	entry, err := d.solutions.GetByName(ctx, solutionName)
	if err != nil {
		return models.TenantDatabaseConfig{}, fmt.Errorf("failed to resolve solution %s: %w", solutionName, err)
	}
	if !entry.IsActive {
		return models.TenantDatabaseConfig{}, apperrors.ErrSolutionInactive
	}
	return entry.Database, nil
}
