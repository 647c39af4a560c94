package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// Entity namespaces. Platform metadata (forge_* tables) and generated
// business tables never share a query; relations across namespaces are
// resolved in-process by issuing separate queries per database.
const (
	NamespacePlatform = "platform"
	NamespaceBusiness = "business"
)

// DatabaseControl is the alias of the control-plane database. Tenant
// databases are aliased by their solution name.
const DatabaseControl = "control"

// SolutionDirectory resolves an active solution to its tenant database
// configuration with credentials already decrypted.
type SolutionDirectory interface {
	TenantDatabase(ctx context.Context, solutionName string) (models.TenantDatabaseConfig, error)
}

// Router decides which physical database serves an operation on an entity
// namespace. Resolution order, first match wins:
//
//  1. explicit per-call database hint (WithDatabaseHint)
//  2. tenant solution context of the current operation (WithSolution)
//  3. static namespace mapping (platform metadata on the control plane)
//  4. default fallback (control plane)
//
// Tenant-scoped namespaces with no solution in scope do not fall through;
// they fail with ErrNamespaceUnroutable.
type Router struct {
	control     *DB
	pools       *PoolManager
	directory   SolutionDirectory
	static      map[string]string
	tenantScope map[string]bool
	fallback    string
	logger      *zap.Logger
}

// NewRouter creates a database router over the control-plane pool and the
// tenant pool cache.
func NewRouter(control *DB, pools *PoolManager, directory SolutionDirectory, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		control:   control,
		pools:     pools,
		directory: directory,
		static: map[string]string{
			NamespacePlatform: DatabaseControl,
		},
		tenantScope: map[string]bool{
			NamespaceBusiness: true,
		},
		fallback: DatabaseControl,
		logger:   logger,
	}
}

// ResolveAlias applies the resolution order and returns the database alias an
// operation on the namespace would land on. It never opens connections.
func (r *Router) ResolveAlias(ctx context.Context, namespace string) (string, error) {
	if hint, ok := DatabaseHintFromContext(ctx); ok {
		return hint, nil
	}

	if solution, ok := SolutionFromContext(ctx); ok {
		return solution, nil
	}

	if alias, ok := r.static[namespace]; ok {
		return alias, nil
	}

	if r.tenantScope[namespace] {
		return "", fmt.Errorf("namespace %q requires a solution context: %w",
			namespace, apperrors.ErrNamespaceUnroutable)
	}

	return r.fallback, nil
}

// ForRead returns the pool serving reads for the namespace under the current
// context.
func (r *Router) ForRead(ctx context.Context, namespace string) (*pgxpool.Pool, error) {
	return r.route(ctx, namespace)
}

// ForWrite returns the pool serving writes for the namespace under the
// current context. Reads and writes land on the same database; the split
// exists so callers state intent and replicas can be introduced without
// touching call sites.
func (r *Router) ForWrite(ctx context.Context, namespace string) (*pgxpool.Pool, error) {
	return r.route(ctx, namespace)
}

func (r *Router) route(ctx context.Context, namespace string) (*pgxpool.Pool, error) {
	alias, err := r.ResolveAlias(ctx, namespace)
	if err != nil {
		return nil, err
	}

	if alias == DatabaseControl {
		return r.control.Pool, nil
	}

	dbcfg, err := r.directory.TenantDatabase(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant database for %s: %w", alias, err)
	}

	pool, err := r.pools.GetOrCreatePool(ctx, alias, dbcfg)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("routed to tenant database",
		zap.String("namespace", namespace),
		zap.String("solution", alias),
	)
	return pool, nil
}

// AllowMigrate reports whether schema changes for the namespace may run on
// the given database alias. Platform tables exist on the control plane and on
// every tenant database; business tables exist only on tenant databases.
// Unknown namespaces never migrate anywhere.
func (r *Router) AllowMigrate(namespace, databaseAlias string) bool {
	switch namespace {
	case NamespacePlatform:
		return true
	case NamespaceBusiness:
		return databaseAlias != DatabaseControl
	default:
		return false
	}
}
