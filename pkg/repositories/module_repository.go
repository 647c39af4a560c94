package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// ModuleRepository provides data access for generation attempts. Attempts
// are append-only: each generation inserts a new row, and a row that has
// reached a terminal status is never mutated again.
type ModuleRepository interface {
	Create(ctx context.Context, module *models.GeneratedModule) error
	Get(ctx context.Context, id uuid.UUID) (*models.GeneratedModule, error)
	// UpdateStatus advances a non-terminal attempt. Updating a terminal row
	// returns apperrors.ErrNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error
	// Complete records the generated artifact and moves the attempt to
	// completed in one write.
	Complete(ctx context.Context, id uuid.UUID, fileManifest []string, archivePath, contentHash string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorDetail string) error
	GetLatest(ctx context.Context, solutionName, moduleName string) (*models.GeneratedModule, error)
	ListBySolution(ctx context.Context, solutionName string, limit int) ([]*models.GeneratedModule, error)
	// ListLatestCompleted returns the newest completed attempt of every
	// (solution, module) pair. Used to rebuild in-memory state after a
	// restart.
	ListLatestCompleted(ctx context.Context) ([]*models.GeneratedModule, error)
}

type moduleRepository struct {
	db *database.DB
}

// NewModuleRepository creates a new ModuleRepository backed by the
// control-plane database.
func NewModuleRepository(db *database.DB) ModuleRepository {
	return &moduleRepository{db: db}
}

var _ ModuleRepository = (*moduleRepository)(nil)

func (r *moduleRepository) Create(ctx context.Context, module *models.GeneratedModule) error {
	now := time.Now()
	if module.ID == uuid.Nil {
		module.ID = uuid.New()
	}
	if module.Status == "" {
		module.Status = models.GenerationStatusPending
	}
	module.CreatedAt = now
	module.UpdatedAt = now

	specJSON := []byte(module.Specification)
	if len(specJSON) == 0 {
		specJSON = []byte("{}")
	}
	manifestJSON, err := json.Marshal(module.FileManifest)
	if err != nil {
		return fmt.Errorf("failed to marshal file manifest: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO forge_generated_modules (
			id, solution_name, module_name, version, specification,
			file_manifest, archive_path, content_hash, status, error_detail, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		module.ID, module.SolutionName, module.ModuleName, module.Version, specJSON,
		manifestJSON, module.ArchivePath, module.ContentHash, module.Status, module.ErrorDetail,
		module.CreatedAt, module.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create generated module: %w", err)
	}
	return nil
}

func (r *moduleRepository) Get(ctx context.Context, id uuid.UUID) (*models.GeneratedModule, error) {
	row := r.db.QueryRow(ctx, moduleSelect+` WHERE id = $1`, id)
	module, err := scanGeneratedModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get generated module: %w", err)
	}
	return module, nil
}

func (r *moduleRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error {
	if !models.IsValidGenerationStatus(status) {
		return fmt.Errorf("invalid generation status: %s", status)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE forge_generated_modules
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update generation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *moduleRepository) Complete(ctx context.Context, id uuid.UUID, fileManifest []string, archivePath, contentHash string) error {
	manifestJSON, err := json.Marshal(fileManifest)
	if err != nil {
		return fmt.Errorf("failed to marshal file manifest: %w", err)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE forge_generated_modules
		SET status = 'completed', file_manifest = $2, archive_path = $3, content_hash = $4, updated_at = $5
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, manifestJSON, archivePath, contentHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete generated module: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *moduleRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorDetail string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE forge_generated_modules
		SET status = 'failed', error_detail = $2, updated_at = $3
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, errorDetail, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark generated module failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *moduleRepository) GetLatest(ctx context.Context, solutionName, moduleName string) (*models.GeneratedModule, error) {
	row := r.db.QueryRow(ctx, moduleSelect+`
		WHERE solution_name = $1 AND module_name = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		solutionName, moduleName)

	module, err := scanGeneratedModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest generated module: %w", err)
	}
	return module, nil
}

func (r *moduleRepository) ListBySolution(ctx context.Context, solutionName string, limit int) ([]*models.GeneratedModule, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, moduleSelect+`
		WHERE solution_name = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		solutionName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generated modules: %w", err)
	}
	defer rows.Close()

	var modules []*models.GeneratedModule
	for rows.Next() {
		module, err := scanGeneratedModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generated module row: %w", err)
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}

func (r *moduleRepository) ListLatestCompleted(ctx context.Context) ([]*models.GeneratedModule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (solution_name, module_name)
		       id, solution_name, module_name, version, specification,
		       file_manifest, archive_path, content_hash, status, error_detail, created_at, updated_at
		FROM forge_generated_modules
		WHERE status = 'completed'
		ORDER BY solution_name, module_name, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest completed modules: %w", err)
	}
	defer rows.Close()

	var modules []*models.GeneratedModule
	for rows.Next() {
		module, err := scanGeneratedModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generated module row: %w", err)
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}

const moduleSelect = `
	SELECT id, solution_name, module_name, version, specification,
	       file_manifest, archive_path, content_hash, status, error_detail, created_at, updated_at
	FROM forge_generated_modules`

func scanGeneratedModule(row pgx.Row) (*models.GeneratedModule, error) {
	var (
		m            models.GeneratedModule
		specJSON     []byte
		manifestJSON []byte
	)
	err := row.Scan(
		&m.ID, &m.SolutionName, &m.ModuleName, &m.Version, &specJSON,
		&manifestJSON, &m.ArchivePath, &m.ContentHash, &m.Status, &m.ErrorDetail,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Specification = json.RawMessage(specJSON)
	if len(manifestJSON) > 0 {
		if err := json.Unmarshal(manifestJSON, &m.FileManifest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file manifest: %w", err)
		}
	}
	return &m, nil
}
