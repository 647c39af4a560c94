package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// DeployRepository persists deployment attempts. The step column is written
// after every pipeline transition, so a crashed or timed-out worker leaves a
// row that shows exactly how far the attempt got.
type DeployRepository interface {
	Create(ctx context.Context, attempt *models.DeployAttempt) error
	Get(ctx context.Context, id uuid.UUID) (*models.DeployAttempt, error)
	// UpdateStep advances a non-terminal attempt. Terminal rows are never
	// touched; updating one returns apperrors.ErrNotFound.
	UpdateStep(ctx context.Context, id uuid.UUID, step models.DeployStep) error
	MarkInstalled(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorDetail string) error
	GetLatest(ctx context.Context, solutionName, moduleName string) (*models.DeployAttempt, error)
	// GetLastInstalled returns the most recent attempt that reached the
	// installed step, used by the deployer's no-op fast path.
	GetLastInstalled(ctx context.Context, solutionName, moduleName string) (*models.DeployAttempt, error)
	ListBySolution(ctx context.Context, solutionName string, limit int) ([]*models.DeployAttempt, error)
}

type deployRepository struct {
	db *database.DB
}

// NewDeployRepository creates a new DeployRepository backed by the
// control-plane database.
func NewDeployRepository(db *database.DB) DeployRepository {
	return &deployRepository{db: db}
}

var _ DeployRepository = (*deployRepository)(nil)

func (r *deployRepository) Create(ctx context.Context, attempt *models.DeployAttempt) error {
	now := time.Now()
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Step == "" {
		attempt.Step = models.DeployStepPending
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = now
	}
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO forge_deploy_attempts (
			id, solution_name, module_name, version, content_hash,
			step, error_detail, started_at, finished_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		attempt.ID, attempt.SolutionName, attempt.ModuleName, attempt.Version, attempt.ContentHash,
		attempt.Step, attempt.ErrorDetail, attempt.StartedAt, attempt.FinishedAt,
		attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deploy attempt: %w", err)
	}
	return nil
}

func (r *deployRepository) Get(ctx context.Context, id uuid.UUID) (*models.DeployAttempt, error) {
	row := r.db.QueryRow(ctx, deploySelect+` WHERE id = $1`, id)
	attempt, err := scanDeployAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deploy attempt: %w", err)
	}
	return attempt, nil
}

func (r *deployRepository) UpdateStep(ctx context.Context, id uuid.UUID, step models.DeployStep) error {
	if !models.IsValidDeployStep(step) {
		return fmt.Errorf("invalid deploy step: %s", step)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE forge_deploy_attempts
		SET step = $2, updated_at = $3
		WHERE id = $1 AND step NOT IN ('installed', 'failed')`,
		id, step, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update deploy step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *deployRepository) MarkInstalled(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	result, err := r.db.Exec(ctx, `
		UPDATE forge_deploy_attempts
		SET step = 'installed', finished_at = $2, updated_at = $2
		WHERE id = $1 AND step NOT IN ('installed', 'failed')`,
		id, now)
	if err != nil {
		return fmt.Errorf("failed to mark deploy attempt installed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *deployRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorDetail string) error {
	now := time.Now()
	result, err := r.db.Exec(ctx, `
		UPDATE forge_deploy_attempts
		SET step = 'failed', error_detail = $2, finished_at = $3, updated_at = $3
		WHERE id = $1 AND step NOT IN ('installed', 'failed')`,
		id, errorDetail, now)
	if err != nil {
		return fmt.Errorf("failed to mark deploy attempt failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *deployRepository) GetLatest(ctx context.Context, solutionName, moduleName string) (*models.DeployAttempt, error) {
	row := r.db.QueryRow(ctx, deploySelect+`
		WHERE solution_name = $1 AND module_name = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		solutionName, moduleName)

	attempt, err := scanDeployAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest deploy attempt: %w", err)
	}
	return attempt, nil
}

func (r *deployRepository) GetLastInstalled(ctx context.Context, solutionName, moduleName string) (*models.DeployAttempt, error) {
	row := r.db.QueryRow(ctx, deploySelect+`
		WHERE solution_name = $1 AND module_name = $2 AND step = 'installed'
		ORDER BY finished_at DESC
		LIMIT 1`,
		solutionName, moduleName)

	attempt, err := scanDeployAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get last installed attempt: %w", err)
	}
	return attempt, nil
}

func (r *deployRepository) ListBySolution(ctx context.Context, solutionName string, limit int) ([]*models.DeployAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, deploySelect+`
		WHERE solution_name = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		solutionName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deploy attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.DeployAttempt
	for rows.Next() {
		attempt, err := scanDeployAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deploy attempt row: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

const deploySelect = `
	SELECT id, solution_name, module_name, version, content_hash,
	       step, error_detail, started_at, finished_at, created_at, updated_at
	FROM forge_deploy_attempts`

func scanDeployAttempt(row pgx.Row) (*models.DeployAttempt, error) {
	var a models.DeployAttempt
	err := row.Scan(
		&a.ID, &a.SolutionName, &a.ModuleName, &a.Version, &a.ContentHash,
		&a.Step, &a.ErrorDetail, &a.StartedAt, &a.FinishedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
