package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/crypto"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// SolutionRepository provides data access for the solution registry.
// Offboarded solutions are deactivated, never deleted, so their history in
// the other control-plane tables stays attributable.
type SolutionRepository interface {
	Create(ctx context.Context, entry *models.SolutionRegistryEntry) error
	GetByName(ctx context.Context, solutionName string) (*models.SolutionRegistryEntry, error)
	List(ctx context.Context) ([]*models.SolutionRegistryEntry, error)
	Deactivate(ctx context.Context, solutionName string) error
}

type solutionRepository struct {
	db        *database.DB
	encryptor *crypto.CredentialEncryptor
}

// NewSolutionRepository creates a new SolutionRepository. Tenant database
// passwords are encrypted with the given encryptor before they reach the
// database and decrypted on load.
func NewSolutionRepository(db *database.DB, encryptor *crypto.CredentialEncryptor) SolutionRepository {
	return &solutionRepository{db: db, encryptor: encryptor}
}

var _ SolutionRepository = (*solutionRepository)(nil)

func (r *solutionRepository) Create(ctx context.Context, entry *models.SolutionRegistryEntry) error {
	now := time.Now()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.IsActive = true
	entry.CreatedAt = now
	entry.UpdatedAt = now

	configJSON, err := r.marshalDatabaseConfig(&entry.Database)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO forge_solutions (
			id, solution_name, domain, database_config,
			table_prefix, business_prefix, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.SolutionName, entry.Domain, configJSON,
		entry.TablePrefix, entry.BusinessPrefix, entry.IsActive, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		// Unique constraint violation (PostgreSQL error code 23505)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create solution: %w", err)
	}
	return nil
}

func (r *solutionRepository) GetByName(ctx context.Context, solutionName string) (*models.SolutionRegistryEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, solution_name, domain, database_config,
		       table_prefix, business_prefix, is_active, created_at, updated_at
		FROM forge_solutions
		WHERE solution_name = $1`,
		solutionName)

	entry, err := r.scanSolution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get solution: %w", err)
	}
	return entry, nil
}

func (r *solutionRepository) List(ctx context.Context) ([]*models.SolutionRegistryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, solution_name, domain, database_config,
		       table_prefix, business_prefix, is_active, created_at, updated_at
		FROM forge_solutions
		ORDER BY solution_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list solutions: %w", err)
	}
	defer rows.Close()

	var entries []*models.SolutionRegistryEntry
	for rows.Next() {
		entry, err := r.scanSolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan solution row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *solutionRepository) Deactivate(ctx context.Context, solutionName string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE forge_solutions
		SET is_active = false, updated_at = $2
		WHERE solution_name = $1 AND is_active = true`,
		solutionName, time.Now())
	if err != nil {
		return fmt.Errorf("failed to deactivate solution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// marshalDatabaseConfig encrypts the password and serializes the config for
// the database_config column.
func (r *solutionRepository) marshalDatabaseConfig(cfg *models.TenantDatabaseConfig) ([]byte, error) {
	stored := *cfg
	encrypted, err := r.encryptor.Encrypt(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt tenant database password: %w", err)
	}
	stored.Password = encrypted

	configJSON, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal database config: %w", err)
	}
	return configJSON, nil
}

func (r *solutionRepository) scanSolution(row pgx.Row) (*models.SolutionRegistryEntry, error) {
	var (
		entry      models.SolutionRegistryEntry
		configJSON []byte
	)
	err := row.Scan(
		&entry.ID, &entry.SolutionName, &entry.Domain, &configJSON,
		&entry.TablePrefix, &entry.BusinessPrefix, &entry.IsActive, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configJSON, &entry.Database); err != nil {
		return nil, fmt.Errorf("failed to unmarshal database config: %w", err)
	}
	decrypted, err := r.encryptor.Decrypt(entry.Database.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, fmt.Errorf("%w: solution %q", apperrors.ErrCredentialsKeyMismatch, entry.SolutionName)
		}
		return nil, fmt.Errorf("failed to decrypt tenant database password: %w", err)
	}
	entry.Database.Password = decrypted

	return &entry, nil
}
