package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// maxVersionRetries bounds how often an upsert retries after losing a
// version race to a concurrent refresh of the same descriptor. Each lost
// race means another writer committed, so N retries tolerate N concurrent
// refreshes of one descriptor.
const maxVersionRetries = 5

// DiscoveryUpsertStats summarizes one batch of descriptor upserts.
type DiscoveryUpsertStats struct {
	Inserted   int `json:"inserted"`
	Superseded int `json:"superseded"`
	Unchanged  int `json:"unchanged"`
}

// Total returns the number of descriptors the batch covered.
func (s *DiscoveryUpsertStats) Total() int {
	return s.Inserted + s.Superseded + s.Unchanged
}

// DiscoveryRepository provides data access for the versioned discovery cache.
// Rows are never deleted: superseding a descriptor deactivates the current
// row and inserts the next version, so prior versions remain as an audit
// trail.
type DiscoveryRepository interface {
	// UpsertBatch applies one discovery batch. Per descriptor, keyed by
	// (type, domain, name): an unchanged schema definition writes nothing,
	// a changed or new one supersedes the active row inside a transaction.
	UpsertBatch(ctx context.Context, entities []*models.DiscoveredEntity) (*DiscoveryUpsertStats, error)
	GetActive(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error)
	GetActiveByName(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) (*models.DiscoveredEntity, error)
	GetVersions(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error)
	ActiveCounts(ctx context.Context, domain string) (map[models.DiscoveryType]int, error)
	Freshness(ctx context.Context, domain string) (map[models.DiscoveryType]time.Time, error)
}

type discoveryRepository struct {
	db *database.DB
}

// NewDiscoveryRepository creates a new DiscoveryRepository backed by the
// control-plane database.
func NewDiscoveryRepository(db *database.DB) DiscoveryRepository {
	return &discoveryRepository{db: db}
}

var _ DiscoveryRepository = (*discoveryRepository)(nil)

// upsert outcomes, tallied into DiscoveryUpsertStats.
const (
	outcomeUnchanged = iota
	outcomeInserted
	outcomeSuperseded
)

func (r *discoveryRepository) UpsertBatch(ctx context.Context, entities []*models.DiscoveredEntity) (*DiscoveryUpsertStats, error) {
	stats := &DiscoveryUpsertStats{}
	for _, entity := range entities {
		outcome, err := r.upsertWithRetry(ctx, entity)
		if err != nil {
			return stats, err
		}
		switch outcome {
		case outcomeInserted:
			stats.Inserted++
		case outcomeSuperseded:
			stats.Superseded++
		default:
			stats.Unchanged++
		}
	}
	return stats, nil
}

// upsertWithRetry retries the versioned upsert when a concurrent refresh
// wins the insert race. The retry re-reads the new active row, so the last
// writer either records its descriptor as the next version or observes it
// is now unchanged.
func (r *discoveryRepository) upsertWithRetry(ctx context.Context, entity *models.DiscoveredEntity) (int, error) {
	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		outcome, err := r.upsertOne(ctx, entity)
		if err == nil {
			return outcome, nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("failed to upsert discovered entity %q after %d attempts: %w",
		entity.Name, maxVersionRetries, lastErr)
}

func (r *discoveryRepository) upsertOne(ctx context.Context, entity *models.DiscoveredEntity) (int, error) {
	if !models.IsValidDiscoveryType(entity.DiscoveryType) {
		return 0, fmt.Errorf("invalid discovery type: %s", entity.DiscoveryType)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var (
		currentID      uuid.UUID
		currentVersion int
		currentSchema  models.JSONBMap
	)
	err = tx.QueryRow(ctx, `
		SELECT id, version, schema_definition
		FROM forge_discovered_entities
		WHERE discovery_type = $1 AND domain = $2 AND name = $3 AND is_active = true`,
		entity.DiscoveryType, entity.Domain, entity.Name,
	).Scan(&currentID, &currentVersion, &currentSchema)

	hasActive := true
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("failed to read active entity: %w", err)
		}
		hasActive = false
	}

	if hasActive && schemaEqual(currentSchema, entity.SchemaDefinition) {
		entity.Version = currentVersion
		return outcomeUnchanged, nil
	}

	now := time.Now()
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if entity.DiscoveredAt.IsZero() {
		entity.DiscoveredAt = now
	}
	entity.IsActive = true
	entity.CreatedAt = now
	entity.UpdatedAt = now

	outcome := outcomeInserted
	if hasActive {
		_, err = tx.Exec(ctx, `
			UPDATE forge_discovered_entities
			SET is_active = false, updated_at = $2
			WHERE id = $1`,
			currentID, now)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate prior version: %w", err)
		}
		entity.Version = currentVersion + 1
		outcome = outcomeSuperseded
	} else {
		// Covers the never-seen case and any historical inactive rows alike.
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1
			FROM forge_discovered_entities
			WHERE discovery_type = $1 AND domain = $2 AND name = $3`,
			entity.DiscoveryType, entity.Domain, entity.Name,
		).Scan(&entity.Version)
		if err != nil {
			return 0, fmt.Errorf("failed to get next version: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO forge_discovered_entities (
			id, discovery_type, domain, name, version,
			metadata, schema_definition, is_active, discovered_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entity.ID, entity.DiscoveryType, entity.Domain, entity.Name, entity.Version,
		normalizeJSONB(entity.Metadata), normalizeJSONB(entity.SchemaDefinition),
		entity.IsActive, entity.DiscoveredAt, entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert discovered entity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcome, nil
}

func (r *discoveryRepository) GetActive(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, discovery_type, domain, name, version,
		       metadata, schema_definition, is_active, discovered_at, created_at, updated_at
		FROM forge_discovered_entities
		WHERE discovery_type = $1 AND domain = $2 AND is_active = true
		ORDER BY name`,
		discoveryType, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to query active entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func (r *discoveryRepository) GetActiveByName(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) (*models.DiscoveredEntity, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, discovery_type, domain, name, version,
		       metadata, schema_definition, is_active, discovered_at, created_at, updated_at
		FROM forge_discovered_entities
		WHERE discovery_type = $1 AND domain = $2 AND name = $3 AND is_active = true`,
		discoveryType, domain, name)

	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get discovered entity: %w", err)
	}
	return entity, nil
}

// GetVersions returns every retained version of one descriptor, newest
// first. The active version, if any, is the first element.
func (r *discoveryRepository) GetVersions(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, discovery_type, domain, name, version,
		       metadata, schema_definition, is_active, discovered_at, created_at, updated_at
		FROM forge_discovered_entities
		WHERE discovery_type = $1 AND domain = $2 AND name = $3
		ORDER BY version DESC`,
		discoveryType, domain, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity versions: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func (r *discoveryRepository) ActiveCounts(ctx context.Context, domain string) (map[models.DiscoveryType]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT discovery_type, COUNT(*)
		FROM forge_discovered_entities
		WHERE domain = $1 AND is_active = true
		GROUP BY discovery_type`,
		domain)
	if err != nil {
		return nil, fmt.Errorf("failed to count active entities: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DiscoveryType]int)
	for rows.Next() {
		var (
			discoveryType models.DiscoveryType
			count         int
		)
		if err := rows.Scan(&discoveryType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[discoveryType] = count
	}
	return counts, rows.Err()
}

func (r *discoveryRepository) Freshness(ctx context.Context, domain string) (map[models.DiscoveryType]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT discovery_type, MAX(discovered_at)
		FROM forge_discovered_entities
		WHERE domain = $1 AND is_active = true
		GROUP BY discovery_type`,
		domain)
	if err != nil {
		return nil, fmt.Errorf("failed to query freshness: %w", err)
	}
	defer rows.Close()

	freshness := make(map[models.DiscoveryType]time.Time)
	for rows.Next() {
		var (
			discoveryType models.DiscoveryType
			discoveredAt  time.Time
		)
		if err := rows.Scan(&discoveryType, &discoveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan freshness row: %w", err)
		}
		freshness[discoveryType] = discoveredAt
	}
	return freshness, rows.Err()
}

// ===== Helpers =====

func scanEntity(row pgx.Row) (*models.DiscoveredEntity, error) {
	var e models.DiscoveredEntity
	err := row.Scan(
		&e.ID, &e.DiscoveryType, &e.Domain, &e.Name, &e.Version,
		&e.Metadata, &e.SchemaDefinition, &e.IsActive, &e.DiscoveredAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEntities(rows pgx.Rows) ([]*models.DiscoveredEntity, error) {
	var entities []*models.DiscoveredEntity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// schemaEqual compares schema definitions by canonical JSON encoding, so
// key order never produces false version bumps.
func schemaEqual(a, b models.JSONBMap) bool {
	ja, err := json.Marshal(normalizeJSONB(a))
	if err != nil {
		return false
	}
	jb, err := json.Marshal(normalizeJSONB(b))
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func normalizeJSONB(m models.JSONBMap) models.JSONBMap {
	if m == nil {
		return models.JSONBMap{}
	}
	return m
}
