package models

import (
	"time"

	"github.com/google/uuid"
)

// MigrationType classifies an executed DDL statement. The planner only ever
// produces additive statements: "create" covers CREATE TABLE, "alter" covers
// ALTER TABLE ADD COLUMN and CREATE INDEX. There is no destructive type.
type MigrationType string

const (
	MigrationTypeCreate MigrationType = "create"
	MigrationTypeAlter  MigrationType = "alter"
)

// MigrationStatus records the outcome of one executed statement.
type MigrationStatus string

const (
	MigrationStatusApplied MigrationStatus = "applied"
	MigrationStatusFailed  MigrationStatus = "failed"
)

// SchemaMigration is one row of the append-only tenant migration log.
type SchemaMigration struct {
	ID            uuid.UUID       `json:"id"`
	SolutionName  string          `json:"solution_name"`
	TableName     string          `json:"table_name"`
	MigrationType MigrationType   `json:"migration_type"`
	Statement     string          `json:"statement"`
	Status        MigrationStatus `json:"status"`
	ErrorDetail   *string         `json:"error_detail,omitempty"`
	ExecutedAt    time.Time       `json:"executed_at"`
}
