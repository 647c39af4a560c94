package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenerationStatus tracks a generation attempt through its lifecycle.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// ValidGenerationStatuses contains all valid generation status values.
var ValidGenerationStatuses = []GenerationStatus{
	GenerationStatusPending,
	GenerationStatusGenerating,
	GenerationStatusCompleted,
	GenerationStatusFailed,
}

// IsValidGenerationStatus checks if the given status is valid.
func IsValidGenerationStatus(s GenerationStatus) bool {
	for _, v := range ValidGenerationStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true once a generation attempt can no longer change.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// GeneratedModule records one generation attempt. Rows are append-only: a
// new attempt inserts a new row, and a row is never mutated after reaching a
// terminal status.
type GeneratedModule struct {
	ID           uuid.UUID `json:"id"`
	SolutionName string    `json:"solution_name"`
	ModuleName   string    `json:"module_name"`
	Version      string    `json:"version"`

	// Specification is the exact spec the generator consumed, snapshotted
	// for reproducibility.
	Specification json.RawMessage `json:"specification"`

	// FileManifest lists generated file paths in generation order.
	FileManifest []string         `json:"file_manifest"`
	ArchivePath  string           `json:"archive_path,omitempty"`
	ContentHash  string           `json:"content_hash,omitempty"`
	Status       GenerationStatus `json:"status"`
	ErrorDetail  *string          `json:"error_detail,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
