// Package models contains domain types for the modforge platform.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DiscoveryType classifies what kind of ERP artifact a discovered entity
// describes.
type DiscoveryType string

const (
	DiscoveryTypeModel     DiscoveryType = "model"
	DiscoveryTypeField     DiscoveryType = "field"
	DiscoveryTypeModule    DiscoveryType = "module"
	DiscoveryTypeWorkflow  DiscoveryType = "workflow"
	DiscoveryTypeBIFeature DiscoveryType = "bi_feature"
)

// ValidDiscoveryTypes contains all valid discovery type values.
var ValidDiscoveryTypes = []DiscoveryType{
	DiscoveryTypeModel,
	DiscoveryTypeField,
	DiscoveryTypeModule,
	DiscoveryTypeWorkflow,
	DiscoveryTypeBIFeature,
}

// IsValidDiscoveryType checks if the given type is valid.
func IsValidDiscoveryType(t DiscoveryType) bool {
	for _, v := range ValidDiscoveryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// DiscoveredEntity is one versioned snapshot of an ERP artifact in the
// discovery cache. Exactly one row per (type, domain, name) is active at a
// time; superseded versions are retained inactive as an audit trail and are
// never deleted.
type DiscoveredEntity struct {
	ID               uuid.UUID     `json:"id"`
	DiscoveryType    DiscoveryType `json:"discovery_type"`
	Domain           string        `json:"domain"`
	Name             string        `json:"name"`
	Version          int           `json:"version"`
	Metadata         JSONBMap      `json:"metadata"`
	SchemaDefinition JSONBMap      `json:"schema_definition"`
	IsActive         bool          `json:"is_active"`
	DiscoveredAt     time.Time     `json:"discovered_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// OwningModule reports the ERP module that owns the discovered artifact, as
// recorded by the introspector in entity metadata. Empty when unknown.
func (e *DiscoveredEntity) OwningModule() string {
	if e.Metadata == nil {
		return ""
	}
	if m, ok := e.Metadata["module"].(string); ok {
		return m
	}
	return ""
}
