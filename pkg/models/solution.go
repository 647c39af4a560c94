package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TenantDatabaseConfig describes how to reach a solution's physical
// database. Password holds the AES-GCM encrypted password when the entry is
// at rest; the repository decrypts it on load.
type TenantDatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// ConnectionString returns a PostgreSQL connection string for the tenant
// database. The config's password must already be decrypted.
func (c *TenantDatabaseConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode,
	)
}

// MaintenanceConnectionString returns a connection string against the
// named maintenance database (usually "postgres"), used to create the
// tenant database itself.
func (c *TenantDatabaseConfig) MaintenanceConnectionString(maintenanceDB string) string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, maintenanceDB, sslMode,
	)
}

// SolutionRegistryEntry is the registry record of one provisioned solution
// (tenant). SolutionName is globally unique. Entries are deactivated at
// offboarding, never hard-deleted.
type SolutionRegistryEntry struct {
	ID           uuid.UUID            `json:"id"`
	SolutionName string               `json:"solution_name"`
	Domain       string               `json:"domain"`
	Database     TenantDatabaseConfig `json:"database"`
	// TablePrefix namespaces the platform's per-tenant metadata tables
	// inside the tenant database.
	TablePrefix string `json:"table_prefix"`
	// BusinessPrefix namespaces the tenant's business tables.
	BusinessPrefix string    `json:"business_prefix"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
