// Package erp defines the adapter boundary to the target ERP system.
// Introspection (reading model/field/module metadata) and module transport
// (shipping and installing generated addons) are separate capabilities so an
// adapter can implement either or both.
package erp

import (
	"context"
	"strings"
)

// ModelDescriptor describes one business model discovered in the ERP.
type ModelDescriptor struct {
	Name        string `json:"name"`         // technical name, e.g. "res.partner"
	DisplayName string `json:"display_name"` // human label, e.g. "Contact"
	Module      string `json:"module"`       // owning module, first of the providing modules
	Transient   bool   `json:"transient"`
	FieldCount  int    `json:"field_count"`
}

// FieldDescriptor describes one field of a discovered model.
type FieldDescriptor struct {
	Model    string `json:"model"`
	Name     string `json:"name"`
	Type     string `json:"type"` // ERP-native type name, e.g. "many2one"
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Readonly bool   `json:"readonly"`
	Relation string `json:"relation,omitempty"` // target model for relational types
	Help     string `json:"help,omitempty"`
}

// ModuleDescriptor describes one addon known to the ERP's module list.
type ModuleDescriptor struct {
	Name             string `json:"name"`
	DisplayName      string `json:"display_name"`
	State            string `json:"state"` // ERP-native state, e.g. "installed"
	InstalledVersion string `json:"installed_version,omitempty"`
	Category         string `json:"category,omitempty"`
	Summary          string `json:"summary,omitempty"`
}

// ModelFilter narrows a model listing. The zero value lists every
// non-transient model.
type ModelFilter struct {
	// NamePrefix keeps only models whose technical name starts with the
	// prefix, e.g. "rental." scopes discovery to one namespace.
	NamePrefix string
}

// Matches reports whether a model name passes the filter.
func (f ModelFilter) Matches(name string) bool {
	return f.NamePrefix == "" || strings.HasPrefix(name, f.NamePrefix)
}

// ModelDiscovery is the result of listing models. Partial is true when some
// pages failed after retries; Models then holds everything that could be
// fetched.
type ModelDiscovery struct {
	Models      []ModelDescriptor `json:"models"`
	Partial     bool              `json:"partial"`
	FailedPages int               `json:"failed_pages,omitempty"`
}

// FieldDiscovery is the result of listing one model's fields.
type FieldDiscovery struct {
	Fields      []FieldDescriptor `json:"fields"`
	Partial     bool              `json:"partial"`
	FailedPages int               `json:"failed_pages,omitempty"`
}

// ModuleDiscovery is the result of listing the ERP's module registry.
type ModuleDiscovery struct {
	Modules     []ModuleDescriptor `json:"modules"`
	Partial     bool               `json:"partial"`
	FailedPages int                `json:"failed_pages,omitempty"`
}

// Introspector reads metadata out of a running ERP instance.
// Each implementation owns its connection and must be closed when done.
type Introspector interface {
	// ServerVersion reports the ERP server version, doubling as a
	// reachability probe.
	ServerVersion(ctx context.Context) (string, error)

	// DiscoverModels lists non-transient business models matching the
	// filter.
	DiscoverModels(ctx context.Context, filter ModelFilter) (*ModelDiscovery, error)

	// DiscoverFields lists the fields of one model.
	DiscoverFields(ctx context.Context, modelName string) (*FieldDiscovery, error)

	// DiscoverModules lists all addons the ERP knows about.
	DiscoverModules(ctx context.Context) (*ModuleDiscovery, error)

	// Close releases the connection.
	Close() error
}

// ModuleState is the lifecycle state of an addon as reported by the ERP.
type ModuleState string

const (
	ModuleStateAbsent      ModuleState = "absent" // not in the module list at all
	ModuleStateUninstalled ModuleState = "uninstalled"
	ModuleStateInstalled   ModuleState = "installed"
	ModuleStateToInstall   ModuleState = "to install"
	ModuleStateToUpgrade   ModuleState = "to upgrade"
	ModuleStateToRemove    ModuleState = "to remove"
)

// InstallResult is the ERP's answer to an install/upgrade/uninstall request.
type InstallResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ModuleTransport ships generated module archives into the ERP and drives
// their lifecycle. Each implementation owns its connection and must be
// closed when done.
type ModuleTransport interface {
	// Upload places the module archive where the ERP can load it and
	// returns an adapter-specific reference to the uploaded artifact.
	Upload(ctx context.Context, moduleName string, archive []byte) (string, error)

	// RefreshModuleList makes the ERP rescan its addon paths so a freshly
	// uploaded module becomes installable.
	RefreshModuleList(ctx context.Context) error

	// Install installs an uploaded module.
	Install(ctx context.Context, moduleName string) (*InstallResult, error)

	// Upgrade upgrades an already installed module in place.
	Upgrade(ctx context.Context, moduleName string) (*InstallResult, error)

	// Uninstall removes an installed module. Best effort: the ERP decides
	// what happens to data the module created.
	Uninstall(ctx context.Context, moduleName string) (*InstallResult, error)

	// ModuleState reports the current lifecycle state of a module.
	ModuleState(ctx context.Context, moduleName string) (ModuleState, error)

	// Close releases the connection.
	Close() error
}
