package erp

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
)

// AdapterInfo describes a registered ERP adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "jsonrpc"
	DisplayName string `json:"display_name"` // "Odoo JSON-RPC"
	Description string `json:"description"`
}

// AdapterRegistration contains info + factories for creating adapters.
// An adapter may leave a factory nil when it does not support that
// capability.
type AdapterRegistration struct {
	Info                AdapterInfo
	IntrospectorFactory func(ctx context.Context, cfg *config.ERPConfig, logger *zap.Logger) (Introspector, error)
	TransportFactory    func(ctx context.Context, cfg *config.ERPConfig, logger *zap.Logger) (ModuleTransport, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetIntrospectorFactory returns the introspector factory for an adapter
// type. Returns nil if the type is not registered or does not introspect.
func GetIntrospectorFactory(adapterType string) func(ctx context.Context, cfg *config.ERPConfig, logger *zap.Logger) (Introspector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[adapterType]; ok {
		return reg.IntrospectorFactory
	}
	return nil
}

// GetTransportFactory returns the module transport factory for an adapter
// type. Returns nil if the type is not registered or does not ship modules.
func GetTransportFactory(adapterType string) func(ctx context.Context, cfg *config.ERPConfig, logger *zap.Logger) (ModuleTransport, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[adapterType]; ok {
		return reg.TransportFactory
	}
	return nil
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(adapterType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[adapterType]
	return ok
}
