package erp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
)

// AdapterFactory creates ERP adapters from the registry.
type AdapterFactory interface {
	// NewIntrospector creates an introspector for the configured adapter type.
	NewIntrospector(ctx context.Context, cfg *config.ERPConfig) (Introspector, error)

	// NewModuleTransport creates a module transport for the configured adapter type.
	NewModuleTransport(ctx context.Context, cfg *config.ERPConfig) (ModuleTransport, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewAdapterFactory returns a factory that uses the global registry.
func NewAdapterFactory(logger *zap.Logger) AdapterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{logger: logger}
}

func (f *registryFactory) NewIntrospector(ctx context.Context, cfg *config.ERPConfig) (Introspector, error) {
	factory := GetIntrospectorFactory(cfg.Adapter)
	if factory == nil {
		return nil, fmt.Errorf("unsupported ERP adapter type: %s (not compiled in)", cfg.Adapter)
	}
	return factory(ctx, cfg, f.logger)
}

func (f *registryFactory) NewModuleTransport(ctx context.Context, cfg *config.ERPConfig) (ModuleTransport, error) {
	factory := GetTransportFactory(cfg.Adapter)
	if factory == nil {
		return nil, fmt.Errorf("module transport not supported for adapter type: %s", cfg.Adapter)
	}
	return factory(ctx, cfg, f.logger)
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)
