package jsonrpc

import (
	"context"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/erp"
)

func init() {
	erp.Register(erp.AdapterRegistration{
		Info: erp.AdapterInfo{
			Type:        "jsonrpc",
			DisplayName: "Odoo JSON-RPC",
			Description: "Connect to Odoo 14+ over the /jsonrpc endpoint",
		},
		IntrospectorFactory: func(_ context.Context, cfg *config.ERPConfig, logger *zap.Logger) (erp.Introspector, error) {
			return NewIntrospector(cfg, logger)
		},
		TransportFactory: func(_ context.Context, cfg *config.ERPConfig, logger *zap.Logger) (erp.ModuleTransport, error) {
			return NewTransport(cfg, logger)
		},
	})
}
