package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/erp"
	"github.com/modforge-io/modforge-platform/pkg/packaging"
)

// Transport ships module archives into an Odoo addons directory and drives
// installs through ir.module.module buttons. The addons path must be a
// directory the ERP server scans, reachable from this process (shared
// volume or local disk).
type Transport struct {
	client     *Client
	addonsPath string
	logger     *zap.Logger
}

// NewTransport creates a module transport over a fresh client.
func NewTransport(cfg *config.ERPConfig, logger *zap.Logger) (*Transport, error) {
	if cfg.AddonsPath == "" {
		return nil, fmt.Errorf("ERP addons path not configured")
	}

	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Transport{
		client:     client,
		addonsPath: cfg.AddonsPath,
		logger:     logger.Named("erp.transport"),
	}, nil
}

// Upload extracts the module archive into the addons directory, replacing
// any previous version of the same module. Returns the module's directory
// path as the artifact reference.
func (t *Transport) Upload(ctx context.Context, moduleName string, archive []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	moduleDir := filepath.Join(t.addonsPath, moduleName)

	// Stale files from a previous version must not survive the upgrade
	if err := os.RemoveAll(moduleDir); err != nil {
		return "", fmt.Errorf("failed to clear previous module directory: %w", err)
	}

	written, err := packaging.Unpack(archive, t.addonsPath)
	if err != nil {
		return "", fmt.Errorf("failed to extract module archive: %w", err)
	}

	t.logger.Info("uploaded module to addons directory",
		zap.String("module", moduleName),
		zap.String("path", moduleDir),
		zap.Int("files", len(written)))
	return moduleDir, nil
}

// RefreshModuleList makes the ERP rescan its addon paths.
func (t *Transport) RefreshModuleList(ctx context.Context) error {
	_, err := t.client.ExecuteKw(ctx, "ir.module.module", "update_list", []any{}, nil)
	if err != nil {
		return fmt.Errorf("failed to refresh module list: %w", err)
	}
	return nil
}

// Install installs an uploaded module by name.
func (t *Transport) Install(ctx context.Context, moduleName string) (*erp.InstallResult, error) {
	return t.runButton(ctx, moduleName, "button_immediate_install", "install")
}

// Upgrade upgrades an installed module in place.
func (t *Transport) Upgrade(ctx context.Context, moduleName string) (*erp.InstallResult, error) {
	return t.runButton(ctx, moduleName, "button_immediate_upgrade", "upgrade")
}

// Uninstall removes an installed module.
func (t *Transport) Uninstall(ctx context.Context, moduleName string) (*erp.InstallResult, error) {
	return t.runButton(ctx, moduleName, "button_immediate_uninstall", "uninstall")
}

// runButton resolves the module id and invokes one of the immediate module
// buttons on it.
func (t *Transport) runButton(ctx context.Context, moduleName, button, action string) (*erp.InstallResult, error) {
	id, err := t.moduleID(ctx, moduleName)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, fmt.Errorf("module %s not present in ERP module list (refresh first)", moduleName)
	}

	if _, err := t.client.ExecuteKw(ctx, "ir.module.module", button, []any{[]any{id}}, nil); err != nil {
		return nil, fmt.Errorf("failed to %s module %s: %w", action, moduleName, err)
	}

	state, err := t.ModuleState(ctx, moduleName)
	if err != nil {
		// The button succeeded; surface the state as unknown rather than
		// failing the whole operation.
		t.logger.Warn("could not read module state after action",
			zap.String("module", moduleName),
			zap.String("action", action))
		return &erp.InstallResult{Status: "ok"}, nil
	}

	t.logger.Info("module action completed",
		zap.String("module", moduleName),
		zap.String("action", action),
		zap.String("state", string(state)))
	return &erp.InstallResult{Status: "ok", Message: string(state)}, nil
}

// ModuleState reports the module's lifecycle state, or ModuleStateAbsent
// when the ERP does not know the module at all.
func (t *Transport) ModuleState(ctx context.Context, moduleName string) (erp.ModuleState, error) {
	records, err := t.client.SearchRead(ctx, "ir.module.module",
		[]any{[]any{"name", "=", moduleName}},
		[]string{"state"}, 0, 1)
	if err != nil {
		return "", fmt.Errorf("failed to read module state for %s: %w", moduleName, err)
	}

	if len(records) == 0 {
		return erp.ModuleStateAbsent, nil
	}
	return erp.ModuleState(asString(records[0]["state"])), nil
}

// moduleID resolves a module name to its ir.module.module id; 0 when absent.
func (t *Transport) moduleID(ctx context.Context, moduleName string) (int, error) {
	result, err := t.client.ExecuteKw(ctx, "ir.module.module", "search",
		[]any{[]any{[]any{"name", "=", moduleName}}},
		map[string]any{"limit": 1})
	if err != nil {
		return 0, fmt.Errorf("failed to search module %s: %w", moduleName, err)
	}

	var ids []int
	if err := json.Unmarshal(result, &ids); err != nil {
		return 0, fmt.Errorf("failed to parse module search response: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// Close releases the underlying client.
func (t *Transport) Close() error {
	return t.client.Close()
}

// Ensure Transport satisfies the adapter contract at compile time.
var _ erp.ModuleTransport = (*Transport)(nil)
