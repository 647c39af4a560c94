package jsonrpc

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/erp"
	"github.com/modforge-io/modforge-platform/pkg/logging"
	"github.com/modforge-io/modforge-platform/pkg/retry"
)

// Introspector reads ir.model, ir.model.fields and ir.module.module through
// the JSON-RPC client.
type Introspector struct {
	client *Client
	logger *zap.Logger
}

// NewIntrospector creates an introspector over a fresh client.
func NewIntrospector(cfg *config.ERPConfig, logger *zap.Logger) (*Introspector, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Introspector{
		client: client,
		logger: logger.Named("erp.introspector"),
	}, nil
}

// ServerVersion reports the ERP server version.
func (i *Introspector) ServerVersion(ctx context.Context) (string, error) {
	return i.client.Version(ctx)
}

var modelFields = []string{"model", "name", "modules", "transient", "field_id"}

// DiscoverModels lists non-transient business models matching the filter.
// Pages that keep failing after retries are skipped and the result is
// flagged partial.
func (i *Introspector) DiscoverModels(ctx context.Context, filter erp.ModelFilter) (*erp.ModelDiscovery, error) {
	domain := []any{[]any{"transient", "=", false}}
	if filter.NamePrefix != "" {
		// Server-side narrowing only; =like treats _ as a wildcard, so
		// the exact prefix check happens below.
		domain = append(domain, []any{"model", "=like", filter.NamePrefix + "%"})
	}

	records, failedPages, err := i.pagedSearchRead(ctx, "ir.model", domain, modelFields)
	if err != nil {
		return nil, err
	}

	discovery := &erp.ModelDiscovery{
		Models:      make([]erp.ModelDescriptor, 0, len(records)),
		Partial:     failedPages > 0,
		FailedPages: failedPages,
	}

	for _, rec := range records {
		name := asString(rec["model"])
		if !filter.Matches(name) {
			continue
		}
		discovery.Models = append(discovery.Models, erp.ModelDescriptor{
			Name:        name,
			DisplayName: asString(rec["name"]),
			Module:      firstModule(asString(rec["modules"])),
			Transient:   asBool(rec["transient"]),
			FieldCount:  idListLen(rec["field_id"]),
		})
	}

	i.logger.Info("discovered models",
		zap.Int("count", len(discovery.Models)),
		zap.Bool("partial", discovery.Partial))
	return discovery, nil
}

var fieldFields = []string{"name", "ttype", "field_description", "required", "readonly", "relation", "help"}

// DiscoverFields lists the fields of one model.
func (i *Introspector) DiscoverFields(ctx context.Context, modelName string) (*erp.FieldDiscovery, error) {
	domain := []any{[]any{"model", "=", modelName}}

	records, failedPages, err := i.pagedSearchRead(ctx, "ir.model.fields", domain, fieldFields)
	if err != nil {
		return nil, err
	}

	discovery := &erp.FieldDiscovery{
		Fields:      make([]erp.FieldDescriptor, 0, len(records)),
		Partial:     failedPages > 0,
		FailedPages: failedPages,
	}

	for _, rec := range records {
		discovery.Fields = append(discovery.Fields, erp.FieldDescriptor{
			Model:    modelName,
			Name:     asString(rec["name"]),
			Type:     asString(rec["ttype"]),
			Label:    asString(rec["field_description"]),
			Required: asBool(rec["required"]),
			Readonly: asBool(rec["readonly"]),
			Relation: asString(rec["relation"]),
			Help:     asString(rec["help"]),
		})
	}

	return discovery, nil
}

var moduleFields = []string{"name", "shortdesc", "state", "installed_version", "category_id", "summary"}

// DiscoverModules lists all addons the ERP knows about.
func (i *Introspector) DiscoverModules(ctx context.Context) (*erp.ModuleDiscovery, error) {
	records, failedPages, err := i.pagedSearchRead(ctx, "ir.module.module", nil, moduleFields)
	if err != nil {
		return nil, err
	}

	discovery := &erp.ModuleDiscovery{
		Modules:     make([]erp.ModuleDescriptor, 0, len(records)),
		Partial:     failedPages > 0,
		FailedPages: failedPages,
	}

	for _, rec := range records {
		discovery.Modules = append(discovery.Modules, erp.ModuleDescriptor{
			Name:             asString(rec["name"]),
			DisplayName:      asString(rec["shortdesc"]),
			State:            asString(rec["state"]),
			InstalledVersion: asString(rec["installed_version"]),
			Category:         relationName(rec["category_id"]),
			Summary:          asString(rec["summary"]),
		})
	}

	return discovery, nil
}

// pagedSearchRead walks a model page by page. Each page gets bounded
// retries; a page that still fails is skipped and counted so callers can
// flag the result partial. The initial count query is fatal when it fails,
// since without it no paging plan exists.
func (i *Introspector) pagedSearchRead(ctx context.Context, model string, domain []any, fields []string) ([]map[string]any, int, error) {
	var total int
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var countErr error
		total, countErr = i.client.SearchCount(ctx, model, domain)
		return countErr
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count %s records: %w", model, err)
	}

	pageSize := i.client.pageSize
	records := make([]map[string]any, 0, total)
	failedPages := 0

	for offset := 0; offset < total; offset += pageSize {
		var page []map[string]any
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			var pageErr error
			page, pageErr = i.client.SearchRead(ctx, model, domain, fields, offset, pageSize)
			return pageErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, failedPages, ctx.Err()
			}
			failedPages++
			i.logger.Warn("skipping failed page",
				zap.String("model", model),
				zap.Int("offset", offset),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		records = append(records, page...)
	}

	return records, failedPages, nil
}

// Close releases the underlying client.
func (i *Introspector) Close() error {
	return i.client.Close()
}

// Ensure Introspector satisfies the adapter contract at compile time.
var _ erp.Introspector = (*Introspector)(nil)

// ===== Odoo value coercion =====
// Odoo's wire format sends false where a field is unset, so every scalar
// needs a type switch.

func asString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// idListLen measures one2many/many2many values, which arrive as id arrays.
func idListLen(v any) int {
	list, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(list)
}

// relationName extracts the display name from a many2one value, which
// arrives as [id, "Display Name"].
func relationName(v any) string {
	pair, ok := v.([]any)
	if !ok || len(pair) < 2 {
		return ""
	}
	return asString(pair[1])
}

// firstModule picks the first entry of ir.model's comma-separated module
// list, e.g. "base, sale" yields "base".
func firstModule(modules string) string {
	if modules == "" {
		return ""
	}
	first := strings.Split(modules, ",")[0]
	return strings.TrimSpace(first)
}
