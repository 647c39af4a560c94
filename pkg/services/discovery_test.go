package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/erp"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/repositories"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockDiscoveryRepository is a configurable mock for testing.
type mockDiscoveryRepository struct {
	upserted     map[models.DiscoveryType][]*models.DiscoveredEntity
	upsertErr    error
	active       map[models.DiscoveryType][]*models.DiscoveredEntity
	activeErr    error
	versions     []*models.DiscoveredEntity
	counts       map[models.DiscoveryType]int
	countsErr    error
	freshness    map[models.DiscoveryType]time.Time
	freshnessErr error
}

func (m *mockDiscoveryRepository) UpsertBatch(ctx context.Context, entities []*models.DiscoveredEntity) (*repositories.DiscoveryUpsertStats, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	if m.upserted == nil {
		m.upserted = make(map[models.DiscoveryType][]*models.DiscoveredEntity)
	}
	for _, e := range entities {
		m.upserted[e.DiscoveryType] = append(m.upserted[e.DiscoveryType], e)
	}
	return &repositories.DiscoveryUpsertStats{Inserted: len(entities)}, nil
}

func (m *mockDiscoveryRepository) GetActive(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error) {
	if m.activeErr != nil {
		return nil, m.activeErr
	}
	return m.active[discoveryType], nil
}

func (m *mockDiscoveryRepository) GetActiveByName(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) (*models.DiscoveredEntity, error) {
	for _, e := range m.active[discoveryType] {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockDiscoveryRepository) GetVersions(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error) {
	return m.versions, nil
}

func (m *mockDiscoveryRepository) ActiveCounts(ctx context.Context, domain string) (map[models.DiscoveryType]int, error) {
	if m.countsErr != nil {
		return nil, m.countsErr
	}
	return m.counts, nil
}

func (m *mockDiscoveryRepository) Freshness(ctx context.Context, domain string) (map[models.DiscoveryType]time.Time, error) {
	if m.freshnessErr != nil {
		return nil, m.freshnessErr
	}
	return m.freshness, nil
}

// mockIntrospector is a configurable mock for erp.Introspector.
type mockIntrospector struct {
	serverVersion    string
	serverVersionErr error
	models           []erp.ModelDescriptor
	modelsPartial    bool
	modelsErr        error
	fieldsByModel    map[string][]erp.FieldDescriptor
	fieldsErrFor     map[string]error
	fieldsPartial    bool
	modules          []erp.ModuleDescriptor
	modulesPartial   bool
	modulesErr       error
	closed           bool
}

func (m *mockIntrospector) ServerVersion(ctx context.Context) (string, error) {
	if m.serverVersionErr != nil {
		return "", m.serverVersionErr
	}
	if m.serverVersion == "" {
		return "17.0", nil
	}
	return m.serverVersion, nil
}

func (m *mockIntrospector) DiscoverModels(ctx context.Context, filter erp.ModelFilter) (*erp.ModelDiscovery, error) {
	if m.modelsErr != nil {
		return nil, m.modelsErr
	}
	matched := make([]erp.ModelDescriptor, 0, len(m.models))
	for _, md := range m.models {
		if filter.Matches(md.Name) {
			matched = append(matched, md)
		}
	}
	return &erp.ModelDiscovery{Models: matched, Partial: m.modelsPartial}, nil
}

func (m *mockIntrospector) DiscoverFields(ctx context.Context, modelName string) (*erp.FieldDiscovery, error) {
	if err := m.fieldsErrFor[modelName]; err != nil {
		return nil, err
	}
	return &erp.FieldDiscovery{Fields: m.fieldsByModel[modelName], Partial: m.fieldsPartial}, nil
}

func (m *mockIntrospector) DiscoverModules(ctx context.Context) (*erp.ModuleDiscovery, error) {
	if m.modulesErr != nil {
		return nil, m.modulesErr
	}
	return &erp.ModuleDiscovery{Modules: m.modules, Partial: m.modulesPartial}, nil
}

func (m *mockIntrospector) Close() error {
	m.closed = true
	return nil
}

// mockAdapterFactory is a configurable mock for erp.AdapterFactory.
type mockAdapterFactory struct {
	introspector    erp.Introspector
	introspectorErr error
	transport       erp.ModuleTransport
	transportErr    error
}

func (f *mockAdapterFactory) NewIntrospector(ctx context.Context, cfg *config.ERPConfig) (erp.Introspector, error) {
	if f.introspectorErr != nil {
		return nil, f.introspectorErr
	}
	return f.introspector, nil
}

func (f *mockAdapterFactory) NewModuleTransport(ctx context.Context, cfg *config.ERPConfig) (erp.ModuleTransport, error) {
	if f.transportErr != nil {
		return nil, f.transportErr
	}
	return f.transport, nil
}

func (f *mockAdapterFactory) ListTypes() []erp.AdapterInfo {
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func erpTestConfig() *config.ERPConfig {
	return &config.ERPConfig{
		Adapter:  "jsonrpc",
		Endpoint: "http://erp.local:8069",
		Database: "erp",
		Login:    "admin",
	}
}

func sampleIntrospector() *mockIntrospector {
	return &mockIntrospector{
		serverVersion: "17.0",
		models: []erp.ModelDescriptor{
			{Name: "res.partner", DisplayName: "Contact", Module: "base", FieldCount: 2},
			{Name: "sale.order", DisplayName: "Sales Order", Module: "sale", FieldCount: 3},
		},
		fieldsByModel: map[string][]erp.FieldDescriptor{
			"res.partner": {
				{Model: "res.partner", Name: "name", Type: "char", Required: true},
				{Model: "res.partner", Name: "email", Type: "char"},
			},
			"sale.order": {
				{Model: "sale.order", Name: "name", Type: "char", Required: true},
				{Model: "sale.order", Name: "partner_id", Type: "many2one", Relation: "res.partner"},
				{Model: "sale.order", Name: "state", Type: "selection", Label: "Status"},
			},
		},
		modules: []erp.ModuleDescriptor{
			{Name: "base", DisplayName: "Base", State: "installed", Category: "Hidden"},
			{Name: "sale", DisplayName: "Sales", State: "installed", Category: "Sales"},
			{Name: "board", DisplayName: "Dashboards", State: "installed", Category: "Reporting/Dashboards"},
			{Name: "account_reports", DisplayName: "Accounting Reports", State: "uninstalled", Category: "Reporting"},
		},
	}
}

// ============================================================================
// Tests
// ============================================================================

func TestDiscoveryService_RefreshDomain_Success(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	intro := sampleIntrospector()
	factory := &mockAdapterFactory{introspector: intro}

	svc := NewDiscoveryService(repo, factory, erpTestConfig(), zap.NewNop())

	result, err := svc.RefreshDomain(context.Background(), "property_management")
	if err != nil {
		t.Fatalf("RefreshDomain failed: %v", err)
	}

	if result.ServerVersion != "17.0" {
		t.Errorf("server version = %q, want 17.0", result.ServerVersion)
	}
	if result.Partial {
		t.Error("pass should not be partial")
	}
	if !intro.closed {
		t.Error("introspector should be closed after the pass")
	}

	if got := len(repo.upserted[models.DiscoveryTypeModel]); got != 2 {
		t.Errorf("upserted %d model entities, want 2", got)
	}
	if got := len(repo.upserted[models.DiscoveryTypeField]); got != 2 {
		t.Errorf("upserted %d field entities, want 2", got)
	}
	// Only sale.order has a selection field named "state".
	workflows := repo.upserted[models.DiscoveryTypeWorkflow]
	if len(workflows) != 1 || workflows[0].Name != "sale.order" {
		t.Errorf("workflow entities = %+v, want one for sale.order", workflows)
	}
	if got := len(repo.upserted[models.DiscoveryTypeModule]); got != 4 {
		t.Errorf("upserted %d module entities, want 4", got)
	}
	// Only board is installed in a reporting category.
	bi := repo.upserted[models.DiscoveryTypeBIFeature]
	if len(bi) != 1 || bi[0].Name != "board" {
		t.Errorf("bi feature entities = %+v, want one for board", bi)
	}

	for _, dt := range models.ValidDiscoveryTypes {
		if result.Stats[dt] == nil {
			t.Errorf("missing stats for type %s", dt)
		}
	}
}

func TestDiscoveryService_RefreshDomain_ModelPrefixScopes(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	intro := sampleIntrospector()
	factory := &mockAdapterFactory{introspector: intro}

	cfg := erpTestConfig()
	cfg.ModelPrefix = "sale."
	svc := NewDiscoveryService(repo, factory, cfg, zap.NewNop())

	if _, err := svc.RefreshDomain(context.Background(), "property_management"); err != nil {
		t.Fatalf("RefreshDomain failed: %v", err)
	}

	cached := repo.upserted[models.DiscoveryTypeModel]
	if len(cached) != 1 || cached[0].Name != "sale.order" {
		t.Errorf("model entities = %+v, want only sale.order", cached)
	}
	// Field passes only run for models inside the scope.
	if got := len(repo.upserted[models.DiscoveryTypeField]); got != 1 {
		t.Errorf("upserted %d field entities, want 1", got)
	}
}

func TestDiscoveryService_RefreshDomain_EntityShapes(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	factory := &mockAdapterFactory{introspector: sampleIntrospector()}

	svc := NewDiscoveryService(repo, factory, erpTestConfig(), zap.NewNop())

	if _, err := svc.RefreshDomain(context.Background(), "property_management"); err != nil {
		t.Fatalf("RefreshDomain failed: %v", err)
	}

	var partnerFields *models.DiscoveredEntity
	for _, e := range repo.upserted[models.DiscoveryTypeField] {
		if e.Name == "res.partner" {
			partnerFields = e
		}
	}
	if partnerFields == nil {
		t.Fatal("missing field entity for res.partner")
	}
	if partnerFields.Domain != "property_management" {
		t.Errorf("domain = %q, want property_management", partnerFields.Domain)
	}
	if partnerFields.OwningModule() != "base" {
		t.Errorf("owning module = %q, want base", partnerFields.OwningModule())
	}
	fields, ok := partnerFields.SchemaDefinition["fields"].([]any)
	if !ok || len(fields) != 2 {
		t.Fatalf("schema definition fields = %+v, want list of 2", partnerFields.SchemaDefinition["fields"])
	}
	// Sorted by field name: email before name.
	first, ok := fields[0].(map[string]any)
	if !ok || first["name"] != "email" {
		t.Errorf("first field = %+v, want email", fields[0])
	}
}

func TestDiscoveryService_RefreshDomain_NotConfigured(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	factory := &mockAdapterFactory{}

	svc := NewDiscoveryService(repo, factory, &config.ERPConfig{}, zap.NewNop())

	_, err := svc.RefreshDomain(context.Background(), "property_management")
	if err == nil {
		t.Fatal("expected error when ERP is not configured")
	}
	var discErr *apperrors.DiscoveryError
	if !errors.As(err, &discErr) {
		t.Fatalf("expected DiscoveryError, got %T", err)
	}
	if discErr.Partial {
		t.Error("unconfigured ERP should not report a partial pass")
	}
}

func TestDiscoveryService_RefreshDomain_ModelsError(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	intro := sampleIntrospector()
	intro.modelsErr = errors.New("connection reset")
	factory := &mockAdapterFactory{introspector: intro}

	svc := NewDiscoveryService(repo, factory, erpTestConfig(), zap.NewNop())

	result, err := svc.RefreshDomain(context.Background(), "property_management")
	if err == nil {
		t.Fatal("expected error when model discovery fails")
	}
	if result != nil {
		t.Error("hard model discovery failure should return no result")
	}
	if len(repo.upserted) != 0 {
		t.Error("nothing should be upserted when model discovery fails")
	}
}

func TestDiscoveryService_RefreshDomain_FieldFailureIsPartial(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	intro := sampleIntrospector()
	intro.fieldsErrFor = map[string]error{"sale.order": errors.New("timeout")}
	factory := &mockAdapterFactory{introspector: intro}

	svc := NewDiscoveryService(repo, factory, erpTestConfig(), zap.NewNop())

	result, err := svc.RefreshDomain(context.Background(), "property_management")
	if err == nil {
		t.Fatal("expected partial error")
	}
	var discErr *apperrors.DiscoveryError
	if !errors.As(err, &discErr) || !discErr.Partial {
		t.Fatalf("expected partial DiscoveryError, got %v", err)
	}
	if result == nil {
		t.Fatal("partial pass should still return a result")
	}
	if !result.Partial {
		t.Error("result should be flagged partial")
	}

	// Both models cached, but only one field set made it.
	if got := len(repo.upserted[models.DiscoveryTypeModel]); got != 2 {
		t.Errorf("upserted %d model entities, want 2", got)
	}
	if got := len(repo.upserted[models.DiscoveryTypeField]); got != 1 {
		t.Errorf("upserted %d field entities, want 1", got)
	}
}

func TestDiscoveryService_RefreshDomain_ModuleFailureIsPartial(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	intro := sampleIntrospector()
	intro.modulesErr = errors.New("access denied")
	factory := &mockAdapterFactory{introspector: intro}

	svc := NewDiscoveryService(repo, factory, erpTestConfig(), zap.NewNop())

	result, err := svc.RefreshDomain(context.Background(), "property_management")
	if err == nil {
		t.Fatal("expected partial error")
	}
	if result == nil || !result.Partial {
		t.Fatalf("expected partial result, got %+v", result)
	}
	if got := len(repo.upserted[models.DiscoveryTypeModule]); got != 0 {
		t.Errorf("upserted %d module entities, want 0", got)
	}
	// Model and field caches still refreshed.
	if got := len(repo.upserted[models.DiscoveryTypeModel]); got != 2 {
		t.Errorf("upserted %d model entities, want 2", got)
	}
}

func TestDiscoveryService_RefreshDomain_AdapterPagePartialFlagsResult(t *testing.T) {
	repo := &mockDiscoveryRepository{}
	intro := sampleIntrospector()
	intro.modelsPartial = true
	factory := &mockAdapterFactory{introspector: intro}

	svc := NewDiscoveryService(repo, factory, erpTestConfig(), zap.NewNop())

	result, err := svc.RefreshDomain(context.Background(), "property_management")
	if err != nil {
		t.Fatalf("page-level partial should not be an error: %v", err)
	}
	if !result.Partial {
		t.Error("result should carry the adapter's partial flag")
	}
}

func TestDiscoveryService_GetCached_InvalidType(t *testing.T) {
	svc := NewDiscoveryService(&mockDiscoveryRepository{}, &mockAdapterFactory{}, erpTestConfig(), zap.NewNop())

	_, err := svc.GetCached(context.Background(), "bogus", "property_management")
	if err == nil {
		t.Fatal("expected error for invalid discovery type")
	}
}

func TestDiscoveryService_GetCached_ReturnsActive(t *testing.T) {
	repo := &mockDiscoveryRepository{
		active: map[models.DiscoveryType][]*models.DiscoveredEntity{
			models.DiscoveryTypeModel: {
				{Name: "res.partner", DiscoveryType: models.DiscoveryTypeModel},
			},
		},
	}
	svc := NewDiscoveryService(repo, &mockAdapterFactory{}, erpTestConfig(), zap.NewNop())

	entities, err := svc.GetCached(context.Background(), models.DiscoveryTypeModel, "property_management")
	if err != nil {
		t.Fatalf("GetCached failed: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "res.partner" {
		t.Errorf("GetCached = %+v, want one res.partner entity", entities)
	}
}

func TestDiscoveryService_Freshness(t *testing.T) {
	refreshedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockDiscoveryRepository{
		counts: map[models.DiscoveryType]int{
			models.DiscoveryTypeModel: 42,
			models.DiscoveryTypeField: 42,
		},
		freshness: map[models.DiscoveryType]time.Time{
			models.DiscoveryTypeModel: refreshedAt,
		},
	}
	svc := NewDiscoveryService(repo, &mockAdapterFactory{}, erpTestConfig(), zap.NewNop())

	fresh, err := svc.Freshness(context.Background(), "property_management")
	if err != nil {
		t.Fatalf("Freshness failed: %v", err)
	}
	if fresh.ActiveCounts[models.DiscoveryTypeModel] != 42 {
		t.Errorf("model count = %d, want 42", fresh.ActiveCounts[models.DiscoveryTypeModel])
	}
	if !fresh.LastRefresh[models.DiscoveryTypeModel].Equal(refreshedAt) {
		t.Errorf("last refresh = %v, want %v", fresh.LastRefresh[models.DiscoveryTypeModel], refreshedAt)
	}
}

func TestDiscoveryService_NewRelationResolver(t *testing.T) {
	repo := &mockDiscoveryRepository{
		active: map[models.DiscoveryType][]*models.DiscoveredEntity{
			models.DiscoveryTypeModel: {
				{
					Name:          "res.partner",
					DiscoveryType: models.DiscoveryTypeModel,
					Metadata:      models.JSONBMap{"module": "base"},
				},
				{
					Name:          "sale.order",
					DiscoveryType: models.DiscoveryTypeModel,
					Metadata:      models.JSONBMap{"module": "sale"},
				},
			},
		},
	}
	svc := NewDiscoveryService(repo, &mockAdapterFactory{}, erpTestConfig(), zap.NewNop())

	resolver, err := svc.NewRelationResolver(context.Background(), "property_management")
	if err != nil {
		t.Fatalf("NewRelationResolver failed: %v", err)
	}

	module, ok := resolver.ResolveModel("res.partner")
	if !ok || module != "base" {
		t.Errorf("ResolveModel(res.partner) = (%q, %v), want (base, true)", module, ok)
	}
	if _, ok := resolver.ResolveModel("unknown.model"); ok {
		t.Error("unknown model should not resolve")
	}
}
