package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/generator"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockModuleRepository is a configurable mock for testing. It keeps attempt
// rows in memory and applies status transitions the way the real repository
// does.
type mockModuleRepository struct {
	byID               map[uuid.UUID]*models.GeneratedModule
	transitions        []models.GenerationStatus
	createErr          error
	updateErr          error
	completeErr        error
	latest             *models.GeneratedModule
	latestErr          error
	list               []*models.GeneratedModule
	latestCompleted    []*models.GeneratedModule
	latestCompletedErr error
}

func (m *mockModuleRepository) Create(ctx context.Context, module *models.GeneratedModule) error {
	if m.createErr != nil {
		return m.createErr
	}
	if module.ID == uuid.Nil {
		module.ID = uuid.New()
	}
	if module.Status == "" {
		module.Status = models.GenerationStatusPending
	}
	if m.byID == nil {
		m.byID = make(map[uuid.UUID]*models.GeneratedModule)
	}
	m.byID[module.ID] = module
	m.transitions = append(m.transitions, module.Status)
	return nil
}

func (m *mockModuleRepository) Get(ctx context.Context, id uuid.UUID) (*models.GeneratedModule, error) {
	module, ok := m.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return module, nil
}

func (m *mockModuleRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	module, ok := m.byID[id]
	if !ok || module.Status.IsTerminal() {
		return apperrors.ErrNotFound
	}
	module.Status = status
	m.transitions = append(m.transitions, status)
	return nil
}

func (m *mockModuleRepository) Complete(ctx context.Context, id uuid.UUID, fileManifest []string, archivePath, contentHash string) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	module, ok := m.byID[id]
	if !ok || module.Status.IsTerminal() {
		return apperrors.ErrNotFound
	}
	module.FileManifest = fileManifest
	module.ArchivePath = archivePath
	module.ContentHash = contentHash
	module.Status = models.GenerationStatusCompleted
	m.transitions = append(m.transitions, models.GenerationStatusCompleted)
	return nil
}

func (m *mockModuleRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorDetail string) error {
	module, ok := m.byID[id]
	if !ok || module.Status.IsTerminal() {
		return apperrors.ErrNotFound
	}
	module.Status = models.GenerationStatusFailed
	module.ErrorDetail = &errorDetail
	m.transitions = append(m.transitions, models.GenerationStatusFailed)
	return nil
}

func (m *mockModuleRepository) GetLatest(ctx context.Context, solutionName, moduleName string) (*models.GeneratedModule, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	if m.latest == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.latest, nil
}

func (m *mockModuleRepository) ListBySolution(ctx context.Context, solutionName string, limit int) ([]*models.GeneratedModule, error) {
	return m.list, nil
}

func (m *mockModuleRepository) ListLatestCompleted(ctx context.Context) ([]*models.GeneratedModule, error) {
	if m.latestCompletedErr != nil {
		return nil, m.latestCompletedErr
	}
	return m.latestCompleted, nil
}

// single returns the only attempt row, failing the test otherwise.
func (m *mockModuleRepository) single(t *testing.T) *models.GeneratedModule {
	t.Helper()
	if len(m.byID) != 1 {
		t.Fatalf("expected exactly 1 attempt row, got %d", len(m.byID))
	}
	for _, module := range m.byID {
		return module
	}
	return nil
}

// mockSolutionRepository is a configurable mock for testing.
type mockSolutionRepository struct {
	entries       map[string]*models.SolutionRegistryEntry
	getErr        error
	createErr     error
	created       []*models.SolutionRegistryEntry
	deactivated   []string
	deactivateErr error
	listErr       error
}

func (m *mockSolutionRepository) Create(ctx context.Context, entry *models.SolutionRegistryEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.entries == nil {
		m.entries = make(map[string]*models.SolutionRegistryEntry)
	}
	if _, exists := m.entries[entry.SolutionName]; exists {
		return apperrors.ErrConflict
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.IsActive = true
	m.entries[entry.SolutionName] = entry
	m.created = append(m.created, entry)
	return nil
}

func (m *mockSolutionRepository) GetByName(ctx context.Context, solutionName string) (*models.SolutionRegistryEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	entry, ok := m.entries[solutionName]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return entry, nil
}

func (m *mockSolutionRepository) List(ctx context.Context) ([]*models.SolutionRegistryEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.SolutionRegistryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *mockSolutionRepository) Deactivate(ctx context.Context, solutionName string) error {
	if m.deactivateErr != nil {
		return m.deactivateErr
	}
	entry, ok := m.entries[solutionName]
	if !ok || !entry.IsActive {
		return apperrors.ErrNotFound
	}
	entry.IsActive = false
	m.deactivated = append(m.deactivated, solutionName)
	return nil
}

// mockDiscoveryService is a configurable mock for DiscoveryService.
type mockDiscoveryService struct {
	refreshResult *DiscoveryRefreshResult
	refreshErr    error
	refreshCalls  int
	cached        []*models.DiscoveredEntity
	cachedErr     error
	freshness     *DiscoveryFreshness
	freshnessErr  error
	resolver      generator.RelationResolver
	resolverErr   error
}

func (m *mockDiscoveryService) RefreshDomain(ctx context.Context, domain string) (*DiscoveryRefreshResult, error) {
	m.refreshCalls++
	if m.refreshErr != nil {
		return m.refreshResult, m.refreshErr
	}
	if m.refreshResult != nil {
		return m.refreshResult, nil
	}
	return &DiscoveryRefreshResult{Domain: domain}, nil
}

func (m *mockDiscoveryService) GetCached(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error) {
	if m.cachedErr != nil {
		return nil, m.cachedErr
	}
	return m.cached, nil
}

func (m *mockDiscoveryService) GetVersions(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error) {
	return nil, nil
}

func (m *mockDiscoveryService) Freshness(ctx context.Context, domain string) (*DiscoveryFreshness, error) {
	if m.freshnessErr != nil {
		return nil, m.freshnessErr
	}
	if m.freshness != nil {
		return m.freshness, nil
	}
	return &DiscoveryFreshness{Domain: domain}, nil
}

func (m *mockDiscoveryService) NewRelationResolver(ctx context.Context, domain string) (generator.RelationResolver, error) {
	if m.resolverErr != nil {
		return nil, m.resolverErr
	}
	if m.resolver != nil {
		return m.resolver, nil
	}
	return staticResolver{}, nil
}

// staticResolver resolves relation targets from a fixed map.
type staticResolver map[string]string

func (r staticResolver) ResolveModel(name string) (string, bool) {
	module, ok := r[name]
	return module, ok
}

// ============================================================================
// Helper Functions
// ============================================================================

func activeSolutionEntry(name, domain string) *models.SolutionRegistryEntry {
	return &models.SolutionRegistryEntry{
		ID:           uuid.New(),
		SolutionName: name,
		Domain:       domain,
		Database: models.TenantDatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "forge",
			Password: "secret",
			Database: "tenant_" + name,
		},
		TablePrefix:    name + "plat_",
		BusinessPrefix: name + "_",
		IsActive:       true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func validModuleSpec() *models.ModuleSpecification {
	return &models.ModuleSpecification{
		Name:    "rental_ext",
		Summary: "Rental management extension",
		Models: []models.ModelSpec{
			{
				Name: "rental.unit",
				Fields: []models.FieldSpec{
					{Name: "name", Type: models.FieldTypeChar, Required: true},
					{Name: "partner_id", Type: models.FieldTypeMany2one, RelationTarget: "res.partner"},
				},
			},
		},
	}
}

func newTestGenerationService(t *testing.T, modules *mockModuleRepository, solutions *mockSolutionRepository, resolver generator.RelationResolver) (GenerationService, *TemplateRegistry, string) {
	t.Helper()
	registry := NewTemplateRegistry()
	artifactDir := t.TempDir()
	discovery := &mockDiscoveryService{resolver: resolver}
	svc := NewGenerationService(modules, solutions, discovery, registry, artifactDir, zap.NewNop())
	return svc, registry, artifactDir
}

// ============================================================================
// Tests
// ============================================================================

func TestGenerationService_GenerateModule_Success(t *testing.T) {
	modules := &mockModuleRepository{}
	solutions := &mockSolutionRepository{
		entries: map[string]*models.SolutionRegistryEntry{
			"acme": activeSolutionEntry("acme", "property_management"),
		},
	}
	svc, registry, _ := newTestGenerationService(t, modules, solutions, staticResolver{"res.partner": "base"})

	module, err := svc.GenerateModule(context.Background(), "acme", validModuleSpec())
	if err != nil {
		t.Fatalf("GenerateModule failed: %v", err)
	}

	if module.Status != models.GenerationStatusCompleted {
		t.Errorf("status = %s, want completed", module.Status)
	}
	if module.Version != "1.0.0" {
		t.Errorf("version = %s, want default 1.0.0", module.Version)
	}
	if len(module.ContentHash) != 64 {
		t.Errorf("content hash length = %d, want 64", len(module.ContentHash))
	}
	if len(module.FileManifest) == 0 {
		t.Fatal("file manifest is empty")
	}
	if module.FileManifest[0] != "__manifest__.py" {
		t.Errorf("first manifest entry = %s, want __manifest__.py", module.FileManifest[0])
	}

	if _, err := os.Stat(module.ArchivePath); err != nil {
		t.Errorf("archive not written: %v", err)
	}

	// pending -> generating -> completed
	want := []models.GenerationStatus{
		models.GenerationStatusPending,
		models.GenerationStatusGenerating,
		models.GenerationStatusCompleted,
	}
	if len(modules.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", modules.transitions, want)
	}
	for i := range want {
		if modules.transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, modules.transitions[i], want[i])
		}
	}

	// Table templates registered under the solution's domain.
	templates := registry.ForDomain("property_management")
	if len(templates) != 1 || templates[0].Name != "rental_units" {
		t.Errorf("registered templates = %+v, want one rental_units template", templates)
	}
}

func TestGenerationService_GenerateModule_SolutionNotFound(t *testing.T) {
	modules := &mockModuleRepository{}
	solutions := &mockSolutionRepository{}
	svc, _, _ := newTestGenerationService(t, modules, solutions, nil)

	_, err := svc.GenerateModule(context.Background(), "ghost", validModuleSpec())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(modules.byID) != 0 {
		t.Error("no attempt should be recorded for an unknown solution")
	}
}

func TestGenerationService_GenerateModule_InactiveSolution(t *testing.T) {
	entry := activeSolutionEntry("acme", "property_management")
	entry.IsActive = false
	solutions := &mockSolutionRepository{
		entries: map[string]*models.SolutionRegistryEntry{"acme": entry},
	}
	svc, _, _ := newTestGenerationService(t, &mockModuleRepository{}, solutions, nil)

	_, err := svc.GenerateModule(context.Background(), "acme", validModuleSpec())
	if !errors.Is(err, apperrors.ErrSolutionInactive) {
		t.Errorf("expected ErrSolutionInactive, got %v", err)
	}
}

func TestGenerationService_GenerateModule_ValidationFailureMarksFailed(t *testing.T) {
	modules := &mockModuleRepository{}
	solutions := &mockSolutionRepository{
		entries: map[string]*models.SolutionRegistryEntry{
			"acme": activeSolutionEntry("acme", "property_management"),
		},
	}
	// Empty resolver: the external relation target cannot be resolved.
	svc, _, artifactDir := newTestGenerationService(t, modules, solutions, staticResolver{})

	_, err := svc.GenerateModule(context.Background(), "acme", validModuleSpec())
	if err == nil {
		t.Fatal("expected validation error")
	}
	var specErr *apperrors.SpecValidationError
	if !errors.As(err, &specErr) {
		t.Fatalf("expected SpecValidationError, got %T: %v", err, err)
	}

	attempt := modules.single(t)
	if attempt.Status != models.GenerationStatusFailed {
		t.Errorf("attempt status = %s, want failed", attempt.Status)
	}
	if attempt.ErrorDetail == nil || *attempt.ErrorDetail == "" {
		t.Error("failed attempt should record the error detail")
	}

	// Nothing reached the artifact directory.
	entries, readErr := os.ReadDir(artifactDir)
	if readErr != nil {
		t.Fatalf("failed to read artifact dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("artifact dir should be empty on failure, found %d entries", len(entries))
	}
}

func TestGenerationService_GenerateFromYAML_Success(t *testing.T) {
	modules := &mockModuleRepository{}
	solutions := &mockSolutionRepository{
		entries: map[string]*models.SolutionRegistryEntry{
			"acme": activeSolutionEntry("acme", "property_management"),
		},
	}
	svc, _, _ := newTestGenerationService(t, modules, solutions, nil)

	specYAML := []byte(`
name: rental_ext
version: "2.1.0"
models:
  - name: rental.unit
    fields:
      - name: name
        type: char
        required: true
`)

	module, err := svc.GenerateFromYAML(context.Background(), "acme", specYAML)
	if err != nil {
		t.Fatalf("GenerateFromYAML failed: %v", err)
	}
	if module.Status != models.GenerationStatusCompleted {
		t.Errorf("status = %s, want completed", module.Status)
	}
	if module.Version != "2.1.0" {
		t.Errorf("version = %s, want 2.1.0", module.Version)
	}
}

func TestGenerationService_GenerateFromYAML_ParseError(t *testing.T) {
	svc, _, _ := newTestGenerationService(t, &mockModuleRepository{}, &mockSolutionRepository{}, nil)

	_, err := svc.GenerateFromYAML(context.Background(), "acme", []byte("::: not yaml"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	var specErr *apperrors.SpecValidationError
	if !errors.As(err, &specErr) {
		t.Errorf("expected SpecValidationError, got %T", err)
	}
}

func TestGenerationService_GenerateFromYAML_UnknownKeyRejected(t *testing.T) {
	svc, _, _ := newTestGenerationService(t, &mockModuleRepository{}, &mockSolutionRepository{}, nil)

	specYAML := []byte(`
name: rental_ext
modles:
  - name: rental.unit
`)
	_, err := svc.GenerateFromYAML(context.Background(), "acme", specYAML)
	if err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestGenerationService_RestoreTemplates(t *testing.T) {
	spec := validModuleSpec()
	specJSON, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("failed to marshal spec: %v", err)
	}

	inactive := activeSolutionEntry("gone", "property_management")
	inactive.IsActive = false
	modules := &mockModuleRepository{
		latestCompleted: []*models.GeneratedModule{
			{
				ID:            uuid.New(),
				SolutionName:  "acme",
				ModuleName:    "rental_ext",
				Specification: specJSON,
				Status:        models.GenerationStatusCompleted,
			},
			{
				ID:            uuid.New(),
				SolutionName:  "gone",
				ModuleName:    "rental_ext",
				Specification: specJSON,
				Status:        models.GenerationStatusCompleted,
			},
		},
	}
	solutions := &mockSolutionRepository{
		entries: map[string]*models.SolutionRegistryEntry{
			"acme": activeSolutionEntry("acme", "property_management"),
			"gone": inactive,
		},
	}
	svc, registry, _ := newTestGenerationService(t, modules, solutions, nil)

	if err := svc.RestoreTemplates(context.Background()); err != nil {
		t.Fatalf("RestoreTemplates failed: %v", err)
	}

	templates := registry.ForDomain("property_management")
	if len(templates) != 1 || templates[0].Name != "rental_units" {
		t.Errorf("restored templates = %+v, want one rental_units template", templates)
	}
}

func TestGenerationService_RestoreTemplates_SkipsUnreadableSnapshot(t *testing.T) {
	modules := &mockModuleRepository{
		latestCompleted: []*models.GeneratedModule{
			{
				ID:            uuid.New(),
				SolutionName:  "acme",
				ModuleName:    "broken",
				Specification: json.RawMessage(`{"name": 42`),
				Status:        models.GenerationStatusCompleted,
			},
		},
	}
	solutions := &mockSolutionRepository{
		entries: map[string]*models.SolutionRegistryEntry{
			"acme": activeSolutionEntry("acme", "property_management"),
		},
	}
	svc, registry, _ := newTestGenerationService(t, modules, solutions, nil)

	if err := svc.RestoreTemplates(context.Background()); err != nil {
		t.Fatalf("RestoreTemplates should skip bad rows, got %v", err)
	}
	if got := registry.ForDomain("property_management"); len(got) != 0 {
		t.Errorf("no templates should be restored from a broken snapshot, got %+v", got)
	}
}
