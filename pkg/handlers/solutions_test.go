package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/services"
)

type stubAdminService struct {
	setupFn    func(ctx context.Context, req *services.SetupRequest) (*services.SetupResult, error)
	statusFn   func(ctx context.Context, solutionName string) (*services.SolutionStatusReport, error)
	migrateFn  func(ctx context.Context, solutionName string) (*services.MigrationSummary, error)
	refreshFn  func(ctx context.Context, domain string) (*services.DiscoveryRefreshResult, error)
	pipelineFn func(ctx context.Context, solutionName string, spec *models.ModuleSpecification) (*services.PipelineResult, error)
}

func (s *stubAdminService) SetupSolution(ctx context.Context, req *services.SetupRequest) (*services.SetupResult, error) {
	return s.setupFn(ctx, req)
}

func (s *stubAdminService) SolutionStatus(ctx context.Context, solutionName string) (*services.SolutionStatusReport, error) {
	return s.statusFn(ctx, solutionName)
}

func (s *stubAdminService) MigrateSolutionSchema(ctx context.Context, solutionName string) (*services.MigrationSummary, error) {
	return s.migrateFn(ctx, solutionName)
}

func (s *stubAdminService) RefreshDiscovery(ctx context.Context, domain string) (*services.DiscoveryRefreshResult, error) {
	return s.refreshFn(ctx, domain)
}

func (s *stubAdminService) GenerateAndDeployModule(ctx context.Context, solutionName string, spec *models.ModuleSpecification) (*services.PipelineResult, error) {
	return s.pipelineFn(ctx, solutionName, spec)
}

type stubSolutionService struct {
	listFn       func(ctx context.Context) ([]*models.SolutionRegistryEntry, error)
	deactivateFn func(ctx context.Context, solutionName string) error
}

func (s *stubSolutionService) SetupSolution(ctx context.Context, req *services.SetupRequest) (*services.SetupResult, error) {
	return nil, nil
}

func (s *stubSolutionService) SolutionStatus(ctx context.Context, solutionName string) (*services.SolutionStatusReport, error) {
	return nil, nil
}

func (s *stubSolutionService) ListSolutions(ctx context.Context) ([]*models.SolutionRegistryEntry, error) {
	return s.listFn(ctx)
}

func (s *stubSolutionService) DeactivateSolution(ctx context.Context, solutionName string) error {
	return s.deactivateFn(ctx, solutionName)
}

func TestSolutionsHandler_Setup(t *testing.T) {
	admin := &stubAdminService{
		setupFn: func(ctx context.Context, req *services.SetupRequest) (*services.SetupResult, error) {
			if req.SolutionName != "acme" {
				t.Errorf("expected solution 'acme', got '%s'", req.SolutionName)
			}
			return &services.SetupResult{
				SolutionName:    "acme",
				DatabaseCreated: true,
				TablesCreated:   []string{"forge_entity_def"},
			}, nil
		},
	}
	handler := NewSolutionsHandler(admin, nil, zap.NewNop())

	body := `{"solution_name": "acme", "domain": "property_management", "database": {"host": "db1", "port": 5432, "user": "acme", "database": "acme_erp"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/solutions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Setup(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}

	var result services.SetupResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.DatabaseCreated {
		t.Error("expected database_created true")
	}
}

func TestSolutionsHandler_Setup_AlreadyProvisioned(t *testing.T) {
	admin := &stubAdminService{
		setupFn: func(ctx context.Context, req *services.SetupRequest) (*services.SetupResult, error) {
			return &services.SetupResult{SolutionName: "acme", AlreadyProvisioned: true}, nil
		},
	}
	handler := NewSolutionsHandler(admin, nil, zap.NewNop())

	body := `{"solution_name": "acme", "domain": "property_management"}`
	req := httptest.NewRequest(http.MethodPost, "/api/solutions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Setup(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d for repeated setup, got %d", http.StatusOK, rec.Code)
	}
}

func TestSolutionsHandler_Setup_InvalidBody(t *testing.T) {
	handler := NewSolutionsHandler(&stubAdminService{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/solutions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	handler.Setup(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestSolutionsHandler_List_OmitsCredentials(t *testing.T) {
	solutions := &stubSolutionService{
		listFn: func(ctx context.Context) ([]*models.SolutionRegistryEntry, error) {
			return []*models.SolutionRegistryEntry{
				{
					SolutionName: "acme",
					Domain:       "property_management",
					Database: models.TenantDatabaseConfig{
						Host:     "db1.internal",
						Port:     5432,
						User:     "acme",
						Password: "s3cret",
						Database: "acme_erp",
					},
					TablePrefix:    "forge_",
					BusinessPrefix: "biz_",
					IsActive:       true,
					CreatedAt:      time.Now(),
					UpdatedAt:      time.Now(),
				},
			}, nil
		},
	}
	handler := NewSolutionsHandler(nil, solutions, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/solutions", nil)
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	raw := rec.Body.String()
	if strings.Contains(raw, "s3cret") {
		t.Error("response leaked the database password")
	}
	if strings.Contains(raw, "password") {
		t.Error("response contains a password field")
	}

	var response []SolutionResponse
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response) != 1 {
		t.Fatalf("expected 1 solution, got %d", len(response))
	}
	if response[0].DatabaseHost != "db1.internal" {
		t.Errorf("expected database_host 'db1.internal', got '%s'", response[0].DatabaseHost)
	}
	if !response[0].Active {
		t.Error("expected solution to be active")
	}
}

func TestSolutionsHandler_Status_NotFound(t *testing.T) {
	admin := &stubAdminService{
		statusFn: func(ctx context.Context, solutionName string) (*services.SolutionStatusReport, error) {
			return nil, apperrors.ErrNotFound
		},
	}
	handler := NewSolutionsHandler(admin, nil, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/solutions/ghost/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["error"] != "not_found" {
		t.Errorf("expected error 'not_found', got '%s'", response["error"])
	}
}

func TestSolutionsHandler_Status(t *testing.T) {
	admin := &stubAdminService{
		statusFn: func(ctx context.Context, solutionName string) (*services.SolutionStatusReport, error) {
			if solutionName != "acme" {
				t.Errorf("expected solution 'acme', got '%s'", solutionName)
			}
			return &services.SolutionStatusReport{
				SolutionName:      "acme",
				Domain:            "property_management",
				Active:            true,
				DatabaseReachable: true,
				PlatformTables:    6,
				BusinessTables:    2,
			}, nil
		},
	}
	handler := NewSolutionsHandler(admin, nil, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/solutions/acme/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var report services.SolutionStatusReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if report.PlatformTables != 6 {
		t.Errorf("expected 6 platform tables, got %d", report.PlatformTables)
	}
	if report.BusinessTables != 2 {
		t.Errorf("expected 2 business tables, got %d", report.BusinessTables)
	}
}

func TestSolutionsHandler_Migrate(t *testing.T) {
	admin := &stubAdminService{
		migrateFn: func(ctx context.Context, solutionName string) (*services.MigrationSummary, error) {
			return &services.MigrationSummary{
				SolutionName:  solutionName,
				TablesCreated: []string{"biz_rental_unit"},
			}, nil
		},
	}
	handler := NewSolutionsHandler(admin, nil, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/solutions/acme/migrate", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var summary services.MigrationSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(summary.TablesCreated) != 1 || summary.TablesCreated[0] != "biz_rental_unit" {
		t.Errorf("unexpected tables created: %v", summary.TablesCreated)
	}
}

func TestSolutionsHandler_Deactivate(t *testing.T) {
	deactivated := ""
	solutions := &stubSolutionService{
		deactivateFn: func(ctx context.Context, solutionName string) error {
			deactivated = solutionName
			return nil
		},
	}
	handler := NewSolutionsHandler(nil, solutions, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodDelete, "/api/solutions/acme", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if deactivated != "acme" {
		t.Errorf("expected 'acme' deactivated, got '%s'", deactivated)
	}
}
