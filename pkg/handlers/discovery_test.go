package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/generator"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/services"
)

type stubDiscoveryService struct {
	refreshFn   func(ctx context.Context, domain string) (*services.DiscoveryRefreshResult, error)
	cachedFn    func(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error)
	versionsFn  func(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error)
	freshnessFn func(ctx context.Context, domain string) (*services.DiscoveryFreshness, error)
}

func (s *stubDiscoveryService) RefreshDomain(ctx context.Context, domain string) (*services.DiscoveryRefreshResult, error) {
	return s.refreshFn(ctx, domain)
}

func (s *stubDiscoveryService) GetCached(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error) {
	return s.cachedFn(ctx, discoveryType, domain)
}

func (s *stubDiscoveryService) GetVersions(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error) {
	return s.versionsFn(ctx, discoveryType, domain, name)
}

func (s *stubDiscoveryService) Freshness(ctx context.Context, domain string) (*services.DiscoveryFreshness, error) {
	return s.freshnessFn(ctx, domain)
}

func (s *stubDiscoveryService) NewRelationResolver(ctx context.Context, domain string) (generator.RelationResolver, error) {
	return nil, nil
}

func TestDiscoveryHandler_Refresh(t *testing.T) {
	admin := &stubAdminService{
		refreshFn: func(ctx context.Context, domain string) (*services.DiscoveryRefreshResult, error) {
			if domain != "property_management" {
				t.Errorf("expected domain 'property_management', got '%s'", domain)
			}
			return &services.DiscoveryRefreshResult{
				Domain:        domain,
				ServerVersion: "17.0",
				Duration:      120 * time.Millisecond,
			}, nil
		},
	}
	handler := NewDiscoveryHandler(admin, nil, zap.NewNop())

	body := `{"domain": "property_management"}`
	req := httptest.NewRequest(http.MethodPost, "/api/discovery/refresh", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response RefreshResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.ServerVersion != "17.0" {
		t.Errorf("expected server_version '17.0', got '%s'", response.ServerVersion)
	}
	if response.Warning != "" {
		t.Errorf("expected no warning, got '%s'", response.Warning)
	}
}

func TestDiscoveryHandler_Refresh_Partial(t *testing.T) {
	admin := &stubAdminService{
		refreshFn: func(ctx context.Context, domain string) (*services.DiscoveryRefreshResult, error) {
			result := &services.DiscoveryRefreshResult{
				Domain:        domain,
				ServerVersion: "17.0",
				Partial:       true,
			}
			return result, &apperrors.DiscoveryError{
				Op:      "refresh",
				Domain:  domain,
				Partial: true,
				Err:     errors.New("workflow probe timed out"),
			}
		},
	}
	handler := NewDiscoveryHandler(admin, nil, zap.NewNop())

	body := `{"domain": "property_management"}`
	req := httptest.NewRequest(http.MethodPost, "/api/discovery/refresh", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	// Partial results are cached and returned, not discarded.
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d for partial refresh, got %d", http.StatusOK, rec.Code)
	}

	var response RefreshResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.Partial {
		t.Error("expected partial flag set")
	}
	if response.Warning == "" {
		t.Error("expected warning describing the partial failure")
	}
}

func TestDiscoveryHandler_Refresh_Failed(t *testing.T) {
	admin := &stubAdminService{
		refreshFn: func(ctx context.Context, domain string) (*services.DiscoveryRefreshResult, error) {
			return nil, &apperrors.DiscoveryError{
				Op:     "refresh",
				Domain: domain,
				Err:    errors.New("connection refused"),
			}
		},
	}
	handler := NewDiscoveryHandler(admin, nil, zap.NewNop())

	body := `{"domain": "property_management"}`
	req := httptest.NewRequest(http.MethodPost, "/api/discovery/refresh", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected status %d, got %d", http.StatusBadGateway, rec.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["error"] != "discovery_failed" {
		t.Errorf("expected error 'discovery_failed', got '%s'", response["error"])
	}
}

func TestDiscoveryHandler_Refresh_MissingDomain(t *testing.T) {
	handler := NewDiscoveryHandler(&stubAdminService{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/discovery/refresh", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestDiscoveryHandler_Cached(t *testing.T) {
	discovery := &stubDiscoveryService{
		cachedFn: func(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error) {
			if discoveryType != models.DiscoveryTypeModel {
				t.Errorf("expected type 'model', got '%s'", discoveryType)
			}
			if domain != "property_management" {
				t.Errorf("expected domain 'property_management', got '%s'", domain)
			}
			return []*models.DiscoveredEntity{
				{Name: "res.partner", DiscoveryType: models.DiscoveryTypeModel, Domain: domain, Version: 3, IsActive: true},
			}, nil
		},
	}
	handler := NewDiscoveryHandler(nil, discovery, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/discovery/property_management/model", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var entities []*models.DiscoveredEntity
	if err := json.NewDecoder(rec.Body).Decode(&entities); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(entities))
	}
	if entities[0].Name != "res.partner" {
		t.Errorf("expected entity 'res.partner', got '%s'", entities[0].Name)
	}
}

func TestDiscoveryHandler_Cached_InvalidType(t *testing.T) {
	handler := NewDiscoveryHandler(nil, &stubDiscoveryService{}, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/discovery/property_management/tables", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestDiscoveryHandler_Versions(t *testing.T) {
	discovery := &stubDiscoveryService{
		versionsFn: func(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error) {
			if name != "res.partner" {
				t.Errorf("expected name 'res.partner', got '%s'", name)
			}
			return []*models.DiscoveredEntity{
				{Name: name, DiscoveryType: discoveryType, Domain: domain, Version: 2, IsActive: true},
				{Name: name, DiscoveryType: discoveryType, Domain: domain, Version: 1, IsActive: false},
			}, nil
		},
	}
	handler := NewDiscoveryHandler(nil, discovery, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/discovery/property_management/model/res.partner/versions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var versions []*models.DiscoveredEntity
	if err := json.NewDecoder(rec.Body).Decode(&versions); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Version != 2 {
		t.Errorf("expected newest version first, got version %d", versions[0].Version)
	}
}

func TestDiscoveryHandler_Freshness(t *testing.T) {
	lastRefresh := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	discovery := &stubDiscoveryService{
		freshnessFn: func(ctx context.Context, domain string) (*services.DiscoveryFreshness, error) {
			return &services.DiscoveryFreshness{
				Domain:       domain,
				ActiveCounts: map[models.DiscoveryType]int{models.DiscoveryTypeModel: 42},
				LastRefresh:  map[models.DiscoveryType]time.Time{models.DiscoveryTypeModel: lastRefresh},
			}, nil
		},
	}
	handler := NewDiscoveryHandler(nil, discovery, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/discovery/property_management/freshness", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var freshness services.DiscoveryFreshness
	if err := json.NewDecoder(rec.Body).Decode(&freshness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if freshness.ActiveCounts[models.DiscoveryTypeModel] != 42 {
		t.Errorf("expected 42 active models, got %d", freshness.ActiveCounts[models.DiscoveryTypeModel])
	}
}
