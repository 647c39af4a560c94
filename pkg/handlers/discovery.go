package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/services"
)

// RefreshRequest names the domain one introspection pass should cover.
type RefreshRequest struct {
	Domain string `json:"domain"`
}

// RefreshResponse is a refresh result plus the failure detail when the pass
// was partial. A partial pass still cached what it collected.
type RefreshResponse struct {
	*services.DiscoveryRefreshResult
	Warning string `json:"warning,omitempty"`
}

// DiscoveryHandler exposes the versioned discovery cache over HTTP.
type DiscoveryHandler struct {
	admin     services.AdminService
	discovery services.DiscoveryService
	logger    *zap.Logger
}

// NewDiscoveryHandler creates a new discovery handler.
func NewDiscoveryHandler(admin services.AdminService, discovery services.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		admin:     admin,
		discovery: discovery,
		logger:    logger,
	}
}

// RegisterRoutes registers the discovery handler's routes on the given mux.
func (h *DiscoveryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/discovery/refresh", h.Refresh)
	mux.HandleFunc("GET /api/discovery/{domain}/freshness", h.Freshness)
	mux.HandleFunc("GET /api/discovery/{domain}/{type}", h.Cached)
	mux.HandleFunc("GET /api/discovery/{domain}/{type}/{name}/versions", h.Versions)
}

// Refresh handles POST /api/discovery/refresh.
// Runs one introspection pass against the domain's ERP. A partial pass
// still caches what it collected and responds 200 with a warning.
func (h *DiscoveryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Domain == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Domain is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.admin.RefreshDiscovery(r.Context(), req.Domain)
	if err != nil {
		if result != nil && result.Partial {
			h.logger.Warn("Discovery refresh incomplete",
				zap.String("domain", req.Domain),
				zap.Error(err))
			if err := WriteJSON(w, http.StatusOK, RefreshResponse{DiscoveryRefreshResult: result, Warning: err.Error()}); err != nil {
				h.logger.Error("Failed to write response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Discovery refresh failed",
			zap.String("domain", req.Domain),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, RefreshResponse{DiscoveryRefreshResult: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Freshness handles GET /api/discovery/{domain}/freshness.
func (h *DiscoveryHandler) Freshness(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")

	freshness, err := h.discovery.Freshness(r.Context(), domain)
	if err != nil {
		h.logger.Error("Failed to get discovery freshness",
			zap.String("domain", domain),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, freshness); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Cached handles GET /api/discovery/{domain}/{type}.
// Returns the active descriptors of one type straight from the cache.
func (h *DiscoveryHandler) Cached(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	discoveryType := models.DiscoveryType(r.PathValue("type"))

	if !models.IsValidDiscoveryType(discoveryType) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Unknown discovery type"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	entities, err := h.discovery.GetCached(r.Context(), discoveryType, domain)
	if err != nil {
		h.logger.Error("Failed to read discovery cache",
			zap.String("domain", domain),
			zap.String("type", string(discoveryType)),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, entities); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Versions handles GET /api/discovery/{domain}/{type}/{name}/versions.
// Returns every cached version of one descriptor, newest first.
func (h *DiscoveryHandler) Versions(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	discoveryType := models.DiscoveryType(r.PathValue("type"))
	name := r.PathValue("name")

	if !models.IsValidDiscoveryType(discoveryType) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Unknown discovery type"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	versions, err := h.discovery.GetVersions(r.Context(), discoveryType, domain, name)
	if err != nil {
		h.logger.Error("Failed to read descriptor versions",
			zap.String("domain", domain),
			zap.String("type", string(discoveryType)),
			zap.String("name", name),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, versions); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
