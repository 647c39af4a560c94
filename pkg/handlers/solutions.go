package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/services"
)

// SolutionResponse is the external view of a registry entry. Database
// credentials never leave the service; only the coordinates do.
type SolutionResponse struct {
	SolutionName   string    `json:"solution_name"`
	Domain         string    `json:"domain"`
	DatabaseHost   string    `json:"database_host"`
	DatabaseName   string    `json:"database_name"`
	TablePrefix    string    `json:"table_prefix"`
	BusinessPrefix string    `json:"business_prefix"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SolutionsHandler exposes solution provisioning and lifecycle over HTTP.
type SolutionsHandler struct {
	admin     services.AdminService
	solutions services.SolutionService
	logger    *zap.Logger
}

// NewSolutionsHandler creates a new solutions handler.
func NewSolutionsHandler(admin services.AdminService, solutions services.SolutionService, logger *zap.Logger) *SolutionsHandler {
	return &SolutionsHandler{
		admin:     admin,
		solutions: solutions,
		logger:    logger,
	}
}

// RegisterRoutes registers the solutions handler's routes on the given mux.
func (h *SolutionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/solutions", h.Setup)
	mux.HandleFunc("GET /api/solutions", h.List)
	mux.HandleFunc("GET /api/solutions/{name}/status", h.Status)
	mux.HandleFunc("POST /api/solutions/{name}/migrate", h.Migrate)
	mux.HandleFunc("DELETE /api/solutions/{name}", h.Deactivate)
}

// Setup handles POST /api/solutions.
// Provisions a solution: physical database, platform and business tables,
// registry entry. Idempotent; re-running for a provisioned solution reports
// already_provisioned without touching the schema.
func (h *SolutionsHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req services.SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.admin.SetupSolution(r.Context(), &req)
	if err != nil {
		h.logger.Error("Solution setup failed",
			zap.String("solution", req.SolutionName),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	status := http.StatusCreated
	if result.AlreadyProvisioned {
		status = http.StatusOK
	}
	if err := WriteJSON(w, status, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/solutions.
func (h *SolutionsHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.solutions.ListSolutions(r.Context())
	if err != nil {
		h.logger.Error("Failed to list solutions", zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := make([]SolutionResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, buildSolutionResponse(entry))
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Status handles GET /api/solutions/{name}/status.
// Reports database reachability, table counts per prefix, last migration
// time and discovery freshness.
func (h *SolutionsHandler) Status(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	report, err := h.admin.SolutionStatus(r.Context(), name)
	if err != nil {
		h.logger.Error("Failed to get solution status",
			zap.String("solution", name),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Migrate handles POST /api/solutions/{name}/migrate.
// Applies additive schema changes for the solution's domain templates.
func (h *SolutionsHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	summary, err := h.admin.MigrateSolutionSchema(r.Context(), name)
	if err != nil {
		h.logger.Error("Schema migration failed",
			zap.String("solution", name),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, summary); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Deactivate handles DELETE /api/solutions/{name}.
// Marks the registry entry inactive; the solution's storage is untouched.
func (h *SolutionsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.solutions.DeactivateSolution(r.Context(), name); err != nil {
		h.logger.Error("Failed to deactivate solution",
			zap.String("solution", name),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func buildSolutionResponse(entry *models.SolutionRegistryEntry) SolutionResponse {
	return SolutionResponse{
		SolutionName:   entry.SolutionName,
		Domain:         entry.Domain,
		DatabaseHost:   entry.Database.Host,
		DatabaseName:   entry.Database.Database,
		TablePrefix:    entry.TablePrefix,
		BusinessPrefix: entry.BusinessPrefix,
		Active:         entry.IsActive,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	}
}
