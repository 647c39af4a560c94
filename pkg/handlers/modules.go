package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/services"
)

var errMissingSpecification = errors.New("specification or spec_yaml is required")

// DeployModuleRequest carries one module specification bound for a
// solution's ERP. The specification comes either inline as JSON or as a raw
// YAML document in spec_yaml; YAML goes through the strict parser that
// rejects unknown keys.
type DeployModuleRequest struct {
	SolutionName  string          `json:"solution_name"`
	Specification json.RawMessage `json:"specification,omitempty"`
	SpecYAML      string          `json:"spec_yaml,omitempty"`
}

// UninstallResponse reports what uninstalling a module amounted to.
type UninstallResponse struct {
	SolutionName string                   `json:"solution_name"`
	ModuleName   string                   `json:"module_name"`
	Status       services.UninstallStatus `json:"status"`
}

// ModulesHandler exposes the generate-package-deploy pipeline over HTTP.
type ModulesHandler struct {
	admin      services.AdminService
	generation services.GenerationService
	deployment services.DeploymentService
	logger     *zap.Logger
}

// NewModulesHandler creates a new modules handler.
func NewModulesHandler(
	admin services.AdminService,
	generation services.GenerationService,
	deployment services.DeploymentService,
	logger *zap.Logger,
) *ModulesHandler {
	return &ModulesHandler{
		admin:      admin,
		generation: generation,
		deployment: deployment,
		logger:     logger,
	}
}

// RegisterRoutes registers the modules handler's routes on the given mux.
func (h *ModulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/modules/deploy", h.Deploy)
	mux.HandleFunc("GET /api/modules/{id}", h.Get)
	mux.HandleFunc("GET /api/solutions/{name}/modules", h.ListModules)
	mux.HandleFunc("GET /api/solutions/{name}/deployments", h.ListDeployments)
	mux.HandleFunc("GET /api/deployments/{id}", h.GetDeployment)
	mux.HandleFunc("DELETE /api/solutions/{name}/modules/{module}", h.Uninstall)
}

// Deploy handles POST /api/modules/deploy.
// Runs the full pipeline: generate, package, install on the solution's ERP.
// A failed generation is recorded and never reaches the ERP.
func (h *ModulesHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req DeployModuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.SolutionName == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Solution name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	spec, err := h.parseSpecification(&req)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_specification", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.admin.GenerateAndDeployModule(r.Context(), req.SolutionName, spec)
	if err != nil {
		h.logger.Error("Module deploy pipeline failed",
			zap.String("solution", req.SolutionName),
			zap.String("module", spec.Name),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/modules/{id}.
func (h *ModulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid module ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	module, err := h.generation.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get generated module",
			zap.String("id", id.String()),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, module); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListModules handles GET /api/solutions/{name}/modules.
// Newest attempts first; ?limit= caps the page.
func (h *ModulesHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := parseLimit(r)

	modules, err := h.generation.ListBySolution(r.Context(), name, limit)
	if err != nil {
		h.logger.Error("Failed to list generated modules",
			zap.String("solution", name),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, modules); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListDeployments handles GET /api/solutions/{name}/deployments.
func (h *ModulesHandler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := parseLimit(r)

	attempts, err := h.deployment.ListAttempts(r.Context(), name, limit)
	if err != nil {
		h.logger.Error("Failed to list deploy attempts",
			zap.String("solution", name),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, attempts); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetDeployment handles GET /api/deployments/{id}.
func (h *ModulesHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid deployment ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	attempt, err := h.deployment.GetAttempt(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get deploy attempt",
			zap.String("id", id.String()),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, attempt); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Uninstall handles DELETE /api/solutions/{name}/modules/{module}.
// Unknown and not-installed modules are reported in the response, not
// treated as errors.
func (h *ModulesHandler) Uninstall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	module := r.PathValue("module")

	status, err := h.deployment.Uninstall(r.Context(), name, module)
	if err != nil {
		h.logger.Error("Module uninstall failed",
			zap.String("solution", name),
			zap.String("module", module),
			zap.Error(err))
		if err := ServiceErrorResponse(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := UninstallResponse{
		SolutionName: name,
		ModuleName:   module,
		Status:       status,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ModulesHandler) parseSpecification(req *DeployModuleRequest) (*models.ModuleSpecification, error) {
	if req.SpecYAML != "" {
		return models.ParseModuleSpecification([]byte(req.SpecYAML))
	}
	if len(req.Specification) == 0 {
		return nil, errMissingSpecification
	}
	var spec models.ModuleSpecification
	if err := json.Unmarshal(req.Specification, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
