package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceErrorResponse maps a service error onto the matching HTTP error
// response. The platform's typed errors carry enough context to pick a
// status; anything unrecognized becomes an opaque internal error so service
// internals never leak to clients.
func ServiceErrorResponse(w http.ResponseWriter, err error) error {
	var (
		specErr      *apperrors.SpecValidationError
		discoveryErr *apperrors.DiscoveryError
		deployErr    *apperrors.DeploymentError
		migrationErr *apperrors.SchemaMigrationError
	)

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, apperrors.ErrConflict):
		return ErrorResponse(w, http.StatusConflict, "conflict", "Resource already exists")
	case errors.Is(err, apperrors.ErrSolutionInactive):
		return ErrorResponse(w, http.StatusConflict, "solution_inactive", "Solution is deactivated")
	case errors.Is(err, apperrors.ErrLockHeld):
		return ErrorResponse(w, http.StatusConflict, "deployment_in_progress", "Another deployment of this module is in progress")
	case errors.As(err, &specErr):
		return ErrorResponse(w, http.StatusUnprocessableEntity, "invalid_specification", specErr.Error())
	case errors.As(err, &discoveryErr):
		return ErrorResponse(w, http.StatusBadGateway, "discovery_failed", discoveryErr.Error())
	case errors.As(err, &deployErr):
		return ErrorResponse(w, http.StatusBadGateway, "deployment_failed", deployErr.Error())
	case errors.As(err, &migrationErr):
		return ErrorResponse(w, http.StatusInternalServerError, "migration_failed", migrationErr.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Operation failed")
	}
}
