package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrValidation             = errors.New("invalid request")
	ErrSolutionInactive       = errors.New("solution is deactivated")
	ErrNamespaceUnroutable    = errors.New("no database resolvable for namespace")
	ErrLockHeld               = errors.New("deployment lock held by another worker")
	ErrCredentialsKeyMismatch = errors.New("credentials were encrypted with a different key")
)

// DiscoveryError reports a failed or partially failed introspection pass
// against the ERP. Partial indicates that some descriptors were collected
// before the failure and have been returned to the caller.
type DiscoveryError struct {
	Op      string
	Domain  string
	Partial bool
	Err     error
}

func (e *DiscoveryError) Error() string {
	if e.Partial {
		return fmt.Sprintf("discovery %s (domain %q) incomplete: %v", e.Op, e.Domain, e.Err)
	}
	return fmt.Sprintf("discovery %s (domain %q) failed: %v", e.Op, e.Domain, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// SpecValidationError rejects a module specification before any file is
// generated. Field is empty for model-level or module-level violations.
type SpecValidationError struct {
	Module string
	Model  string
	Field  string
	Reason string
}

func (e *SpecValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("invalid specification for module %q: model %q field %q: %s", e.Module, e.Model, e.Field, e.Reason)
	case e.Model != "":
		return fmt.Sprintf("invalid specification for module %q: model %q: %s", e.Module, e.Model, e.Reason)
	default:
		return fmt.Sprintf("invalid specification for module %q: %s", e.Module, e.Reason)
	}
}

// GenerationError is an internal generator failure on a specification that
// already passed validation. It always indicates a bug.
type GenerationError struct {
	Module string
	Stage  string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation of module %q failed at %s: %v", e.Module, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PackagingError reports an archive build or hash failure.
type PackagingError struct {
	Module string
	Err    error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("packaging module %q failed: %v", e.Module, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// DeploymentError carries the pipeline step that failed so callers can tell
// an upload failure from an install failure.
type DeploymentError struct {
	Solution string
	Module   string
	Step     string
	Err      error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment of %s to %s failed during %s: %v", e.Module, e.Solution, e.Step, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// SchemaMigrationError identifies the table and statement at which a
// migration run stopped. Statements applied before it remain applied.
type SchemaMigrationError struct {
	Solution  string
	Table     string
	Statement string
	Err       error
}

func (e *SchemaMigrationError) Error() string {
	return fmt.Sprintf("schema migration for %s stopped at table %q: %v", e.Solution, e.Table, e.Err)
}

func (e *SchemaMigrationError) Unwrap() error { return e.Err }
