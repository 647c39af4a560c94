package models

import (
	"time"

	"github.com/google/uuid"
)

// DeployStep tracks a deployment attempt through its pipeline.
// State machine:
//
//	pending → uploading → installing → installed
//
//	Any non-terminal state can transition to: failed
type DeployStep string

const (
	DeployStepPending    DeployStep = "pending"
	DeployStepUploading  DeployStep = "uploading"
	DeployStepInstalling DeployStep = "installing"
	DeployStepInstalled  DeployStep = "installed"
	DeployStepFailed     DeployStep = "failed"
)

// ValidDeploySteps contains all valid deploy step values.
var ValidDeploySteps = []DeployStep{
	DeployStepPending,
	DeployStepUploading,
	DeployStepInstalling,
	DeployStepInstalled,
	DeployStepFailed,
}

// IsValidDeployStep checks if the given step is valid.
func IsValidDeployStep(s DeployStep) bool {
	for _, v := range ValidDeploySteps {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the step is a terminal state (installed or failed).
func (s DeployStep) IsTerminal() bool {
	return s == DeployStepInstalled || s == DeployStepFailed
}

// CanTransitionTo returns true if transitioning from this step to the target is valid.
func (s DeployStep) CanTransitionTo(target DeployStep) bool {
	// Any non-terminal state can transition to failed
	if target == DeployStepFailed {
		return !s.IsTerminal()
	}

	switch s {
	case DeployStepPending:
		return target == DeployStepUploading
	case DeployStepUploading:
		return target == DeployStepInstalling
	case DeployStepInstalling:
		return target == DeployStepInstalled
	case DeployStepInstalled, DeployStepFailed:
		return false // Terminal states
	default:
		return false
	}
}

// DeployAttempt records one deployment attempt of a packaged module to a
// solution's ERP. The step is persisted after every transition so partial
// installs can be diagnosed after a crash or timeout.
type DeployAttempt struct {
	ID           uuid.UUID  `json:"id"`
	SolutionName string     `json:"solution_name"`
	ModuleName   string     `json:"module_name"`
	Version      string     `json:"version"`
	ContentHash  string     `json:"content_hash"`
	Step         DeployStep `json:"step"`
	ErrorDetail  *string    `json:"error_detail,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
