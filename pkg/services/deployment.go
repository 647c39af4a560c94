package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/erp"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/packaging"
	"github.com/modforge-io/modforge-platform/pkg/repositories"
	"github.com/modforge-io/modforge-platform/pkg/retry"
)

// DeployRequest asks for one packaged module to be installed into one
// solution's ERP. ContentHash must match the archive at ArchivePath; the
// deployer refuses to ship bytes it cannot verify.
type DeployRequest struct {
	SolutionName string        `json:"solution_name"`
	ModuleName   string        `json:"module_name"`
	Version      string        `json:"version"`
	ArchivePath  string        `json:"archive_path"`
	ContentHash  string        `json:"content_hash"`
	Timeout      time.Duration `json:"-"`
}

// DeployResult reports the outcome of an install request.
type DeployResult struct {
	AttemptID        uuid.UUID         `json:"attempt_id"`
	Step             models.DeployStep `json:"step"`
	AlreadyInstalled bool              `json:"already_installed"`
	Upgraded         bool              `json:"upgraded"`
	Message          string            `json:"message,omitempty"`
}

// UninstallStatus reports what an uninstall request found and did.
type UninstallStatus string

const (
	// UninstallStatusAbsent: the ERP has never seen the module.
	UninstallStatusAbsent UninstallStatus = "absent"
	// UninstallStatusNotInstalled: the module is known but not installed.
	UninstallStatusNotInstalled UninstallStatus = "not_installed"
	// UninstallStatusRemoved: the module was installed and has been removed.
	UninstallStatusRemoved UninstallStatus = "removed"
)

// DeploymentService drives packaged modules through the ERP install
// pipeline. One attempt runs per (solution, module) pair at a time; the
// step of every attempt is persisted after each transition.
type DeploymentService interface {
	// Install ships and installs a packaged module. Installing the exact
	// version and content already installed is a recorded no-op. A module
	// the ERP already has in an older version is upgraded in place.
	Install(ctx context.Context, req *DeployRequest) (*DeployResult, error)

	// Uninstall removes a module from the solution's ERP. Unknown and
	// not-installed modules are reported, not errors.
	Uninstall(ctx context.Context, solutionName, moduleName string) (UninstallStatus, error)

	GetAttempt(ctx context.Context, id uuid.UUID) (*models.DeployAttempt, error)
	ListAttempts(ctx context.Context, solutionName string, limit int) ([]*models.DeployAttempt, error)
}

type deploymentService struct {
	deploys   repositories.DeployRepository
	solutions repositories.SolutionRepository
	factory   erp.AdapterFactory
	erpCfg    *config.ERPConfig
	locker    database.DeployLocker
	timeout   time.Duration
	lockTTL   time.Duration
	retryCfg  *retry.Config
	logger    *zap.Logger
}

// NewDeploymentService creates a new deployment service.
func NewDeploymentService(
	deploys repositories.DeployRepository,
	solutions repositories.SolutionRepository,
	factory erp.AdapterFactory,
	erpCfg *config.ERPConfig,
	locker database.DeployLocker,
	deployCfg *config.DeployConfig,
	logger *zap.Logger,
) DeploymentService {
	return &deploymentService{
		deploys:   deploys,
		solutions: solutions,
		factory:   factory,
		erpCfg:    erpCfg,
		locker:    locker,
		timeout:   time.Duration(deployCfg.TimeoutSeconds) * time.Second,
		lockTTL:   time.Duration(deployCfg.LockTTLSeconds) * time.Second,
		retryCfg:  retry.DefaultConfig(),
		logger:    logger,
	}
}

var _ DeploymentService = (*deploymentService)(nil)

func (s *deploymentService) Install(ctx context.Context, req *DeployRequest) (*DeployResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.requireActiveSolution(ctx, req.SolutionName); err != nil {
		return nil, err
	}

	// The archive is read and verified before anything is locked or
	// recorded; a corrupt artifact is a caller problem, not an attempt.
	content, err := os.ReadFile(req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	if got := packaging.Hash(content); got != req.ContentHash {
		return nil, &apperrors.DeploymentError{
			Solution: req.SolutionName,
			Module:   req.ModuleName,
			Step:     "verify",
			Err:      fmt.Errorf("archive content hash %s does not match requested %s", got, req.ContentHash),
		}
	}

	handle, err := s.locker.Acquire(ctx, req.SolutionName, req.ModuleName, s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := s.factory.NewModuleTransport(ctx, s.erpCfg)
	if err != nil {
		return nil, &apperrors.DeploymentError{
			Solution: req.SolutionName,
			Module:   req.ModuleName,
			Step:     "connect",
			Err:      err,
		}
	}
	defer transport.Close()

	state, err := transport.ModuleState(ctx, req.ModuleName)
	if err != nil {
		return nil, &apperrors.DeploymentError{
			Solution: req.SolutionName,
			Module:   req.ModuleName,
			Step:     "probe",
			Err:      err,
		}
	}

	// No-op fast path: the ERP reports the module installed and the last
	// installed attempt matches both version and content.
	if state == erp.ModuleStateInstalled {
		last, err := s.deploys.GetLastInstalled(ctx, req.SolutionName, req.ModuleName)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("failed to check last installed attempt: %w", err)
		}
		if last != nil && last.Version == req.Version && last.ContentHash == req.ContentHash {
			s.logger.Info("Module already installed, skipping deployment",
				zap.String("solution", req.SolutionName),
				zap.String("module", req.ModuleName),
				zap.String("version", req.Version),
			)
			return &DeployResult{
				AttemptID:        last.ID,
				Step:             models.DeployStepInstalled,
				AlreadyInstalled: true,
			}, nil
		}
	}

	attempt := &models.DeployAttempt{
		SolutionName: req.SolutionName,
		ModuleName:   req.ModuleName,
		Version:      req.Version,
		ContentHash:  req.ContentHash,
		Step:         models.DeployStepPending,
	}
	if err := s.deploys.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to record deploy attempt: %w", err)
	}

	if err := s.advance(ctx, attempt.ID, models.DeployStepUploading); err != nil {
		return nil, err
	}
	if err := s.upload(ctx, transport, req, content); err != nil {
		return nil, s.fail(req, attempt.ID, models.DeployStepUploading, err)
	}

	if err := s.advance(ctx, attempt.ID, models.DeployStepInstalling); err != nil {
		return nil, err
	}

	upgrade := state == erp.ModuleStateInstalled || state == erp.ModuleStateToUpgrade
	var result *erp.InstallResult
	if upgrade {
		result, err = transport.Upgrade(ctx, req.ModuleName)
	} else {
		result, err = transport.Install(ctx, req.ModuleName)
	}
	if err != nil {
		return nil, s.fail(req, attempt.ID, models.DeployStepInstalling, err)
	}

	if err := s.deploys.MarkInstalled(ctx, attempt.ID); err != nil {
		return nil, fmt.Errorf("failed to mark attempt installed: %w", err)
	}

	s.logger.Info("Module deployed",
		zap.String("solution", req.SolutionName),
		zap.String("module", req.ModuleName),
		zap.String("version", req.Version),
		zap.String("content_hash", req.ContentHash),
		zap.Bool("upgrade", upgrade),
		zap.String("attempt_id", attempt.ID.String()),
	)

	return &DeployResult{
		AttemptID: attempt.ID,
		Step:      models.DeployStepInstalled,
		Upgraded:  upgrade,
		Message:   result.Message,
	}, nil
}

func (s *deploymentService) Uninstall(ctx context.Context, solutionName, moduleName string) (UninstallStatus, error) {
	if err := s.requireActiveSolution(ctx, solutionName); err != nil {
		return "", err
	}

	handle, err := s.locker.Acquire(ctx, solutionName, moduleName, s.lockTTL)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	transport, err := s.factory.NewModuleTransport(ctx, s.erpCfg)
	if err != nil {
		return "", &apperrors.DeploymentError{
			Solution: solutionName,
			Module:   moduleName,
			Step:     "connect",
			Err:      err,
		}
	}
	defer transport.Close()

	state, err := transport.ModuleState(ctx, moduleName)
	if err != nil {
		return "", &apperrors.DeploymentError{
			Solution: solutionName,
			Module:   moduleName,
			Step:     "probe",
			Err:      err,
		}
	}

	switch state {
	case erp.ModuleStateAbsent:
		return UninstallStatusAbsent, nil
	case erp.ModuleStateUninstalled:
		return UninstallStatusNotInstalled, nil
	}

	if _, err := transport.Uninstall(ctx, moduleName); err != nil {
		return "", &apperrors.DeploymentError{
			Solution: solutionName,
			Module:   moduleName,
			Step:     "uninstall",
			Err:      err,
		}
	}

	s.logger.Info("Module uninstalled",
		zap.String("solution", solutionName),
		zap.String("module", moduleName),
	)
	return UninstallStatusRemoved, nil
}

func (s *deploymentService) GetAttempt(ctx context.Context, id uuid.UUID) (*models.DeployAttempt, error) {
	return s.deploys.Get(ctx, id)
}

func (s *deploymentService) ListAttempts(ctx context.Context, solutionName string, limit int) ([]*models.DeployAttempt, error) {
	return s.deploys.ListBySolution(ctx, solutionName, limit)
}

func (s *deploymentService) validateRequest(req *DeployRequest) error {
	switch {
	case req.SolutionName == "":
		return fmt.Errorf("solution name is required")
	case req.ModuleName == "":
		return fmt.Errorf("module name is required")
	case req.Version == "":
		return fmt.Errorf("version is required")
	case req.ArchivePath == "":
		return fmt.Errorf("archive path is required")
	case req.ContentHash == "":
		return fmt.Errorf("content hash is required")
	}
	return nil
}

func (s *deploymentService) requireActiveSolution(ctx context.Context, solutionName string) error {
	entry, err := s.solutions.GetByName(ctx, solutionName)
	if err != nil {
		return fmt.Errorf("failed to look up solution %s: %w", solutionName, err)
	}
	if !entry.IsActive {
		return apperrors.ErrSolutionInactive
	}
	return nil
}

// upload ships the archive and refreshes the ERP's module list. Both calls
// retry on transient transport errors.
func (s *deploymentService) upload(ctx context.Context, transport erp.ModuleTransport, req *DeployRequest, content []byte) error {
	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		_, err := transport.Upload(ctx, req.ModuleName, content)
		return err
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	err = retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		return transport.RefreshModuleList(ctx)
	})
	if err != nil {
		return fmt.Errorf("refresh module list: %w", err)
	}
	return nil
}

func (s *deploymentService) advance(ctx context.Context, id uuid.UUID, step models.DeployStep) error {
	if err := s.deploys.UpdateStep(ctx, id, step); err != nil {
		return fmt.Errorf("failed to advance attempt to %s: %w", step, err)
	}
	return nil
}

// fail marks the attempt failed and wraps the cause in a DeploymentError
// carrying the step. The mark is written on a fresh context: when the
// deployment context timed out, the bookkeeping write must still land.
func (s *deploymentService) fail(req *DeployRequest, id uuid.UUID, step models.DeployStep, cause error) error {
	detail := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		detail = "timeout"
	}

	markCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deploys.MarkFailed(markCtx, id, detail); err != nil {
		s.logger.Error("Failed to mark deploy attempt failed",
			zap.String("attempt_id", id.String()),
			zap.Error(err),
		)
	}

	return &apperrors.DeploymentError{
		Solution: req.SolutionName,
		Module:   req.ModuleName,
		Step:     string(step),
		Err:      cause,
	}
}
