package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/models"
)

// PipelineResult is the outcome of a generate-and-deploy run: the recorded
// module and the deployment that shipped it.
type PipelineResult struct {
	Module     *models.GeneratedModule `json:"module"`
	Deployment *DeployResult           `json:"deployment"`
}

// AdminService is the seam outer surfaces consume. It composes the domain
// services into operator workflows and owns no state of its own.
type AdminService interface {
	SetupSolution(ctx context.Context, req *SetupRequest) (*SetupResult, error)
	SolutionStatus(ctx context.Context, solutionName string) (*SolutionStatusReport, error)
	MigrateSolutionSchema(ctx context.Context, solutionName string) (*MigrationSummary, error)

	// RefreshDiscovery runs one introspection pass for the domain. Partial
	// results come back with the error describing what was skipped.
	RefreshDiscovery(ctx context.Context, domain string) (*DiscoveryRefreshResult, error)

	// GenerateAndDeployModule runs the full pipeline for one module:
	// generate and package, then install on the solution's ERP. Each stage
	// runs only after the previous one succeeded; a failed generation is
	// recorded and never reaches the ERP.
	GenerateAndDeployModule(ctx context.Context, solutionName string, spec *models.ModuleSpecification) (*PipelineResult, error)
}

type adminService struct {
	solutions  SolutionService
	migrator   SchemaMigrator
	discovery  DiscoveryService
	generation GenerationService
	deployment DeploymentService
	logger     *zap.Logger
}

// NewAdminService creates the admin facade over the domain services.
func NewAdminService(
	solutions SolutionService,
	migrator SchemaMigrator,
	discovery DiscoveryService,
	generation GenerationService,
	deployment DeploymentService,
	logger *zap.Logger,
) AdminService {
	return &adminService{
		solutions:  solutions,
		migrator:   migrator,
		discovery:  discovery,
		generation: generation,
		deployment: deployment,
		logger:     logger,
	}
}

var _ AdminService = (*adminService)(nil)

func (s *adminService) SetupSolution(ctx context.Context, req *SetupRequest) (*SetupResult, error) {
	return s.solutions.SetupSolution(ctx, req)
}

func (s *adminService) SolutionStatus(ctx context.Context, solutionName string) (*SolutionStatusReport, error) {
	return s.solutions.SolutionStatus(ctx, solutionName)
}

func (s *adminService) MigrateSolutionSchema(ctx context.Context, solutionName string) (*MigrationSummary, error) {
	return s.migrator.MigrateSolutionSchema(ctx, solutionName)
}

func (s *adminService) RefreshDiscovery(ctx context.Context, domain string) (*DiscoveryRefreshResult, error) {
	return s.discovery.RefreshDomain(ctx, domain)
}

func (s *adminService) GenerateAndDeployModule(ctx context.Context, solutionName string, spec *models.ModuleSpecification) (*PipelineResult, error) {
	module, err := s.generation.GenerateModule(ctx, solutionName, spec)
	if err != nil {
		return nil, err
	}

	deployment, err := s.deployment.Install(ctx, &DeployRequest{
		SolutionName: solutionName,
		ModuleName:   module.ModuleName,
		Version:      module.Version,
		ArchivePath:  module.ArchivePath,
		ContentHash:  module.ContentHash,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Module generated and deployed",
		zap.String("solution", solutionName),
		zap.String("module", module.ModuleName),
		zap.String("version", module.Version),
		zap.Bool("upgraded", deployment.Upgraded),
	)
	return &PipelineResult{Module: module, Deployment: deployment}, nil
}
