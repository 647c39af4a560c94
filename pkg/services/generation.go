package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/generator"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/packaging"
	"github.com/modforge-io/modforge-platform/pkg/repositories"
)

// GenerationService turns module specifications into packaged, installable
// module archives, recording every attempt.
type GenerationService interface {
	// GenerateModule validates, generates and packages one module for a
	// solution. The attempt is recorded before generation starts; a failed
	// attempt is marked failed with the error and the error returned.
	GenerateModule(ctx context.Context, solutionName string, spec *models.ModuleSpecification) (*models.GeneratedModule, error)

	// GenerateFromYAML parses a YAML specification document and generates
	// from it.
	GenerateFromYAML(ctx context.Context, solutionName string, specYAML []byte) (*models.GeneratedModule, error)

	Get(ctx context.Context, id uuid.UUID) (*models.GeneratedModule, error)
	GetLatest(ctx context.Context, solutionName, moduleName string) (*models.GeneratedModule, error)
	ListBySolution(ctx context.Context, solutionName string, limit int) ([]*models.GeneratedModule, error)

	// RestoreTemplates rebuilds the in-memory template registry from the
	// newest completed attempt of every module. Called once at startup so
	// schema migrations keep working across restarts.
	RestoreTemplates(ctx context.Context) error
}

type generationService struct {
	modules     repositories.ModuleRepository
	solutions   repositories.SolutionRepository
	discovery   DiscoveryService
	templates   *TemplateRegistry
	artifactDir string
	logger      *zap.Logger
}

// NewGenerationService creates a new generation service. Archives are
// written under artifactDir.
func NewGenerationService(
	modules repositories.ModuleRepository,
	solutions repositories.SolutionRepository,
	discovery DiscoveryService,
	templates *TemplateRegistry,
	artifactDir string,
	logger *zap.Logger,
) GenerationService {
	return &generationService{
		modules:     modules,
		solutions:   solutions,
		discovery:   discovery,
		templates:   templates,
		artifactDir: artifactDir,
		logger:      logger,
	}
}

var _ GenerationService = (*generationService)(nil)

func (s *generationService) GenerateModule(ctx context.Context, solutionName string, spec *models.ModuleSpecification) (*models.GeneratedModule, error) {
	entry, err := s.solutions.GetByName(ctx, solutionName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up solution %s: %w", solutionName, err)
	}
	if !entry.IsActive {
		return nil, apperrors.ErrSolutionInactive
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot specification: %w", err)
	}

	attempt := &models.GeneratedModule{
		SolutionName:  solutionName,
		ModuleName:    spec.Name,
		Version:       spec.EffectiveVersion(),
		Specification: specJSON,
		Status:        models.GenerationStatusPending,
	}
	if err := s.modules.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to record generation attempt: %w", err)
	}

	if err := s.modules.UpdateStatus(ctx, attempt.ID, models.GenerationStatusGenerating); err != nil {
		return nil, fmt.Errorf("failed to advance generation attempt: %w", err)
	}

	resolver, err := s.discovery.NewRelationResolver(ctx, entry.Domain)
	if err != nil {
		return nil, s.fail(ctx, attempt.ID, err)
	}

	gen := generator.New(resolver, s.logger)
	fileMap, err := gen.Generate(spec)
	if err != nil {
		return nil, s.fail(ctx, attempt.ID, err)
	}

	archive, archivePath, err := packaging.Package(spec.Name, fileMap.AsMap(), s.artifactDir)
	if err != nil {
		return nil, s.fail(ctx, attempt.ID, err)
	}

	if err := s.modules.Complete(ctx, attempt.ID, fileMap.Paths(), archivePath, archive.ContentHash); err != nil {
		return nil, fmt.Errorf("failed to complete generation attempt: %w", err)
	}

	// Register the module's tenant tables so the next schema migration of
	// this domain picks them up.
	tableTemplates, err := TemplatesFromSpecification(spec)
	if err != nil {
		// Generate already accepted this specification, so this indicates
		// a gap between generator and template validation.
		s.logger.Warn("Generated module produced no table templates",
			zap.String("module", spec.Name),
			zap.Error(err),
		)
	} else {
		s.templates.Add(entry.Domain, tableTemplates)
	}

	s.logger.Info("Module generated",
		zap.String("solution", solutionName),
		zap.String("module", spec.Name),
		zap.String("version", attempt.Version),
		zap.Int("files", fileMap.Len()),
		zap.String("content_hash", archive.ContentHash),
		zap.String("archive_path", archivePath),
	)

	return s.modules.Get(ctx, attempt.ID)
}

func (s *generationService) GenerateFromYAML(ctx context.Context, solutionName string, specYAML []byte) (*models.GeneratedModule, error) {
	spec, err := models.ParseModuleSpecification(specYAML)
	if err != nil {
		return nil, &apperrors.SpecValidationError{Reason: err.Error()}
	}
	return s.GenerateModule(ctx, solutionName, spec)
}

func (s *generationService) Get(ctx context.Context, id uuid.UUID) (*models.GeneratedModule, error) {
	return s.modules.Get(ctx, id)
}

func (s *generationService) GetLatest(ctx context.Context, solutionName, moduleName string) (*models.GeneratedModule, error) {
	return s.modules.GetLatest(ctx, solutionName, moduleName)
}

func (s *generationService) ListBySolution(ctx context.Context, solutionName string, limit int) ([]*models.GeneratedModule, error) {
	return s.modules.ListBySolution(ctx, solutionName, limit)
}

func (s *generationService) RestoreTemplates(ctx context.Context) error {
	modules, err := s.modules.ListLatestCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to load completed modules: %w", err)
	}

	// Solutions are looked up once each; modules of a deactivated or
	// vanished solution are skipped, their tables stay as they are.
	domains := make(map[string]string)
	restored := 0
	for _, module := range modules {
		domain, ok := domains[module.SolutionName]
		if !ok {
			entry, err := s.solutions.GetByName(ctx, module.SolutionName)
			if err != nil || !entry.IsActive {
				domains[module.SolutionName] = ""
				continue
			}
			domain = entry.Domain
			domains[module.SolutionName] = domain
		}
		if domain == "" {
			continue
		}

		var spec models.ModuleSpecification
		if err := json.Unmarshal(module.Specification, &spec); err != nil {
			s.logger.Warn("Skipping module with unreadable specification snapshot",
				zap.String("module", module.ModuleName),
				zap.String("solution", module.SolutionName),
				zap.Error(err),
			)
			continue
		}

		templates, err := TemplatesFromSpecification(&spec)
		if err != nil {
			s.logger.Warn("Skipping module whose snapshot no longer yields templates",
				zap.String("module", module.ModuleName),
				zap.String("solution", module.SolutionName),
				zap.Error(err),
			)
			continue
		}
		s.templates.Add(domain, templates)
		restored++
	}

	if restored > 0 {
		s.logger.Info("Restored table templates from completed modules",
			zap.Int("modules", restored),
			zap.Strings("domains", s.templates.Domains()),
		)
	}
	return nil
}

// fail marks the attempt failed and returns the original error. A failed
// mark is logged, not surfaced; the caller needs the generation error.
func (s *generationService) fail(ctx context.Context, id uuid.UUID, genErr error) error {
	if err := s.modules.MarkFailed(ctx, id, genErr.Error()); err != nil {
		s.logger.Error("Failed to mark generation attempt failed",
			zap.String("attempt_id", id.String()),
			zap.Error(err),
		)
	}
	return genErr
}
