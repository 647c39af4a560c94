package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/erp"
	"github.com/modforge-io/modforge-platform/pkg/generator"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/repositories"
)

// biFeatureCategories marks ERP module categories that count as BI
// features. Matching is case-insensitive substring.
var biFeatureCategories = []string{"reporting", "dashboard", "business intelligence"}

// DiscoveryRefreshResult summarizes one introspection pass over a domain.
type DiscoveryRefreshResult struct {
	Domain        string        `json:"domain"`
	ServerVersion string        `json:"server_version"`
	Partial       bool          `json:"partial"`
	Duration      time.Duration `json:"duration"`

	Stats map[models.DiscoveryType]*repositories.DiscoveryUpsertStats `json:"stats"`
}

// DiscoveryFreshness reports how current the cache is for a domain.
type DiscoveryFreshness struct {
	Domain       string                             `json:"domain"`
	ActiveCounts map[models.DiscoveryType]int       `json:"active_counts"`
	LastRefresh  map[models.DiscoveryType]time.Time `json:"last_refresh"`
}

// DiscoveryService refreshes and reads the versioned discovery cache.
type DiscoveryService interface {
	// RefreshDomain runs one full introspection pass against the ERP and
	// upserts model, field, module, workflow and BI feature descriptors.
	// A partial pass still caches what it collected; the returned error is
	// then a DiscoveryError with Partial set alongside a non-nil result.
	RefreshDomain(ctx context.Context, domain string) (*DiscoveryRefreshResult, error)

	// GetCached returns the active descriptors of one type without
	// touching the ERP.
	GetCached(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error)

	// GetVersions returns every cached version of one descriptor, newest
	// first.
	GetVersions(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error)

	// Freshness reports active counts and last refresh time per type.
	Freshness(ctx context.Context, domain string) (*DiscoveryFreshness, error)

	// NewRelationResolver snapshots the active model cache into a resolver
	// the generator uses to find the owning module of external relation
	// targets.
	NewRelationResolver(ctx context.Context, domain string) (generator.RelationResolver, error)
}

type discoveryService struct {
	repo    repositories.DiscoveryRepository
	factory erp.AdapterFactory
	erpCfg  *config.ERPConfig
	logger  *zap.Logger
}

// NewDiscoveryService creates a new discovery service.
func NewDiscoveryService(
	repo repositories.DiscoveryRepository,
	factory erp.AdapterFactory,
	erpCfg *config.ERPConfig,
	logger *zap.Logger,
) DiscoveryService {
	return &discoveryService{
		repo:    repo,
		factory: factory,
		erpCfg:  erpCfg,
		logger:  logger,
	}
}

var _ DiscoveryService = (*discoveryService)(nil)

func (s *discoveryService) RefreshDomain(ctx context.Context, domain string) (*DiscoveryRefreshResult, error) {
	if s.erpCfg == nil || !s.erpCfg.IsAvailable() {
		return nil, &apperrors.DiscoveryError{Op: "connect", Domain: domain, Err: fmt.Errorf("erp endpoint is not configured")}
	}

	started := time.Now()

	intro, err := s.factory.NewIntrospector(ctx, s.erpCfg)
	if err != nil {
		return nil, &apperrors.DiscoveryError{Op: "connect", Domain: domain, Err: err}
	}
	defer intro.Close()

	serverVersion, err := intro.ServerVersion(ctx)
	if err != nil {
		return nil, &apperrors.DiscoveryError{Op: "probe", Domain: domain, Err: err}
	}

	modelDisc, err := intro.DiscoverModels(ctx, erp.ModelFilter{NamePrefix: s.erpCfg.ModelPrefix})
	if err != nil {
		return nil, &apperrors.DiscoveryError{Op: "models", Domain: domain, Err: err}
	}

	result := &DiscoveryRefreshResult{
		Domain:        domain,
		ServerVersion: serverVersion,
		Partial:       modelDisc.Partial,
		Stats:         make(map[models.DiscoveryType]*repositories.DiscoveryUpsertStats),
	}

	now := time.Now()

	modelEntities := make([]*models.DiscoveredEntity, 0, len(modelDisc.Models))
	fieldEntities := make([]*models.DiscoveredEntity, 0, len(modelDisc.Models))
	workflowEntities := make([]*models.DiscoveredEntity, 0)

	// One field pass per model. A model whose fields cannot be listed is
	// skipped and the pass flagged partial; everything else still lands.
	fieldFailures := 0
	var lastFieldErr error

	for _, md := range modelDisc.Models {
		modelEntities = append(modelEntities, modelEntity(domain, md, now))

		fieldDisc, err := intro.DiscoverFields(ctx, md.Name)
		if err != nil {
			fieldFailures++
			lastFieldErr = err
			s.logger.Warn("Field discovery failed for model",
				zap.String("domain", domain),
				zap.String("model", md.Name),
				zap.Error(err),
			)
			continue
		}
		if fieldDisc.Partial {
			result.Partial = true
		}

		fieldEntities = append(fieldEntities, fieldEntity(domain, md, fieldDisc.Fields, now))

		if wf := workflowEntity(domain, md, fieldDisc.Fields, now); wf != nil {
			workflowEntities = append(workflowEntities, wf)
		}
	}

	var moduleEntities, biEntities []*models.DiscoveredEntity
	moduleDisc, moduleErr := intro.DiscoverModules(ctx)
	if moduleErr != nil {
		s.logger.Warn("Module discovery failed",
			zap.String("domain", domain),
			zap.Error(moduleErr),
		)
	} else {
		if moduleDisc.Partial {
			result.Partial = true
		}
		for _, mod := range moduleDisc.Modules {
			moduleEntities = append(moduleEntities, moduleEntity(domain, mod, now))
			if bi := biFeatureEntity(domain, mod, now); bi != nil {
				biEntities = append(biEntities, bi)
			}
		}
	}

	batches := []struct {
		discoveryType models.DiscoveryType
		entities      []*models.DiscoveredEntity
	}{
		{models.DiscoveryTypeModel, modelEntities},
		{models.DiscoveryTypeField, fieldEntities},
		{models.DiscoveryTypeWorkflow, workflowEntities},
		{models.DiscoveryTypeModule, moduleEntities},
		{models.DiscoveryTypeBIFeature, biEntities},
	}
	for _, batch := range batches {
		stats, err := s.repo.UpsertBatch(ctx, batch.entities)
		if err != nil {
			return nil, &apperrors.DiscoveryError{Op: string(batch.discoveryType), Domain: domain, Err: err}
		}
		result.Stats[batch.discoveryType] = stats
	}

	result.Duration = time.Since(started)

	s.logger.Info("Discovery refresh completed",
		zap.String("domain", domain),
		zap.String("server_version", serverVersion),
		zap.Bool("partial", result.Partial),
		zap.Int("models", len(modelEntities)),
		zap.Int("field_sets", len(fieldEntities)),
		zap.Int("workflows", len(workflowEntities)),
		zap.Int("modules", len(moduleEntities)),
		zap.Int("bi_features", len(biEntities)),
		zap.Int("field_failures", fieldFailures),
		zap.Duration("duration", result.Duration),
	)

	if fieldFailures > 0 || moduleErr != nil {
		result.Partial = true
		err := lastFieldErr
		op := "fields"
		if err == nil {
			err = moduleErr
			op = "modules"
		}
		return result, &apperrors.DiscoveryError{Op: op, Domain: domain, Partial: true, Err: err}
	}
	return result, nil
}

func (s *discoveryService) GetCached(ctx context.Context, discoveryType models.DiscoveryType, domain string) ([]*models.DiscoveredEntity, error) {
	if !models.IsValidDiscoveryType(discoveryType) {
		return nil, fmt.Errorf("invalid discovery type: %s", discoveryType)
	}
	return s.repo.GetActive(ctx, discoveryType, domain)
}

func (s *discoveryService) GetVersions(ctx context.Context, discoveryType models.DiscoveryType, domain, name string) ([]*models.DiscoveredEntity, error) {
	if !models.IsValidDiscoveryType(discoveryType) {
		return nil, fmt.Errorf("invalid discovery type: %s", discoveryType)
	}
	return s.repo.GetVersions(ctx, discoveryType, domain, name)
}

func (s *discoveryService) Freshness(ctx context.Context, domain string) (*DiscoveryFreshness, error) {
	counts, err := s.repo.ActiveCounts(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to count active entities: %w", err)
	}
	refresh, err := s.repo.Freshness(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to read freshness: %w", err)
	}
	return &DiscoveryFreshness{
		Domain:       domain,
		ActiveCounts: counts,
		LastRefresh:  refresh,
	}, nil
}

func (s *discoveryService) NewRelationResolver(ctx context.Context, domain string) (generator.RelationResolver, error) {
	active, err := s.repo.GetActive(ctx, models.DiscoveryTypeModel, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to load model cache: %w", err)
	}

	owners := make(map[string]string, len(active))
	for _, e := range active {
		owners[e.Name] = e.OwningModule()
	}
	return &cachedRelationResolver{owners: owners}, nil
}

// cachedRelationResolver resolves relation targets against a point-in-time
// snapshot of the model cache. It never touches the ERP.
type cachedRelationResolver struct {
	owners map[string]string
}

var _ generator.RelationResolver = (*cachedRelationResolver)(nil)

func (r *cachedRelationResolver) ResolveModel(name string) (string, bool) {
	module, ok := r.owners[name]
	return module, ok
}

// ============================================================================
// Descriptor -> entity mapping
// ============================================================================

func modelEntity(domain string, md erp.ModelDescriptor, now time.Time) *models.DiscoveredEntity {
	return &models.DiscoveredEntity{
		DiscoveryType: models.DiscoveryTypeModel,
		Domain:        domain,
		Name:          md.Name,
		Metadata: models.JSONBMap{
			"module": md.Module,
		},
		SchemaDefinition: models.JSONBMap{
			"display_name": md.DisplayName,
			"module":       md.Module,
			"field_count":  md.FieldCount,
		},
		DiscoveredAt: now,
	}
}

// fieldEntity records one model's full field list as a single descriptor,
// so a version bump means "this model's schema changed" rather than one row
// per field.
func fieldEntity(domain string, md erp.ModelDescriptor, fields []erp.FieldDescriptor, now time.Time) *models.DiscoveredEntity {
	sorted := append([]erp.FieldDescriptor(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	list := make([]any, 0, len(sorted))
	for _, f := range sorted {
		entry := map[string]any{
			"name":     f.Name,
			"type":     f.Type,
			"required": f.Required,
			"readonly": f.Readonly,
		}
		if f.Relation != "" {
			entry["relation"] = f.Relation
		}
		list = append(list, entry)
	}

	return &models.DiscoveredEntity{
		DiscoveryType: models.DiscoveryTypeField,
		Domain:        domain,
		Name:          md.Name,
		Metadata: models.JSONBMap{
			"module":      md.Module,
			"field_count": len(fields),
		},
		SchemaDefinition: models.JSONBMap{
			"fields": list,
		},
		DiscoveredAt: now,
	}
}

// workflowEntity derives a workflow descriptor for models that carry a
// selection field named "state", the ERP's lifecycle convention. Returns
// nil for models without one.
func workflowEntity(domain string, md erp.ModelDescriptor, fields []erp.FieldDescriptor, now time.Time) *models.DiscoveredEntity {
	for _, f := range fields {
		if f.Name != "state" || f.Type != "selection" {
			continue
		}
		return &models.DiscoveredEntity{
			DiscoveryType: models.DiscoveryTypeWorkflow,
			Domain:        domain,
			Name:          md.Name,
			Metadata: models.JSONBMap{
				"module": md.Module,
			},
			SchemaDefinition: models.JSONBMap{
				"state_field": f.Name,
				"label":       f.Label,
				"required":    f.Required,
			},
			DiscoveredAt: now,
		}
	}
	return nil
}

func moduleEntity(domain string, mod erp.ModuleDescriptor, now time.Time) *models.DiscoveredEntity {
	return &models.DiscoveredEntity{
		DiscoveryType: models.DiscoveryTypeModule,
		Domain:        domain,
		Name:          mod.Name,
		Metadata: models.JSONBMap{
			"category":     mod.Category,
			"display_name": mod.DisplayName,
		},
		SchemaDefinition: models.JSONBMap{
			"state":             mod.State,
			"installed_version": mod.InstalledVersion,
		},
		DiscoveredAt: now,
	}
}

// biFeatureEntity derives a BI feature descriptor for installed modules in
// a reporting category. Returns nil otherwise.
func biFeatureEntity(domain string, mod erp.ModuleDescriptor, now time.Time) *models.DiscoveredEntity {
	if mod.State != "installed" {
		return nil
	}
	category := strings.ToLower(mod.Category)
	matched := false
	for _, c := range biFeatureCategories {
		if strings.Contains(category, c) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	return &models.DiscoveredEntity{
		DiscoveryType: models.DiscoveryTypeBIFeature,
		Domain:        domain,
		Name:          mod.Name,
		Metadata: models.JSONBMap{
			"display_name": mod.DisplayName,
		},
		SchemaDefinition: models.JSONBMap{
			"category":          mod.Category,
			"installed_version": mod.InstalledVersion,
		},
		DiscoveredAt: now,
	}
}
