// Package generator turns module specifications into ERP addon source files.
// Generation is a pure transformation with no filesystem I/O: identical input
// yields byte-identical output, which makes archives content-addressable and
// diffs meaningful.
package generator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// RelationResolver resolves relation targets that are not declared in the
// specification itself, typically backed by the discovery cache.
type RelationResolver interface {
	// ResolveModel reports whether the named model exists in the target ERP
	// and which module owns it. The owner may be empty when unknown.
	ResolveModel(name string) (ownerModule string, ok bool)
}

// FileMap holds generated files in generation order. Paths are relative to
// the module root ("models/rental_unit.py").
type FileMap struct {
	paths    []string
	contents map[string]string
}

func newFileMap() *FileMap {
	return &FileMap{contents: make(map[string]string)}
}

func (m *FileMap) add(path, content string) error {
	if _, exists := m.contents[path]; exists {
		return fmt.Errorf("duplicate generated path %q", path)
	}
	m.paths = append(m.paths, path)
	m.contents[path] = content
	return nil
}

// Get returns the content generated for path.
func (m *FileMap) Get(path string) (string, bool) {
	content, ok := m.contents[path]
	return content, ok
}

// Paths returns all generated paths in generation order.
func (m *FileMap) Paths() []string {
	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// Len returns the number of generated files.
func (m *FileMap) Len() int {
	return len(m.paths)
}

// AsMap returns a path to content copy for the packager.
func (m *FileMap) AsMap() map[string]string {
	out := make(map[string]string, len(m.contents))
	for path, content := range m.contents {
		out[path] = content
	}
	return out
}

// Generator renders module specifications into addon source files.
type Generator struct {
	resolver RelationResolver
	logger   *zap.Logger
}

// New creates a generator. The resolver may be nil, in which case every
// relation target must be declared inside the specification.
func New(resolver RelationResolver, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{resolver: resolver, logger: logger}
}

// Generate validates the specification and renders the complete module file
// set: one manifest, one Python source file per model, one views file per
// model and one security file per model. Validation is all-or-nothing: any
// violation returns a *apperrors.SpecValidationError and zero files. Panics
// during rendering are recovered and surface as *apperrors.GenerationError.
func (g *Generator) Generate(spec *models.ModuleSpecification) (files *FileMap, err error) {
	if spec == nil {
		return nil, &apperrors.SpecValidationError{Reason: "specification is nil"}
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Generation panicked",
				zap.String("module", spec.Name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			files = nil
			err = &apperrors.GenerationError{Module: spec.Name, Stage: "render", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	analysis, err := validateSpecification(spec, g.resolver)
	if err != nil {
		return nil, err
	}

	files = newFileMap()
	if err := files.add(manifestPath, buildManifest(spec, analysis)); err != nil {
		return nil, &apperrors.GenerationError{Module: spec.Name, Stage: "manifest", Err: err}
	}

	for i := range spec.Models {
		model := &spec.Models[i]
		content, err := buildModelFile(model)
		if err != nil {
			return nil, &apperrors.GenerationError{Module: spec.Name, Stage: "models", Err: err}
		}
		if err := files.add(modelPath(model), content); err != nil {
			return nil, &apperrors.GenerationError{Module: spec.Name, Stage: "models", Err: err}
		}
	}

	for i := range spec.Models {
		model := &spec.Models[i]
		if err := files.add(viewsPath(model), buildViewsFile(model)); err != nil {
			return nil, &apperrors.GenerationError{Module: spec.Name, Stage: "views", Err: err}
		}
	}

	for i := range spec.Models {
		model := &spec.Models[i]
		if err := files.add(securityPath(model), buildSecurityFile(model)); err != nil {
			return nil, &apperrors.GenerationError{Module: spec.Name, Stage: "security", Err: err}
		}
	}

	g.logger.Debug("Generated module files",
		zap.String("module", spec.Name),
		zap.String("version", spec.EffectiveVersion()),
		zap.Int("models", len(spec.Models)),
		zap.Int("files", files.Len()))

	return files, nil
}

func modelPath(m *models.ModelSpec) string {
	return "models/" + m.SnakeName() + ".py"
}

func viewsPath(m *models.ModelSpec) string {
	return "views/" + m.SnakeName() + "_views.xml"
}

func securityPath(m *models.ModelSpec) string {
	return "security/" + m.SnakeName() + "_security.xml"
}
