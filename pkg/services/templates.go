package services

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/jinzhu/inflection"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/sqlguard"
)

// TemplateRegistry holds the desired tenant table shapes per solution
// domain. The schema migrator reads it when planning DDL for a solution:
// platform templates apply to every solution, domain templates only to
// solutions registered under that domain.
type TemplateRegistry struct {
	mu       sync.RWMutex
	byDomain map[string][]models.TableTemplate
}

// NewTemplateRegistry creates an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		byDomain: make(map[string][]models.TableTemplate),
	}
}

// Register replaces the template set for a domain.
func (r *TemplateRegistry) Register(domain string, templates []models.TableTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDomain[domain] = append([]models.TableTemplate(nil), templates...)
}

// Add appends templates to a domain, replacing any existing template with
// the same table name. Later registrations win, so regenerating a module
// updates its tables without disturbing the rest of the domain.
func (r *TemplateRegistry) Add(domain string, templates []models.TableTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byDomain[domain]
	for _, tpl := range templates {
		replaced := false
		for i := range existing {
			if existing[i].Name == tpl.Name {
				existing[i] = tpl
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, tpl)
		}
	}
	r.byDomain[domain] = existing
}

// ForDomain returns a copy of the domain's templates. Unknown domains
// return an empty slice.
func (r *TemplateRegistry) ForDomain(domain string) []models.TableTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.TableTemplate(nil), r.byDomain[domain]...)
}

// Domains returns the registered domains in sorted order.
func (r *TemplateRegistry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]string, 0, len(r.byDomain))
	for d := range r.byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// PlatformTemplates returns the per-tenant metadata tables every solution
// carries under its table prefix, independent of domain.
func PlatformTemplates() []models.TableTemplate {
	return []models.TableTemplate{
		{
			Name: "settings",
			Columns: []models.ColumnTemplate{
				{Name: "id", DataType: "BIGSERIAL", PrimaryKey: true},
				{Name: "key", DataType: "TEXT"},
				{Name: "value", DataType: "TEXT", Nullable: true},
				{Name: "created_at", DataType: "TIMESTAMPTZ", Default: "now()"},
				{Name: "updated_at", DataType: "TIMESTAMPTZ", Default: "now()"},
			},
			Indexes: []models.IndexTemplate{
				{Name: "settings_key", Columns: []string{"key"}, Unique: true},
			},
		},
		{
			Name: "event_log",
			Columns: []models.ColumnTemplate{
				{Name: "id", DataType: "BIGSERIAL", PrimaryKey: true},
				{Name: "event_type", DataType: "TEXT"},
				{Name: "payload", DataType: "JSONB", Nullable: true},
				{Name: "occurred_at", DataType: "TIMESTAMPTZ", Default: "now()"},
			},
			Indexes: []models.IndexTemplate{
				{Name: "event_log_type", Columns: []string{"event_type"}},
				{Name: "event_log_occurred_at", Columns: []string{"occurred_at"}},
			},
		},
	}
}

// columnTypeFor maps a specification field type to its PostgreSQL column
// type. Relational collection types have no column of their own.
var columnTypeFor = map[models.FieldType]string{
	models.FieldTypeChar:      "TEXT",
	models.FieldTypeText:      "TEXT",
	models.FieldTypeInteger:   "BIGINT",
	models.FieldTypeFloat:     "DOUBLE PRECISION",
	models.FieldTypeBoolean:   "BOOLEAN",
	models.FieldTypeDate:      "DATE",
	models.FieldTypeDatetime:  "TIMESTAMPTZ",
	models.FieldTypeSelection: "TEXT",
	models.FieldTypeMany2one:  "BIGINT",
}

// TemplatesFromSpecification derives tenant table templates from a module
// specification, one table per model. Table names are the pluralized
// snake-case model names, so model "rental.unit" yields table
// "rental_units" (before prefixing). one2many and many2many fields produce
// no columns; the relation lives on the other side.
func TemplatesFromSpecification(spec *models.ModuleSpecification) ([]models.TableTemplate, error) {
	templates := make([]models.TableTemplate, 0, len(spec.Models))

	for i := range spec.Models {
		model := &spec.Models[i]
		tableName := inflection.Plural(model.SnakeName())
		if !sqlguard.ValidIdentifier(tableName) {
			return nil, &apperrors.SpecValidationError{
				Module: spec.Name,
				Model:  model.Name,
				Reason: fmt.Sprintf("derived table name %q is not a valid identifier", tableName),
			}
		}

		tpl := models.TableTemplate{
			Name: tableName,
			Columns: []models.ColumnTemplate{
				{Name: "id", DataType: "BIGSERIAL", PrimaryKey: true},
			},
		}

		hasStateColumn := false
		for j := range model.Fields {
			field := &model.Fields[j]
			dataType, ok := columnTypeFor[field.Type]
			if !ok {
				continue // one2many, many2many
			}
			if !sqlguard.ValidIdentifier(field.Name) {
				return nil, &apperrors.SpecValidationError{
					Module: spec.Name,
					Model:  model.Name,
					Field:  field.Name,
					Reason: "field name is not a valid column identifier",
				}
			}

			col := models.ColumnTemplate{
				Name:     field.Name,
				DataType: dataType,
				Nullable: !field.Required,
				Default:  columnDefault(field),
			}
			tpl.Columns = append(tpl.Columns, col)
			if field.Name == "state" {
				hasStateColumn = true
			}

			if field.Type == models.FieldTypeMany2one {
				tpl.Indexes = append(tpl.Indexes, models.IndexTemplate{
					Name:    tableName + "_" + field.Name,
					Columns: []string{field.Name},
				})
			}
		}

		if model.Workflow != nil {
			initial := model.Workflow.InitialState()
			if res := sqlguard.CheckValue("workflow initial state", initial); res != nil {
				return nil, &apperrors.SpecValidationError{
					Module: spec.Name,
					Model:  model.Name,
					Reason: fmt.Sprintf("workflow initial state %q failed injection screening", initial),
				}
			}
			if !hasStateColumn {
				tpl.Columns = append(tpl.Columns, models.ColumnTemplate{
					Name:     "state",
					DataType: "TEXT",
					Default:  "'" + initial + "'",
				})
			}
			tpl.Indexes = append(tpl.Indexes, models.IndexTemplate{
				Name:    tableName + "_state",
				Columns: []string{"state"},
			})
		}

		tpl.Columns = append(tpl.Columns,
			models.ColumnTemplate{Name: "created_at", DataType: "TIMESTAMPTZ", Default: "now()"},
			models.ColumnTemplate{Name: "updated_at", DataType: "TIMESTAMPTZ", Default: "now()"},
		)

		templates = append(templates, tpl)
	}

	return templates, nil
}

// columnDefault maps a field's declared default into a SQL default for the
// types where that is safe to do literally. Text-like defaults stay at the
// application layer.
func columnDefault(field *models.FieldSpec) string {
	if field.Default == "" {
		return ""
	}
	switch field.Type {
	case models.FieldTypeBoolean:
		if field.Default == "true" || field.Default == "false" {
			return field.Default
		}
	case models.FieldTypeInteger:
		if _, err := strconv.ParseInt(field.Default, 10, 64); err == nil {
			return field.Default
		}
	case models.FieldTypeFloat:
		if _, err := strconv.ParseFloat(field.Default, 64); err == nil {
			return field.Default
		}
	}
	return ""
}
