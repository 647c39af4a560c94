package generator

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/sqlguard"
)

var (
	moduleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	modelNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)
	fieldNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	roleNamePattern   = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)
)

// specAnalysis carries facts collected during validation that generation
// reuses, so the resolver is consulted exactly once per target.
type specAnalysis struct {
	// externalOwners maps relation targets outside the specification to
	// their owning ERP modules.
	externalOwners map[string]string
}

// validateSpecification checks the whole specification before any file is
// rendered. The first violation is returned; a non-nil error means zero
// output files.
func validateSpecification(spec *models.ModuleSpecification, resolver RelationResolver) (*specAnalysis, error) {
	if !moduleNamePattern.MatchString(spec.Name) {
		return nil, &apperrors.SpecValidationError{
			Module: spec.Name,
			Reason: "module name must be a lowercase identifier",
		}
	}
	if len(spec.Models) == 0 {
		return nil, &apperrors.SpecValidationError{
			Module: spec.Name,
			Reason: "module declares no models",
		}
	}

	// First pass collects declared model names so relational fields can
	// reference models declared later in the document.
	inSpec := make(map[string]struct{}, len(spec.Models))
	for i := range spec.Models {
		model := &spec.Models[i]
		if !modelNamePattern.MatchString(model.Name) {
			return nil, &apperrors.SpecValidationError{
				Module: spec.Name,
				Model:  model.Name,
				Reason: "model name must be a dotted lowercase identifier",
			}
		}
		if _, dup := inSpec[model.Name]; dup {
			return nil, &apperrors.SpecValidationError{
				Module: spec.Name,
				Model:  model.Name,
				Reason: "model is declared more than once",
			}
		}
		inSpec[model.Name] = struct{}{}
	}

	analysis := &specAnalysis{externalOwners: make(map[string]string)}
	for i := range spec.Models {
		model := &spec.Models[i]
		if err := validateFields(spec, model, inSpec, resolver, analysis); err != nil {
			return nil, err
		}
		if model.Workflow != nil {
			if err := validateWorkflow(spec.Name, model); err != nil {
				return nil, err
			}
		}
		if err := validateAccessRules(spec.Name, model); err != nil {
			return nil, err
		}
	}
	return analysis, nil
}

func validateFields(spec *models.ModuleSpecification, model *models.ModelSpec, inSpec map[string]struct{}, resolver RelationResolver, analysis *specAnalysis) error {
	seen := make(map[string]struct{}, len(model.Fields))
	for i := range model.Fields {
		field := &model.Fields[i]
		fieldErr := func(reason string) error {
			return &apperrors.SpecValidationError{
				Module: spec.Name,
				Model:  model.Name,
				Field:  field.Name,
				Reason: reason,
			}
		}

		if !fieldNamePattern.MatchString(field.Name) {
			return fieldErr("field name must be a snake_case identifier")
		}
		if _, dup := seen[field.Name]; dup {
			return fieldErr("field is declared more than once")
		}
		seen[field.Name] = struct{}{}
		if model.Workflow != nil && field.Name == "state" {
			return fieldErr("field name collides with the generated workflow state field")
		}

		if !models.IsValidFieldType(field.Type) {
			return fieldErr(fmt.Sprintf("unknown field type %q", field.Type))
		}

		if field.RelationTarget != "" && !field.Type.IsRelational() {
			return fieldErr("relation_target is only valid for relational field types")
		}
		if field.InverseField != "" && field.Type != models.FieldTypeOne2many {
			return fieldErr("inverse_field is only valid for one2many fields")
		}
		if len(field.SelectionOptions) > 0 && field.Type != models.FieldTypeSelection {
			return fieldErr("selection_options are only valid for selection fields")
		}

		if field.Type.IsRelational() {
			if err := validateRelation(spec, model, field, inSpec, resolver, analysis, fieldErr); err != nil {
				return err
			}
		}
		if field.Type == models.FieldTypeSelection {
			if err := validateSelection(field, fieldErr); err != nil {
				return err
			}
		}
		if field.Default != "" {
			if err := validateDefault(field, fieldErr); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRelation(spec *models.ModuleSpecification, model *models.ModelSpec, field *models.FieldSpec, inSpec map[string]struct{}, resolver RelationResolver, analysis *specAnalysis, fieldErr func(string) error) error {
	target := field.RelationTarget
	if target == "" {
		return fieldErr("relational field is missing relation_target")
	}

	_, declared := inSpec[target]
	if !declared {
		if _, known := analysis.externalOwners[target]; !known {
			if resolver == nil {
				return fieldErr(fmt.Sprintf("relation target %q is not declared in this module and no discovery data is available", target))
			}
			owner, ok := resolver.ResolveModel(target)
			if !ok {
				return fieldErr(fmt.Sprintf("relation target %q is neither declared in this module nor present in discovery data", target))
			}
			analysis.externalOwners[target] = owner
		}
	}

	if field.Type == models.FieldTypeOne2many {
		if field.InverseField == "" {
			return fieldErr("one2many field is missing inverse_field")
		}
		if !fieldNamePattern.MatchString(field.InverseField) {
			return fieldErr("inverse_field must be a snake_case identifier")
		}
		// The inverse can only be verified when the target lives in the
		// same specification.
		if declared {
			targetModel := spec.ModelByName(target)
			inverse := targetModel.FieldByName(field.InverseField)
			switch {
			case inverse == nil:
				return fieldErr(fmt.Sprintf("inverse field %q is not declared on %q", field.InverseField, target))
			case inverse.Type != models.FieldTypeMany2one:
				return fieldErr(fmt.Sprintf("inverse field %q on %q must be many2one", field.InverseField, target))
			case inverse.RelationTarget != model.Name:
				return fieldErr(fmt.Sprintf("inverse field %q on %q does not reference %q", field.InverseField, target, model.Name))
			}
		}
	}
	return nil
}

func validateSelection(field *models.FieldSpec, fieldErr func(string) error) error {
	if len(field.SelectionOptions) == 0 {
		return fieldErr("selection field declares no options")
	}
	values := make(map[string]struct{}, len(field.SelectionOptions))
	for _, opt := range field.SelectionOptions {
		if opt.Value == "" {
			return fieldErr("selection option with empty value")
		}
		if _, dup := values[opt.Value]; dup {
			return fieldErr(fmt.Sprintf("duplicate selection option value %q", opt.Value))
		}
		values[opt.Value] = struct{}{}

		// Option values and labels are interpolated into generated source,
		// so they are screened before any rendering happens.
		if res := sqlguard.CheckValue(field.Name, opt.Value); res != nil {
			return fieldErr(fmt.Sprintf("selection option value %q failed injection screening", opt.Value))
		}
		if res := sqlguard.CheckValue(field.Name, opt.Label); res != nil {
			return fieldErr(fmt.Sprintf("selection option label %q failed injection screening", opt.Label))
		}
	}
	if field.Default != "" {
		if _, ok := values[field.Default]; !ok {
			return fieldErr(fmt.Sprintf("default %q is not a declared selection option", field.Default))
		}
	}
	return nil
}

func validateDefault(field *models.FieldSpec, fieldErr func(string) error) error {
	switch field.Type {
	case models.FieldTypeInteger:
		if _, err := strconv.Atoi(field.Default); err != nil {
			return fieldErr(fmt.Sprintf("default %q is not a valid integer", field.Default))
		}
	case models.FieldTypeFloat:
		if _, err := strconv.ParseFloat(field.Default, 64); err != nil {
			return fieldErr(fmt.Sprintf("default %q is not a valid float", field.Default))
		}
	case models.FieldTypeBoolean:
		if _, err := strconv.ParseBool(field.Default); err != nil {
			return fieldErr(fmt.Sprintf("default %q is not a valid boolean", field.Default))
		}
	case models.FieldTypeMany2one, models.FieldTypeOne2many, models.FieldTypeMany2many:
		return fieldErr("default is not supported for relational fields")
	}
	return nil
}

func validateWorkflow(moduleName string, model *models.ModelSpec) error {
	modelErr := func(reason string) error {
		return &apperrors.SpecValidationError{
			Module: moduleName,
			Model:  model.Name,
			Reason: reason,
		}
	}
	wf := model.Workflow

	if len(wf.States) < 2 {
		return modelErr("workflow declares fewer than two states")
	}
	declared := make(map[string]struct{}, len(wf.States))
	for _, state := range wf.States {
		if !fieldNamePattern.MatchString(state) {
			return modelErr(fmt.Sprintf("workflow state %q is not a valid identifier", state))
		}
		if _, dup := declared[state]; dup {
			return modelErr(fmt.Sprintf("workflow state %q is declared more than once", state))
		}
		declared[state] = struct{}{}
	}

	dispatch := make(map[string]struct{}, len(wf.Transitions))
	for _, tr := range wf.Transitions {
		if !fieldNamePattern.MatchString(tr.Trigger) {
			return modelErr(fmt.Sprintf("workflow trigger %q is not a valid identifier", tr.Trigger))
		}
		if _, ok := declared[tr.FromState]; !ok {
			return modelErr(fmt.Sprintf("workflow transition %q references undeclared state %q", tr.Trigger, tr.FromState))
		}
		if _, ok := declared[tr.ToState]; !ok {
			return modelErr(fmt.Sprintf("workflow transition %q references undeclared state %q", tr.Trigger, tr.ToState))
		}
		if tr.FromState == tr.ToState {
			return modelErr(fmt.Sprintf("workflow transition %q does not change state %q", tr.Trigger, tr.FromState))
		}
		key := tr.FromState + "\x00" + tr.Trigger
		if _, dup := dispatch[key]; dup {
			return modelErr(fmt.Sprintf("ambiguous workflow: trigger %q is declared twice for state %q", tr.Trigger, tr.FromState))
		}
		dispatch[key] = struct{}{}
	}
	return nil
}

func validateAccessRules(moduleName string, model *models.ModelSpec) error {
	seen := make(map[string]struct{}, len(model.AccessRules))
	for _, rule := range model.AccessRules {
		if !roleNamePattern.MatchString(rule.Role) {
			return &apperrors.SpecValidationError{
				Module: moduleName,
				Model:  model.Name,
				Reason: fmt.Sprintf("access rule role %q is not a valid identifier", rule.Role),
			}
		}
		if _, dup := seen[rule.Role]; dup {
			return &apperrors.SpecValidationError{
				Module: moduleName,
				Model:  model.Name,
				Reason: fmt.Sprintf("duplicate access rule for role %q", rule.Role),
			}
		}
		seen[rule.Role] = struct{}{}
	}
	return nil
}
