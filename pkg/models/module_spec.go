package models

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// Field Types
// ============================================================================

// FieldType enumerates the field types a module specification may declare.
type FieldType string

const (
	FieldTypeChar      FieldType = "char"
	FieldTypeText      FieldType = "text"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeDate      FieldType = "date"
	FieldTypeDatetime  FieldType = "datetime"
	FieldTypeSelection FieldType = "selection"
	FieldTypeMany2one  FieldType = "many2one"
	FieldTypeOne2many  FieldType = "one2many"
	FieldTypeMany2many FieldType = "many2many"
)

// ValidFieldTypes contains all valid field type values.
var ValidFieldTypes = []FieldType{
	FieldTypeChar,
	FieldTypeText,
	FieldTypeInteger,
	FieldTypeFloat,
	FieldTypeBoolean,
	FieldTypeDate,
	FieldTypeDatetime,
	FieldTypeSelection,
	FieldTypeMany2one,
	FieldTypeOne2many,
	FieldTypeMany2many,
}

// IsValidFieldType checks if the given field type is valid.
func IsValidFieldType(t FieldType) bool {
	for _, v := range ValidFieldTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsRelational returns true for field types that reference another model.
func (t FieldType) IsRelational() bool {
	return t == FieldTypeMany2one || t == FieldTypeOne2many || t == FieldTypeMany2many
}

// ============================================================================
// Specification Types
// ============================================================================

// SelectionOption is one (value, label) pair of a selection field.
type SelectionOption struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// FieldSpec declares one field of a model.
type FieldSpec struct {
	Name     string    `yaml:"name" json:"name"`
	Type     FieldType `yaml:"type" json:"type"`
	Label    string    `yaml:"label,omitempty" json:"label,omitempty"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Default  string    `yaml:"default,omitempty" json:"default,omitempty"`
	Help     string    `yaml:"help,omitempty" json:"help,omitempty"`

	// RelationTarget names the model a relational field points at
	// (e.g. "res.partner" or an in-spec model name).
	RelationTarget string `yaml:"relation_target,omitempty" json:"relation_target,omitempty"`
	// InverseField is required for one2many fields: the many2one field on
	// the target model that implements the relation.
	InverseField string `yaml:"inverse_field,omitempty" json:"inverse_field,omitempty"`

	// SelectionOptions is required for selection fields.
	SelectionOptions []SelectionOption `yaml:"selection_options,omitempty" json:"selection_options,omitempty"`
}

// WorkflowTransition is one edge of a model's workflow graph.
type WorkflowTransition struct {
	FromState string `yaml:"from_state" json:"from_state"`
	ToState   string `yaml:"to_state" json:"to_state"`
	Trigger   string `yaml:"trigger" json:"trigger"`
}

// WorkflowSpec declares the lifecycle states and allowed transitions of a
// model. The first declared state is the initial state.
type WorkflowSpec struct {
	States      []string             `yaml:"states" json:"states"`
	Transitions []WorkflowTransition `yaml:"transitions" json:"transitions"`
}

// InitialState returns the first declared state, or "" when no states exist.
func (w *WorkflowSpec) InitialState() string {
	if len(w.States) == 0 {
		return ""
	}
	return w.States[0]
}

// HasState reports whether name is a declared state.
func (w *WorkflowSpec) HasState(name string) bool {
	for _, s := range w.States {
		if s == name {
			return true
		}
	}
	return false
}

// AccessRule grants a role a set of permissions on a model.
type AccessRule struct {
	Role   string `yaml:"role" json:"role"`
	Read   bool   `yaml:"read,omitempty" json:"read,omitempty"`
	Write  bool   `yaml:"write,omitempty" json:"write,omitempty"`
	Create bool   `yaml:"create,omitempty" json:"create,omitempty"`
	Delete bool   `yaml:"delete,omitempty" json:"delete,omitempty"`
}

// ModelSpec declares one model of a module.
type ModelSpec struct {
	// Name is the dotted ERP model name, e.g. "rental.unit".
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []FieldSpec   `yaml:"fields" json:"fields"`
	Workflow    *WorkflowSpec `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	AccessRules []AccessRule  `yaml:"access_rules,omitempty" json:"access_rules,omitempty"`
}

// SnakeName converts the dotted model name to its snake_case form used for
// file names, XML ids and table names ("rental.unit" -> "rental_unit").
func (m *ModelSpec) SnakeName() string {
	return strings.ReplaceAll(m.Name, ".", "_")
}

// FieldByName returns the named field spec, or nil.
func (m *ModelSpec) FieldByName(name string) *FieldSpec {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// ModuleSpecification is the declarative input of the generator. It is
// treated as an immutable value: generation never mutates it, and
// regeneration takes a fresh specification.
type ModuleSpecification struct {
	// Name is the technical module name, a lowercase identifier.
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	Summary     string `yaml:"summary,omitempty" json:"summary,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Depends lists module dependencies declared explicitly, in addition to
	// those derived from external relation targets.
	Depends []string `yaml:"depends,omitempty" json:"depends,omitempty"`

	Models []ModelSpec `yaml:"models" json:"models"`
}

// ModelByName returns the named model spec, or nil.
func (s *ModuleSpecification) ModelByName(name string) *ModelSpec {
	for i := range s.Models {
		if s.Models[i].Name == name {
			return &s.Models[i]
		}
	}
	return nil
}

// EffectiveVersion returns the declared version or the default "1.0.0".
func (s *ModuleSpecification) EffectiveVersion() string {
	if s.Version == "" {
		return "1.0.0"
	}
	return s.Version
}

// ParseModuleSpecification decodes a YAML specification document.
// Unknown keys are rejected so typos surface at parse time instead of
// silently producing an incomplete module.
func ParseModuleSpecification(data []byte) (*ModuleSpecification, error) {
	var spec ModuleSpecification
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse module specification: %w", err)
	}
	return &spec, nil
}
