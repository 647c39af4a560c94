package generator

import (
	"fmt"
	"strings"

	"github.com/modforge-io/modforge-platform/pkg/models"
)

// buildModelFile renders one model as a Python source file.
func buildModelFile(model *models.ModelSpec) (string, error) {
	var b strings.Builder
	if model.Workflow != nil {
		b.WriteString("from odoo import _, fields, models\n")
		b.WriteString("from odoo.exceptions import UserError\n")
	} else {
		b.WriteString("from odoo import fields, models\n")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "class %s(models.Model):\n", classNameFor(model.Name))
	fmt.Fprintf(&b, "    _name = %s\n", pyString(model.Name))
	fmt.Fprintf(&b, "    _description = %s\n", pyString(modelDescription(model)))

	if len(model.Fields) > 0 || model.Workflow != nil {
		b.WriteString("\n")
	}
	for i := range model.Fields {
		decl, err := fieldDecl(&model.Fields[i])
		if err != nil {
			return "", err
		}
		b.WriteString("    " + decl + "\n")
	}
	if model.Workflow != nil {
		b.WriteString("    " + stateFieldDecl(model.Workflow) + "\n")
		b.WriteString(workflowMethods(model.Workflow))
	}
	return b.String(), nil
}

// classNameFor converts a dotted model name to its Python class name
// ("rental.unit" -> "RentalUnit").
func classNameFor(modelName string) string {
	var b strings.Builder
	parts := strings.FieldsFunc(modelName, func(r rune) bool {
		return r == '.' || r == '_'
	})
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

// modelLabel is the short human name used in view titles.
func modelLabel(m *models.ModelSpec) string {
	return titleize(m.SnakeName())
}

func modelDescription(m *models.ModelSpec) string {
	if m.Description != "" {
		return m.Description
	}
	return modelLabel(m)
}
