package generator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/modforge-io/modforge-platform/pkg/models"
)

// declBuilder renders one validated field specification as a Python field
// declaration.
type declBuilder func(f *models.FieldSpec) string

// declBuilders maps each field type to its declaration builder. Supporting a
// new type means adding one table entry; call sites stay untouched.
var declBuilders = map[models.FieldType]declBuilder{
	models.FieldTypeChar:      scalarDecl("Char", pyString),
	models.FieldTypeText:      scalarDecl("Text", pyString),
	models.FieldTypeInteger:   scalarDecl("Integer", rawDefault),
	models.FieldTypeFloat:     scalarDecl("Float", rawDefault),
	models.FieldTypeBoolean:   scalarDecl("Boolean", boolDefault),
	models.FieldTypeDate:      scalarDecl("Date", pyString),
	models.FieldTypeDatetime:  scalarDecl("Datetime", pyString),
	models.FieldTypeSelection: selectionDecl,
	models.FieldTypeMany2one:  relationDecl("Many2one"),
	models.FieldTypeOne2many:  one2manyDecl,
	models.FieldTypeMany2many: relationDecl("Many2many"),
}

func fieldDecl(f *models.FieldSpec) (string, error) {
	build, ok := declBuilders[f.Type]
	if !ok {
		return "", fmt.Errorf("no declaration builder for field type %q", f.Type)
	}
	return build(f), nil
}

func scalarDecl(pyType string, renderDefault func(string) string) declBuilder {
	return func(f *models.FieldSpec) string {
		args := []string{"string=" + pyString(fieldLabel(f))}
		if f.Required {
			args = append(args, "required=True")
		}
		if f.Default != "" {
			args = append(args, "default="+renderDefault(f.Default))
		}
		args = appendHelp(args, f)
		return fmt.Sprintf("%s = fields.%s(%s)", f.Name, pyType, strings.Join(args, ", "))
	}
}

func selectionDecl(f *models.FieldSpec) string {
	pairs := make([]string, 0, len(f.SelectionOptions))
	for _, opt := range f.SelectionOptions {
		pairs = append(pairs, fmt.Sprintf("(%s, %s)", pyString(opt.Value), pyString(optionLabel(opt))))
	}
	args := []string{
		"selection=[" + strings.Join(pairs, ", ") + "]",
		"string=" + pyString(fieldLabel(f)),
	}
	if f.Required {
		args = append(args, "required=True")
	}
	if f.Default != "" {
		args = append(args, "default="+pyString(f.Default))
	}
	args = appendHelp(args, f)
	return fmt.Sprintf("%s = fields.Selection(%s)", f.Name, strings.Join(args, ", "))
}

func relationDecl(pyType string) declBuilder {
	return func(f *models.FieldSpec) string {
		args := []string{
			"comodel_name=" + pyString(f.RelationTarget),
			"string=" + pyString(fieldLabel(f)),
		}
		if f.Required {
			args = append(args, "required=True")
		}
		args = appendHelp(args, f)
		return fmt.Sprintf("%s = fields.%s(%s)", f.Name, pyType, strings.Join(args, ", "))
	}
}

func one2manyDecl(f *models.FieldSpec) string {
	args := []string{
		"comodel_name=" + pyString(f.RelationTarget),
		"inverse_name=" + pyString(f.InverseField),
		"string=" + pyString(fieldLabel(f)),
	}
	args = appendHelp(args, f)
	return fmt.Sprintf("%s = fields.One2many(%s)", f.Name, strings.Join(args, ", "))
}

func appendHelp(args []string, f *models.FieldSpec) []string {
	if f.Help != "" {
		args = append(args, "help="+pyString(f.Help))
	}
	return args
}

// fieldLabel returns the declared label or one derived from the field name.
func fieldLabel(f *models.FieldSpec) string {
	if f.Label != "" {
		return f.Label
	}
	return titleize(f.Name)
}

func optionLabel(opt models.SelectionOption) string {
	if opt.Label != "" {
		return opt.Label
	}
	return titleize(opt.Value)
}

// titleize turns "rent_amount" into "Rent Amount". Inputs are validated
// identifiers, so byte indexing is safe.
func titleize(name string) string {
	parts := strings.Split(name, "_")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, strings.ToUpper(p[:1])+p[1:])
	}
	return strings.Join(out, " ")
}

var pyEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\t", `\t`,
	"\r", `\r`,
)

// pyString renders s as a double-quoted Python string literal.
func pyString(s string) string {
	return `"` + pyEscaper.Replace(s) + `"`
}

func rawDefault(s string) string { return s }

func boolDefault(s string) string {
	// Validation already guaranteed the value parses.
	b, _ := strconv.ParseBool(s)
	if b {
		return "True"
	}
	return "False"
}
