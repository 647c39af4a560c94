package generator

import (
	"fmt"
	"strings"

	"github.com/modforge-io/modforge-platform/pkg/models"
)

const xmlHeader = "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n<odoo>\n"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}

// buildViewsFile renders form, list and search views for one model. Field
// order follows the specification exactly.
func buildViewsFile(model *models.ModelSpec) string {
	snake := model.SnakeName()
	label := xmlEscape(modelLabel(model))
	name := xmlEscape(model.Name)

	var b strings.Builder
	b.WriteString(xmlHeader)

	// Form view
	fmt.Fprintf(&b, "    <record id=\"view_%s_form\" model=\"ir.ui.view\">\n", snake)
	fmt.Fprintf(&b, "        <field name=\"name\">%s.form</field>\n", name)
	fmt.Fprintf(&b, "        <field name=\"model\">%s</field>\n", name)
	b.WriteString("        <field name=\"arch\" type=\"xml\">\n")
	fmt.Fprintf(&b, "            <form string=\"%s\">\n", label)
	if model.Workflow != nil {
		b.WriteString("                <header>\n")
		b.WriteString("                    <field name=\"state\" widget=\"statusbar\"/>\n")
		b.WriteString("                </header>\n")
	}
	b.WriteString("                <sheet>\n")
	b.WriteString("                    <group>\n")
	for i := range model.Fields {
		fmt.Fprintf(&b, "                        <field name=\"%s\"/>\n", xmlEscape(model.Fields[i].Name))
	}
	b.WriteString("                    </group>\n")
	b.WriteString("                </sheet>\n")
	b.WriteString("            </form>\n")
	b.WriteString("        </field>\n")
	b.WriteString("    </record>\n")

	// List view
	fmt.Fprintf(&b, "    <record id=\"view_%s_list\" model=\"ir.ui.view\">\n", snake)
	fmt.Fprintf(&b, "        <field name=\"name\">%s.list</field>\n", name)
	fmt.Fprintf(&b, "        <field name=\"model\">%s</field>\n", name)
	b.WriteString("        <field name=\"arch\" type=\"xml\">\n")
	fmt.Fprintf(&b, "            <tree string=\"%s\">\n", label)
	for i := range model.Fields {
		fmt.Fprintf(&b, "                <field name=\"%s\"/>\n", xmlEscape(model.Fields[i].Name))
	}
	if model.Workflow != nil {
		b.WriteString("                <field name=\"state\"/>\n")
	}
	b.WriteString("            </tree>\n")
	b.WriteString("        </field>\n")
	b.WriteString("    </record>\n")

	// Search view
	fmt.Fprintf(&b, "    <record id=\"view_%s_search\" model=\"ir.ui.view\">\n", snake)
	fmt.Fprintf(&b, "        <field name=\"name\">%s.search</field>\n", name)
	fmt.Fprintf(&b, "        <field name=\"model\">%s</field>\n", name)
	b.WriteString("        <field name=\"arch\" type=\"xml\">\n")
	fmt.Fprintf(&b, "            <search string=\"%s\">\n", label)
	for i := range model.Fields {
		fmt.Fprintf(&b, "                <field name=\"%s\"/>\n", xmlEscape(model.Fields[i].Name))
	}
	b.WriteString("            </search>\n")
	b.WriteString("        </field>\n")
	b.WriteString("    </record>\n")

	b.WriteString("</odoo>\n")
	return b.String()
}
