package generator

import (
	"fmt"
	"strings"

	"github.com/modforge-io/modforge-platform/pkg/models"
)

// buildSecurityFile renders the ir.model.access records for one model: one
// record per declared role, or a single default-deny record when the model
// declares no roles. A model is never generated without an access entry.
func buildSecurityFile(model *models.ModelSpec) string {
	snake := model.SnakeName()

	var b strings.Builder
	b.WriteString(xmlHeader)

	if len(model.AccessRules) == 0 {
		fmt.Fprintf(&b, "    <record id=\"access_%s_default\" model=\"ir.model.access\">\n", snake)
		fmt.Fprintf(&b, "        <field name=\"name\">%s default deny</field>\n", xmlEscape(model.Name))
		fmt.Fprintf(&b, "        <field name=\"model_id\" ref=\"model_%s\"/>\n", snake)
		b.WriteString(permFields(models.AccessRule{}))
		b.WriteString("    </record>\n")
	} else {
		for _, rule := range model.AccessRules {
			fmt.Fprintf(&b, "    <record id=\"access_%s_%s\" model=\"ir.model.access\">\n", snake, roleID(rule.Role))
			fmt.Fprintf(&b, "        <field name=\"name\">%s %s</field>\n", xmlEscape(model.Name), xmlEscape(rule.Role))
			fmt.Fprintf(&b, "        <field name=\"model_id\" ref=\"model_%s\"/>\n", snake)
			fmt.Fprintf(&b, "        <field name=\"group_id\" ref=\"%s\"/>\n", xmlEscape(roleRef(rule.Role)))
			b.WriteString(permFields(rule))
			b.WriteString("    </record>\n")
		}
	}

	b.WriteString("</odoo>\n")
	return b.String()
}

func permFields(rule models.AccessRule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "        <field name=\"perm_read\" eval=\"%s\"/>\n", permEval(rule.Read))
	fmt.Fprintf(&b, "        <field name=\"perm_write\" eval=\"%s\"/>\n", permEval(rule.Write))
	fmt.Fprintf(&b, "        <field name=\"perm_create\" eval=\"%s\"/>\n", permEval(rule.Create))
	fmt.Fprintf(&b, "        <field name=\"perm_unlink\" eval=\"%s\"/>\n", permEval(rule.Delete))
	return b.String()
}

func permEval(granted bool) string {
	if granted {
		return "1"
	}
	return "0"
}

// roleRef resolves a role to a security group reference. Dotted roles are
// external ids used verbatim ("base.group_user"); plain names reference a
// group the module or its dependencies declare.
func roleRef(role string) string {
	if strings.Contains(role, ".") {
		return role
	}
	return "group_" + role
}

// roleID makes a role usable inside an XML record id.
func roleID(role string) string {
	return strings.ReplaceAll(role, ".", "_")
}
