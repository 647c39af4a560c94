package generator

import (
	"fmt"
	"strings"

	"github.com/modforge-io/modforge-platform/pkg/models"
)

// stateFieldDecl renders the generated workflow state field. The first
// declared state is the default.
func stateFieldDecl(wf *models.WorkflowSpec) string {
	pairs := make([]string, 0, len(wf.States))
	for _, state := range wf.States {
		pairs = append(pairs, fmt.Sprintf("(%s, %s)", pyString(state), pyString(titleize(state))))
	}
	return fmt.Sprintf(
		"state = fields.Selection(selection=[%s], string=\"State\", default=%s, required=True)",
		strings.Join(pairs, ", "), pyString(wf.InitialState()))
}

// triggerGroup collects the transitions sharing one trigger, in declaration
// order. Python allows only one method per name, so a trigger declared from
// several states becomes a single handler that dispatches on current state.
type triggerGroup struct {
	trigger     string
	transitions []models.WorkflowTransition
}

func groupTransitions(wf *models.WorkflowSpec) []triggerGroup {
	index := make(map[string]int)
	var groups []triggerGroup
	for _, tr := range wf.Transitions {
		i, ok := index[tr.Trigger]
		if !ok {
			i = len(groups)
			index[tr.Trigger] = i
			groups = append(groups, triggerGroup{trigger: tr.Trigger})
		}
		groups[i].transitions = append(groups[i].transitions, tr)
	}
	return groups
}

// workflowMethods renders one action_<trigger> handler per trigger. Every
// handler verifies the current state before writing the new one, so an
// illegal call surfaces as a user error instead of a silent state jump.
func workflowMethods(wf *models.WorkflowSpec) string {
	var b strings.Builder
	for _, grp := range groupTransitions(wf) {
		b.WriteString("\n")
		fmt.Fprintf(&b, "    def action_%s(self):\n", grp.trigger)
		if len(grp.transitions) == 1 {
			tr := grp.transitions[0]
			b.WriteString("        for record in self:\n")
			fmt.Fprintf(&b, "            if record.state != %s:\n", pyString(tr.FromState))
			fmt.Fprintf(&b, "                raise UserError(_(\"Transition %s is not allowed from state %%s.\") %% record.state)\n", grp.trigger)
			fmt.Fprintf(&b, "            record.state = %s\n", pyString(tr.ToState))
		} else {
			pairs := make([]string, 0, len(grp.transitions))
			for _, tr := range grp.transitions {
				pairs = append(pairs, fmt.Sprintf("%s: %s", pyString(tr.FromState), pyString(tr.ToState)))
			}
			fmt.Fprintf(&b, "        targets = {%s}\n", strings.Join(pairs, ", "))
			b.WriteString("        for record in self:\n")
			b.WriteString("            if record.state not in targets:\n")
			fmt.Fprintf(&b, "                raise UserError(_(\"Transition %s is not allowed from state %%s.\") %% record.state)\n", grp.trigger)
			b.WriteString("            record.state = targets[record.state]\n")
		}
	}
	return b.String()
}
