package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modforge-io/modforge-platform/pkg/models"
)

const manifestPath = "__manifest__.py"

// buildManifest renders __manifest__.py. The dependency list is the sorted
// union of the owning modules of external relation targets and the
// explicitly declared dependencies; "base" is always included.
func buildManifest(spec *models.ModuleSpecification, analysis *specAnalysis) string {
	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "    \"name\": %s,\n", pyString(moduleTitle(spec)))
	fmt.Fprintf(&b, "    \"version\": %s,\n", pyString(spec.EffectiveVersion()))
	if spec.Author != "" {
		fmt.Fprintf(&b, "    \"author\": %s,\n", pyString(spec.Author))
	}
	if spec.Category != "" {
		fmt.Fprintf(&b, "    \"category\": %s,\n", pyString(spec.Category))
	}
	if spec.Summary != "" {
		fmt.Fprintf(&b, "    \"summary\": %s,\n", pyString(spec.Summary))
	}
	if spec.Description != "" {
		fmt.Fprintf(&b, "    \"description\": %s,\n", pyString(spec.Description))
	}

	depends := dependsUnion(spec, analysis)
	quoted := make([]string, 0, len(depends))
	for _, dep := range depends {
		quoted = append(quoted, pyString(dep))
	}
	fmt.Fprintf(&b, "    \"depends\": [%s],\n", strings.Join(quoted, ", "))

	b.WriteString("    \"data\": [\n")
	for i := range spec.Models {
		fmt.Fprintf(&b, "        %s,\n", pyString(viewsPath(&spec.Models[i])))
	}
	for i := range spec.Models {
		fmt.Fprintf(&b, "        %s,\n", pyString(securityPath(&spec.Models[i])))
	}
	b.WriteString("    ],\n")
	b.WriteString("    \"installable\": True,\n")
	b.WriteString("}\n")
	return b.String()
}

func moduleTitle(spec *models.ModuleSpecification) string {
	return titleize(spec.Name)
}

func dependsUnion(spec *models.ModuleSpecification, analysis *specAnalysis) []string {
	set := map[string]struct{}{"base": {}}
	for _, dep := range spec.Depends {
		if dep != "" {
			set[dep] = struct{}{}
		}
	}
	for _, owner := range analysis.externalOwners {
		if owner != "" {
			set[owner] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}
