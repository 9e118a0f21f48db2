// internal/wuspec/lint.go
//
// Stages 3-5 of the WU Spec Store's pipeline (spec.md §4.4): spec-lint
// (cross-field consistency beyond the schema), placeholder detection, and an
// optional reality check against the filesystem. Each stage returns
// warnings rather than hard failures except where noted, mirroring
// internal/contracts/validator.go's collect-everything style.

package wuspec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lumenflow/lumenflow/internal/invariants"
)

// LintWarning is a non-fatal spec-lint or placeholder finding.
type LintWarning struct {
	WUID string
	Rule string
	Detail string
}

func (w LintWarning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.WUID, w.Rule, w.Detail)
}

// placeholderMarkers are substrings whose presence in free-text fields
// indicates a document that was never filled in.
var placeholderMarkers = []string{"TODO", "FIXME", "TBD", "<placeholder>", "XXX"}

// Lint runs the spec-lint and placeholder-check stages against wu, returning
// every warning found.
func Lint(wu WorkUnit) []LintWarning {
	var warnings []LintWarning
	warn := func(rule, detail string) {
		warnings = append(warnings, LintWarning{WUID: wu.ID, Rule: rule, Detail: detail})
	}

	if len(wu.Acceptance) > 0 && len(wu.CodePaths) == 0 {
		warn("acceptance-coverage", "acceptance criteria are listed but no code_paths are declared")
	}

	seen := map[string]bool{}
	for _, p := range wu.CodePaths {
		if seen[p] {
			warn("code-paths-collision", fmt.Sprintf("code_paths lists %q more than once", p))
		}
		seen[p] = true
	}

	if wu.Type == TypeFeature && wu.Exposure == "" {
		warn("feature-exposure", "feature-type WUs should declare an exposure")
	}

	for _, field := range placeholderFields(wu) {
		for _, marker := range placeholderMarkers {
			if strings.Contains(strings.ToUpper(field.value), marker) {
				warn("placeholder", fmt.Sprintf("%s contains placeholder marker %q", field.name, marker))
			}
		}
	}

	return warnings
}

// LintAgainstInvariants runs Lint plus the cross-cutting checks declared in
// tools/invariants.yml: reserved code_paths collisions, per-type spec_refs
// requirements, and any yaegi-backed predicates a rule names.
func LintAgainstInvariants(wu WorkUnit, doc invariants.Document, scriptsDir string) []LintWarning {
	warnings := Lint(wu)

	subject := invariants.Subject{ID: wu.ID, Type: string(wu.Type), CodePaths: wu.CodePaths, SpecRefs: wu.SpecRefs}
	for _, v := range invariants.CheckStatic(doc, subject) {
		warnings = append(warnings, LintWarning{WUID: wu.ID, Rule: v.Rule, Detail: v.Detail})
	}
	for _, rule := range doc.Rules {
		if rule.Predicate == "" {
			continue
		}
		if err := invariants.RunPredicate(scriptsDir, rule, subject); err != nil {
			warnings = append(warnings, LintWarning{WUID: wu.ID, Rule: rule.Name, Detail: err.Error()})
		}
	}
	return warnings
}

type namedField struct {
	name  string
	value string
}

func placeholderFields(wu WorkUnit) []namedField {
	fields := []namedField{
		{"title", wu.Title},
		{"description", wu.Description},
		{"notes", wu.Notes},
	}
	for i, a := range wu.Acceptance {
		fields = append(fields, namedField{fmt.Sprintf("acceptance[%d]", i), a})
	}
	return fields
}

// RealityCheck verifies that wu's declared code_paths and test references
// exist beneath root. This stage is optional (spec.md §4.4: "can be skipped
// in environments without the working tree checked out") and is never run
// as part of Validate/Lint automatically.
func RealityCheck(wu WorkUnit, root string) []LintWarning {
	var warnings []LintWarning
	check := func(rule, rel string) {
		if rel == "" {
			return
		}
		full := filepath.Join(root, rel)
		if _, err := os.Stat(full); err != nil {
			warnings = append(warnings, LintWarning{WUID: wu.ID, Rule: rule, Detail: fmt.Sprintf("%s does not exist on disk", rel)})
		}
	}
	for _, p := range wu.CodePaths {
		check("code-path-missing", p)
	}
	for _, p := range wu.Tests.Unit {
		check("test-path-missing", p)
	}
	for _, p := range wu.Tests.E2E {
		check("test-path-missing", p)
	}
	return warnings
}
