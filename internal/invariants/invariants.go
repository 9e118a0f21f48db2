// internal/invariants/invariants.go
//
// Declarative cross-cutting invariants consumed by the WU Spec Store's
// spec-lint stage (spec.md §4.4, §6 `tools/invariants.yml`). A rule declares
// either a static code_paths collision set or, optionally, names a yaegi-
// interpreted `.go` predicate file under tools/invariants/ for checks no
// YAML shape can express — the same extension mechanism as
// plugins/go_loader.go's ModuleDefinitions(), retargeted to a
// Check(wu) error entry point.

package invariants

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule is one declarative entry in tools/invariants.yml.
type Rule struct {
	Name string `yaml:"name"`
	// ReservedPaths lists code_paths values no WU may claim (e.g. paths owned
	// by generated code or another subsystem's exclusive territory).
	ReservedPaths []string `yaml:"reserved_paths,omitempty"`
	// RequireSpecRefForTypes lists WU types that must carry at least one
	// spec_refs entry, generalizing the feature-type rule spec.md states
	// directly into a configurable list.
	RequireSpecRefForTypes []string `yaml:"require_spec_ref_for_types,omitempty"`
	// Predicate optionally names a .go file under tools/invariants/ whose
	// Check(wu) error function is interpreted and invoked for this rule.
	Predicate string `yaml:"predicate,omitempty"`
}

// Document is the parsed shape of tools/invariants.yml.
type Document struct {
	Rules []Rule `yaml:"rules"`
}

// Load reads and parses the invariants document at path. A missing file is
// not an error: invariants are optional.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("invariants: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("invariants: parse %s: %w", path, err)
	}
	return doc, nil
}

// Subject is the minimal view of a WU that static rule checks need, kept
// independent of internal/wuspec to avoid an import cycle (wuspec's lint
// stage is the caller).
type Subject struct {
	ID        string
	Type      string
	CodePaths []string
	SpecRefs  []string
}

// Violation is one invariant failure.
type Violation struct {
	Rule   string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}

// CheckStatic evaluates every rule's static (non-predicate) conditions
// against subject.
func CheckStatic(doc Document, subject Subject) []Violation {
	var out []Violation
	for _, rule := range doc.Rules {
		reserved := map[string]bool{}
		for _, p := range rule.ReservedPaths {
			reserved[p] = true
		}
		for _, p := range subject.CodePaths {
			if reserved[p] {
				out = append(out, Violation{Rule: rule.Name, Detail: fmt.Sprintf("code_paths entry %q collides with a reserved path", p)})
			}
		}
		for _, t := range rule.RequireSpecRefForTypes {
			if t == subject.Type && len(subject.SpecRefs) == 0 {
				out = append(out, Violation{Rule: rule.Name, Detail: fmt.Sprintf("type %q requires at least one spec_refs entry", t)})
			}
		}
	}
	return out
}
