package invariants

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("expected missing invariants file to be a no-op, got %v", err)
	}
	if len(doc.Rules) != 0 {
		t.Fatalf("expected no rules, got %v", doc.Rules)
	}
}

func TestCheckStaticFlagsReservedPathCollision(t *testing.T) {
	doc := Document{Rules: []Rule{{
		Name:          "generated-code",
		ReservedPaths: []string{"internal/generated/client.go"},
	}}}
	subject := Subject{ID: "WU-1", CodePaths: []string{"internal/generated/client.go"}}
	violations := CheckStatic(doc, subject)
	if len(violations) != 1 {
		t.Fatalf("expected one violation, got %v", violations)
	}
}

func TestCheckStaticRequiresSpecRefForDeclaredTypes(t *testing.T) {
	doc := Document{Rules: []Rule{{
		Name:                   "feature-needs-spec",
		RequireSpecRefForTypes: []string{"feature"},
	}}}
	subject := Subject{ID: "WU-1", Type: "feature"}
	violations := CheckStatic(doc, subject)
	if len(violations) != 1 {
		t.Fatalf("expected one violation for missing spec_refs, got %v", violations)
	}

	subject.SpecRefs = []string{"spec.md#3"}
	if violations := CheckStatic(doc, subject); len(violations) != 0 {
		t.Fatalf("expected no violations once spec_refs is present, got %v", violations)
	}
}

func TestRunPredicateInterpretsGoFile(t *testing.T) {
	dir := t.TempDir()
	script := `package main

import "fmt"

func Check(wu map[string]any) error {
	id, _ := wu["id"].(string)
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}
`
	if err := os.WriteFile(filepath.Join(dir, "nonempty_id.go"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	rule := Rule{Name: "nonempty-id", Predicate: "nonempty_id.go"}

	if err := RunPredicate(dir, rule, Subject{ID: "WU-1"}); err != nil {
		t.Fatalf("expected predicate to pass for a non-empty id: %v", err)
	}
	if err := RunPredicate(dir, rule, Subject{ID: ""}); err == nil {
		t.Fatal("expected predicate to fail for an empty id")
	}
}

func TestRunPredicateNoOpsWithoutDeclaration(t *testing.T) {
	if err := RunPredicate(t.TempDir(), Rule{Name: "no-predicate"}, Subject{}); err != nil {
		t.Fatalf("expected no-op when no predicate is declared, got %v", err)
	}
}
