// internal/invariants/predicate.go
//
// Optional yaegi-backed predicate extension, grounded directly on
// plugins/go_loader.go's LoadGoDefinitionDir/loadGoDefinitionFile. Where the
// teacher's loader extracts a ModuleDefinitions() []map[string]any function,
// this extracts a Check(wu map[string]any) error function from a single
// named file, invoked once per rule that declares a Predicate.

package invariants

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const checkFuncName = "Check"

// RunPredicate interprets the .go file named by rule.Predicate (resolved
// relative to scriptsDir) and invokes its Check(wu map[string]any) error
// function against subject's fields.
func RunPredicate(scriptsDir string, rule Rule, subject Subject) error {
	if strings.TrimSpace(rule.Predicate) == "" {
		return nil
	}
	path := filepath.Join(scriptsDir, rule.Predicate)
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("invariants: read predicate %s: %w", path, err)
	}
	if strings.TrimSpace(string(code)) == "" {
		return fmt.Errorf("invariants: predicate %s is empty", path)
	}

	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)
	if _, err := i.EvalPath(path); err != nil {
		return fmt.Errorf("invariants: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(checkFuncName)
	if err != nil {
		return fmt.Errorf("invariants: %s must define %s(wu map[string]any) error: %w", path, checkFuncName, err)
	}
	return invokeCheck(fnValue, subjectToMap(subject))
}

func subjectToMap(subject Subject) map[string]any {
	return map[string]any{
		"id":         subject.ID,
		"type":       subject.Type,
		"code_paths": append([]string{}, subject.CodePaths...),
		"spec_refs":  append([]string{}, subject.SpecRefs...),
	}
}

func invokeCheck(value reflect.Value, wu map[string]any) error {
	if !value.IsValid() {
		return fmt.Errorf("missing %s function", checkFuncName)
	}
	fn := value
	if fn.Kind() != reflect.Func {
		return fmt.Errorf("%s is not a function", checkFuncName)
	}
	args := []reflect.Value{reflect.ValueOf(wu)}
	results := fn.Call(args)
	if len(results) != 1 {
		return fmt.Errorf("%s must return a single error value", checkFuncName)
	}
	if results[0].IsNil() {
		return nil
	}
	e, ok := results[0].Interface().(error)
	if !ok {
		return fmt.Errorf("%s returned a non-error value", checkFuncName)
	}
	return e
}
