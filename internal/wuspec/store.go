// internal/wuspec/store.go
//
// Ties the WU Spec Store's stages together (spec.md §4.4): load applies
// legacy mapping + normalize + validate; save applies normalize + validate
// + lint (+ reality check, when strict) before writing. Grounded on
// internal/artifact/frontmatter.go's parse/write pair and
// internal/config/config.go's applyDefaults -> normalize -> validate triad.

package wuspec

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/lumenflow/lumenflow/internal/invariants"
	"github.com/lumenflow/lumenflow/internal/paths"
	"gopkg.in/yaml.v3"
)

// ValidationFailure reports every violation found for one WU document.
type ValidationFailure struct {
	WUID       string
	Violations []string
}

func (f *ValidationFailure) Error() string {
	return fmt.Sprintf("wu %s: %s", f.WUID, strings.Join(f.Violations, "; "))
}

// Store reads and writes WU documents under a Layout's tasks/wu directory.
type Store struct {
	layout *paths.Layout
}

// NewStore builds a Store rooted at layout.
func NewStore(layout *paths.Layout) *Store {
	return &Store{layout: layout}
}

// Load reads and fully normalizes a single WU by id, applying legacy field
// mapping and stage-2 normalization, then validating the result.
func (s *Store) Load(id string) (WorkUnit, error) {
	data, err := os.ReadFile(s.layout.WUPath(id))
	if err != nil {
		return WorkUnit{}, fmt.Errorf("wuspec: load %s: %w", id, err)
	}
	wu, err := ParseDocument(data)
	if err != nil {
		return WorkUnit{}, fmt.Errorf("wuspec: parse %s: %w", id, err)
	}
	if errs := Validate(wu); len(errs) > 0 {
		return wu, &ValidationFailure{WUID: wu.ID, Violations: toStrings(errs)}
	}
	return wu, nil
}

// LoadAll reads every WU document under the store's WU directory, skipping
// none: a malformed document is reported by id in the returned error map
// rather than aborting the whole load.
func (s *Store) LoadAll() (map[string]WorkUnit, map[string]error) {
	out := map[string]WorkUnit{}
	failed := map[string]error{}

	entries, err := os.ReadDir(s.layout.WUDir())
	if err != nil {
		if os.IsNotExist(err) {
			return out, failed
		}
		failed["*"] = fmt.Errorf("wuspec: read wu dir: %w", err)
		return out, failed
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(ids)

	for _, id := range ids {
		wu, err := s.Load(id)
		if err != nil {
			failed[id] = err
			continue
		}
		out[wu.ID] = wu
	}
	return out, failed
}

// SaveOptions configures Save's strictness.
type SaveOptions struct {
	// Strict additionally runs the reality-check stage and rejects the write
	// if any lint, placeholder or reality-check warning is produced. Without
	// Strict, lint warnings are returned alongside a successful write for
	// the caller to surface.
	Strict bool
}

// Save normalizes, validates, and writes wu to its YAML file, returning any
// lint warnings produced. If opts.Strict is set, a non-empty warning list is
// itself treated as a failure and nothing is written.
func (s *Store) Save(wu WorkUnit, opts SaveOptions) ([]LintWarning, error) {
	normalized := wu.Clone()
	Normalize(&normalized)

	if errs := Validate(normalized); len(errs) > 0 {
		return nil, &ValidationFailure{WUID: normalized.ID, Violations: toStrings(errs)}
	}

	doc, err := invariants.Load(s.layout.InvariantsPath())
	if err != nil {
		return nil, err
	}
	warnings := LintAgainstInvariants(normalized, doc, s.layout.InvariantsScriptsDir())
	if opts.Strict {
		// Stage 5 (spec.md §4.4): verify declared code_paths/test references
		// actually exist under the checked-out root. s.layout.Root is always
		// a real working tree here (the main checkout or a Micro-Worktree
		// Transaction's ephemeral worktree), never a bare path, so this is
		// meaningful whenever Strict is requested.
		warnings = append(warnings, RealityCheck(normalized, s.layout.Root)...)
	}
	if opts.Strict && len(warnings) > 0 {
		details := make([]string, len(warnings))
		for i, w := range warnings {
			details[i] = w.String()
		}
		return warnings, &ValidationFailure{WUID: normalized.ID, Violations: details}
	}

	data, err := yaml.Marshal(normalized)
	if err != nil {
		return warnings, fmt.Errorf("wuspec: marshal %s: %w", normalized.ID, err)
	}
	if err := os.MkdirAll(s.layout.WUDir(), 0o755); err != nil {
		return warnings, fmt.Errorf("wuspec: mkdir: %w", err)
	}
	if err := os.WriteFile(s.layout.WUPath(normalized.ID), data, 0o644); err != nil {
		return warnings, fmt.Errorf("wuspec: write %s: %w", normalized.ID, err)
	}
	return warnings, nil
}

func toStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
