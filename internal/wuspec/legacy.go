// internal/wuspec/legacy.go
//
// Reads of legacy WU documents remap old field names to current ones
// (spec.md §4.4): summary -> description, string-valued risks -> [risk],
// test_paths -> tests. Unmarshals into a superset document so both old and
// new spellings are accepted, then folds legacy-only fields onto the
// current WorkUnit when the current field is empty.

package wuspec

import (
	"errors"

	"gopkg.in/yaml.v3"
)

// legacyDoc is a superset of WorkUnit's YAML shape carrying the legacy
// field spellings alongside the current ones.
type legacyDoc struct {
	WorkUnit `yaml:",inline"`

	// Legacy spellings.
	Summary   string       `yaml:"summary,omitempty"`
	TestPaths *legacyTests `yaml:"test_paths,omitempty"`
}

type legacyTests struct {
	Manual []string `yaml:"manual,omitempty"`
	Unit   []string `yaml:"unit,omitempty"`
	E2E    []string `yaml:"e2e,omitempty"`
}

// ParseDocument unmarshals raw YAML into a current-shape WorkUnit, applying
// legacy field mapping when the modern field is absent.
func ParseDocument(data []byte) (WorkUnit, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return WorkUnit{}, err
	}
	var doc legacyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// A scalar `risks` cannot decode into the list field; yaml.v3 still
		// decodes every other field and reports that one mismatch as a
		// *yaml.TypeError. The scalar is mapped onto Risks below.
		var typeErr *yaml.TypeError
		risksNode, hasRisks := raw["risks"]
		if !hasRisks || risksNode.Kind != yaml.ScalarNode || !errors.As(err, &typeErr) || len(typeErr.Errors) != 1 {
			return WorkUnit{}, err
		}
	}
	wu := doc.WorkUnit

	if wu.Description == "" && doc.Summary != "" {
		wu.Description = doc.Summary
	}

	if risksNode, ok := raw["risks"]; ok {
		if risksNode.Kind == yaml.ScalarNode {
			var single string
			if err := risksNode.Decode(&single); err == nil && single != "" {
				wu.Risks = []string{single}
			}
		}
	}

	if doc.TestPaths != nil {
		if len(wu.Tests.Manual) == 0 {
			wu.Tests.Manual = doc.TestPaths.Manual
		}
		if len(wu.Tests.Unit) == 0 {
			wu.Tests.Unit = doc.TestPaths.Unit
		}
		if len(wu.Tests.E2E) == 0 {
			wu.Tests.E2E = doc.TestPaths.E2E
		}
	}

	// Legacy status alphabet: unclaimed variants collapse to ready, terminal
	// variants collapse to done (spec.md's invariant "modulo statuses
	// outside the store's alphabet").
	wu.Status = normalizeLegacyStatus(wu.Status)

	Normalize(&wu)
	return wu, nil
}

func normalizeLegacyStatus(status Status) Status {
	switch status {
	case StatusReady, StatusInProgress, StatusBlocked, StatusDone:
		return status
	case "", "unclaimed", "backlog", "open", "todo":
		return StatusReady
	case "completed", "closed", "finished", "shipped":
		return StatusDone
	default:
		return status
	}
}
