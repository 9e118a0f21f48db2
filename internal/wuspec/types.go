// internal/wuspec/types.go
//
// WorkUnit type (spec.md §3) with yaml tags mirroring every named field.
// Method triad (Clone/Validate/Normalized) grounded on
// internal/workflow/definition.go's DependencyGraph/WorkflowDefinition
// shape.

package wuspec

import "time"

// Status is a WU's lifecycle state (spec.md §4.6 state machine).
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Type enumerates the kinds of work a WU can represent.
type Type string

const (
	TypeFeature       Type = "feature"
	TypeBug           Type = "bug"
	TypeRefactor      Type = "refactor"
	TypeTooling       Type = "tooling"
	TypeDocumentation Type = "documentation"
	TypeProcess       Type = "process"
)

// Exposure enumerates how visible a WU's output is.
type Exposure string

const (
	ExposureUI             Exposure = "ui"
	ExposureAPI            Exposure = "api"
	ExposureBackendOnly    Exposure = "backend-only"
	ExposureDocumentation  Exposure = "documentation"
)

// ClaimedMode enumerates how a claimed WU isolates its writes.
type ClaimedMode string

const (
	ClaimedModeWorktree ClaimedMode = "worktree"
	ClaimedModeBranchPR ClaimedMode = "branch-pr"
)

// Tests groups a WU's test references.
type Tests struct {
	Manual []string `yaml:"manual,omitempty"`
	Unit   []string `yaml:"unit,omitempty"`
	E2E    []string `yaml:"e2e,omitempty"`
}

func (t Tests) clone() Tests {
	return Tests{
		Manual: append([]string{}, t.Manual...),
		Unit:   append([]string{}, t.Unit...),
		E2E:    append([]string{}, t.E2E...),
	}
}

// WorkUnit mirrors every field named in spec.md §3.
type WorkUnit struct {
	ID            string      `yaml:"id"`
	Title         string      `yaml:"title"`
	Lane          string      `yaml:"lane"`
	Type          Type        `yaml:"type"`
	Priority      string      `yaml:"priority"`
	Status        Status      `yaml:"status"`
	Created       string      `yaml:"created"`
	Exposure      Exposure    `yaml:"exposure"`
	Description   string      `yaml:"description"`
	Acceptance    []string    `yaml:"acceptance,omitempty"`
	CodePaths     []string    `yaml:"code_paths,omitempty"`
	Tests         Tests       `yaml:"tests"`
	Dependencies  []string    `yaml:"dependencies,omitempty"`
	BlockedBy     []string    `yaml:"blocked_by,omitempty"`
	Blocks        []string    `yaml:"blocks,omitempty"`
	Labels        []string    `yaml:"labels,omitempty"`
	AssignedTo    string      `yaml:"assigned_to,omitempty"`
	Initiative    string      `yaml:"initiative,omitempty"`
	Phase         int         `yaml:"phase,omitempty"`
	SpecRefs      []string    `yaml:"spec_refs,omitempty"`
	Notes         string      `yaml:"notes,omitempty"`
	Risks         []string    `yaml:"risks,omitempty"`
	WorktreePath  string      `yaml:"worktree_path,omitempty"`
	ClaimedMode   ClaimedMode `yaml:"claimed_mode,omitempty"`
	ClaimedBranch string      `yaml:"claimed_branch,omitempty"`
	CompletedAt   *time.Time  `yaml:"completed_at,omitempty"`
	Locked        bool        `yaml:"locked,omitempty"`
}

// Clone returns a deep copy so callers never share slice/pointer backing
// arrays across mutation boundaries (definition.go's Clone idiom).
func (w WorkUnit) Clone() WorkUnit {
	out := w
	out.Acceptance = append([]string{}, w.Acceptance...)
	out.CodePaths = append([]string{}, w.CodePaths...)
	out.Tests = w.Tests.clone()
	out.Dependencies = append([]string{}, w.Dependencies...)
	out.BlockedBy = append([]string{}, w.BlockedBy...)
	out.Blocks = append([]string{}, w.Blocks...)
	out.Labels = append([]string{}, w.Labels...)
	out.SpecRefs = append([]string{}, w.SpecRefs...)
	out.Risks = append([]string{}, w.Risks...)
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
