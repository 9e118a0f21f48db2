// internal/consistency/consistency.go
//
// Consistency Checker/Repairer (spec.md §4.7): detects the six drift codes
// in the table and auto-repairs two of them (see Run). Safety guards before
// worktree removal are grounded directly on
// internal/modes/work_cleanup's marker-gated purgeWorktreeDir, adapted from
// "purge after phase marker" to "refuse removal unless the stamp exists,
// the worktree is clean, and the cwd is not inside it."

package consistency

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/gitshell"
	"github.com/lumenflow/lumenflow/internal/indexer"
	"github.com/lumenflow/lumenflow/internal/paths"
	"github.com/lumenflow/lumenflow/internal/wuspec"
)

func newContext() context.Context { return context.Background() }

// Drift codes, matching spec.md §4.7's table exactly.
const (
	CodeYAMLDoneNoStamp        = "YAML_DONE_NO_STAMP"
	CodeStampExistsYAMLNotDone = "STAMP_EXISTS_YAML_NOT_DONE"
	CodeYAMLDoneStatusInProg   = "YAML_DONE_STATUS_IN_PROGRESS"
	CodeBacklogDualSection     = "BACKLOG_DUAL_SECTION"
	CodeOrphanWorktreeDone     = "ORPHAN_WORKTREE_DONE"
	CodeMissingWorktreeClaimed = "MISSING_WORKTREE_CLAIMED"
)

// Finding is one drift detection result.
type Finding struct {
	Code       string
	WUID       string
	Detail     string
	Repairable bool
}

// Report is the output of a single Checker.Run.
type Report struct {
	Findings []Finding
	Repaired []Finding
}

// Checker runs the six drift checks over a consistent snapshot of the
// indexer, the WU spec store, and the stamp/projection filesystem state.
type Checker struct {
	layout *paths.Layout
	git    gitshell.Git
	clock  func() time.Time
	// CWD is the process's current working directory, used by the
	// orphan-worktree safety guard. Injectable for deterministic tests.
	CWD string
}

// Option customizes a Checker.
type Option func(*Checker)

// WithClock injects a deterministic clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Checker) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New builds a Checker.
func New(layout *paths.Layout, git gitshell.Git, opts ...Option) *Checker {
	c := &Checker{layout: layout, git: git, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the six drift checks: the per-WU checks for each WU in id
// order, then the backlog.md scan. When dryRun is false it applies two
// repairs and records them in Report.Repaired: it writes the missing stamp
// for YAML_DONE_NO_STAMP and removes the worktree (and claimed branch) for
// an ORPHAN_WORKTREE_DONE that passes the safety guards.
// STAMP_EXISTS_YAML_NOT_DONE, YAML_DONE_STATUS_IN_PROGRESS and
// BACKLOG_DUAL_SECTION findings are marked Repairable, but Run only reports
// them; it changes no WU YAML, event log or backlog.md. The
// YAML_DONE_STATUS_IN_PROGRESS check compares the YAML status with the
// event-log state in idx; it does not read backlog.md.
func (c *Checker) Run(idx *indexer.Indexer, specs map[string]wuspec.WorkUnit, dryRun bool) (Report, error) {
	var report Report

	var ids []string
	for id := range specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		wu := specs[id]
		stampPath := c.layout.StampPath(id)
		_, stampErr := os.Stat(stampPath)
		stampExists := stampErr == nil

		if wu.Status == wuspec.StatusDone && !stampExists {
			f := Finding{Code: CodeYAMLDoneNoStamp, WUID: id, Detail: "status is done but no completion stamp exists", Repairable: true}
			report.Findings = append(report.Findings, f)
			if !dryRun {
				if err := os.MkdirAll(c.layout.StampsDir(), 0o755); err != nil {
					return report, fmt.Errorf("consistency: mkdir stamps: %w", err)
				}
				if err := os.WriteFile(stampPath, nil, 0o644); err != nil {
					return report, fmt.Errorf("consistency: write stamp for %s: %w", id, err)
				}
				report.Repaired = append(report.Repaired, f)
			}
		}

		if stampExists && wu.Status != wuspec.StatusDone {
			f := Finding{Code: CodeStampExistsYAMLNotDone, WUID: id, Detail: "completion stamp exists but status is not done", Repairable: true}
			report.Findings = append(report.Findings, f)
			// Reported only: Run does not rewrite the WU YAML or append
			// claim/complete events for this finding.
		}

		state, ok := idx.ByID(id)
		if wu.Status == wuspec.StatusDone && ok && state.Status == indexer.StatusInProgress {
			report.Findings = append(report.Findings, Finding{
				Code: CodeYAMLDoneStatusInProg, WUID: id,
				Detail:     "status is done but the event log still records this WU as in progress",
				Repairable: true,
			})
		}

		if wu.WorktreePath != "" {
			if wu.Status == wuspec.StatusDone {
				finding, guardErr := c.checkOrphanWorktree(id, wu, stampExists, dryRun)
				if guardErr != nil {
					return report, guardErr
				}
				if finding != nil {
					report.Findings = append(report.Findings, *finding)
					if !dryRun && finding.Repairable {
						report.Repaired = append(report.Repaired, *finding)
					}
				}
			} else if wu.Status == wuspec.StatusInProgress {
				if _, err := os.Stat(wu.WorktreePath); err != nil {
					report.Findings = append(report.Findings, Finding{
						Code: CodeMissingWorktreeClaimed, WUID: id,
						Detail:     fmt.Sprintf("claimed worktree path %q is absent on disk", wu.WorktreePath),
						Repairable: false,
					})
				}
			}
		}
	}

	report.Findings = append(report.Findings, c.checkBacklogDualSection(idx, specs)...)
	return report, nil
}

// checkOrphanWorktree applies the three safety guards from spec.md §4.7
// before reporting a done WU's worktree as removable: refuse if cwd is
// inside the worktree, refuse if the worktree has uncommitted changes,
// refuse if the stamp is missing (treated as "mid-rollback").
func (c *Checker) checkOrphanWorktree(id string, wu wuspec.WorkUnit, stampExists bool, dryRun bool) (*Finding, error) {
	if !stampExists {
		return &Finding{Code: CodeOrphanWorktreeDone, WUID: id, Detail: "worktree present but stamp missing; treating as mid-rollback, refusing removal", Repairable: false}, nil
	}
	if c.CWD != "" && strings.HasPrefix(c.CWD, wu.WorktreePath) {
		return &Finding{Code: CodeOrphanWorktreeDone, WUID: id, Detail: "refusing removal: current working directory is inside the worktree", Repairable: false}, nil
	}

	ctx := newContext()
	clean, err := c.git.IsClean(ctx, wu.WorktreePath)
	if err != nil {
		return &Finding{Code: CodeOrphanWorktreeDone, WUID: id, Detail: fmt.Sprintf("unable to check worktree cleanliness: %v", err), Repairable: false}, nil
	}
	if !clean {
		return &Finding{Code: CodeOrphanWorktreeDone, WUID: id, Detail: "refusing removal: worktree has uncommitted changes", Repairable: false}, nil
	}

	finding := &Finding{Code: CodeOrphanWorktreeDone, WUID: id, Detail: "done WU still has a worktree; removing", Repairable: true}
	if !dryRun {
		if err := c.git.RemoveWorktree(ctx, "", wu.WorktreePath, false); err != nil {
			return &Finding{Code: CodeOrphanWorktreeDone, WUID: id, Detail: fmt.Sprintf("removal failed: %v", err), Repairable: false}, nil
		}
		if wu.ClaimedBranch != "" {
			_ = c.git.DeleteBranch(ctx, "", wu.ClaimedBranch, false)
		}
	}
	return finding, nil
}

// backlogEntryPattern matches a rendered backlog line of the form
// "- `WU-1` Title (lane: Ops)", capturing the WU id. Grounded on
// projection.go's own `"- `%s` %s (lane: %s)\n"` format string.
var backlogEntryPattern = regexp.MustCompile("^- `([^`]+)`")

// checkBacklogDualSection detects the BACKLOG_DUAL_SECTION drift: the
// rendered tasks/backlog.md file (written by the Projection Generator)
// lists the same WU id under more than one "## " heading. This is a property
// of the markdown text itself, not of indexer state: idx.ByStatus buckets
// are mutually exclusive by construction (setStatus/transition always
// remove an id from every other status bucket before adding it to the new
// one), so a given id can never appear in two indexer status sets at once.
// The actual drift arises when backlog.md goes stale relative to the specs
// it was generated from — e.g. a hand edit, or a partial regeneration — and
// ends up listing one id twice.
func (c *Checker) checkBacklogDualSection(idx *indexer.Indexer, specs map[string]wuspec.WorkUnit) []Finding {
	data, err := os.ReadFile(c.layout.BacklogPath())
	if err != nil {
		return nil
	}

	headingsByID := map[string][]string{}
	currentHeading := ""
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			currentHeading = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			continue
		}
		m := backlogEntryPattern.FindStringSubmatch(line)
		if m == nil || currentHeading == "" {
			continue
		}
		id := m[1]
		if len(headingsByID[id]) == 0 || headingsByID[id][len(headingsByID[id])-1] != currentHeading {
			headingsByID[id] = append(headingsByID[id], currentHeading)
		}
	}

	var ids []string
	for id := range headingsByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var findings []Finding
	for _, id := range ids {
		headings := headingsByID[id]
		if len(headings) < 2 {
			continue
		}
		findings = append(findings, Finding{
			Code: CodeBacklogDualSection, WUID: id,
			Detail:     fmt.Sprintf("tasks/backlog.md lists this WU under more than one section: %s", strings.Join(headings, ", ")),
			Repairable: true,
		})
	}
	return findings
}
