// internal/paths/paths.go
//
// Defines the persisted state layout for a LumenFlow-managed repository.
// Every other package reaches the filesystem through a *Layout built here
// rather than joining path fragments itself.

package paths

import (
	"path/filepath"
	"strings"
)

// Directory names rooted at the configured root.
const (
	TasksDir       = "tasks"
	WUDir          = "wu"
	InitiativesDir = "initiatives"
	StateDir       = "state"
	LocksDir       = "locks"
	StampsDir      = "stamps"
	ToolsDir       = "tools"
)

// File names within the directories above.
const (
	FileBacklog     = "backlog.md"
	FileStatus      = "status.md"
	FileEventLog    = "wu-events.jsonl"
	FileInvariants  = "invariants.yml"
	eventLogLockKey = "eventlog"
)

// Layout resolves every well-known LumenFlow path relative to Root.
type Layout struct {
	// Root is the repository-relative (or absolute) directory that contains
	// tasks/, state/, stamps/ and tools/. Callers configure it; LumenFlow
	// never assumes a fixed name the way the teacher's ".lattice" did.
	Root string
}

// New builds a Layout rooted at root.
func New(root string) *Layout {
	return &Layout{Root: root}
}

// TasksDir returns the directory holding WU specs and projections.
func (l *Layout) TasksDir() string {
	return filepath.Join(l.Root, TasksDir)
}

// WUDir returns the directory holding per-WU YAML files.
func (l *Layout) WUDir() string {
	return filepath.Join(l.TasksDir(), WUDir)
}

// WUPath returns the path to a single WU's YAML spec.
func (l *Layout) WUPath(id string) string {
	return filepath.Join(l.WUDir(), id+".yaml")
}

// BacklogPath returns the path to the backlog projection.
func (l *Layout) BacklogPath() string {
	return filepath.Join(l.TasksDir(), FileBacklog)
}

// StatusPath returns the path to the status projection.
func (l *Layout) StatusPath() string {
	return filepath.Join(l.TasksDir(), FileStatus)
}

// InitiativesDir returns the directory holding per-initiative YAML files.
func (l *Layout) InitiativesDir() string {
	return filepath.Join(l.TasksDir(), InitiativesDir)
}

// StateDir returns the directory holding the event log and lock files.
func (l *Layout) StateDir() string {
	return filepath.Join(l.Root, StateDir)
}

// EventLogPath returns the path to the append-only event log.
func (l *Layout) EventLogPath() string {
	return filepath.Join(l.StateDir(), FileEventLog)
}

// LocksDir returns the directory holding lane and resource lock files.
func (l *Layout) LocksDir() string {
	return filepath.Join(l.StateDir(), LocksDir)
}

// LockPath returns the lock file path for a given lane.
func (l *Layout) LockPath(lane string) string {
	return filepath.Join(l.LocksDir(), Kebab(lane)+".lock")
}

// EventLogLockPath returns the lock file path guarding event log appends
// made outside a Micro-Worktree Transaction.
func (l *Layout) EventLogLockPath() string {
	return filepath.Join(l.LocksDir(), eventLogLockKey+".lock")
}

// IDSequenceLockPath returns the short-lived lock guarding sequential ID
// generation during `create`.
func (l *Layout) IDSequenceLockPath() string {
	return filepath.Join(l.LocksDir(), "id-sequence.lock")
}

// StampsDir returns the directory holding completion stamp files.
func (l *Layout) StampsDir() string {
	return filepath.Join(l.Root, StampsDir)
}

// StampPath returns the stamp file path for a WU id.
func (l *Layout) StampPath(id string) string {
	return filepath.Join(l.StampsDir(), id+".done")
}

// ToolsDir returns the directory holding declarative tooling config.
func (l *Layout) ToolsDir() string {
	return filepath.Join(l.Root, ToolsDir)
}

// InvariantsPath returns the path to the cross-cutting invariants file.
func (l *Layout) InvariantsPath() string {
	return filepath.Join(l.ToolsDir(), FileInvariants)
}

// InvariantsScriptsDir returns the directory holding optional yaegi-backed
// predicate extensions referenced from invariants.yml.
func (l *Layout) InvariantsScriptsDir() string {
	return filepath.Join(l.ToolsDir(), "invariants")
}

// LogsDir returns the directory holding LumenFlow's own append-only
// operation log (distinct from wu-events.jsonl, which is the event-sourced
// record; this is free-text operator-facing diagnostics).
func (l *Layout) LogsDir() string {
	return filepath.Join(l.StateDir(), "logs")
}

// LogPath returns the path to the operation log file.
func (l *Layout) LogPath() string {
	return filepath.Join(l.LogsDir(), "lumenflow.log")
}

// WorktreesDir returns the root directory under which ephemeral
// micro-worktrees and claim worktrees are materialized. It is deliberately
// outside Root's tree so it is never itself tracked by the shared branch.
func (l *Layout) WorktreesDir(base string) string {
	return filepath.Join(base, "lumenflow-worktrees")
}

// Dirs returns every directory that must exist for a freshly initialized
// LumenFlow project.
func (l *Layout) Dirs() []string {
	return []string{
		l.WUDir(),
		l.InitiativesDir(),
		l.StateDir(),
		l.LocksDir(),
		l.StampsDir(),
		l.ToolsDir(),
	}
}

// Kebab lowercases a lane name and replaces runs of whitespace, colons and
// slashes with single hyphens, matching the branch-naming scheme of §6
// (`lane/<kebab(lane)>/<lowercase(id)>`).
func Kebab(value string) string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		switch r {
		case ' ', ':', '/', '_':
			return true
		default:
			return false
		}
	})
	return strings.ToLower(strings.Join(fields, "-"))
}
