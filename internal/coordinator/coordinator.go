// internal/coordinator/coordinator.go
//
// Lifecycle Coordinator (spec.md §4.6): the only place every verb that
// mutates a WU is allowed to run. Composes the Event Log, State Indexer,
// Lane Lock Manager, WU Spec Store, Micro-Worktree Transactor, Projection
// Generator, and Initiative Store, grounded on
// internal/workflow/engine/engine.go's Engine{registry,repo,clock} and its
// Start/Resume/Update "load current -> recompute -> persist -> return"
// shape, plus internal/workflow/engine/claims.go's Claim method for the
// lane-lock-then-persist flow. ID generation is grounded on
// internal/orchestrator/roster.go's scan-then-retry idiom, adapted from
// roster selection to sequential WU id assignment.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/eventlog"
	"github.com/lumenflow/lumenflow/internal/indexer"
	"github.com/lumenflow/lumenflow/internal/initiative"
	"github.com/lumenflow/lumenflow/internal/lanelock"
	"github.com/lumenflow/lumenflow/internal/lockfile"
	"github.com/lumenflow/lumenflow/internal/logging"
	"github.com/lumenflow/lumenflow/internal/microwt"
	"github.com/lumenflow/lumenflow/internal/paths"
	"github.com/lumenflow/lumenflow/internal/projection"
	"github.com/lumenflow/lumenflow/internal/retry"
	"github.com/lumenflow/lumenflow/internal/signalbus"
	"github.com/lumenflow/lumenflow/internal/wuerr"
	"github.com/lumenflow/lumenflow/internal/wuspec"
)

// maxIDGenerationAttempts bounds the create verb's scan-and-retry loop when
// auto-assigning the next sequential id (spec.md §4.6 "bounded retries").
const maxIDGenerationAttempts = 5

// idSequenceStaleTimeout is the short-lived lock window for the id-sequence
// scan, distinct from the lane lock's 24h cross-host window.
const idSequenceStaleTimeout = 30 * time.Second

// Coordinator is the single owner of every WU state transition.
type Coordinator struct {
	layout           *paths.Layout
	transactor       *microwt.Transactor
	lanes            *lanelock.Manager
	clock            func() time.Time
	repoDir          string
	sharedBranch     string
	mergeRetryPolicy retry.Policy
	logger           *logging.Logger
	signals          signalbus.Emitter
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock injects a deterministic clock, for reproducible tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMergeRetryPolicy overrides the default retry.CompletePreset used by the
// complete verb's lane-branch merge, mirroring microwt.WithRetryPolicy.
func WithMergeRetryPolicy(p retry.Policy) Option {
	return func(c *Coordinator) { c.mergeRetryPolicy = p }
}

// WithLogger attaches the ambient logger used to surface warnings (e.g. a
// forced stale-lock takeover during claim) that have no other caller to
// report to. A nil logger is safe to leave unset; logging.Logger's methods
// no-op on a nil receiver.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithSignalEmitter overrides the memory-bus adapter the complete verb calls
// at the end of its transaction (spec.md §4.6 "emit automatic completion
// signals on the memory bus"). Defaults to signalbus.Noop.
func WithSignalEmitter(emitter signalbus.Emitter) Option {
	return func(c *Coordinator) {
		if emitter != nil {
			c.signals = emitter
		}
	}
}

// New builds a Coordinator rooted at the main checkout repoDir, serializing
// writes onto sharedBranch through transactor.
func New(layout *paths.Layout, transactor *microwt.Transactor, lanes *lanelock.Manager, repoDir, sharedBranch string, opts ...Option) *Coordinator {
	c := &Coordinator{
		layout:           layout,
		transactor:       transactor,
		lanes:            lanes,
		clock:            time.Now,
		repoDir:          repoDir,
		sharedBranch:     sharedBranch,
		mergeRetryPolicy: retry.CompletePreset,
		signals:          signalbus.Noop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// snapshot folds the main checkout's event log and reads every WU document,
// matching engine.go's buildState: always rebuilt from the persisted source,
// never carried as mutable coordinator state.
func (c *Coordinator) snapshot() (*indexer.Indexer, map[string]wuspec.WorkUnit, error) {
	logStore := eventlog.New(c.layout.EventLogPath(), c.layout.EventLogLockPath(), "coordinator")
	events, err := logStore.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: load event log: %w", err)
	}
	idx := indexer.New()
	if err := idx.Load(events); err != nil {
		return nil, nil, fmt.Errorf("coordinator: fold event log: %w", err)
	}
	specs, failed := wuspec.NewStore(c.layout).LoadAll()
	if len(failed) > 0 {
		var ids []string
		for id := range failed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return idx, specs, fmt.Errorf("coordinator: %d WU document(s) failed to load: %s", len(failed), strings.Join(ids, ", "))
	}
	return idx, specs, nil
}

// persistAndProject writes wu, appends ev, and regenerates both projection
// documents, all within the caller's micro-worktree. It is the common tail
// of every verb's transaction body that appends an event (claim, release,
// block, unblock, complete). create appends no event (spec.md §4.6/scenario
// S1: "event log unchanged (no event on create unless configured)") and
// uses regenerateProjections directly instead.
func (c *Coordinator) persistAndProject(wtLayout *paths.Layout, wu wuspec.WorkUnit, ev eventlog.Event, commitMessage string) (microwt.Result, error) {
	store := wuspec.NewStore(wtLayout)
	if _, err := store.Save(wu, wuspec.SaveOptions{}); err != nil {
		return microwt.Result{}, err
	}

	logStore := eventlog.New(wtLayout.EventLogPath(), wtLayout.EventLogLockPath(), wu.ID)
	if err := logStore.AppendUnlocked(ev); err != nil {
		return microwt.Result{}, fmt.Errorf("coordinator: append event: %w", err)
	}

	if err := regenerateProjections(wtLayout); err != nil {
		return microwt.Result{}, err
	}

	return microwt.Result{
		CommitMessage: commitMessage,
		Files:         []string{wtLayout.WUPath(wu.ID), wtLayout.EventLogPath(), wtLayout.BacklogPath(), wtLayout.StatusPath()},
	}, nil
}

// regenerateProjections folds wtLayout's event log and reads every WU
// document, then rewrites backlog.md/status.md from the result.
func regenerateProjections(wtLayout *paths.Layout) error {
	logStore := eventlog.New(wtLayout.EventLogPath(), wtLayout.EventLogLockPath(), "coordinator")
	events, err := logStore.Load()
	if err != nil {
		return fmt.Errorf("coordinator: reload event log: %w", err)
	}
	idx := indexer.New()
	if err := idx.Load(events); err != nil {
		return fmt.Errorf("coordinator: fold event log: %w", err)
	}
	specs, failed := wuspec.NewStore(wtLayout).LoadAll()
	if len(failed) > 0 {
		var ids []string
		for id := range failed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return fmt.Errorf("coordinator: %d WU document(s) failed to load while projecting: %s", len(failed), strings.Join(ids, ", "))
	}

	backlog, status, err := projection.Generate(idx, specs)
	if err != nil {
		return fmt.Errorf("coordinator: generate projections: %w", err)
	}
	if err := os.MkdirAll(wtLayout.TasksDir(), 0o755); err != nil {
		return fmt.Errorf("coordinator: mkdir tasks dir: %w", err)
	}
	if err := os.WriteFile(wtLayout.BacklogPath(), backlog, 0o644); err != nil {
		return fmt.Errorf("coordinator: write backlog: %w", err)
	}
	if err := os.WriteFile(wtLayout.StatusPath(), status, 0o644); err != nil {
		return fmt.Errorf("coordinator: write status: %w", err)
	}
	return nil
}

// CreateInput carries the caller-supplied fields for the create verb; ID is
// optional (auto-generated under lock when empty).
type CreateInput struct {
	ID           string
	Lane         string
	Title        string
	Priority     string
	Type         wuspec.Type
	Exposure     wuspec.Exposure
	Description  string
	Acceptance   []string
	CodePaths    []string
	Tests        wuspec.Tests
	Dependencies []string
	BlockedBy    []string
	Blocks       []string
	Labels       []string
	SpecRefs     []string
	Initiative   string
	Phase        int
	Notes        string
	Risks        []string
	// Strict adds the reality-check stage and rejects the write if spec-lint,
	// the placeholder check or the reality check produces a warning.
	Strict bool
}

// Create generates (or validates the caller's) id, runs the full validation
// pipeline, and writes the WU under a Micro-Worktree Transaction (spec.md
// §4.6 "create").
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (wuspec.WorkUnit, error) {
	if in.Lane == "" || in.Title == "" {
		return wuspec.WorkUnit{}, &wuerr.ValidationError{WUID: in.ID, Violations: []string{"lane and title are required"}}
	}

	explicit := in.ID != ""
	attempts := maxIDGenerationAttempts
	if explicit {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		id := in.ID
		if !explicit {
			var err error
			id, err = c.reserveNextID()
			if err != nil {
				return wuspec.WorkUnit{}, err
			}
		}
		if _, err := os.Stat(c.layout.WUPath(id)); err == nil {
			if explicit {
				return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: "a WU with this id already exists"}
			}
			lastErr = &wuerr.PreconditionError{WUID: id, Reason: "generated id collided with an existing WU; rescanning"}
			continue
		}

		wu := wuspec.WorkUnit{
			ID:           id,
			Title:        in.Title,
			Lane:         in.Lane,
			Type:         in.Type,
			Priority:     in.Priority,
			Status:       wuspec.StatusReady,
			Created:      c.clock().UTC().Format(time.RFC3339),
			Exposure:     in.Exposure,
			Description:  in.Description,
			Acceptance:   in.Acceptance,
			CodePaths:    in.CodePaths,
			Tests:        in.Tests,
			Dependencies: in.Dependencies,
			BlockedBy:    in.BlockedBy,
			Blocks:       in.Blocks,
			Labels:       in.Labels,
			Initiative:   in.Initiative,
			Phase:        in.Phase,
			SpecRefs:     in.SpecRefs,
			Notes:        in.Notes,
			Risks:        in.Risks,
		}

		txErr := c.transactor.WithMicroWorktree(ctx, "create", id, func(ctx context.Context, worktreePath string) (microwt.Result, error) {
			wtLayout := paths.New(worktreePath)
			if _, err := os.Stat(wtLayout.WUPath(id)); err == nil {
				return microwt.Result{}, &wuerr.PreconditionError{WUID: id, Reason: "a WU with this id already exists"}
			}
			// create appends no event (spec.md scenario S1): a WU's initial
			// "ready" status lives only in its YAML until a claim event
			// first brings it into the indexer's view.
			if _, err := wuspec.NewStore(wtLayout).Save(wu, wuspec.SaveOptions{Strict: in.Strict}); err != nil {
				return microwt.Result{}, err
			}
			files := []string{wtLayout.WUPath(id)}
			if wu.Initiative != "" {
				if err := addWUToInitiative(wtLayout, wu.Initiative, wu.ID); err != nil {
					return microwt.Result{}, err
				}
				files = append(files, initiativePath(wtLayout, wu.Initiative))
			}
			if err := regenerateProjections(wtLayout); err != nil {
				return microwt.Result{}, err
			}
			files = append(files, wtLayout.BacklogPath(), wtLayout.StatusPath())
			return microwt.Result{CommitMessage: fmt.Sprintf("docs: create %s for %s", id, wu.Title), Files: files}, nil
		})
		if txErr != nil {
			if !explicit && isPreconditionDuplicate(txErr) {
				lastErr = txErr
				continue
			}
			return wuspec.WorkUnit{}, txErr
		}
		return wu, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("coordinator: exhausted %d id-generation attempts", attempts)
	}
	return wuspec.WorkUnit{}, lastErr
}

func isPreconditionDuplicate(err error) bool {
	var pe *wuerr.PreconditionError
	if !errors.As(err, &pe) {
		return false
	}
	return strings.Contains(pe.Reason, "already exists")
}

// reserveNextID scans the main checkout's WU directory for the highest
// numbered "WU-<n>" id under a short-lived lock and returns the next one,
// grounded on orchestrator/roster.go's scan-then-select idiom.
func (c *Coordinator) reserveNextID() (string, error) {
	lockPath := c.layout.IDSequenceLockPath()
	if _, err := lockfile.Acquire(lockPath, "coordinator", idSequenceStaleTimeout); err != nil {
		return "", fmt.Errorf("coordinator: acquire id-sequence lock: %w", err)
	}
	defer lockfile.Release(lockPath, "coordinator")

	entries, err := os.ReadDir(c.layout.WUDir())
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("coordinator: scan wu dir: %w", err)
	}
	max := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".yaml")
		n, ok := parseWUNumber(id)
		if ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("WU-%d", max+1), nil
}

func parseWUNumber(id string) (int, bool) {
	const prefix = "WU-"
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

func initiativePath(layout *paths.Layout, id string) string {
	return filepath.Join(layout.InitiativesDir(), id+".yaml")
}

func addWUToInitiative(layout *paths.Layout, initiativeID, wuID string) error {
	store := initiative.NewStore(layout.InitiativesDir())
	in, err := store.Load(initiativeID)
	if err != nil {
		return fmt.Errorf("coordinator: load initiative %s: %w", initiativeID, err)
	}
	in.AddWU(wuID)
	if err := store.Save(in); err != nil {
		return fmt.Errorf("coordinator: save initiative %s: %w", initiativeID, err)
	}
	return nil
}

func removeWUFromInitiative(layout *paths.Layout, initiativeID, wuID string) error {
	store := initiative.NewStore(layout.InitiativesDir())
	in, err := store.Load(initiativeID)
	if err != nil {
		return fmt.Errorf("coordinator: load initiative %s: %w", initiativeID, err)
	}
	in.RemoveWU(wuID)
	if err := store.Save(in); err != nil {
		return fmt.Errorf("coordinator: save initiative %s: %w", initiativeID, err)
	}
	return nil
}

// EditInput names the fields an edit may change. Zero values are treated as
// "leave unchanged" except where noted.
type EditInput struct {
	Description  *string
	Acceptance   *[]string
	CodePaths    *[]string
	Tests        *wuspec.Tests
	Dependencies *[]string
	BlockedBy    *[]string
	Blocks       *[]string
	Labels       *[]string
	SpecRefs     *[]string
	Initiative   *string
	Phase        *int
	Notes        *string
	Risks        *[]string
	Priority     *string
	Exposure     *wuspec.Exposure
	// Strict adds the reality-check stage and rejects the write if spec-lint,
	// the placeholder check or the reality check produces a warning.
	Strict bool
}

// Edit applies a field-level patch to a WU, routing the write through the
// path spec.md §4.6 prescribes for each status: a Micro-Worktree Transaction
// when ready, a direct commit inside the active claim worktree when
// in_progress with a worktree-mode claim, a commit on claimed_branch when
// in_progress with branch-pr mode, and a restricted field set when done. id
// and status are always immutable.
func (c *Coordinator) Edit(ctx context.Context, id string, in EditInput, activeWorktreeDir string) (wuspec.WorkUnit, error) {
	store := wuspec.NewStore(c.layout)
	current, err := store.Load(id)
	if err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: load %s: %w", id, err)
	}

	oldInitiative := current.Initiative
	switch current.Status {
	case wuspec.StatusDone:
		if err := applyDoneEdit(&current, in); err != nil {
			return wuspec.WorkUnit{}, err
		}
	default:
		applyFullEdit(&current, in)
	}

	switch current.Status {
	case wuspec.StatusReady, wuspec.StatusDone, wuspec.StatusBlocked:
		err = c.transactor.WithMicroWorktree(ctx, "edit", id, func(ctx context.Context, worktreePath string) (microwt.Result, error) {
			wtLayout := paths.New(worktreePath)
			wtStore := wuspec.NewStore(wtLayout)
			if _, err := wtStore.Save(current, wuspec.SaveOptions{Strict: in.Strict}); err != nil {
				return microwt.Result{}, err
			}
			files := []string{wtLayout.WUPath(id)}
			if err := reconcileInitiativeMembership(wtLayout, oldInitiative, current.Initiative, id, &files); err != nil {
				return microwt.Result{}, err
			}
			return microwt.Result{CommitMessage: fmt.Sprintf("docs: edit %s", id), Files: files}, nil
		})
	case wuspec.StatusInProgress:
		if current.ClaimedMode == wuspec.ClaimedModeBranchPR {
			branch, branchErr := c.transactor.Git().CurrentBranch(ctx, c.repoDir)
			if branchErr != nil {
				return wuspec.WorkUnit{}, fmt.Errorf("coordinator: read current branch: %w", branchErr)
			}
			if branch != current.ClaimedBranch {
				return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("branch-pr edit requires checkout on %q, found %q", current.ClaimedBranch, branch)}
			}
			err = c.transactor.WithCloudCommit(ctx, current.ClaimedBranch, func(ctx context.Context, dir string) (microwt.Result, error) {
				wtLayout := paths.New(dir)
				wtStore := wuspec.NewStore(wtLayout)
				if _, err := wtStore.Save(current, wuspec.SaveOptions{Strict: in.Strict}); err != nil {
					return microwt.Result{}, err
				}
				return microwt.Result{CommitMessage: fmt.Sprintf("docs: edit %s", id), Files: []string{wtLayout.WUPath(id)}}, nil
			})
		} else {
			if activeWorktreeDir == "" {
				activeWorktreeDir = current.WorktreePath
			}
			wtLayout := paths.New(activeWorktreeDir)
			wtStore := wuspec.NewStore(wtLayout)
			if _, saveErr := wtStore.Save(current, wuspec.SaveOptions{Strict: in.Strict}); saveErr != nil {
				return wuspec.WorkUnit{}, saveErr
			}
			err = c.transactor.Git().Commit(ctx, activeWorktreeDir, fmt.Sprintf("docs: edit %s", id), []string{wtLayout.WUPath(id)})
		}
	}
	if err != nil {
		return wuspec.WorkUnit{}, err
	}
	return current, nil
}

func applyFullEdit(wu *wuspec.WorkUnit, in EditInput) {
	if in.Description != nil {
		wu.Description = *in.Description
	}
	if in.Acceptance != nil {
		wu.Acceptance = *in.Acceptance
	}
	if in.CodePaths != nil {
		wu.CodePaths = *in.CodePaths
	}
	if in.Tests != nil {
		wu.Tests = *in.Tests
	}
	if in.Dependencies != nil {
		wu.Dependencies = *in.Dependencies
	}
	if in.BlockedBy != nil {
		wu.BlockedBy = *in.BlockedBy
	}
	if in.Blocks != nil {
		wu.Blocks = *in.Blocks
	}
	if in.Labels != nil {
		wu.Labels = *in.Labels
	}
	if in.SpecRefs != nil {
		wu.SpecRefs = *in.SpecRefs
	}
	if in.Initiative != nil {
		wu.Initiative = *in.Initiative
	}
	if in.Phase != nil {
		wu.Phase = *in.Phase
	}
	if in.Notes != nil {
		wu.Notes = *in.Notes
	}
	if in.Risks != nil {
		wu.Risks = *in.Risks
	}
	if in.Priority != nil {
		wu.Priority = *in.Priority
	}
	if in.Exposure != nil {
		wu.Exposure = *in.Exposure
	}
}

// applyDoneEdit restricts a `done` WU's edit to {initiative, phase,
// exposure}, rejecting any other field change (spec.md §4.6 "edit").
func applyDoneEdit(wu *wuspec.WorkUnit, in EditInput) error {
	var rejected []string
	if in.Description != nil {
		rejected = append(rejected, "description")
	}
	if in.Acceptance != nil {
		rejected = append(rejected, "acceptance")
	}
	if in.CodePaths != nil {
		rejected = append(rejected, "code_paths")
	}
	if in.Tests != nil {
		rejected = append(rejected, "tests")
	}
	if in.Dependencies != nil {
		rejected = append(rejected, "dependencies")
	}
	if in.BlockedBy != nil {
		rejected = append(rejected, "blocked_by")
	}
	if in.Blocks != nil {
		rejected = append(rejected, "blocks")
	}
	if in.Labels != nil {
		rejected = append(rejected, "labels")
	}
	if in.SpecRefs != nil {
		rejected = append(rejected, "spec_refs")
	}
	if in.Notes != nil {
		rejected = append(rejected, "notes")
	}
	if in.Risks != nil {
		rejected = append(rejected, "risks")
	}
	if in.Priority != nil {
		rejected = append(rejected, "priority")
	}
	if len(rejected) > 0 {
		return &wuerr.PreconditionError{WUID: wu.ID, Reason: fmt.Sprintf("done WUs only allow editing initiative/phase/exposure, rejected: %s", strings.Join(rejected, ", "))}
	}
	if in.Initiative != nil {
		wu.Initiative = *in.Initiative
	}
	if in.Phase != nil {
		wu.Phase = *in.Phase
	}
	if in.Exposure != nil {
		wu.Exposure = *in.Exposure
	}
	return nil
}

// reconcileInitiativeMembership moves wuID between initiatives when an edit
// changes the `initiative` field (spec.md §4.6 "bidirectionally updates the
// old/new initiative's wus lists").
func reconcileInitiativeMembership(layout *paths.Layout, oldInitiative, newInitiative, wuID string, files *[]string) error {
	if oldInitiative == newInitiative {
		return nil
	}
	if oldInitiative != "" {
		if err := removeWUFromInitiative(layout, oldInitiative, wuID); err != nil {
			return err
		}
		*files = append(*files, initiativePath(layout, oldInitiative))
	}
	if newInitiative != "" {
		if err := addWUToInitiative(layout, newInitiative, wuID); err != nil {
			return err
		}
		*files = append(*files, initiativePath(layout, newInitiative))
	}
	return nil
}

// ClaimMode selects how a claimed WU isolates its writes.
type ClaimMode = wuspec.ClaimedMode

// Claim moves a ready WU to in_progress, acquires its lane lock, creates the
// lane branch, and in worktree modes checks out a persistent claim worktree
// (spec.md §4.6 "claim"). Preflight refuses claims into a lane with orphan
// done WUs, delegating to the caller-supplied consistency check.
func (c *Coordinator) Claim(ctx context.Context, id, assignedTo string, mode ClaimMode, preflight func(lane string) error) (wuspec.WorkUnit, error) {
	store := wuspec.NewStore(c.layout)
	wu, err := store.Load(id)
	if err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: load %s: %w", id, err)
	}
	if wu.Status != wuspec.StatusReady {
		return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("cannot claim a WU in status %q", wu.Status)}
	}
	if status, lockErr := c.lanes.Check(wu.Lane); lockErr != nil {
		return wuspec.WorkUnit{}, lockErr
	} else if status.Locked && status.Record.Owner != id {
		return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("lane %q is held by %s", wu.Lane, status.Record.Owner)}
	}
	if preflight != nil {
		if err := preflight(wu.Lane); err != nil {
			return wuspec.WorkUnit{}, fmt.Errorf("coordinator: claim preflight: %w", err)
		}
	}

	branch := fmt.Sprintf("lane/%s/%s", paths.Kebab(wu.Lane), strings.ToLower(id))
	worktreePath := filepath.Join(c.layout.WorktreesDir(filepath.Dir(c.repoDir)), strings.ToLower(id))

	stale, err := c.lanes.Acquire(wu.Lane, id)
	if err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: acquire lane lock: %w", err)
	}
	if stale != nil {
		c.logger.Warnf("lane %q: forcibly took over stale lock held by %s for claim of %s", wu.Lane, stale.Owner, id)
	}

	wu.Status = wuspec.StatusInProgress
	wu.ClaimedMode = mode
	wu.AssignedTo = assignedTo
	if mode == wuspec.ClaimedModeWorktree {
		wu.WorktreePath = worktreePath
	} else {
		wu.ClaimedBranch = branch
	}

	txErr := c.transactor.WithMicroWorktree(ctx, "claim", id, func(ctx context.Context, wtPath string) (microwt.Result, error) {
		wtLayout := paths.New(wtPath)
		ev, err := eventlog.New(eventlog.TypeClaim, id, c.clock(), eventlog.CreatePayload{Lane: wu.Lane, Title: wu.Title})
		if err != nil {
			return microwt.Result{}, err
		}
		return c.persistAndProject(wtLayout, wu, ev, fmt.Sprintf("docs: claim %s", id))
	})
	if txErr != nil {
		_ = c.lanes.Release(wu.Lane, id)
		return wuspec.WorkUnit{}, txErr
	}

	if err := c.transactor.Git().CreateBranch(ctx, c.repoDir, branch, c.sharedBranch); err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: create lane branch: %w", err)
	}
	if mode == wuspec.ClaimedModeWorktree {
		if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
			return wuspec.WorkUnit{}, fmt.Errorf("coordinator: prepare worktree base: %w", err)
		}
		if err := c.transactor.Git().CheckoutWorktree(ctx, c.repoDir, worktreePath, branch); err != nil {
			return wuspec.WorkUnit{}, fmt.Errorf("coordinator: checkout claim worktree: %w", err)
		}
	}
	return wu, nil
}

// Release moves an in_progress WU back to ready, freeing its lane lock and
// tearing down its worktree/branch without completing it (spec.md §4.6
// "release").
func (c *Coordinator) Release(ctx context.Context, id, reason string) (wuspec.WorkUnit, error) {
	store := wuspec.NewStore(c.layout)
	wu, err := store.Load(id)
	if err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: load %s: %w", id, err)
	}
	if wu.Status != wuspec.StatusInProgress {
		return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("cannot release a WU in status %q", wu.Status)}
	}

	worktreePath := wu.WorktreePath
	branch := wu.ClaimedBranch
	if branch == "" && wu.Lane != "" {
		branch = fmt.Sprintf("lane/%s/%s", paths.Kebab(wu.Lane), strings.ToLower(id))
	}

	wu.Status = wuspec.StatusReady
	wu.ClaimedMode = ""
	wu.AssignedTo = ""
	wu.WorktreePath = ""
	wu.ClaimedBranch = ""

	txErr := c.transactor.WithMicroWorktree(ctx, "release", id, func(ctx context.Context, wtPath string) (microwt.Result, error) {
		wtLayout := paths.New(wtPath)
		ev, err := eventlog.New(eventlog.TypeRelease, id, c.clock(), eventlog.ReleasePayload{Reason: reason})
		if err != nil {
			return microwt.Result{}, err
		}
		return c.persistAndProject(wtLayout, wu, ev, fmt.Sprintf("docs: release %s", id))
	})
	if txErr != nil {
		return wuspec.WorkUnit{}, txErr
	}

	if worktreePath != "" {
		_ = c.transactor.Git().RemoveWorktree(ctx, c.repoDir, worktreePath, true)
		_ = os.RemoveAll(worktreePath)
	}
	if branch != "" {
		_ = c.transactor.Git().DeleteBranch(ctx, c.repoDir, branch, true)
	}
	if err := c.lanes.Release(wu.Lane, id); err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: release lane lock: %w", err)
	}
	return wu, nil
}

// Block appends a block event; the lane lock and worktree/branch are
// retained since blocked WUs still count against WIP (spec.md §4.6 "block").
func (c *Coordinator) Block(ctx context.Context, id, reason string) (wuspec.WorkUnit, error) {
	store := wuspec.NewStore(c.layout)
	wu, err := store.Load(id)
	if err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: load %s: %w", id, err)
	}
	if wu.Status != wuspec.StatusInProgress {
		return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("cannot block a WU in status %q", wu.Status)}
	}
	wu.Status = wuspec.StatusBlocked

	txErr := c.transactor.WithMicroWorktree(ctx, "block", id, func(ctx context.Context, wtPath string) (microwt.Result, error) {
		wtLayout := paths.New(wtPath)
		ev, err := eventlog.New(eventlog.TypeBlock, id, c.clock(), eventlog.BlockPayload{Reason: reason})
		if err != nil {
			return microwt.Result{}, err
		}
		return c.persistAndProject(wtLayout, wu, ev, fmt.Sprintf("docs: block %s", id))
	})
	if txErr != nil {
		return wuspec.WorkUnit{}, txErr
	}
	return wu, nil
}

// Unblock appends an unblock event, returning a blocked WU to in_progress.
func (c *Coordinator) Unblock(ctx context.Context, id string) (wuspec.WorkUnit, error) {
	store := wuspec.NewStore(c.layout)
	wu, err := store.Load(id)
	if err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: load %s: %w", id, err)
	}
	if wu.Status != wuspec.StatusBlocked {
		return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("cannot unblock a WU in status %q", wu.Status)}
	}
	wu.Status = wuspec.StatusInProgress

	txErr := c.transactor.WithMicroWorktree(ctx, "unblock", id, func(ctx context.Context, wtPath string) (microwt.Result, error) {
		wtLayout := paths.New(wtPath)
		ev, err := eventlog.New(eventlog.TypeUnblock, id, c.clock(), nil)
		if err != nil {
			return microwt.Result{}, err
		}
		return c.persistAndProject(wtLayout, wu, ev, fmt.Sprintf("docs: unblock %s", id))
	})
	if txErr != nil {
		return wuspec.WorkUnit{}, txErr
	}
	return wu, nil
}

// Complete marks an in_progress WU done, writes its stamp, merges the lane
// branch into the shared branch, and tears down its lane lock/branch/
// worktree (spec.md §4.6 "complete"). Gates are assumed already passed by
// the caller.
func (c *Coordinator) Complete(ctx context.Context, id string) (wuspec.WorkUnit, error) {
	store := wuspec.NewStore(c.layout)
	wu, err := store.Load(id)
	if err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: load %s: %w", id, err)
	}
	if wu.Status != wuspec.StatusInProgress {
		return wuspec.WorkUnit{}, &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("cannot complete a WU in status %q", wu.Status)}
	}

	branch := wu.ClaimedBranch
	if branch == "" {
		branch = fmt.Sprintf("lane/%s/%s", paths.Kebab(wu.Lane), strings.ToLower(id))
	}
	worktreePath := wu.WorktreePath
	completedAt := c.clock().UTC()

	wu.Status = wuspec.StatusDone
	wu.Locked = true
	wu.CompletedAt = &completedAt

	txErr := c.transactor.WithMicroWorktree(ctx, "complete", id, func(ctx context.Context, wtPath string) (microwt.Result, error) {
		wtLayout := paths.New(wtPath)
		ev, err := eventlog.New(eventlog.TypeComplete, id, completedAt, eventlog.CompletePayload{})
		if err != nil {
			return microwt.Result{}, err
		}
		result, err := c.persistAndProject(wtLayout, wu, ev, fmt.Sprintf("docs: complete %s", id))
		if err != nil {
			return microwt.Result{}, err
		}
		if err := os.MkdirAll(wtLayout.StampsDir(), 0o755); err != nil {
			return microwt.Result{}, fmt.Errorf("coordinator: mkdir stamps: %w", err)
		}
		if err := os.WriteFile(wtLayout.StampPath(id), nil, 0o644); err != nil {
			return microwt.Result{}, fmt.Errorf("coordinator: write stamp: %w", err)
		}
		result.Files = append(result.Files, wtLayout.StampPath(id))
		if wu.Initiative != "" {
			if recomputed, err := recomputeInitiativeIfDone(wtLayout, wu.Initiative); err != nil {
				return microwt.Result{}, err
			} else if recomputed {
				result.Files = append(result.Files, initiativePath(wtLayout, wu.Initiative))
			}
		}
		return result, nil
	})
	if txErr != nil {
		return wuspec.WorkUnit{}, txErr
	}

	if err := c.mergeLaneBranch(ctx, branch, worktreePath); err != nil {
		return wuspec.WorkUnit{}, err
	}
	if err := c.transactor.Git().DeleteBranch(ctx, c.repoDir, branch, true); err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: delete lane branch: %w", err)
	}
	if worktreePath != "" {
		_ = c.transactor.Git().RemoveWorktree(ctx, c.repoDir, worktreePath, true)
		_ = os.RemoveAll(worktreePath)
	}
	if err := c.lanes.Release(wu.Lane, id); err != nil {
		return wuspec.WorkUnit{}, fmt.Errorf("coordinator: release lane lock: %w", err)
	}
	if err := c.signals.Emit(signalbus.Signal{
		Type:       signalbus.TypeWUCompleted,
		WUID:       id,
		Lane:       wu.Lane,
		Initiative: wu.Initiative,
		EmittedAt:  completedAt,
	}); err != nil {
		c.logger.Warnf("signalbus: emit completion signal for %s: %v", id, err)
	}
	return wu, nil
}

// mergeLaneBranch runs the same ff-only-with-rebase-retry policy as step 6
// of the Micro-Worktree protocol (spec.md §4.6 "complete": "same policy as
// §4.5 step 6"), landing a lane branch (rather than a throwaway temp branch)
// onto the shared branch. worktreePath is the persistent claim worktree that
// has branch checked out (worktree-mode claims only); the rebase recovery
// step needs a real checkout to rebase in, so it is skipped for branch-pr
// mode claims, which have no local checkout the Coordinator can rebase.
func (c *Coordinator) mergeLaneBranch(ctx context.Context, branch, worktreePath string) error {
	git := c.transactor.Git()
	attempts := 0
	err := c.mergeRetryPolicy.Do(ctx, func(attempt int) error {
		attempts = attempt
		if err := git.MergeFastForward(ctx, c.repoDir, branch); err != nil {
			if retry.ClassifyGitError(err) == retry.Transient && worktreePath != "" {
				if fetchErr := git.Fetch(ctx, c.repoDir, "origin"); fetchErr != nil {
					return fetchErr
				}
				if ffErr := git.FastForward(ctx, c.repoDir, c.sharedBranch); ffErr != nil {
					return ffErr
				}
				if rebaseErr := git.Rebase(ctx, worktreePath, c.sharedBranch); rebaseErr != nil {
					return rebaseErr
				}
			}
			return err
		}
		return git.Push(ctx, c.repoDir, "origin", c.sharedBranch, false)
	})
	if err != nil {
		if retry.ClassifyGitError(err) != retry.Transient {
			return &wuerr.ConflictError{Paths: []string{branch}}
		}
		return &wuerr.RetryExhaustionError{Op: "complete-merge", Attempts: attempts, LastErr: err}
	}
	return nil
}

func recomputeInitiativeIfDone(layout *paths.Layout, initiativeID string) (bool, error) {
	wuStore := wuspec.NewStore(layout)
	specs, failed := wuStore.LoadAll()
	if len(failed) > 0 {
		return false, fmt.Errorf("coordinator: load WUs while recomputing initiative %s: %d failure(s)", initiativeID, len(failed))
	}
	pending := false
	for _, wu := range specs {
		if wu.Initiative == initiativeID && wu.Status != wuspec.StatusDone {
			pending = true
			break
		}
	}
	if pending {
		return false, nil
	}
	inStore := initiative.NewStore(layout.InitiativesDir())
	in, err := inStore.Load(initiativeID)
	if err != nil {
		return false, fmt.Errorf("coordinator: load initiative %s: %w", initiativeID, err)
	}
	in.Recompute()
	if err := inStore.Save(in); err != nil {
		return false, fmt.Errorf("coordinator: save initiative %s: %w", initiativeID, err)
	}
	return true, nil
}

// Delete removes a WU's YAML, lane branch, and worktree without appending
// an event (spec.md §4.6 "delete": "the WU ceases to exist"). Deleting an
// in_progress WU requires force.
func (c *Coordinator) Delete(ctx context.Context, id string, force bool) error {
	store := wuspec.NewStore(c.layout)
	wu, err := store.Load(id)
	if err != nil {
		return fmt.Errorf("coordinator: load %s: %w", id, err)
	}
	if wu.Status == wuspec.StatusInProgress && !force {
		return &wuerr.PreconditionError{WUID: id, Reason: "deleting an in_progress WU requires force"}
	}

	branch := wu.ClaimedBranch
	if branch == "" && wu.Status != wuspec.StatusReady {
		branch = fmt.Sprintf("lane/%s/%s", paths.Kebab(wu.Lane), strings.ToLower(id))
	}
	worktreePath := wu.WorktreePath

	txErr := c.transactor.WithMicroWorktree(ctx, "delete", id, func(ctx context.Context, wtPath string) (microwt.Result, error) {
		wtLayout := paths.New(wtPath)
		if err := os.Remove(wtLayout.WUPath(id)); err != nil && !os.IsNotExist(err) {
			return microwt.Result{}, fmt.Errorf("coordinator: remove wu file: %w", err)
		}
		if err := regenerateProjections(wtLayout); err != nil {
			return microwt.Result{}, err
		}
		files := []string{wtLayout.WUPath(id), wtLayout.BacklogPath(), wtLayout.StatusPath()}
		if wu.Initiative != "" {
			if err := removeWUFromInitiative(wtLayout, wu.Initiative, id); err != nil {
				return microwt.Result{}, err
			}
			files = append(files, initiativePath(wtLayout, wu.Initiative))
		}
		return microwt.Result{CommitMessage: fmt.Sprintf("docs: delete %s", id), Files: files}, nil
	})
	if txErr != nil {
		return txErr
	}

	if branch != "" {
		_ = c.transactor.Git().DeleteBranch(ctx, c.repoDir, branch, true)
	}
	if worktreePath != "" {
		_ = c.transactor.Git().RemoveWorktree(ctx, c.repoDir, worktreePath, true)
		_ = os.RemoveAll(worktreePath)
	}
	if wu.Status == wuspec.StatusInProgress {
		_ = c.lanes.Release(wu.Lane, id)
	}
	return nil
}
