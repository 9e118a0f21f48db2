package gitshell

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory Git implementation for deterministic tests. It models
// just enough of git's behavior for the Micro-Worktree Transactor and
// Consistency Checker: branches point at an integer "tip", merges require
// fast-forward unless Conflicts is set, and Push can be made to reject
// N times to exercise the rebase-retry loop (spec.md scenario S3).
type Fake struct {
	mu sync.Mutex

	// Branches maps branch name -> tip (an opaque monotonically increasing
	// commit counter local to the fake).
	Branches map[string]int
	// Remote mirrors the "origin" state of each branch.
	Remote map[string]int
	// Worktrees maps worktree path -> checked-out branch.
	Worktrees map[string]string
	// Clean reports whether the main checkout has no pending changes.
	Clean bool
	// Current is the branch the "main" checkout is on.
	Current string

	nextCommit int

	// PushRejections, keyed by branch, counts down how many times Push
	// should return a non-fast-forward error before succeeding.
	PushRejections map[string]int
	// Conflicts, keyed by branch (the branch being merged or the branch it
	// is merged into), forces MergeFastForward to return a
	// ConflictError-shaped message instead of a transient one.
	Conflicts map[string]bool
}

// NewFake returns a Fake seeded with a single branch at tip 0.
func NewFake(mainBranch string) *Fake {
	return &Fake{
		Branches:       map[string]int{mainBranch: 0},
		Remote:         map[string]int{mainBranch: 0},
		Worktrees:      map[string]string{},
		Clean:          true,
		Current:        mainBranch,
		PushRejections: map[string]int{},
		Conflicts:      map[string]bool{},
	}
}

func (f *Fake) CurrentBranch(ctx context.Context, repoDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Current, nil
}

func (f *Fake) IsClean(ctx context.Context, repoDir string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Clean, nil
}

func (f *Fake) Fetch(ctx context.Context, repoDir, remote string) error {
	return nil
}

func (f *Fake) FastForward(ctx context.Context, repoDir, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	remoteTip, ok := f.Remote[branch]
	if !ok {
		return fmt.Errorf("git merge --ff-only %s failed: unknown branch", branch)
	}
	f.Branches[branch] = remoteTip
	return nil
}

func (f *Fake) CreateBranch(ctx context.Context, repoDir, name, startPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tip := f.Branches[startPoint]
	f.Branches[name] = tip
	return nil
}

func (f *Fake) DeleteBranch(ctx context.Context, repoDir, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Branches, name)
	return nil
}

func (f *Fake) CheckoutWorktree(ctx context.Context, repoDir, worktreePath, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Branches[branch]; !ok {
		return fmt.Errorf("git worktree add %s %s failed: unknown branch", worktreePath, branch)
	}
	f.Worktrees[worktreePath] = branch
	return nil
}

func (f *Fake) RemoveWorktree(ctx context.Context, repoDir, worktreePath string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Worktrees, worktreePath)
	return nil
}

func (f *Fake) ListWorktrees(ctx context.Context, repoDir string) ([]Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.Worktrees))
	for p := range f.Worktrees {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]Worktree, 0, len(paths))
	for _, p := range paths {
		out = append(out, Worktree{Path: p, Branch: f.Worktrees[p]})
	}
	return out, nil
}

func (f *Fake) Commit(ctx context.Context, dir, message string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch := f.branchForDir(dir)
	if branch == "" {
		return fmt.Errorf("git commit failed: unknown worktree %s", dir)
	}
	f.nextCommit++
	f.Branches[branch] = f.nextCommit
	return nil
}

func (f *Fake) Push(ctx context.Context, dir, remote, branch string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.PushRejections[branch]; n > 0 {
		f.PushRejections[branch] = n - 1
		return fmt.Errorf("git push %s %s failed: ! [rejected] %s -> %s (non-fast-forward)", remote, branch, branch, branch)
	}
	if !force {
		localTip := f.Branches[branch]
		remoteTip := f.Remote[branch]
		if remoteTip > localTip {
			return fmt.Errorf("git push %s %s failed: ! [rejected] %s -> %s (non-fast-forward)", remote, branch, branch, branch)
		}
	}
	f.Remote[branch] = f.Branches[branch]
	return nil
}

func (f *Fake) Rebase(ctx context.Context, dir, onto string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch := f.branchForDir(dir)
	if branch == "" {
		return fmt.Errorf("git rebase failed: unknown worktree %s", dir)
	}
	ontoTip, ok := f.Branches[onto]
	if !ok {
		return fmt.Errorf("git rebase failed: unknown branch %s", onto)
	}
	f.Branches[branch] = ontoTip
	return nil
}

func (f *Fake) MergeFastForward(ctx context.Context, dir, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.branchForDir(dir)
	if f.Conflicts[branch] || f.Conflicts[current] {
		return fmt.Errorf("merge conflict (content): conflicting files for %s", branch)
	}
	if current == "" {
		return fmt.Errorf("git merge --ff-only %s failed: unknown worktree %s", branch, dir)
	}
	tip, ok := f.Branches[branch]
	if !ok {
		return fmt.Errorf("git merge --ff-only %s failed: unknown branch", branch)
	}
	if tip < f.Branches[current] {
		return fmt.Errorf("git merge --ff-only %s failed: not possible to fast-forward, aborting", branch)
	}
	f.Branches[current] = tip
	return nil
}

func (f *Fake) ConfigGet(ctx context.Context, repoDir, key string) (string, error) {
	if key == "user.email" {
		return "agent@lumenflow.test", nil
	}
	return "", fmt.Errorf("git config --get %s failed: key not set", key)
}

// branchForDir resolves dir to a tracked branch: either the main checkout
// (Current) when dir is empty/the repo root, or a worktree's branch.
func (f *Fake) branchForDir(dir string) string {
	if branch, ok := f.Worktrees[dir]; ok {
		return branch
	}
	if strings.TrimSpace(dir) == "" {
		return f.Current
	}
	return f.Current
}

var _ Git = (*Fake)(nil)
