// internal/microwt/microwt.go
//
// Micro-Worktree Transactor (spec.md §4.5): serializes all file-level writes
// to the shared branch through an isolated, throwaway worktree checkout.
// Session lifecycle grounded on
// internal/orchestrator/workcycle.go's WorktreeSession/createWorktreeSessions
// (ephemeral directory outside the repo tree, numbered, torn down on both
// success and failure paths); retry/backoff uses internal/retry.

package microwt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/lumenflow/lumenflow/internal/gitshell"
	"github.com/lumenflow/lumenflow/internal/paths"
	"github.com/lumenflow/lumenflow/internal/retry"
	"github.com/lumenflow/lumenflow/internal/wuerr"
)

// Result is what a transaction body returns to the Transactor so it knows
// what to stage and commit.
type Result struct {
	CommitMessage string
	Files         []string
}

// Exec is the caller-supplied body of a transaction. It runs against an
// isolated worktree checkout and must return exactly what was written.
type Exec func(ctx context.Context, worktreePath string) (Result, error)

// Transactor implements the 8-step Micro-Worktree Transaction protocol.
type Transactor struct {
	git          gitshell.Git
	layout       *paths.Layout
	repoDir      string
	sharedBranch string
	remote       string
	worktreeBase string
	retryPolicy  retry.Policy
}

// Option customizes a Transactor.
type Option func(*Transactor)

// WithRetryPolicy overrides the default retry.CompletePreset.
func WithRetryPolicy(p retry.Policy) Option {
	return func(t *Transactor) { t.retryPolicy = p }
}

// WithRemote overrides the default "origin" remote name.
func WithRemote(remote string) Option {
	return func(t *Transactor) {
		if remote != "" {
			t.remote = remote
		}
	}
}

// New builds a Transactor. repoDir is the main checkout's path;
// sharedBranch is the branch all transactions serialize onto (e.g. "main").
func New(git gitshell.Git, layout *paths.Layout, repoDir, sharedBranch string, opts ...Option) *Transactor {
	t := &Transactor{
		git:          git,
		layout:       layout,
		repoDir:      repoDir,
		sharedBranch: sharedBranch,
		remote:       "origin",
		worktreeBase: layout.WorktreesDir(filepath.Dir(repoDir)),
		retryPolicy:  retry.CompletePreset,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Git exposes the underlying adapter for callers (the Lifecycle
// Coordinator) that need to run git operations outside the 8-step protocol,
// such as creating a lane branch after a claim transaction lands.
func (t *Transactor) Git() gitshell.Git { return t.git }

// WithMicroWorktree runs exec inside a fresh, isolated worktree checked out
// from the local shared-branch tip, then merges its commit back onto the
// shared branch and pushes. The main checkout is never switched away from
// sharedBranch. Cleanup (worktree removal, temp branch deletion) always
// runs, on both the success and failure paths.
func (t *Transactor) WithMicroWorktree(ctx context.Context, op, id string, exec Exec) error {
	// Step 1: verify main checkout and fast-forward it to the remote tip.
	current, err := t.git.CurrentBranch(ctx, t.repoDir)
	if err != nil {
		return fmt.Errorf("microwt: read current branch: %w", err)
	}
	if current != t.sharedBranch {
		return &wuerr.PreconditionError{WUID: id, Reason: fmt.Sprintf("main checkout is on %q, expected shared branch %q", current, t.sharedBranch)}
	}
	clean, err := t.git.IsClean(ctx, t.repoDir)
	if err != nil {
		return fmt.Errorf("microwt: check clean: %w", err)
	}
	if !clean {
		return &wuerr.PreconditionError{WUID: id, Reason: "main checkout has uncommitted changes"}
	}
	if err := t.git.Fetch(ctx, t.repoDir, t.remote); err != nil {
		return fmt.Errorf("microwt: fetch: %w", err)
	}
	if err := t.git.FastForward(ctx, t.repoDir, t.sharedBranch); err != nil {
		return fmt.Errorf("microwt: fast-forward main: %w", err)
	}

	// Step 2: temp branch off the (now up to date) local shared-branch tip.
	nonce := uuid.NewString()[:8]
	tempBranch := fmt.Sprintf("tmp/%s/%s/%s", op, id, nonce)
	if err := t.git.CreateBranch(ctx, t.repoDir, tempBranch, t.sharedBranch); err != nil {
		return fmt.Errorf("microwt: create temp branch: %w", err)
	}

	// Step 3: ephemeral worktree directory outside the repo tree.
	worktreePath := filepath.Join(t.worktreeBase, fmt.Sprintf("%s-%s-%s", op, id, nonce))
	if err := os.MkdirAll(t.worktreeBase, 0o755); err != nil {
		t.cleanup(ctx, worktreePath, tempBranch)
		return fmt.Errorf("microwt: mkdir worktree base: %w", err)
	}
	if err := t.git.CheckoutWorktree(ctx, t.repoDir, worktreePath, tempBranch); err != nil {
		t.cleanup(ctx, worktreePath, tempBranch)
		return fmt.Errorf("microwt: checkout worktree: %w", err)
	}
	// A real `git worktree add` always creates worktreePath; ensure it exists
	// here too so the caller's exec can write into it regardless of adapter.
	if err := os.MkdirAll(worktreePath, 0o755); err != nil {
		t.cleanup(ctx, worktreePath, tempBranch)
		return fmt.Errorf("microwt: mkdir worktree: %w", err)
	}

	// Cleanup always runs, success or failure.
	defer t.cleanup(ctx, worktreePath, tempBranch)

	// Step 4: run the caller's mutation.
	result, err := exec(ctx, worktreePath)
	if err != nil {
		return fmt.Errorf("microwt: transaction body: %w", err)
	}

	// Step 5: stage and commit.
	if err := t.git.Commit(ctx, worktreePath, result.CommitMessage, result.Files); err != nil {
		return fmt.Errorf("microwt: commit: %w", err)
	}

	// Steps 6-7: merge with retry/rebase, then push with retry.
	if err := t.mergeAndPush(ctx, tempBranch, worktreePath); err != nil {
		return err
	}
	return nil
}

// mergeAndPush implements protocol steps 6 and 7: fast-forward merge of the
// temp branch onto the shared branch (rebasing onto a newly-advanced remote
// tip and retrying on conflict-free non-fast-forward races), then push.
// worktreePath is the checkout the rebase runs in; the rebase must operate on
// the directory that has tempBranch checked out, not the branch name itself.
func (t *Transactor) mergeAndPush(ctx context.Context, tempBranch, worktreePath string) error {
	attempts := 0
	err := t.retryPolicy.Do(ctx, func(attempt int) error {
		attempts = attempt
		if err := t.git.MergeFastForward(ctx, t.repoDir, tempBranch); err != nil {
			disposition := t.retryPolicy.Classify
			if disposition == nil {
				disposition = retry.ClassifyGitError
			}
			if disposition(err) == retry.Transient {
				// The remote may have advanced; fetch, fast-forward main, and
				// rebase the temp branch before the next attempt.
				if fetchErr := t.git.Fetch(ctx, t.repoDir, t.remote); fetchErr != nil {
					return fetchErr
				}
				if ffErr := t.git.FastForward(ctx, t.repoDir, t.sharedBranch); ffErr != nil {
					return ffErr
				}
				if rebaseErr := t.git.Rebase(ctx, worktreePath, t.sharedBranch); rebaseErr != nil {
					return rebaseErr
				}
			}
			return err
		}
		return t.git.Push(ctx, t.repoDir, t.remote, t.sharedBranch, false)
	})
	if err != nil {
		if retry.ClassifyGitError(err) != retry.Transient {
			return &wuerr.ConflictError{Paths: []string{tempBranch}}
		}
		return &wuerr.RetryExhaustionError{Op: "merge-and-push", Attempts: attempts, LastErr: err}
	}
	return nil
}

func (t *Transactor) cleanup(ctx context.Context, worktreePath, tempBranch string) {
	_ = t.git.RemoveWorktree(ctx, t.repoDir, worktreePath, true)
	_ = os.RemoveAll(worktreePath)
	_ = t.git.DeleteBranch(ctx, t.repoDir, tempBranch, true)
}

// WithCloudCommit implements the cloud-mode variant (spec.md §4.5): when the
// caller is already running on a dedicated per-WU branch, skip the worktree
// dance entirely and commit/push in place. Forbidden on the shared branch.
func (t *Transactor) WithCloudCommit(ctx context.Context, branch string, exec Exec) error {
	if branch == t.sharedBranch {
		return &wuerr.PreconditionError{Reason: "cloud commit mode is forbidden on the shared branch"}
	}
	current, err := t.git.CurrentBranch(ctx, t.repoDir)
	if err != nil {
		return fmt.Errorf("microwt: read current branch: %w", err)
	}
	if current != branch {
		return &wuerr.PreconditionError{Reason: fmt.Sprintf("cloud commit expects checkout on %q, found %q", branch, current)}
	}
	result, err := exec(ctx, t.repoDir)
	if err != nil {
		return fmt.Errorf("microwt: transaction body: %w", err)
	}
	if err := t.git.Commit(ctx, t.repoDir, result.CommitMessage, result.Files); err != nil {
		return fmt.Errorf("microwt: commit: %w", err)
	}
	attempts := 0
	err = t.retryPolicy.Do(ctx, func(attempt int) error {
		attempts = attempt
		return t.git.Push(ctx, t.repoDir, t.remote, branch, false)
	})
	if err != nil {
		return &wuerr.RetryExhaustionError{Op: "cloud-push", Attempts: attempts, LastErr: err}
	}
	return nil
}
