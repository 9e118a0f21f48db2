package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lumenflow/lumenflow/internal/gitshell"
	"github.com/lumenflow/lumenflow/internal/initiative"
	"github.com/lumenflow/lumenflow/internal/lanelock"
	"github.com/lumenflow/lumenflow/internal/microwt"
	"github.com/lumenflow/lumenflow/internal/paths"
	"github.com/lumenflow/lumenflow/internal/retry"
	"github.com/lumenflow/lumenflow/internal/signalbus"
	"github.com/lumenflow/lumenflow/internal/wuerr"
	"github.com/lumenflow/lumenflow/internal/wuspec"
)

// fastPolicy mirrors microwt_test.go's helper so transaction retries in
// these tests never sleep a real backoff window.
func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		Multiplier:  2,
		JitterFrac:  0,
		Classify:    retry.ClassifyGitError,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// laneBranch reconstructs the lane branch name worktree-mode claims derive
// internally (claimed_branch is left unset in that mode; worktree_path and
// claimed_branch are mutually exclusive).
func laneBranch(lane, id string) string {
	return "lane/" + paths.Kebab(lane) + "/" + strings.ToLower(id)
}

type testEnv struct {
	coord   *Coordinator
	layout  *paths.Layout
	fake    *gitshell.Fake
	repoDir string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	layout := paths.New(t.TempDir())
	repoDir := t.TempDir()
	fake := gitshell.NewFake("main")
	tr := microwt.New(fake, layout, repoDir, "main", microwt.WithRetryPolicy(fastPolicy()))
	lanes := lanelock.New(layout, lanelock.WithStaleTimeout(time.Hour))
	clock := fixedClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	coord := New(layout, tr, lanes, repoDir, "main", WithClock(clock), WithMergeRetryPolicy(fastPolicy()))
	return testEnv{coord: coord, layout: layout, fake: fake, repoDir: repoDir}
}

func baseCreateInput(id, lane string) CreateInput {
	return CreateInput{
		ID:          id,
		Lane:        lane,
		Title:       "Do the thing",
		Priority:    "p2",
		Type:        wuspec.TypeBug,
		Exposure:    wuspec.ExposureBackendOnly,
		Description: "fix the thing",
		Acceptance:  []string{"thing is fixed"},
	}
}

func loadEvents(t *testing.T, layout *paths.Layout) []string {
	t.Helper()
	data, err := os.ReadFile(layout.EventLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read event log: %v", err)
	}
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// --- create ---

func TestCreateWritesReadyWUAndAppendsNoEvent(t *testing.T) {
	env := newTestEnv(t)
	wu, err := env.coord.Create(context.Background(), baseCreateInput("WU-1", "backend"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if wu.Status != wuspec.StatusReady {
		t.Fatalf("expected ready status, got %q", wu.Status)
	}
	if _, statErr := os.Stat(env.layout.WUPath("WU-1")); statErr != nil {
		t.Fatalf("expected WU file to exist: %v", statErr)
	}
	if events := loadEvents(t, env.layout); len(events) != 0 {
		t.Fatalf("scenario S1: expected no event on create, got %d", len(events))
	}
	backlog, err := os.ReadFile(env.layout.BacklogPath())
	if err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	if !strings.Contains(string(backlog), "WU-1") {
		t.Fatalf("expected backlog to list WU-1 under Ready, got:\n%s", backlog)
	}
}

func TestCreateAutoGeneratesSequentialID(t *testing.T) {
	env := newTestEnv(t)
	in := baseCreateInput("", "backend")
	first, err := env.coord.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.ID != "WU-1" {
		t.Fatalf("expected WU-1, got %q", first.ID)
	}
	second, err := env.coord.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.ID != "WU-2" {
		t.Fatalf("expected WU-2, got %q", second.ID)
	}
}

func TestCreateExplicitDuplicateIDRejected(t *testing.T) {
	env := newTestEnv(t)
	in := baseCreateInput("WU-9", "backend")
	if _, err := env.coord.Create(context.Background(), in); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := env.coord.Create(context.Background(), in)
	if err == nil {
		t.Fatal("expected duplicate explicit id to be rejected")
	}
	var pe *wuerr.PreconditionError
	if _, ok := err.(*wuerr.PreconditionError); !ok {
		t.Fatalf("expected *wuerr.PreconditionError, got %T: %v", err, pe)
	}
}

func TestCreateRescansPastAnExistingHigherID(t *testing.T) {
	env := newTestEnv(t)
	// Simulate an out-of-band WU-1 already on disk (e.g. created by another
	// process) before the auto-id path ever runs.
	manual := wuspec.WorkUnit{
		ID: "WU-1", Title: "pre-existing", Lane: "backend", Type: wuspec.TypeBug,
		Priority: "p2", Status: wuspec.StatusReady, Created: "2026-01-01T00:00:00Z",
		Exposure: wuspec.ExposureBackendOnly, Description: "d", Acceptance: []string{"a"},
	}
	if _, err := wuspec.NewStore(env.layout).Save(manual, wuspec.SaveOptions{}); err != nil {
		t.Fatalf("seed WU-1: %v", err)
	}

	wu, err := env.coord.Create(context.Background(), baseCreateInput("", "backend"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if wu.ID != "WU-2" {
		t.Fatalf("expected id generation to skip past WU-1, got %q", wu.ID)
	}
}

func TestCreateRejectsMissingLaneOrTitle(t *testing.T) {
	env := newTestEnv(t)
	in := baseCreateInput("WU-1", "")
	if _, err := env.coord.Create(context.Background(), in); err == nil {
		t.Fatal("expected missing lane to be rejected")
	}
}

func TestCreateWithInitiativeAddsMembership(t *testing.T) {
	env := newTestEnv(t)
	initDir := filepath.Join(env.layout.TasksDir(), "initiatives")
	in := initiative.Initiative{ID: "INIT-1", Name: "Bigger thing"}
	if err := initiative.NewStore(initDir).Save(in); err != nil {
		t.Fatalf("seed initiative: %v", err)
	}

	input := baseCreateInput("WU-1", "backend")
	input.Initiative = "INIT-1"
	if _, err := env.coord.Create(context.Background(), input); err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, err := initiative.NewStore(initDir).Load("INIT-1")
	if err != nil {
		t.Fatalf("load initiative: %v", err)
	}
	if len(loaded.WUs) != 1 || loaded.WUs[0] != "WU-1" {
		t.Fatalf("expected initiative to list WU-1, got %v", loaded.WUs)
	}
}

// --- edit ---

func seedReadyWU(t *testing.T, env testEnv, id, lane string) wuspec.WorkUnit {
	t.Helper()
	wu, err := env.coord.Create(context.Background(), baseCreateInput(id, lane))
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return wu
}

func strPtr(s string) *string { return &s }

func TestEditReadyWURoutesThroughTransactor(t *testing.T) {
	env := newTestEnv(t)
	seedReadyWU(t, env, "WU-1", "backend")

	updated, err := env.coord.Edit(context.Background(), "WU-1", EditInput{Description: strPtr("new description")}, "")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if updated.Description != "new description" {
		t.Fatalf("expected description to change, got %q", updated.Description)
	}
	onDisk, err := wuspec.NewStore(env.layout).Load("WU-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if onDisk.Description != "new description" {
		t.Fatalf("expected persisted description to change, got %q", onDisk.Description)
	}
}

func TestEditDoneRejectsDisallowedFields(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.coord.Complete(context.Background(), wu.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := env.coord.Edit(context.Background(), wu.ID, EditInput{Description: strPtr("nope")}, "")
	if err == nil {
		t.Fatal("expected editing description on a done WU to be rejected")
	}
	if _, ok := err.(*wuerr.PreconditionError); !ok {
		t.Fatalf("expected *wuerr.PreconditionError, got %T", err)
	}
}

func TestEditDoneAllowsInitiativePhaseExposure(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.coord.Complete(context.Background(), wu.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	exposure := wuspec.ExposureUI
	updated, err := env.coord.Edit(context.Background(), wu.ID, EditInput{Exposure: &exposure}, "")
	if err != nil {
		t.Fatalf("edit done WU's exposure: %v", err)
	}
	if updated.Exposure != wuspec.ExposureUI {
		t.Fatalf("expected exposure to change, got %q", updated.Exposure)
	}
}

func TestEditInProgressWorktreeModeCommitsDirectly(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	claimed, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err = env.coord.Edit(context.Background(), wu.ID, EditInput{Notes: strPtr("progress note")}, claimed.WorktreePath)
	if err != nil {
		t.Fatalf("edit in_progress worktree WU: %v", err)
	}
	wtStore := wuspec.NewStore(paths.New(claimed.WorktreePath))
	onDisk, err := wtStore.Load(wu.ID)
	if err != nil {
		t.Fatalf("reload from worktree: %v", err)
	}
	if onDisk.Notes != "progress note" {
		t.Fatalf("expected note to be committed into the claim worktree, got %q", onDisk.Notes)
	}
}

func TestEditInProgressBranchPRRequiresMatchingCheckout(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeBranchPR, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Main checkout is still on "main", not the claimed branch.
	_, err := env.coord.Edit(context.Background(), wu.ID, EditInput{Notes: strPtr("x")}, "")
	if err == nil {
		t.Fatal("expected branch-pr edit off the claimed branch to be rejected")
	}
}

func TestEditBidirectionallyReconcilesInitiativeMembership(t *testing.T) {
	env := newTestEnv(t)
	initDir := filepath.Join(env.layout.TasksDir(), "initiatives")
	for _, id := range []string{"INIT-A", "INIT-B"} {
		if err := initiative.NewStore(initDir).Save(initiative.Initiative{ID: id, Name: id}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	input := baseCreateInput("WU-1", "backend")
	input.Initiative = "INIT-A"
	if _, err := env.coord.Create(context.Background(), input); err != nil {
		t.Fatalf("create: %v", err)
	}

	newInitiative := "INIT-B"
	if _, err := env.coord.Edit(context.Background(), "WU-1", EditInput{Initiative: &newInitiative}, ""); err != nil {
		t.Fatalf("edit: %v", err)
	}

	a, err := initiative.NewStore(initDir).Load("INIT-A")
	if err != nil {
		t.Fatalf("load INIT-A: %v", err)
	}
	if len(a.WUs) != 0 {
		t.Fatalf("expected WU-1 removed from INIT-A, got %v", a.WUs)
	}
	b, err := initiative.NewStore(initDir).Load("INIT-B")
	if err != nil {
		t.Fatalf("load INIT-B: %v", err)
	}
	if len(b.WUs) != 1 || b.WUs[0] != "WU-1" {
		t.Fatalf("expected WU-1 added to INIT-B, got %v", b.WUs)
	}
}

// --- claim ---

func TestClaimRequiresReadyStatus(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := env.coord.Claim(context.Background(), wu.ID, "bob", wuspec.ClaimedModeWorktree, nil)
	if err == nil {
		t.Fatal("expected claiming an already in_progress WU to be rejected")
	}
}

func TestClaimRejectsOccupiedLane(t *testing.T) {
	env := newTestEnv(t)
	wu1 := seedReadyWU(t, env, "WU-1", "backend")
	wu2 := seedReadyWU(t, env, "WU-2", "backend")
	if _, err := env.coord.Claim(context.Background(), wu1.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim WU-1: %v", err)
	}
	_, err := env.coord.Claim(context.Background(), wu2.ID, "bob", wuspec.ClaimedModeWorktree, nil)
	if err == nil {
		t.Fatal("expected claiming into an occupied lane to be rejected")
	}
}

func TestClaimPreflightRejectionLeavesWUReady(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	preflightErr := &wuerr.PreconditionError{WUID: wu.ID, Reason: "orphan done WU in lane"}
	_, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, func(lane string) error {
		return preflightErr
	})
	if err == nil {
		t.Fatal("expected preflight rejection to abort the claim")
	}
	onDisk, loadErr := wuspec.NewStore(env.layout).Load(wu.ID)
	if loadErr != nil {
		t.Fatalf("reload: %v", loadErr)
	}
	if onDisk.Status != wuspec.StatusReady {
		t.Fatalf("expected WU to remain ready after preflight rejection, got %q", onDisk.Status)
	}
	status, checkErr := lanelock.New(env.layout).Check(wu.Lane)
	if checkErr != nil {
		t.Fatalf("check lane: %v", checkErr)
	}
	if status.Locked {
		t.Fatal("expected lane lock to not be held after preflight rejection")
	}
}

func TestClaimWorktreeModeChecksOutPersistentWorktree(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	claimed, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.WorktreePath == "" {
		t.Fatal("expected a worktree path to be set")
	}
	// worktree mode leaves claimed_branch unset (worktree_path and
	// claimed_branch are mutually exclusive); the lane branch the worktree
	// checked out is still recorded in the fake's bookkeeping.
	branch, ok := env.fake.Worktrees[claimed.WorktreePath]
	if !ok || !strings.HasPrefix(branch, "lane/backend/") {
		t.Fatalf("expected fake to record the claim worktree checkout on a lane branch, got %v", env.fake.Worktrees)
	}
	events := loadEvents(t, env.layout)
	if len(events) != 1 || !strings.Contains(events[0], `"type":"claim"`) {
		t.Fatalf("expected exactly one claim event, got %v", events)
	}
}

// --- release ---

func TestReleaseReturnsToReadyAndFreesLaneForReclaim(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	claimed, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	released, err := env.coord.Release(context.Background(), wu.ID, "switching priorities")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != wuspec.StatusReady {
		t.Fatalf("expected ready status after release, got %q", released.Status)
	}
	if _, ok := env.fake.Worktrees[claimed.WorktreePath]; ok {
		t.Fatal("expected worktree to be removed on release")
	}
	if _, ok := env.fake.Branches[laneBranch(wu.Lane, wu.ID)]; ok {
		t.Fatal("expected lane branch to be deleted on release")
	}

	// Scenario S4: released-then-reclaimed round trip must succeed.
	reclaimed, err := env.coord.Claim(context.Background(), wu.ID, "bob", wuspec.ClaimedModeWorktree, nil)
	if err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
	if reclaimed.AssignedTo != "bob" {
		t.Fatalf("expected reclaim to assign bob, got %q", reclaimed.AssignedTo)
	}
}

func TestReleaseRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Release(context.Background(), wu.ID, "n/a"); err == nil {
		t.Fatal("expected releasing a ready WU to be rejected")
	}
}

// --- block / unblock ---

func TestBlockThenUnblockRetainsLaneLock(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	claimed, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	blocked, err := env.coord.Block(context.Background(), wu.ID, "waiting on design sign-off")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if blocked.Status != wuspec.StatusBlocked {
		t.Fatalf("expected blocked status, got %q", blocked.Status)
	}
	status, err := lanelock.New(env.layout).Check(wu.Lane)
	if err != nil {
		t.Fatalf("check lane: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected lane lock to be retained while blocked")
	}
	if _, ok := env.fake.Worktrees[claimed.WorktreePath]; !ok {
		t.Fatal("expected worktree to be retained while blocked")
	}

	unblocked, err := env.coord.Unblock(context.Background(), wu.ID)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if unblocked.Status != wuspec.StatusInProgress {
		t.Fatalf("expected in_progress after unblock, got %q", unblocked.Status)
	}

	events := loadEvents(t, env.layout)
	if len(events) != 3 {
		t.Fatalf("expected claim+block+unblock events, got %v", events)
	}
}

func TestUnblockRequiresBlockedStatus(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.coord.Unblock(context.Background(), wu.ID); err == nil {
		t.Fatal("expected unblocking an in_progress WU to be rejected")
	}
}

// --- complete ---

func TestCompleteWritesStampAndMergesLaneBranch(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	claimed, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	done, err := env.coord.Complete(context.Background(), wu.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != wuspec.StatusDone || done.CompletedAt == nil {
		t.Fatalf("expected done status with completed_at, got %+v", done)
	}
	if _, statErr := os.Stat(env.layout.StampPath(wu.ID)); statErr != nil {
		t.Fatalf("expected completion stamp to be written: %v", statErr)
	}
	_ = claimed
	if _, ok := env.fake.Branches[laneBranch(wu.Lane, wu.ID)]; ok {
		t.Fatal("expected lane branch to be deleted after merge")
	}
	if env.fake.Remote["main"] != env.fake.Branches["main"] {
		t.Fatal("expected the merged lane branch content to be pushed to the shared branch")
	}
	status, err := lanelock.New(env.layout).Check(wu.Lane)
	if err != nil {
		t.Fatalf("check lane: %v", err)
	}
	if status.Locked {
		t.Fatal("expected lane lock to be released after complete")
	}
}

type stubEmitter struct {
	signals []signalbus.Signal
}

func (s *stubEmitter) Emit(sig signalbus.Signal) error {
	s.signals = append(s.signals, sig)
	return nil
}

func TestCompleteEmitsCompletionSignal(t *testing.T) {
	env := newTestEnv(t)
	stub := &stubEmitter{}
	env.coord.signals = stub
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.coord.Complete(context.Background(), wu.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(stub.signals) != 1 {
		t.Fatalf("expected exactly one completion signal, got %d", len(stub.signals))
	}
	got := stub.signals[0]
	if got.Type != signalbus.TypeWUCompleted || got.WUID != wu.ID || got.Lane != wu.Lane {
		t.Fatalf("unexpected signal: %+v", got)
	}
}

func TestCompleteRetriesTransientPushRejectionOnMerge(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Scenario S3: a concurrent completion on another lane advances "main"
	// underneath this one; the first push attempt is rejected as
	// non-fast-forward and must be retried after a fetch+rebase.
	env.fake.PushRejections["main"] = 1

	if _, err := env.coord.Complete(context.Background(), wu.ID); err != nil {
		t.Fatalf("expected complete to recover from a transient push rejection: %v", err)
	}
}

func TestCompleteRejectsPermanentMergeConflict(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	env.fake.Conflicts[laneBranch(wu.Lane, wu.ID)] = true

	_, err := env.coord.Complete(context.Background(), wu.ID)
	if err == nil {
		t.Fatal("expected a true merge conflict to abort complete")
	}
	if _, ok := err.(*wuerr.ConflictError); !ok {
		t.Fatalf("expected *wuerr.ConflictError, got %T: %v", err, err)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Complete(context.Background(), wu.ID); err == nil {
		t.Fatal("expected completing a ready WU to be rejected")
	}
}

func TestCompleteRecomputesInitiativeWhenLastPhaseDone(t *testing.T) {
	env := newTestEnv(t)
	initDir := filepath.Join(env.layout.TasksDir(), "initiatives")
	in := initiative.Initiative{
		ID:   "INIT-1",
		Name: "Ship it",
		Phases: []initiative.Phase{
			{Number: 1, Status: initiative.StatusInProgress},
		},
	}
	if err := initiative.NewStore(initDir).Save(in); err != nil {
		t.Fatalf("seed initiative: %v", err)
	}
	input := baseCreateInput("WU-1", "backend")
	input.Initiative = "INIT-1"
	wu, err := env.coord.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Mark the initiative's own phase done ahead of the WU completing: once
	// the WU is done no member WU is pending, so recomputeInitiativeIfDone
	// runs Recompute, which derives done from the all-done phases.
	loaded, err := initiative.NewStore(initDir).Load("INIT-1")
	if err != nil {
		t.Fatalf("reload initiative: %v", err)
	}
	loaded.Phases[0].Status = initiative.StatusDone
	if err := initiative.NewStore(initDir).Save(loaded); err != nil {
		t.Fatalf("save initiative: %v", err)
	}

	if _, err := env.coord.Complete(context.Background(), wu.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	final, err := initiative.NewStore(initDir).Load("INIT-1")
	if err != nil {
		t.Fatalf("load initiative: %v", err)
	}
	if final.Status != initiative.StatusDone {
		t.Fatalf("expected initiative to recompute to done, got %q", final.Status)
	}
}

// --- delete ---

func TestDeleteRequiresForceForInProgress(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if _, err := env.coord.Claim(context.Background(), wu.ID, "alice", wuspec.ClaimedModeWorktree, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := env.coord.Delete(context.Background(), wu.ID, false); err == nil {
		t.Fatal("expected deleting an in_progress WU without force to be rejected")
	}
	if err := env.coord.Delete(context.Background(), wu.ID, true); err != nil {
		t.Fatalf("expected forced delete to succeed: %v", err)
	}
}

func TestDeleteRemovesWUAppendsNoEvent(t *testing.T) {
	env := newTestEnv(t)
	wu := seedReadyWU(t, env, "WU-1", "backend")
	if err := env.coord.Delete(context.Background(), wu.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, statErr := os.Stat(env.layout.WUPath(wu.ID)); !os.IsNotExist(statErr) {
		t.Fatal("expected WU file to be removed")
	}
	if events := loadEvents(t, env.layout); len(events) != 0 {
		t.Fatalf("expected no event appended by delete, got %v", events)
	}
}

func TestDeleteRemovesInitiativeMembership(t *testing.T) {
	env := newTestEnv(t)
	initDir := filepath.Join(env.layout.TasksDir(), "initiatives")
	if err := initiative.NewStore(initDir).Save(initiative.Initiative{ID: "INIT-1", Name: "x"}); err != nil {
		t.Fatalf("seed initiative: %v", err)
	}
	input := baseCreateInput("WU-1", "backend")
	input.Initiative = "INIT-1"
	wu, err := env.coord.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.coord.Delete(context.Background(), wu.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, err := initiative.NewStore(initDir).Load("INIT-1")
	if err != nil {
		t.Fatalf("load initiative: %v", err)
	}
	if len(loaded.WUs) != 0 {
		t.Fatalf("expected WU-1 removed from initiative, got %v", loaded.WUs)
	}
}
