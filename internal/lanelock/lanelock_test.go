package lanelock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenflow/lumenflow/internal/lockfile"
	"github.com/lumenflow/lumenflow/internal/paths"
)

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	layout := paths.New(t.TempDir())
	return New(layout, opts...)
}

func TestAcquireRejectsSecondLiveClaimant(t *testing.T) {
	m := newManager(t)
	if _, err := m.Acquire("Ops: Tooling", "WU-1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := m.Acquire("Ops: Tooling", "WU-2"); err == nil {
		t.Fatal("expected second claimant to be rejected while the first is live")
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	m := newManager(t)
	if _, err := m.Acquire("Ops: Tooling", "WU-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release("Ops: Tooling", "WU-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := m.Acquire("Ops: Tooling", "WU-2"); err != nil {
		t.Fatalf("expected reacquire to succeed after release: %v", err)
	}
}

func TestReleaseByNonOwnerFails(t *testing.T) {
	m := newManager(t)
	if _, err := m.Acquire("Ops", "WU-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Release("Ops", "WU-2"); err == nil {
		t.Fatal("expected release by a non-owner to fail")
	}
}

func TestCheckReportsStatusWithoutMutating(t *testing.T) {
	m := newManager(t)
	status, err := m.Check("Ops")
	if err != nil {
		t.Fatal(err)
	}
	if status.Locked {
		t.Fatal("expected unlocked before any acquire")
	}
	if _, err := m.Acquire("Ops", "WU-1"); err != nil {
		t.Fatal(err)
	}
	status, err = m.Check("Ops")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Locked || status.Record.Owner != "WU-1" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestStaleCrossHostLockIsTakenOver(t *testing.T) {
	m := newManager(t, WithStaleTimeout(10*time.Millisecond))
	path := m.layout.LockPath("Ops")
	rec := lockfile.Record{Owner: "WU-1", PID: 999999, Hostname: "some-other-host", StartedAt: time.Now().Add(-time.Hour)}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("seed lock file: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	stale, err := m.Acquire("Ops", "WU-2")
	if err != nil {
		t.Fatalf("expected stale cross-host lock to be taken over: %v", err)
	}
	if stale == nil || stale.Owner != "WU-1" {
		t.Fatalf("expected Acquire to return the overwritten record for WU-1, got %+v", stale)
	}
}

func TestAcquireReturnsNilWhenNoStaleTakeoverOccurs(t *testing.T) {
	m := newManager(t)
	stale, err := m.Acquire("Ops", "WU-1")
	if err != nil {
		t.Fatal(err)
	}
	if stale != nil {
		t.Fatalf("expected no stale record on a fresh acquire, got %+v", stale)
	}
}
