package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "wu-events.jsonl"), filepath.Join(dir, "eventlog.lock"), "test-owner")
}

func TestAppendLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	ev, err := New(TypeClaim, "WU-1570", time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC), CreatePayload{Lane: "Parent: Sub", Title: "x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Append(ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	events, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.Type != TypeClaim || got.WUID != "WU-1570" {
		t.Fatalf("unexpected event: %+v", got)
	}
	payload, err := got.AsCreate()
	if err != nil {
		t.Fatalf("AsCreate: %v", err)
	}
	if payload.Lane != "Parent: Sub" || payload.Title != "x" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAppendRejectsUnknownType(t *testing.T) {
	s := newStore(t)
	ev := Event{Type: "bogus", WUID: "WU-1", Timestamp: time.Now()}
	if err := s.Append(ev); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev, _ := New(TypeCheckpoint, "WU-1", base.Add(time.Duration(i)*time.Minute), CheckpointPayload{Note: "n"})
		if err := s.Append(ev); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	tail, err := s.Tail(2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 events, got %d", len(tail))
	}
	if !tail[1].Timestamp.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("unexpected last tail event: %+v", tail[1])
	}
}

func TestRepairDropsMalformedAndConflictLines(t *testing.T) {
	s := newStore(t)
	ev1, _ := New(TypeClaim, "WU-1", time.Unix(100, 0).UTC(), CreatePayload{Lane: "L", Title: "a"})
	ev2, _ := New(TypeClaim, "WU-2", time.Unix(200, 0).UTC(), CreatePayload{Lane: "L2", Title: "b"})
	if err := s.Append(ev1); err != nil {
		t.Fatal(err)
	}
	// Inject a malformed line and a conflict marker directly, as corruption would appear.
	appendRaw(t, s.Path, `{"type":"claim","wuId":`)
	appendRaw(t, s.Path, `<<<<<<< HEAD`)
	if err := s.Append(ev2); err != nil {
		t.Fatal(err)
	}

	report, err := s.Repair(false)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if report.Kept != 2 {
		t.Fatalf("expected 2 kept lines, got %d", report.Kept)
	}
	if len(report.Removed) != 2 {
		t.Fatalf("expected 2 removed lines, got %d: %+v", len(report.Removed), report.Removed)
	}
	if report.BackupPath == "" {
		t.Fatal("expected a backup path")
	}
	events, err := s.Load()
	if err != nil {
		t.Fatalf("Load after repair: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after repair, got %d", len(events))
	}

	// Repair monotonicity (testable property 6): a second run changes nothing.
	second, err := s.Repair(false)
	if err != nil {
		t.Fatalf("second Repair: %v", err)
	}
	if len(second.Removed) != 0 {
		t.Fatalf("expected fixed point on second repair, got %d removed", len(second.Removed))
	}
}

func TestRepairDryRunDoesNotMutate(t *testing.T) {
	s := newStore(t)
	appendRaw(t, s.Path, `not json`)
	report, err := s.Repair(true)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(report.Removed) != 1 {
		t.Fatalf("expected 1 removed line in dry-run report, got %d", len(report.Removed))
	}
	events, err := s.Load()
	if err == nil || !strings.Contains(err.Error(), "eventlog:") {
		t.Fatalf("expected the malformed line to still be present after dry-run, got events=%v err=%v", events, err)
	}
}

func appendRaw(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
