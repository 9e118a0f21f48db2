// internal/eventlog/eventlog.go
//
// Append-only, line-delimited Event Log Store (spec.md §4.1). Append/Tail is
// grounded on internal/logbook.Logbook's Append/Tail (mutex-guarded,
// append-only, scan-and-slice), generalized from free-text lines to
// schema-validated JSON events and from an in-process mutex to a
// create-exclusive cross-process lockfile, since the spec requires safety
// across independent OS processes, not just goroutines in one.

package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/lumenflow/lumenflow/internal/lockfile"
)

// staleLockTimeout matches spec.md §5: "stale timeout 5 minutes or dead pid
// on same host ⇒ reclaim allowed" for event-log appends made outside a
// Micro-Worktree Transaction.
const staleLockTimeout = 5 * time.Minute

var conflictMarker = regexp.MustCompile(`^(<{7}|={7}|>{7})`)

// Store persists events to a single JSONL file at Path.
type Store struct {
	Path     string
	LockPath string
	Owner    string
}

// New builds a Store. owner identifies the caller for lock contention
// messages (e.g. a WU id or process label).
func New(path, lockPath, owner string) *Store {
	return &Store{Path: path, LockPath: lockPath, Owner: owner}
}

// Append acquires the event-log lock, appends one validated event, fsyncs,
// and releases (spec.md §4.1 writer path (a)).
func (s *Store) Append(ev Event) error {
	if !ev.Type.IsKnown() {
		return fmt.Errorf("eventlog: refusing to append unknown event type %q", ev.Type)
	}
	if _, err := lockfile.Acquire(s.LockPath, s.Owner, staleLockTimeout); err != nil {
		return fmt.Errorf("eventlog: acquire lock: %w", err)
	}
	defer lockfile.Release(s.LockPath, s.Owner)
	return s.appendLocked(ev)
}

// AppendUnlocked appends without acquiring the lock, for callers already
// operating inside a Micro-Worktree Transaction's coarser-grained isolation
// (spec.md §4.1 writer path (b)).
func (s *Store) AppendUnlocked(ev Event) error {
	if !ev.Type.IsKnown() {
		return fmt.Errorf("eventlog: refusing to append unknown event type %q", ev.Type)
	}
	return s.appendLocked(ev)
}

func (s *Store) appendLocked(ev Event) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("eventlog: prepare %s: %w", filepath.Dir(s.Path), err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: encode event: %w", err)
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", s.Path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("eventlog: write event: %w", err)
	}
	return f.Sync()
}

// Load parses every line into an Event, in file order.
func (s *Store) Load() ([]Event, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open %s: %w", s.Path, err)
	}
	defer f.Close()
	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("eventlog: %s:%d: %w", s.Path, lineNo, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan %s: %w", s.Path, err)
	}
	return events, nil
}

// Tail returns up to n of the most recently appended events (grounded
// directly on logbook.Tail's scan-and-slice shape).
func (s *Store) Tail(n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	events, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// RemovedLine describes one line dropped by Repair.
type RemovedLine struct {
	LineNo int    `json:"lineNo"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// RepairReport summarizes a Repair invocation.
type RepairReport struct {
	BackupPath string        `json:"backupPath,omitempty"`
	Removed    []RemovedLine `json:"removed"`
	Kept       int           `json:"kept"`
}

// Repair scans the log line by line and drops lines that (i) fail to parse,
// (ii) fail schema validation (unknown type), or (iii) are git conflict
// markers. It never silently drops lines that parse and validate (spec.md
// §4.1, testable property 7 "log-line closure"). Before rewriting, the
// original is copied to <path>.backup-<unix-nano>, matching the
// archive-before-mutate idiom of the teacher's work_cleanup routines
// (archive first, then remove/rewrite).
func (s *Store) Repair(dryRun bool) (RepairReport, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return RepairReport{}, nil
		}
		return RepairReport{}, fmt.Errorf("eventlog: read %s: %w", s.Path, err)
	}
	lines := bytes.Split(data, []byte("\n"))
	var kept [][]byte
	var removed []RemovedLine
	for i, raw := range lines {
		lineNo := i + 1
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			continue
		}
		if conflictMarker.Match(trimmed) {
			removed = append(removed, RemovedLine{LineNo: lineNo, Raw: string(raw), Reason: "git conflict marker"})
			continue
		}
		var ev Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			removed = append(removed, RemovedLine{LineNo: lineNo, Raw: string(raw), Reason: fmt.Sprintf("parse/validate: %v", err)})
			continue
		}
		kept = append(kept, trimmed)
	}
	report := RepairReport{Removed: removed, Kept: len(kept)}
	if len(removed) == 0 || dryRun {
		return report, nil
	}
	backupPath := fmt.Sprintf("%s.backup-%d", s.Path, time.Now().UnixNano())
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return RepairReport{}, fmt.Errorf("eventlog: write backup %s: %w", backupPath, err)
	}
	report.BackupPath = backupPath
	var out bytes.Buffer
	for _, line := range kept {
		out.Write(line)
		out.WriteByte('\n')
	}
	if err := os.WriteFile(s.Path, out.Bytes(), 0o644); err != nil {
		return RepairReport{}, fmt.Errorf("eventlog: rewrite %s: %w", s.Path, err)
	}
	return report, nil
}

// SortByWU groups events by WU id; within a WU, events retain their
// timestamp order tie-broken by file offset (spec.md §5 "Ordering").
func SortByWU(events []Event) map[string][]Event {
	byWU := map[string][]Event{}
	for _, ev := range events {
		byWU[ev.WUID] = append(byWU[ev.WUID], ev)
	}
	for id := range byWU {
		slice := byWU[id]
		sort.SliceStable(slice, func(i, j int) bool {
			return slice[i].Timestamp.Before(slice[j].Timestamp)
		})
		byWU[id] = slice
	}
	return byWU
}
