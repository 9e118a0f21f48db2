// internal/indexer/indexer.go
//
// Pure fold from the event stream into four O(1) views (spec.md §4.2).
// Grounded on internal/workflow/engine/engine.go's buildState/summarizeNodes
// pattern: derive read-only views from persisted source on every load, never
// mutate state in place; applyEvent is a switch over event type, the same
// dispatch-and-fold shape as deriveEngineStatus.

package indexer

import (
	"sort"
	"time"

	"github.com/lumenflow/lumenflow/internal/eventlog"
)

// Status enumerates the statuses the indexer derives from the event log.
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// WUState is the indexer's per-WU derived view.
type WUState struct {
	ID             string
	Status         Status
	Lane           string
	Title          string
	CompletedAt    *time.Time
	LastCheckpoint *time.Time
	LastNote       string
}

// Indexer holds the four derived maps described in spec.md §4.2.
type Indexer struct {
	wuState  map[string]WUState
	byStatus map[Status]map[string]struct{}
	byLane   map[string]map[string]struct{}
	byParent map[string]map[string]struct{}
}

// New returns an empty Indexer. Call Load to populate it.
func New() *Indexer {
	return &Indexer{}
}

// Load clears and rebuilds every view from events, in the order given
// (events should already be ordered per-WU by eventlog.SortByWU or by file
// order, since ordering is only meaningful within a single WU per spec.md
// §5).
func (idx *Indexer) Load(events []eventlog.Event) error {
	idx.wuState = map[string]WUState{}
	idx.byStatus = map[Status]map[string]struct{}{}
	idx.byLane = map[string]map[string]struct{}{}
	idx.byParent = map[string]map[string]struct{}{}
	for _, ev := range events {
		if err := idx.applyEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Indexer) applyEvent(ev eventlog.Event) error {
	switch ev.Type {
	case eventlog.TypeCreate, eventlog.TypeClaim:
		payload, err := ev.AsCreate()
		if err != nil {
			return err
		}
		idx.setStatus(ev.WUID, StatusInProgress)
		state := idx.wuState[ev.WUID]
		state.ID = ev.WUID
		state.Status = StatusInProgress
		state.Lane = payload.Lane
		state.Title = payload.Title
		idx.wuState[ev.WUID] = state
		idx.addToLane(payload.Lane, ev.WUID)
	case eventlog.TypeBlock:
		idx.transition(ev.WUID, StatusInProgress, StatusBlocked)
	case eventlog.TypeUnblock:
		idx.transition(ev.WUID, StatusBlocked, StatusInProgress)
	case eventlog.TypeComplete:
		if idx.transition(ev.WUID, StatusInProgress, StatusDone) {
			state := idx.wuState[ev.WUID]
			completed := ev.Timestamp
			state.CompletedAt = &completed
			idx.wuState[ev.WUID] = state
		}
	case eventlog.TypeRelease:
		// Retains the lane index entry so history queries still answer,
		// per spec.md §4.2.
		idx.transition(ev.WUID, StatusInProgress, StatusReady)
	case eventlog.TypeCheckpoint:
		payload, err := ev.AsCheckpoint()
		if err != nil {
			return err
		}
		state, ok := idx.wuState[ev.WUID]
		if !ok {
			return nil
		}
		ts := ev.Timestamp
		state.LastCheckpoint = &ts
		state.LastNote = payload.Note
		idx.wuState[ev.WUID] = state
	case eventlog.TypeDelegation:
		payload, err := ev.AsDelegation()
		if err != nil {
			return err
		}
		idx.addChild(payload.ParentWUID, ev.WUID)
	default:
		return nil
	}
	return nil
}

// setStatus unconditionally sets the status (used by create/claim, which
// "set/overwrite state" per spec.md §4.2).
func (idx *Indexer) setStatus(id string, status Status) {
	idx.removeFromAllStatuses(id)
	idx.addToStatus(status, id)
}

// transition moves id from `from` to `to`, no-op if the current status isn't
// `from` (spec.md §4.2: "no-op if state absent" and similar guards). Returns
// whether the transition was applied.
func (idx *Indexer) transition(id string, from, to Status) bool {
	state, ok := idx.wuState[id]
	if !ok || state.Status != from {
		return false
	}
	idx.removeFromAllStatuses(id)
	idx.addToStatus(to, id)
	state.Status = to
	idx.wuState[id] = state
	return true
}

func (idx *Indexer) removeFromAllStatuses(id string) {
	for _, set := range idx.byStatus {
		delete(set, id)
	}
}

func (idx *Indexer) addToStatus(status Status, id string) {
	set, ok := idx.byStatus[status]
	if !ok {
		set = map[string]struct{}{}
		idx.byStatus[status] = set
	}
	set[id] = struct{}{}
}

func (idx *Indexer) addToLane(lane, id string) {
	if lane == "" {
		return
	}
	set, ok := idx.byLane[lane]
	if !ok {
		set = map[string]struct{}{}
		idx.byLane[lane] = set
	}
	set[id] = struct{}{}
}

func (idx *Indexer) addChild(parent, child string) {
	if parent == "" {
		return
	}
	set, ok := idx.byParent[parent]
	if !ok {
		set = map[string]struct{}{}
		idx.byParent[parent] = set
	}
	set[child] = struct{}{}
}

// ByID returns the derived state for id.
func (idx *Indexer) ByID(id string) (WUState, bool) {
	state, ok := idx.wuState[id]
	return state, ok
}

// ByStatus returns every WU id with the given status, sorted.
func (idx *Indexer) ByStatus(status Status) []string {
	return sortedKeys(idx.byStatus[status])
}

// ByLane returns every WU id ever indexed under lane, sorted.
func (idx *Indexer) ByLane(lane string) []string {
	return sortedKeys(idx.byLane[lane])
}

// Children returns the child WU ids delegated from parent, sorted.
func (idx *Indexer) Children(parent string) []string {
	return sortedKeys(idx.byParent[parent])
}

// ActiveInLane returns WU ids in lane whose status is in_progress or
// blocked — the lane-WIP set guarded by the Lane Lock Manager (spec.md §5,
// testable invariant 2).
func (idx *Indexer) ActiveInLane(lane string) []string {
	var active []string
	for _, id := range idx.ByLane(lane) {
		state, ok := idx.wuState[id]
		if !ok {
			continue
		}
		if state.Status == StatusInProgress || state.Status == StatusBlocked {
			active = append(active, id)
		}
	}
	return active
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
