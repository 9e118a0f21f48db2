// internal/autoclaim/autoclaim.go
//
// Batch "claim the next ready WU per lane" selection (spec.md's `claim` verb,
// exposed as `wu claim --auto`). Dependency-readiness walk grounded on
// internal/workflow/resolver/resolver.go's node-state evaluation (a WU is
// ready exactly when every entry in Dependencies is StatusDone), and batch
// selection grounded on internal/workflow/scheduler/scheduler.go's
// Runnable/SkipReason shape, retargeted from module-artifact dependencies and
// per-engine concurrency caps to WorkUnit.Dependencies and one-claim-per-lane
// (lanes already enforce WIP=1 via the Lane Lock Manager; this package only
// decides which ready WU in each otherwise-idle lane to offer first).
package autoclaim

import (
	"sort"

	"github.com/lumenflow/lumenflow/internal/wuspec"
)

// SkipReasonCode enumerates why a WU was excluded from the candidate set.
type SkipReasonCode string

const (
	SkipReasonNotReady     SkipReasonCode = "not-ready"
	SkipReasonDependency   SkipReasonCode = "dependency-incomplete"
	SkipReasonLaneOccupied SkipReasonCode = "lane-occupied"
)

// SkipReason explains a single excluded WU.
type SkipReason struct {
	WUID   string
	Reason SkipReasonCode
	Detail string
}

// Batch is the result of a selection pass: at most one candidate per lane,
// plus the reasons every other WU was excluded.
type Batch struct {
	Candidates []wuspec.WorkUnit
	Skipped    []SkipReason
}

// priorityRank maps spec.md's p0..p3 labels to a sort key; unrecognized
// labels sort after all named ones, in ID order.
var priorityRank = map[string]int{
	"p0": 0,
	"p1": 1,
	"p2": 2,
	"p3": 3,
}

// Select walks specs and returns the highest-priority StatusReady WU in each
// lane that has no in_progress WU already occupying it and whose
// Dependencies are all StatusDone. Lanes with zero ready, unblocked
// candidates are simply absent from Candidates.
func Select(specs map[string]wuspec.WorkUnit) Batch {
	occupiedLanes := map[string]bool{}
	for _, wu := range specs {
		if wu.Status == wuspec.StatusInProgress {
			occupiedLanes[wu.Lane] = true
		}
	}

	byLane := map[string][]wuspec.WorkUnit{}
	for _, wu := range specs {
		byLane[wu.Lane] = append(byLane[wu.Lane], wu)
	}

	lanes := make([]string, 0, len(byLane))
	for lane := range byLane {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)

	var out Batch
	for _, lane := range lanes {
		if occupiedLanes[lane] {
			for _, wu := range byLane[lane] {
				if wu.Status == wuspec.StatusReady {
					out.Skipped = append(out.Skipped, SkipReason{
						WUID: wu.ID, Reason: SkipReasonLaneOccupied,
						Detail: "lane already has an in_progress claim",
					})
				}
			}
			continue
		}

		candidates := byLane[lane]
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].ID < candidates[j].ID
		})

		var best *wuspec.WorkUnit
		for i := range candidates {
			wu := candidates[i]
			if wu.Status != wuspec.StatusReady {
				continue
			}
			if blocker, ok := unmetDependency(wu, specs); ok {
				out.Skipped = append(out.Skipped, SkipReason{
					WUID: wu.ID, Reason: SkipReasonDependency,
					Detail: "waiting on " + blocker,
				})
				continue
			}
			if best == nil || rank(wu.Priority) < rank(best.Priority) ||
				(rank(wu.Priority) == rank(best.Priority) && wu.ID < best.ID) {
				chosen := wu
				best = &chosen
			}
		}
		if best != nil {
			out.Candidates = append(out.Candidates, *best)
		}
	}
	return out
}

// unmetDependency returns the first dependency of wu that is not StatusDone.
func unmetDependency(wu wuspec.WorkUnit, specs map[string]wuspec.WorkUnit) (string, bool) {
	for _, depID := range wu.Dependencies {
		dep, ok := specs[depID]
		if !ok || dep.Status != wuspec.StatusDone {
			return depID, true
		}
	}
	return "", false
}

func rank(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return len(priorityRank)
}
