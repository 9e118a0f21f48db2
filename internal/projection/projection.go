// internal/projection/projection.go
//
// Projection Generator (spec.md §4.8): deterministic backlog.md/status.md
// rendering from the State Indexer. Front-matter envelope shape grounded on
// internal/artifact/frontmatter.go's ParseFrontMatter/WriteFrontMatter,
// generalized from a single `lattice:` key to a `lumenflow:` section
// descriptor list. Deterministic sort follows the teacher's pervasive
// sort.Strings/sort.SliceStable habit.

package projection

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lumenflow/lumenflow/internal/indexer"
	"github.com/lumenflow/lumenflow/internal/wuspec"
	"gopkg.in/yaml.v3"
)

// Section describes one heading of a generated projection document and how
// its entries are ordered.
type Section struct {
	Heading string `yaml:"heading"`
	// Insert names an ordering strategy: "top", "bottom", or "sorted". The
	// generator only writes it into the front matter; section order is
	// fixed, and entries within every section are sorted.
	Insert string `yaml:"insert"`
}

// envelope is the `lumenflow:` front-matter block at the top of a generated
// projection document.
type envelope struct {
	Lumenflow struct {
		Sections []Section `yaml:"sections"`
	} `yaml:"lumenflow"`
}

// defaultBacklogSections groups WUs by status for tasks/backlog.md.
var defaultBacklogSections = []Section{
	{Heading: "Ready", Insert: "top"},
	{Heading: "In Progress", Insert: "top"},
	{Heading: "Blocked", Insert: "top"},
	{Heading: "Done", Insert: "bottom"},
}

// Generate renders backlog.md and status.md from the full set of WU
// documents. Grouping is sourced from each WU's own `status`/`lane` field
// rather than the State Indexer: a freshly created WU has no event yet (no
// event is appended on create) and must still appear under Ready, which an
// indexer-only grouping would miss. idx is accepted for symmetry with the
// rest of the Coordinator's read path and reserved for projections that do
// need derived event history (e.g. a future "last checkpoint" column).
// Output is byte-for-byte deterministic: WU IDs within a section sort by
// (priority, then numeric-aware ID).
func Generate(idx *indexer.Indexer, specs map[string]wuspec.WorkUnit) (backlog, status []byte, err error) {
	backlog, err = generateBacklog(specs)
	if err != nil {
		return nil, nil, err
	}
	status, err = generateStatus(specs)
	if err != nil {
		return nil, nil, err
	}
	return backlog, status, nil
}

func idsByStatus(specs map[string]wuspec.WorkUnit, status wuspec.Status) []string {
	var ids []string
	for id, wu := range specs {
		if wu.Status == status {
			ids = append(ids, id)
		}
	}
	return ids
}

func idsByLane(specs map[string]wuspec.WorkUnit, lane string) []string {
	var ids []string
	for id, wu := range specs {
		if wu.Lane == lane {
			ids = append(ids, id)
		}
	}
	return ids
}

func generateBacklog(specs map[string]wuspec.WorkUnit) ([]byte, error) {
	env := envelope{}
	env.Lumenflow.Sections = defaultBacklogSections
	meta, err := yaml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("projection: marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(meta, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString("# Backlog\n\n")

	statusGroups := []struct {
		heading string
		status  wuspec.Status
	}{
		{"Ready", wuspec.StatusReady},
		{"In Progress", wuspec.StatusInProgress},
		{"Blocked", wuspec.StatusBlocked},
		{"Done", wuspec.StatusDone},
	}
	for _, g := range statusGroups {
		ids := idsByStatus(specs, g.status)
		buf.WriteString(fmt.Sprintf("## %s\n\n", g.heading))
		if len(ids) == 0 {
			buf.WriteString("_none_\n\n")
			continue
		}
		sortByPriorityThenID(ids, specs)
		for _, id := range ids {
			wu := specs[id]
			buf.WriteString(fmt.Sprintf("- `%s` %s (lane: %s)\n", id, wu.Title, wu.Lane))
		}
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

func generateStatus(specs map[string]wuspec.WorkUnit) ([]byte, error) {
	env := envelope{}
	env.Lumenflow.Sections = []Section{{Heading: "Lanes", Insert: "sorted"}}
	meta, err := yaml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("projection: marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(meta, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString("# Status\n\n")

	lanes := map[string]bool{}
	for _, wu := range specs {
		lanes[wu.Lane] = true
	}
	laneNames := make([]string, 0, len(lanes))
	for l := range lanes {
		laneNames = append(laneNames, l)
	}
	sort.Strings(laneNames)

	for _, lane := range laneNames {
		ids := idsByLane(specs, lane)
		sortByPriorityThenID(ids, specs)
		buf.WriteString(fmt.Sprintf("## %s\n\n", lane))
		for _, id := range ids {
			wu := specs[id]
			buf.WriteString(fmt.Sprintf("- `%s` %s — %s\n", id, wu.Title, wu.Status))
		}
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// sortByPriorityThenID sorts ids in place by (priority ascending, then
// numeric-aware ID) using specs for the lookup, matching the stable-sort
// idiom used throughout the teacher's orchestrator/roster.go.
func sortByPriorityThenID(ids []string, specs map[string]wuspec.WorkUnit) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, pj := specs[ids[i]].Priority, specs[ids[j]].Priority
		if pi != pj {
			return pi < pj
		}
		a, b := ids[i], ids[j]
		pa, pb := strings.TrimRight(a, "0123456789"), strings.TrimRight(b, "0123456789")
		if pa == pb {
			na, errA := strconv.Atoi(a[len(pa):])
			nb, errB := strconv.Atoi(b[len(pb):])
			if errA == nil && errB == nil && na != nb {
				return na < nb
			}
		}
		return strings.Compare(a, b) < 0
	})
}
