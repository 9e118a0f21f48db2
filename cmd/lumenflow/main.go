// cmd/lumenflow/main.go
//
// Entry point for the lumenflow CLI: a verb dispatcher over the Lifecycle
// Coordinator (spec.md §4.6). Flag-parsing idiom (per-verb flag.FlagSet,
// die() for fatal usage errors) grounded on cmd/module-runner/main.go, which
// is the teacher's own closest analog to a verb-style CLI entry point.
// Unlike cmd/lattice/main.go, this binary never launches a TUI or a tmux
// session by default; it bootstraps a project directly through
// paths.Layout rather than the teacher's .lattice/config.yaml, since
// LumenFlow's own project shape needs no community/workflow/agent config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/lumenflow/lumenflow/internal/autoclaim"
	"github.com/lumenflow/lumenflow/internal/consistency"
	"github.com/lumenflow/lumenflow/internal/coordinator"
	"github.com/lumenflow/lumenflow/internal/eventlog"
	"github.com/lumenflow/lumenflow/internal/gitshell"
	"github.com/lumenflow/lumenflow/internal/indexer"
	"github.com/lumenflow/lumenflow/internal/initiative"
	"github.com/lumenflow/lumenflow/internal/lanelock"
	"github.com/lumenflow/lumenflow/internal/logging"
	"github.com/lumenflow/lumenflow/internal/microwt"
	"github.com/lumenflow/lumenflow/internal/paths"
	"github.com/lumenflow/lumenflow/internal/signalbus"
	"github.com/lumenflow/lumenflow/internal/tui"
	"github.com/lumenflow/lumenflow/internal/wuspec"
)

func main() {
	if len(os.Args) < 2 {
		die("usage: lumenflow <create|edit|claim|release|block|unblock|complete|delete|repair|list|watch> [flags]")
	}
	verb := os.Args[1]
	args := os.Args[2:]

	root, err := os.Getwd()
	if err != nil {
		die("determine working directory: %v", err)
	}
	layout := paths.New(root)
	if err := bootstrap(layout); err != nil {
		die("bootstrap project: %v", err)
	}

	logger, err := logging.New(layout, logging.LevelInfo)
	if err != nil {
		die("open log: %v", err)
	}
	defer logger.Close()

	git := gitshell.New()
	sharedBranch := strings.TrimSpace(os.Getenv("LUMENFLOW_SHARED_BRANCH"))
	if sharedBranch == "" {
		sharedBranch = "main"
	}
	transactor := microwt.New(git, layout, root, sharedBranch)
	lanes := lanelock.New(layout)
	coord := coordinator.New(layout, transactor, lanes, root, sharedBranch,
		coordinator.WithLogger(logger),
		coordinator.WithSignalEmitter(signalbus.LogEmitter{Logger: logger}),
	)

	switch verb {
	case "create":
		runCreate(coord, args, logger)
	case "edit":
		runEdit(coord, args, logger)
	case "claim":
		runClaim(coord, layout, git, args, logger)
	case "release":
		runRelease(coord, args, logger)
	case "block":
		runBlock(coord, args, logger)
	case "unblock":
		runUnblock(coord, args, logger)
	case "complete":
		runComplete(coord, args, logger)
	case "delete":
		runDelete(coord, args, logger)
	case "repair":
		runRepair(layout, git, args, logger)
	case "list":
		runList(layout, args)
	case "watch":
		runWatch(root)
	default:
		die("unknown verb %q", verb)
	}
}

// runWatch launches the bubbletea WU backlog board (internal/tui), an
// auto-refreshing alternative to repeated `wu list` calls.
func runWatch(root string) {
	app, err := tui.NewApp(root)
	if err != nil {
		die("watch: %v", err)
	}
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		die("watch: %v", err)
	}
}

// bootstrap ensures layout's directories exist, mirroring config.InitLatticeDir's
// directory-creation role without any of its community/workflow YAML.
func bootstrap(layout *paths.Layout) error {
	for _, dir := range layout.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	*s = append(*s, value)
	return nil
}

func runCreate(coord *coordinator.Coordinator, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	id := fs.String("id", "", "explicit WU id (omit to auto-generate)")
	lane := fs.String("lane", "", "lane name (required)")
	title := fs.String("title", "", "WU title (required)")
	priority := fs.String("priority", "p2", "priority label")
	wuType := fs.String("type", string(wuspec.TypeBug), "feature|bug|refactor|tooling|documentation|process")
	exposure := fs.String("exposure", string(wuspec.ExposureBackendOnly), "ui|api|backend-only|documentation")
	description := fs.String("description", "", "WU description (required)")
	initiativeID := fs.String("initiative", "", "initiative id to attach this WU to")
	strict := fs.Bool("strict", false, "reject the write if spec-lint or the reality check (code_paths/tests exist on disk) produces a warning")
	var acceptance, specRefs stringList
	fs.Var(&acceptance, "acceptance", "acceptance criterion (repeatable)")
	fs.Var(&specRefs, "spec-ref", "spec reference (repeatable; required for type=feature)")
	fs.Parse(args)

	in := coordinator.CreateInput{
		ID:          *id,
		Lane:        *lane,
		Title:       *title,
		Priority:    *priority,
		Type:        wuspec.Type(*wuType),
		Exposure:    wuspec.Exposure(*exposure),
		Description: *description,
		Acceptance:  acceptance,
		SpecRefs:    specRefs,
		Initiative:  *initiativeID,
		Strict:      *strict,
	}
	wu, err := coord.Create(context.Background(), in)
	if err != nil {
		die("create: %v", err)
	}
	logger.Infof("created %s in lane %s", wu.ID, wu.Lane)
	fmt.Printf("created %s (%s)\n", wu.ID, wu.Status)
}

func runEdit(coord *coordinator.Coordinator, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	id := fs.String("id", "", "WU id (required)")
	description := fs.String("description", "", "new description")
	notes := fs.String("notes", "", "new notes")
	worktree := fs.String("worktree", "", "active claim worktree directory (required for in_progress worktree-mode edits)")
	strict := fs.Bool("strict", false, "reject the write if spec-lint or the reality check (code_paths/tests exist on disk) produces a warning")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		die("edit: --id is required")
	}

	in := coordinator.EditInput{Strict: *strict}
	if *description != "" {
		in.Description = description
	}
	if *notes != "" {
		in.Notes = notes
	}
	wu, err := coord.Edit(context.Background(), *id, in, *worktree)
	if err != nil {
		die("edit: %v", err)
	}
	logger.Infof("edited %s", wu.ID)
	fmt.Printf("edited %s\n", wu.ID)
}

func runClaim(coord *coordinator.Coordinator, layout *paths.Layout, git gitshell.Git, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	id := fs.String("id", "", "WU id (omit with --auto to let autoclaim pick one per idle lane)")
	assignee := fs.String("as", "", "assignee name (required)")
	mode := fs.String("mode", string(wuspec.ClaimedModeWorktree), "worktree|branch-pr")
	skipPreflight := fs.Bool("skip-preflight", false, "skip the lane consistency preflight check")
	auto := fs.Bool("auto", false, "claim the highest-priority ready WU in every idle lane instead of one --id")
	fs.Parse(args)
	if strings.TrimSpace(*assignee) == "" {
		die("claim: --as is required")
	}

	if *auto {
		runAutoClaim(coord, layout, git, *assignee, wuspec.ClaimedMode(*mode), *skipPreflight, logger)
		return
	}
	if strings.TrimSpace(*id) == "" {
		die("claim: --id is required unless --auto is set")
	}

	preflight := buildClaimPreflight(layout, git, *skipPreflight)
	wu, err := coord.Claim(context.Background(), *id, *assignee, wuspec.ClaimedMode(*mode), preflight)
	if err != nil {
		if suggestion := suggestWUID(layout, *id); suggestion != "" {
			die("claim: %v (did you mean %s?)", err, suggestion)
		}
		die("claim: %v", err)
	}
	logger.Infof("claimed %s as %s (mode=%s)", wu.ID, wu.AssignedTo, wu.ClaimedMode)
	fmt.Printf("claimed %s\n", wu.ID)
	if wu.WorktreePath != "" {
		fmt.Printf("worktree: %s\n", wu.WorktreePath)
	}
}

// buildClaimPreflight wires claim's optional preflight closure to a dry-run
// consistency check scoped to the claiming lane (spec.md §4.6: claim may
// refuse on an unresolved consistency finding in the lane).
func buildClaimPreflight(layout *paths.Layout, git gitshell.Git, skip bool) func(string) error {
	if skip {
		return nil
	}
	checker := consistency.New(layout, git)
	return func(lane string) error {
		events, err := eventlog.New(layout.EventLogPath(), layout.EventLogLockPath(), "lumenflow-cli").Load()
		if err != nil {
			return fmt.Errorf("claim preflight: load events: %w", err)
		}
		idx := indexer.New()
		if err := idx.Load(events); err != nil {
			return fmt.Errorf("claim preflight: index events: %w", err)
		}
		specs, _ := wuspec.NewStore(layout).LoadAll()
		report, err := checker.Run(idx, specs, true)
		if err != nil {
			return fmt.Errorf("claim preflight: %w", err)
		}
		for _, f := range report.Findings {
			wu, ok := specs[f.WUID]
			if ok && wu.Lane == lane {
				return fmt.Errorf("claim preflight: lane %q has an unresolved finding: %s", lane, f.Detail)
			}
		}
		return nil
	}
}

// runAutoClaim selects the highest-priority ready, dependency-satisfied WU in
// every idle lane (internal/autoclaim) and claims each in turn.
func runAutoClaim(coord *coordinator.Coordinator, layout *paths.Layout, git gitshell.Git, assignee string, mode wuspec.ClaimedMode, skipPreflight bool, logger *logging.Logger) {
	specs, failed := wuspec.NewStore(layout).LoadAll()
	for id, loadErr := range failed {
		logger.Warnf("autoclaim: skipping unreadable WU %s: %v", id, loadErr)
	}
	batch := autoclaim.Select(specs)
	for _, skip := range batch.Skipped {
		logger.Infof("autoclaim: skipped %s (%s): %s", skip.WUID, skip.Reason, skip.Detail)
	}
	if len(batch.Candidates) == 0 {
		fmt.Println("autoclaim: no ready WU available in any idle lane")
		return
	}
	preflight := buildClaimPreflight(layout, git, skipPreflight)
	for _, candidate := range batch.Candidates {
		wu, err := coord.Claim(context.Background(), candidate.ID, assignee, mode, preflight)
		if err != nil {
			logger.Errorf("autoclaim: claim %s failed: %v", candidate.ID, err)
			fmt.Fprintf(os.Stderr, "autoclaim: %s: %v\n", candidate.ID, err)
			continue
		}
		logger.Infof("autoclaim: claimed %s as %s (mode=%s)", wu.ID, wu.AssignedTo, wu.ClaimedMode)
		fmt.Printf("claimed %s (lane %s)\n", wu.ID, wu.Lane)
	}
}

func runRelease(coord *coordinator.Coordinator, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	id := fs.String("id", "", "WU id (required)")
	reason := fs.String("reason", "", "why this WU is being released")
	fs.Parse(args)
	wu, err := coord.Release(context.Background(), *id, *reason)
	if err != nil {
		die("release: %v", err)
	}
	logger.Infof("released %s", wu.ID)
	fmt.Printf("released %s (%s)\n", wu.ID, wu.Status)
}

func runBlock(coord *coordinator.Coordinator, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("block", flag.ExitOnError)
	id := fs.String("id", "", "WU id (required)")
	reason := fs.String("reason", "", "why this WU is blocked (required)")
	fs.Parse(args)
	wu, err := coord.Block(context.Background(), *id, *reason)
	if err != nil {
		die("block: %v", err)
	}
	logger.Infof("blocked %s: %s", wu.ID, *reason)
	fmt.Printf("blocked %s\n", wu.ID)
}

func runUnblock(coord *coordinator.Coordinator, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("unblock", flag.ExitOnError)
	id := fs.String("id", "", "WU id (required)")
	fs.Parse(args)
	wu, err := coord.Unblock(context.Background(), *id)
	if err != nil {
		die("unblock: %v", err)
	}
	logger.Infof("unblocked %s", wu.ID)
	fmt.Printf("unblocked %s (%s)\n", wu.ID, wu.Status)
}

func runComplete(coord *coordinator.Coordinator, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	id := fs.String("id", "", "WU id (required)")
	fs.Parse(args)
	wu, err := coord.Complete(context.Background(), *id)
	if err != nil {
		die("complete: %v", err)
	}
	logger.Infof("completed %s", wu.ID)
	fmt.Printf("completed %s\n", wu.ID)
}

func runDelete(coord *coordinator.Coordinator, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "WU id (required)")
	force := fs.Bool("force", false, "required to delete an in_progress WU")
	fs.Parse(args)
	if err := coord.Delete(context.Background(), *id, *force); err != nil {
		die("delete: %v", err)
	}
	logger.Infof("deleted %s", *id)
	fmt.Printf("deleted %s\n", *id)
}

func runRepair(layout *paths.Layout, git gitshell.Git, args []string, logger *logging.Logger) {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", true, "report findings without writing repairs")
	fs.Parse(args)

	events, err := eventlog.New(layout.EventLogPath(), layout.EventLogLockPath(), "lumenflow-cli").Load()
	if err != nil {
		die("repair: load events: %v", err)
	}
	idx := indexer.New()
	if err := idx.Load(events); err != nil {
		die("repair: index events: %v", err)
	}
	specs, failed := wuspec.NewStore(layout).LoadAll()
	for id, loadErr := range failed {
		logger.Warnf("repair: skipping unreadable WU %s: %v", id, loadErr)
	}
	checker := consistency.New(layout, git)
	report, err := checker.Run(idx, specs, *dryRun)
	if err != nil {
		die("repair: %v", err)
	}
	for _, f := range report.Findings {
		fmt.Printf("finding %s: %s (%s)\n", f.Code, f.Detail, f.WUID)
	}
	for _, f := range report.Repaired {
		fmt.Printf("repaired %s: %s\n", f.Code, f.WUID)
		logger.Infof("repaired %s for %s", f.Code, f.WUID)
	}
	if len(report.Findings) == 0 {
		fmt.Println("no findings")
	}
}

// suggestWUID fuzzy-matches query against every known WU id, returning the
// single best match (spec.md names no "did you mean" behavior; this is a
// supplemented convenience that calls sahilm/fuzzy directly on WU ids).
func suggestWUID(layout *paths.Layout, query string) string {
	specs, _ := wuspec.NewStore(layout).LoadAll()
	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	sortIDs(ids)
	matches := fuzzy.Find(query, ids)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

func runList(layout *paths.Layout, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	lane := fs.String("lane", "", "filter by lane")
	status := fs.String("status", "", "filter by status")
	like := fs.String("like", "", "fuzzy-match titles (ranked by best match first)")
	initiativeID := fs.String("initiative", "", "show a single initiative's phase/status summary instead of WUs")
	fs.Parse(args)

	if *initiativeID != "" {
		store := initiative.NewStore(layout.InitiativesDir())
		in, err := store.Load(*initiativeID)
		if err != nil {
			die("list: %v", err)
		}
		fmt.Printf("%s %q status=%s phases=%d wus=%d\n", in.ID, in.Name, in.Status, len(in.Phases), len(in.WUs))
		return
	}

	specs, failed := wuspec.NewStore(layout).LoadAll()
	for id, loadErr := range failed {
		fmt.Fprintf(os.Stderr, "skipping unreadable WU %s: %v\n", id, loadErr)
	}

	if *like != "" {
		ids := make([]string, 0, len(specs))
		titleByID := map[string]string{}
		for id, wu := range specs {
			ids = append(ids, id)
			titleByID[id] = wu.Title
		}
		titles := make([]string, len(ids))
		for i, id := range ids {
			titles[i] = titleByID[id]
		}
		for _, m := range fuzzy.Find(*like, titles) {
			id := ids[m.Index]
			wu := specs[id]
			fmt.Printf("%-10s %-10s %-14s %s\n", wu.ID, wu.Lane, wu.Status, wu.Title)
		}
		return
	}

	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for _, id := range ids {
		wu := specs[id]
		if *lane != "" && wu.Lane != *lane {
			continue
		}
		if *status != "" && string(wu.Status) != *status {
			continue
		}
		fmt.Printf("%-10s %-10s %-14s %s\n", wu.ID, wu.Lane, wu.Status, wu.Title)
	}
}

func sortIDs(ids []string) {
	// Numeric-aware so "WU-2" sorts before "WU-10"; matches
	// projection.sortByPriorityThenID's tie-break rule without importing an
	// unexported helper from another package.
	less := func(a, b string) bool {
		na, oka := trailingNumber(a)
		nb, okb := trailingNumber(b)
		if oka && okb && strings.TrimSuffix(a, strconv.Itoa(na)) == strings.TrimSuffix(b, strconv.Itoa(nb)) {
			return na < nb
		}
		return a < b
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && less(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func trailingNumber(s string) (int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}
