// internal/tui/app.go
//
// Terminal dashboard for `wu watch`. It follows The Elm Architecture, same
// as the teacher's own TUI:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: Timer/Input -> Message -> Update -> New Model -> View -> Screen
//
// Retargeted from the teacher's workflow/session board (communities, core
// agents, tmux windows) to a WU backlog board: lanes down the left, the
// selected lane's WUs on the right, auto-refreshing off the WU Spec Store.

package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lumenflow/lumenflow/internal/paths"
	"github.com/lumenflow/lumenflow/internal/wuspec"
)

const boardRefreshInterval = 3 * time.Second

// boardRefreshMsg carries a freshly reloaded backlog snapshot into Update.
type boardRefreshMsg struct {
	lanes map[string][]wuspec.WorkUnit
	err   error
}

type laneItem struct {
	name  string
	count int
}

func (i laneItem) Title() string       { return i.name }
func (i laneItem) Description() string { return fmt.Sprintf("%d WU(s)", i.count) }
func (i laneItem) FilterValue() string { return i.name }

// App is the WU watch board's bubbletea model.
type App struct {
	layout *paths.Layout
	lanes  list.Model

	byLane   map[string][]wuspec.WorkUnit
	laneKeys []string
	err      error
	loaded   bool
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// NewApp builds a watch-board model rooted at projectDir.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	delegate := list.NewDefaultDelegate()
	lanes := list.New(nil, delegate, 0, 0)
	lanes.Title = "Lanes"
	lanes.SetShowHelp(false)

	a := &App{
		layout: paths.New(projectDir),
		lanes:  lanes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init kicks off the first load and schedules periodic refresh.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.fetchSnapshot(), a.scheduleRefresh())
}

func (a *App) fetchSnapshot() tea.Cmd {
	return func() tea.Msg {
		specs, _ := wuspec.NewStore(a.layout).LoadAll()
		byLane := map[string][]wuspec.WorkUnit{}
		for _, wu := range specs {
			byLane[wu.Lane] = append(byLane[wu.Lane], wu)
		}
		for lane := range byLane {
			sort.Slice(byLane[lane], func(i, j int) bool {
				return byLane[lane][i].ID < byLane[lane][j].ID
			})
		}
		return boardRefreshMsg{lanes: byLane}
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return a.fetchSnapshot()()
	})
}

// Update handles incoming messages per the Elm architecture.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.lanes.SetSize(m.Width/3, m.Height-2)
		return a, nil
	case tea.KeyMsg:
		switch m.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		}
	case boardRefreshMsg:
		if m.err != nil {
			a.err = m.err
			return a, a.scheduleRefresh()
		}
		a.byLane = m.lanes
		a.laneKeys = make([]string, 0, len(m.lanes))
		for lane := range m.lanes {
			a.laneKeys = append(a.laneKeys, lane)
		}
		sort.Strings(a.laneKeys)
		items := make([]list.Item, 0, len(a.laneKeys))
		for _, lane := range a.laneKeys {
			items = append(items, laneItem{name: lane, count: len(m.lanes[lane])})
		}
		a.lanes.SetItems(items)
		a.loaded = true
		return a, a.scheduleRefresh()
	}

	var cmd tea.Cmd
	a.lanes, cmd = a.lanes.Update(msg)
	return a, cmd
}

// View renders the current board.
func (a *App) View() string {
	if a.err != nil {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")).Render(fmt.Sprintf("watch: %v", a.err))
	}
	if !a.loaded {
		return "loading backlog...\n"
	}

	lanePanel := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		Padding(0, 1).
		Render(a.lanes.View())

	detail := "select a lane"
	if item, ok := a.lanes.SelectedItem().(laneItem); ok {
		var lines []string
		lines = append(lines, lipgloss.NewStyle().Bold(true).Render(item.name))
		for _, wu := range a.byLane[item.name] {
			lines = append(lines, fmt.Sprintf("  %-10s %-14s %s", wu.ID, wu.Status, wu.Title))
		}
		detail = strings.Join(lines, "\n")
	}
	detailPanel := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		Padding(0, 1).
		Render(detail)

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render("q to quit · refreshes every 3s")

	return lipgloss.JoinHorizontal(lipgloss.Top, lanePanel, detailPanel) + "\n" + footer
}
