package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/gigboard/feedwatch/internal/config"
	"github.com/gigboard/feedwatch/internal/logtail"
	"github.com/gigboard/feedwatch/internal/prefs"
	"github.com/gigboard/feedwatch/internal/state"
)

const (
	defaultRefresh     = time.Second
	logRefreshInterval = 2 * time.Second
	logTailLines       = 400
	flashDuration      = 4 * time.Second
)

// Resyncer forces every cached query to refetch.
type Resyncer interface {
	InvalidateAll() int
}

// Options configures the UI.
type Options struct {
	Store     *state.Store
	Resyncer  Resyncer
	Config    *config.Config
	Refresh   time.Duration
	ThemeName string
	Pane      string // prefs.PaneActivity or prefs.PaneLogs
	PrefsPath string
	LogPath   string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Model is the root application state for Bubble Tea.
type Model struct {
	// Configuration
	store     *state.Store
	resync    Resyncer
	config    *config.Config
	prefsPath string
	logPath   string
	refresh   time.Duration
	keys      keyMap
	now       func() time.Time

	// UI state
	theme    Theme
	pane     string
	width    int
	height   int
	ready    bool
	showHelp bool
	flash    string
	flashAt  time.Time

	// Data state
	snapshot    state.Snapshot
	lastUpdated time.Time

	// Lower pane
	viewport    viewport.Model
	follow      bool
	logLines    []string
	logErr      error
	lastLogRead time.Time
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	pane := opts.Pane
	if pane != prefs.PaneLogs {
		pane = prefs.PaneActivity
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return Model{
		store:     opts.Store,
		resync:    opts.Resyncer,
		config:    opts.Config,
		prefsPath: opts.PrefsPath,
		logPath:   opts.LogPath,
		refresh:   refresh,
		keys:      DefaultKeyMap(),
		now:       now,
		theme:     GetTheme(opts.ThemeName),
		pane:      pane,
		follow:    true,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.refresh)}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.pane == prefs.PaneLogs {
		cmds = append(cmds, readLogCmd(m.logPath))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.refreshPane()
		return m, nil

	case tickMsg:
		return m.handleTick()

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		m.lastUpdated = m.now()
		m.refreshPane()
		return m, nil

	case logTailMsg:
		m.logLines = msg.lines
		m.logErr = msg.err
		m.lastLogRead = m.now()
		m.refreshPane()
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.savePrefs()
		m.refreshPane()
		return m, nil

	case key.Matches(msg, m.keys.Resync):
		m.forceResync()
		return m, nil

	case key.Matches(msg, m.keys.TogglePane):
		if m.pane == prefs.PaneLogs {
			m.pane = prefs.PaneActivity
		} else {
			m.pane = prefs.PaneLogs
		}
		m.follow = true
		m.savePrefs()
		m.refreshPane()
		if m.pane == prefs.PaneLogs {
			return m, readLogCmd(m.logPath)
		}
		return m, nil

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		m.follow = false
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		m.follow = true
		return m, nil

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down),
		key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()
		return m, cmd
	}

	return m, nil
}

func (m *Model) forceResync() {
	if m.resync == nil {
		return
	}
	n := m.resync.InvalidateAll()
	m.flash = fmt.Sprintf("resync: %d queries invalidated", n)
	m.flashAt = m.now()
	if m.store != nil {
		m.store.Note("resync", m.flash)
	}
}

func (m Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	_ = prefs.Save(m.prefsPath, prefs.Prefs{Theme: m.theme.Name, Pane: m.pane})
}

func (m Model) handleTick() (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{tickCmd(m.refresh)}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.pane == prefs.PaneLogs && m.follow && m.now().Sub(m.lastLogRead) >= logRefreshInterval {
		cmds = append(cmds, readLogCmd(m.logPath))
	}
	if m.flash != "" && m.now().Sub(m.flashAt) > flashDuration {
		m.flash = ""
	}
	return m, tea.Batch(cmds...)
}

func (m Model) renderMain() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	queriesHeight, paneHeight := m.layout()
	b.WriteString(m.renderQueries(queriesHeight))
	b.WriteString("\n")
	b.WriteString(m.renderPane(paneHeight))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// layout splits the rows between the header, the two boxes and the footer.
func (m Model) layout() (queriesHeight, paneHeight int) {
	content := max(m.height-2, 6)
	want := len(m.snapshot.Queries) + 3 // borders and column header
	queriesHeight = min(max(want, 4), content/2)
	return queriesHeight, content - queriesHeight
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

type logTailMsg struct {
	lines []string
	err   error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

func readLogCmd(path string) tea.Cmd {
	return func() tea.Msg {
		if strings.TrimSpace(path) == "" {
			return logTailMsg{}
		}
		lines, err := logtail.Read(path, logTailLines)
		return logTailMsg{lines: lines, err: err}
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if opts.Store == nil {
		return fmt.Errorf("ui requires a data store")
	}
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
