package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/gigboard/feedwatch/internal/logtail"
	"github.com/gigboard/feedwatch/internal/prefs"
)

// resizePane fits the lower pane's viewport to the window.
func (m *Model) resizePane() {
	_, paneHeight := m.layout()
	w, h := max(m.width-2, 1), max(paneHeight-2, 1)
	if m.viewport.Width == 0 {
		m.viewport = viewport.New(w, h)
		return
	}
	m.viewport.Width = w
	m.viewport.Height = h
}

// refreshPane re-renders the lower pane's content.
func (m *Model) refreshPane() {
	if !m.ready {
		return
	}
	m.resizePane()
	if m.pane == prefs.PaneLogs {
		m.viewport.SetContent(m.renderLogContent())
	} else {
		m.viewport.SetContent(m.renderActivityContent())
	}
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderPane(height int) string {
	title := "Activity"
	if m.pane == prefs.PaneLogs {
		title = "Log"
		if m.logPath != "" {
			title = "Log " + truncateMiddle(m.logPath, max(m.width/2, 10))
		}
	}
	if !m.follow {
		title += " (paused)"
	}
	return m.renderTitledBox(title, m.viewport.View(), max(m.width, 20), height, true)
}

func (m Model) renderActivityContent() string {
	bg := NewBgStyle(m.theme.FocusBg)
	styles := m.theme.Styles()
	if len(m.snapshot.Activity) == 0 {
		return bg.Render("No activity yet", styles.MutedText)
	}

	lines := make([]string, 0, len(m.snapshot.Activity))
	for _, a := range m.snapshot.Activity {
		kindStyle := styles.AccentText
		switch a.Kind {
		case "poll":
			kindStyle = styles.WarningText
		case "reconnect":
			kindStyle = styles.InfoText
		case "state":
			kindStyle = styles.Text.Bold(true)
		}
		lines = append(lines,
			bg.Render(a.At.Format("15:04:05"), styles.FaintText)+bg.Space()+
				bg.Render(padRight(a.Kind, 9), kindStyle)+bg.Space()+
				bg.Render(a.Message, styles.Text))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderLogContent() string {
	bg := NewBgStyle(m.theme.FocusBg)
	styles := m.theme.Styles()
	if m.logErr != nil {
		return bg.Render(fmt.Sprintf("Cannot read log: %v", m.logErr), styles.DangerText)
	}
	if len(m.logLines) == 0 {
		return bg.Render("Log is empty", styles.MutedText)
	}

	lines := make([]string, 0, len(m.logLines))
	for _, raw := range m.logLines {
		lines = append(lines, m.formatLogLine(logtail.Parse(raw), bg, styles))
	}
	return strings.Join(lines, "\n")
}

func (m Model) formatLogLine(line logtail.Line, bg BgStyle, styles Styles) string {
	if line.Level == "" {
		return bg.Render(line.Message, styles.Text)
	}
	levelStyle := styles.MutedText
	switch line.Level {
	case "INFO":
		levelStyle = styles.SuccessText
	case "WARN":
		levelStyle = styles.WarningText.Bold(true)
	case "ERROR":
		levelStyle = styles.DangerText
	case "DEBUG":
		levelStyle = styles.InfoText
	}

	ts := line.Time
	if len(ts) >= 19 {
		ts = ts[11:19] // HH:MM:SS of an RFC 3339 timestamp
	}
	out := bg.Render(ts, styles.FaintText) + bg.Space() +
		bg.Render(padRight(line.Level, 5), levelStyle) + bg.Space() +
		bg.Render(line.Message, styles.Text)
	if line.Attrs != "" {
		out += bg.Space() + bg.Render(line.Attrs, lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Muted)))
	}
	return out
}
