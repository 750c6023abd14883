package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gigboard/feedwatch/internal/changefeed"
)

// feedLabel returns the header chip text and its status color key.
func (m Model) feedLabel() (string, string) {
	feed := m.snapshot.Feed
	switch feed.State {
	case changefeed.StateConnected:
		return "LIVE", "connected"
	case changefeed.StateConnecting:
		return "CONNECTING", "connecting"
	case changefeed.StateDisconnected:
		if m.snapshot.IsOffline() {
			return "POLLING", "polling"
		}
		return "RECONNECTING", "disconnected"
	default:
		return "IDLE", "uninitialized"
	}
}

// renderHeader renders the status bar.
func (m Model) renderHeader() string {
	styles := m.theme.Styles()
	bg := NewBgStyle(m.theme.Surface)
	sep := bg.Spaces(2)
	compact := m.width < 100
	feed := m.snapshot.Feed

	label, statusKey := m.feedLabel()
	parts := []string{
		bg.Render("feedwatch", styles.Logo),
		styles.StatusStyle(statusKey).Render(label),
	}

	if m.config != nil {
		parts = append(parts,
			bg.Render("channel", styles.FaintText)+bg.Space()+bg.Render(m.config.Channel, styles.Text))
		if feed.State == changefeed.StateDisconnected && m.config.Fallback > 0 {
			parts = append(parts,
				bg.Render("every", styles.FaintText)+bg.Space()+bg.Render(m.config.Fallback.String(), styles.WarningText))
		}
	}

	counter := func(name, short string, n int, style lipgloss.Style) string {
		if compact {
			name = short
		}
		return bg.Render(name, styles.MutedText) + bg.Space() + bg.Render(fmt.Sprintf("%d", n), style)
	}
	parts = append(parts,
		counter("events", "E", feed.Events, styles.AccentText),
		counter("polls", "P", feed.FallbackTicks, styles.WarningText),
		counter("reconnects", "R", feed.Reconnects, styles.InfoText),
	)

	if !feed.LastEventAt.IsZero() && !compact {
		parts = append(parts,
			bg.Render("last", styles.FaintText)+bg.Space()+
				bg.Render(feed.LastEventTable, styles.Text)+bg.Space()+
				bg.Render(formatAgo(m.now(), feed.LastEventAt), styles.MutedText))
	}

	if feed.LastError != nil && feed.State != changefeed.StateConnected {
		maxErr := 60
		if compact {
			maxErr = 30
		}
		parts = append(parts, bg.Render(truncate(feed.LastError.Error(), maxErr), styles.DangerText))
	}

	return styles.Header.Width(m.width).Render(strings.Join(parts, sep))
}

// renderFooter renders the key hints, or a transient message.
func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	bg := NewBgStyle(m.theme.Surface)

	if m.flash != "" {
		return styles.Footer.Width(m.width).Render(bg.Render(m.flash, styles.AccentText))
	}

	hints := make([]string, 0, len(m.keys.ShortHelp()))
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		hints = append(hints, bg.Render(h.Key, styles.WarningText)+bg.Space()+bg.Render(h.Desc, styles.MutedText))
	}
	updated := ""
	if !m.lastUpdated.IsZero() {
		updated = bg.Spaces(2) + bg.Render("updated "+m.lastUpdated.Format("15:04:05"), styles.FaintText)
	}
	return styles.Footer.Width(m.width).Render(strings.Join(hints, bg.Spaces(2)) + updated)
}
