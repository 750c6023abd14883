package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gigboard/feedwatch/internal/querycache"
)

const (
	colRows    = 6
	colState   = 9
	colCount   = 6
	colUpdated = 8
)

// queryStatus classifies a cache entry for display.
func queryStatus(e querycache.Entry) string {
	switch {
	case e.Fetching:
		return "fetching"
	case e.LastError != nil:
		return "error"
	case e.Stale:
		return "stale"
	case e.Fetches == 0:
		return "pending"
	default:
		return "fresh"
	}
}

// renderQueries renders the cached query table.
func (m Model) renderQueries(height int) string {
	title := fmt.Sprintf("Queries (%d)", len(m.snapshot.Queries))
	width := max(m.width, 20)
	inner := width - 2
	bg := NewBgStyle(m.theme.SurfaceAlt)
	styles := m.theme.Styles()

	if !m.snapshot.HasQueries {
		return m.renderTitledBox(title, bg.Render("Waiting for first fetch...", styles.MutedText), width, height, false)
	}

	keyWidth := max(inner-colRows-colState-2*colCount-colUpdated-6, 8)
	header := padRight("KEY", keyWidth) + " " +
		padLeft("ROWS", colRows) + " " +
		padRight("STATE", colState) + " " +
		padLeft("INV", colCount) + " " +
		padLeft("FETCH", colCount) + " " +
		padLeft("UPDATED", colUpdated)
	lines := []string{bg.Render(header, styles.FaintText)}

	now := m.now()
	for _, e := range m.snapshot.Queries {
		status := queryStatus(e)
		statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.StatusColor(status)))
		row := bg.Render(padRight(truncate(e.Label(), keyWidth), keyWidth), styles.Text) + bg.Space() +
			bg.Render(padLeft(fmt.Sprintf("%d", len(e.Rows)), colRows), styles.Text) + bg.Space() +
			bg.Render(padRight(status, colState), statusStyle) + bg.Space() +
			bg.Render(padLeft(fmt.Sprintf("%d", e.Invalidations), colCount), styles.MutedText) + bg.Space() +
			bg.Render(padLeft(fmt.Sprintf("%d", e.Fetches), colCount), styles.MutedText) + bg.Space() +
			bg.Render(padLeft(formatAgo(now, e.FetchedAt), colUpdated), styles.MutedText)
		if e.LastError != nil && inner > keyWidth+40 {
			row += bg.Space() + bg.Render(truncate(e.LastError.Error(), inner/3), styles.DangerText)
		}
		lines = append(lines, row)
	}
	return m.renderTitledBox(title, strings.Join(lines, "\n"), width, height, false)
}
