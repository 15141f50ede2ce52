package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/cloudrift-ai/inferline/pkg/client"
)

func newProviderTable() table.Model {
	columns := []table.Column{
		{Title: "PROVIDER", Width: 24},
		{Title: "MODELS", Width: 40},
		{Title: "KINDS", Width: 24},
		{Title: "LAST SEEN", Width: 12},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(6),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#E5C07B"))
	t.SetStyles(styles)
	return t
}

func providerRows(providers []client.ProviderInfo) []table.Row {
	rows := make([]table.Row, 0, len(providers))
	for _, p := range providers {
		ago := time.Since(p.LastSeen).Round(time.Second)
		rows = append(rows, table.Row{
			p.ProviderID,
			truncate(strings.Join(p.SupportedModels, ", "), 40),
			truncate(strings.Join(p.SupportedKinds, ", "), 24),
			fmt.Sprintf("%s ago", ago),
		})
	}
	return rows
}

func renderProviders(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4

	title := theme.Title.Render(fmt.Sprintf("PROVIDERS (%d)", count))
	if count == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No active providers"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, t.View())
	return theme.Border.Width(innerWidth).Render(content)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
