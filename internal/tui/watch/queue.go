package watch

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloudrift-ai/inferline/pkg/client"
)

func renderQueue(stats client.Stats, theme Theme, width int) string {
	innerWidth := width - 4

	line := fmt.Sprintf(" %s %d   %s %d   %s %d   %s %d",
		theme.StatusPending.Render("pending"), stats.Pending,
		theme.StatusProcessing.Render("processing"), stats.Processing,
		theme.StatusOK.Render("completed"), stats.Completed,
		theme.StatusFailed.Render("failed"), stats.Failed,
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("QUEUE"),
		line,
	)
	return theme.Border.Width(innerWidth).Render(content)
}
