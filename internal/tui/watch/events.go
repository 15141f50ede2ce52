package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloudrift-ai/inferline/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".completed"):
		typeStyle = theme.StatusOK
	case strings.HasSuffix(e.Type, ".failed"):
		typeStyle = theme.StatusFailed
	case strings.HasSuffix(e.Type, ".claimed"):
		typeStyle = theme.StatusProcessing
	case strings.HasPrefix(e.Type, "provider"):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	desc := extractEventDesc(e)

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if requestID, ok := data["request_id"].(string); ok {
		if len(requestID) > 8 {
			requestID = requestID[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", requestID))
	}

	if provider, ok := data["provider_id"].(string); ok {
		parts = append(parts, provider)
	}

	if model, ok := data["model"].(string); ok && model != "" {
		parts = append(parts, model)
	}

	if status, ok := data["status"].(string); ok {
		parts = append(parts, status)
	}

	if errMsg, ok := data["error"].(string); ok && errMsg != "" {
		parts = append(parts, errMsg)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
