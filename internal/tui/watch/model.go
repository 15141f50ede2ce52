package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cloudrift-ai/inferline/internal/events"
	"github.com/cloudrift-ai/inferline/pkg/client"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	// State
	health    HealthState
	stats     client.Stats
	providers []client.ProviderInfo
	eventLog  []events.Event

	providerTable table.Model

	// Live indicators
	ticker  Ticker
	spinner Spinner

	theme Theme

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	return &Model{
		apiURL:        apiURL,
		eventLog:      make([]events.Event, 0),
		hubEvents:     make(chan events.Event, 100),
		providerTable: newProviderTable(),
		ticker:        NewTicker(),
		spinner:       NewSpinner(),
		theme:         NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchStats(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.providerTable, cmd = m.providerTable.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// Event log is newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}

		m.spinner.OnEvent()
		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.ActiveProviders = msg.ActiveProviders
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case statsMsg:
		m.stats = msg.stats
		m.providers = msg.providers
		m.providerTable.SetRows(providerRows(msg.providers))

		return m, tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
			return fetchStats(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// Reconnect after a short delay; the existing receiveNextEvent
		// goroutine is still waiting on the channel and will pick up
		// events from the new subscription.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		// Retry health in 5s
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to broker..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width)
	queue := renderQueue(m.stats, m.theme, m.width)
	providers := renderProviders(m.providerTable, len(m.providers), m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate Providers")

	parts := []string{header, queue, providers, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
