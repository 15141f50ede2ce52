package watch

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cloudrift-ai/inferline/internal/events"
	"github.com/cloudrift-ai/inferline/pkg/client"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg client.Health

type statsMsg struct {
	stats     client.Stats
	providers []client.ProviderInfo
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the SSE /v1/events endpoint and feeds events
// into the provided channel. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		httpClient := &http.Client{}
		req, err := http.NewRequest("GET", apiURL+"/v1/events", nil)
		if err != nil {
			return errMsg(err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current struct {
			id   int64
			typ  string
			data string
		}

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if current.data != "" {
					ch <- events.Event{
						ID:   current.id,
						Type: current.typ,
						At:   time.Now(),
						Data: []byte(current.data),
					}
					current = struct {
						id   int64
						typ  string
						data string
					}{}
				}
				continue
			}

			if strings.HasPrefix(line, "id: ") {
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.id = id
				}
			} else if strings.HasPrefix(line, "event: ") {
				current.typ = line[7:]
			} else if strings.HasPrefix(line, "data: ") {
				current.data = line[6:]
			}
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := client.New(apiURL).Health(ctx)
	if err != nil {
		return errMsg(err)
	}
	return healthMsg(*h)
}

// fetchStats queries queue stats and the provider list together.
func fetchStats(apiURL string) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := client.New(apiURL)
	stats, err := c.Stats(ctx)
	if err != nil {
		return errMsg(err)
	}
	providers, err := c.Providers(ctx)
	if err != nil {
		return errMsg(err)
	}
	return statsMsg{stats: *stats, providers: providers}
}
