package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dgw/internal/events"
)

// headerHeight is the rendered height of the header box plus margins.
const headerHeight = 10

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	status   StatusState
	tally    Tally
	eventLog []events.Event // newest first
	lastID   int64

	ticker  Ticker
	spinner Spinner
	log     viewport.Model
	theme   Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model polling apiURL with apiKey.
func New(apiURL, apiKey string) *Model {
	log := viewport.Model{}
	log.KeyMap = viewport.DefaultKeyMap()
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		log:       log,
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchStatus(m.apiURL, m.apiKey) },
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
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = max(msg.Width-8, 10)
		m.log.Height = max(msg.Height-headerHeight-6, 3)
		m.log.SetContent(renderEventLines(m.eventLog, m.theme))

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.tally.Observe(e)
		m.applyEvent(e)
		m.spinner.OnEvent(time.Now())
		m.log.SetContent(renderEventLines(m.eventLog, m.theme))
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case statusMsg:
		m.status = StatusState{
			Connection:      msg.Connection,
			RecoveryPending: msg.RecoveryPending,
			Maintenance:     msg.Maintenance,
			Buffered:        msg.Buffered,
			Dropped:         msg.Dropped,
			Debug:           msg.Debug,
			UptimeSeconds:   msg.UptimeSeconds,
			Reachable:       true,
			LastCheck:       time.Now(),
		}
		if msg.MaintenanceUntil != nil {
			m.status.MaintenanceUntil = *msg.MaintenanceUntil
		}
		m.lastError = ""
		return m, m.pollStatus(5 * time.Second)

	case sseDisconnectedMsg:
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// The pending receiveNextEvent keeps reading the same channel.
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.status.Reachable = false
		m.lastError = msg.Error()
		return m, m.pollStatus(5 * time.Second)
	}

	return m, nil
}

// applyEvent updates the connection line between status polls.
func (m *Model) applyEvent(e events.Event) {
	switch e.Type {
	case events.ChatReady:
		m.status.Connection = "ready"
	case events.ChatDisconnect:
		m.status.Connection = "disconnected"
	case events.ChatReconnecting:
		m.status.Connection = "reconnecting"
	case events.DeliveryBuffered:
		m.status.Buffered++
	case events.DeliveryRecovered:
		m.status.Buffered = 0
		m.status.RecoveryPending = false
	case events.MaintenanceStarted:
		m.status.Maintenance = true
		m.status.Connection = "destroyed"
	case events.MaintenanceEnded:
		m.status.Maintenance = false
	}
}

func (m Model) pollStatus(after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return fetchStatus(m.apiURL, m.apiKey)
	})
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing dgw watch..."
	}

	header := renderHeader(m.status, m.tally, m.ticker, m.spinner, m.theme, m.width)
	stream := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("EVENT STREAM"),
			m.log.View(),
		),
	)

	parts := []string{header, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓/pgup/pgdn] Scroll events"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
