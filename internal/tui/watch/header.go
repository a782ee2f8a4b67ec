package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusState tracks relay state from /status polling.
type StatusState struct {
	Connection       string
	RecoveryPending  bool
	Maintenance      bool
	MaintenanceUntil time.Time
	Buffered         int
	Dropped          int64
	Debug            bool
	UptimeSeconds    int64
	// Reachable is false until the API answers.
	Reachable bool
	LastCheck time.Time
}

func renderHeader(st StatusState, tally Tally, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	var connText string
	switch {
	case !st.Reachable:
		connText = theme.StatusFailed.Render("API UNREACHABLE")
	case st.Maintenance:
		connText = theme.Highlight.Render("MAINTENANCE until " + st.MaintenanceUntil.Local().Format("15:04:05"))
	case st.Connection == "ready":
		connText = theme.StatusOK.Render("READY")
	case st.Connection == "reconnecting" || st.Connection == "connecting":
		connText = theme.StatusWarn.Render(strings.ToUpper(st.Connection))
	default:
		connText = theme.StatusFailed.Render(strings.ToUpper(st.Connection))
	}
	if st.RecoveryPending {
		connText += theme.StatusWarn.Render(" (recovery pending)")
	}

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(spinner.LastEvent()).Round(time.Second))
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" DGW WATCH %s", tickerStr)
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	debug := "off"
	if st.Debug {
		debug = theme.StatusWarn.Render("on")
	}
	statsLine := fmt.Sprintf(" Chat: %s  Up: %s  Buffered: %d  Dropped: %d  Debug: %s",
		connText,
		formatDuration(time.Duration(st.UptimeSeconds)*time.Second),
		st.Buffered,
		st.Dropped,
		debug,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		tally.Render(theme),
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
