package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	json "github.com/goccy/go-json"

	"github.com/mattjoyce/dgw/internal/events"
)

const maxEventLog = 200

func renderEventLines(eventLog []events.Event, theme Theme) string {
	if len(eventLog) == 0 {
		return theme.Dim.Render("Waiting for events...")
	}
	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	return strings.Join(lines, "\n")
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	typeName := eventStyle(e.Type, theme).Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func eventStyle(typ string, theme Theme) lipgloss.Style {
	switch typ {
	case events.ChatReady, events.DeliverySent, events.DeliveryRecovered, events.WebhookAccepted:
		return theme.StatusOK
	case events.ChatError, events.DeliveryFailed, events.ChatDisconnect, events.WebhookRejected:
		return theme.StatusFailed
	case events.ChatWarn, events.ChatReconnecting, events.DeliveryBuffered:
		return theme.StatusWarn
	case events.MaintenanceStarted, events.MaintenanceEnded:
		return theme.Highlight
	default:
		return theme.Dim
	}
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	for _, key := range []string{"event_type", "title", "platform", "reason", "warning", "error"} {
		if v, ok := data[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if _, ok := data["count"]; ok {
		parts = append(parts, fmt.Sprintf("%d records", intField(e, "count")))
	}
	if ms, ok := data["duration_ms"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%ds", int(ms)/1000))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if raw == "{}" {
			return ""
		}
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func intField(e events.Event, key string) int {
	var data map[string]any
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return 0
	}
	if f, ok := data[key].(float64); ok {
		return int(f)
	}
	return 0
}
