package telegram

import (
	"html"
	"strings"
	"time"

	"github.com/mattjoyce/dgw/internal/embed"
)

// maxMessageRunes is Telegram's cap on a single text message.
const maxMessageRunes = 4096

// renderHTML formats a record for ParseMode HTML.
func renderHTML(rec embed.Record) string {
	var b strings.Builder

	title := html.EscapeString(rec.Title)
	if rec.Permalink != "" {
		title = `<a href="` + html.EscapeString(rec.Permalink) + `">` + title + `</a>`
	}
	b.WriteString("<b>" + title + "</b>")

	if rec.Username != "" {
		b.WriteString("\n<i>" + html.EscapeString(rec.Username) + "</i>")
	}
	if rec.Description != "" {
		b.WriteString("\n\n" + html.EscapeString(rec.Description))
	}
	if len(rec.Fields) > 0 {
		b.WriteString("\n")
	}
	for _, f := range rec.Fields {
		b.WriteString("\n<b>" + html.EscapeString(f.Name) + "</b>: " + html.EscapeString(f.Value))
	}

	var foot []string
	if rec.Footer.Text != "" {
		foot = append(foot, html.EscapeString(rec.Footer.Text))
	}
	if !rec.Timestamp.IsZero() {
		foot = append(foot, rec.Timestamp.UTC().Format(time.RFC1123))
	}
	if len(foot) > 0 {
		b.WriteString("\n\n<i>" + strings.Join(foot, " · ") + "</i>")
	}
	return b.String()
}

// escapeText escapes plain operator text for ParseMode HTML.
func escapeText(s string) string {
	return html.EscapeString(s)
}

// clip keeps s within Telegram's message cap. Only the escaped plain-text
// description and field values can push a message over, so the tail is cut
// back to the last newline to avoid splitting a tag.
func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageRunes {
		return s
	}
	out := string(r[:maxMessageRunes-3])
	if i := strings.LastIndexByte(out, '\n'); i > 0 {
		out = out[:i]
	}
	return out + "..."
}
