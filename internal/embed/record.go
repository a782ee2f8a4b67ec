package embed

import "time"

// Record is the chat-platform neutral projection of one repository event.
// Adapters render it as a Discord embed, a Telegram HTML message, and so on.
type Record struct {
	Color       int       `json:"color"`
	Title       string    `json:"title"`
	Username    string    `json:"username,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Permalink   string    `json:"permalink,omitempty"`
	Description string    `json:"description"`
	Fields      []Field   `json:"fields,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Footer      Footer    `json:"footer"`
}

// Field is a named value rendered under the description.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Footer struct {
	IconURL string `json:"icon_url,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Limits holds the per-field caps, counted in runes.
type Limits struct {
	Title         int `yaml:"title"`
	Description   int `yaml:"description"`
	FieldName     int `yaml:"field_name"`
	FieldValue    int `yaml:"field_value"`
	Username      int `yaml:"username"`
	Footer        int `yaml:"footer"`
	URL           int `yaml:"url"`
	CommitMessage int `yaml:"commit_message"`
	MaxFields     int `yaml:"max_fields"`
}

// DefaultLimits mirrors the caps the chat platforms enforce, tightened for
// titles and descriptions so notifications stay glanceable.
func DefaultLimits() Limits {
	return Limits{
		Title:         128,
		Description:   128,
		FieldName:     256,
		FieldValue:    1024,
		Username:      256,
		Footer:        2048,
		URL:           2048,
		CommitMessage: 32,
		MaxFields:     25,
	}
}

// withDefaults fills zero caps from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Title <= 0 {
		l.Title = d.Title
	}
	if l.Description <= 0 {
		l.Description = d.Description
	}
	if l.FieldName <= 0 {
		l.FieldName = d.FieldName
	}
	if l.FieldValue <= 0 {
		l.FieldValue = d.FieldValue
	}
	if l.Username <= 0 {
		l.Username = d.Username
	}
	if l.Footer <= 0 {
		l.Footer = d.Footer
	}
	if l.URL <= 0 {
		l.URL = d.URL
	}
	if l.CommitMessage <= 0 {
		l.CommitMessage = d.CommitMessage
	}
	if l.MaxFields <= 0 {
		l.MaxFields = d.MaxFields
	}
	return l
}

const ellipsis = "..."

// Truncate cuts s to at most n runes. A string longer than n keeps its first
// n-3 runes followed by "...". Caps of 3 or less cut without the marker.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= len(ellipsis) {
		return string(r[:n])
	}
	return string(r[:n-len(ellipsis)]) + ellipsis
}

// Clamp returns a copy of r with every textual field held to its cap.
// URLs over the cap are dropped rather than cut, since a cut URL is useless.
func (r Record) Clamp(l Limits) Record {
	l = l.withDefaults()

	out := r
	out.Title = Truncate(r.Title, l.Title)
	out.Description = Truncate(r.Description, l.Description)
	out.Username = Truncate(r.Username, l.Username)
	out.AvatarURL = capURL(r.AvatarURL, l.URL)
	out.Permalink = capURL(r.Permalink, l.URL)
	out.Footer = Footer{
		IconURL: capURL(r.Footer.IconURL, l.URL),
		Text:    Truncate(r.Footer.Text, l.Footer),
	}

	n := len(r.Fields)
	if n > l.MaxFields {
		n = l.MaxFields
	}
	out.Fields = make([]Field, 0, n)
	for _, f := range r.Fields[:n] {
		out.Fields = append(out.Fields, Field{
			Name:   Truncate(f.Name, l.FieldName),
			Value:  Truncate(f.Value, l.FieldValue),
			Inline: f.Inline,
		})
	}
	return out
}

func capURL(u string, n int) string {
	if len([]rune(u)) > n {
		return ""
	}
	return u
}
