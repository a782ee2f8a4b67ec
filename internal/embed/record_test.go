package embed

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"under cap", "hello", 10, "hello"},
		{"at cap", "hello", 5, "hello"},
		{"over cap", "hello world", 8, "hello..."},
		{"empty", "", 5, ""},
		{"zero cap", "hello", 0, ""},
		{"tiny cap", "hello", 2, "he"},
		{"cap of three", "hello", 3, "hel"},
		{"multibyte", "héllo wörld", 6, "hél..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestTruncateIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"short",
		strings.Repeat("x", 200),
		strings.Repeat("日本語", 50),
		"ends with dots...",
	}
	for _, s := range inputs {
		for n := 4; n < 160; n += 7 {
			once := Truncate(s, n)
			assert.Equal(t, once, Truncate(once, n), "s=%q n=%d", s, n)
			assert.LessOrEqual(t, utf8.RuneCountInString(once), n)
		}
	}
}

func TestClamp(t *testing.T) {
	l := DefaultLimits()
	l.MaxFields = 2

	long := strings.Repeat("a", 3000)
	rec := Record{
		Title:       long,
		Description: long,
		Username:    long,
		AvatarURL:   "http://x/" + long,
		Permalink:   "http://x/ok",
		Fields: []Field{
			{Name: long, Value: long},
			{Name: "b", Value: "c"},
			{Name: "dropped", Value: "dropped"},
		},
		Footer: Footer{Text: long},
	}

	out := rec.Clamp(l)
	assert.Len(t, []rune(out.Title), l.Title)
	assert.Len(t, []rune(out.Description), l.Description)
	assert.Len(t, []rune(out.Username), l.Username)
	assert.Empty(t, out.AvatarURL, "overlong URL should be dropped")
	assert.Equal(t, "http://x/ok", out.Permalink)
	assert.Len(t, out.Fields, 2)
	assert.Len(t, []rune(out.Fields[0].Name), l.FieldName)
	assert.Len(t, []rune(out.Fields[0].Value), l.FieldValue)
	assert.Len(t, []rune(out.Footer.Text), l.Footer)

	// The input is left untouched.
	assert.Len(t, rec.Fields, 3)
	assert.Equal(t, long, rec.Title)
}

func TestLimitsWithDefaults(t *testing.T) {
	l := Limits{Title: 64}.withDefaults()
	assert.Equal(t, 64, l.Title)
	assert.Equal(t, DefaultLimits().Description, l.Description)
	assert.Equal(t, DefaultLimits().MaxFields, l.MaxFields)
}
