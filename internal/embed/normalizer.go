package embed

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mattjoyce/dgw/internal/failure"
)

// Observer receives payloads the normalizer could not render meaningfully,
// for example a push without commits. It must not block.
type Observer func(eventType, reason string, raw []byte)

// Options configures a Normalizer.
type Options struct {
	Limits     Limits
	Palette    Palette
	BaseURL    string
	FooterText string
	FooterIcon string
	Observer   Observer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Normalizer turns raw webhook payloads into Records.
type Normalizer struct {
	limits   Limits
	palette  Palette
	baseURL  *url.URL
	footer   Footer
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

type handlerFunc func(n *Normalizer, eventType string, rec Record, raw []byte) (Record, error)

var handlers = map[string]handlerFunc{
	EventPush:              (*Normalizer).push,
	EventTagPush:           (*Normalizer).tagPush,
	EventIssue:             (*Normalizer).issue,
	EventNote:              (*Normalizer).note,
	EventMergeRequest:      (*Normalizer).mergeRequest,
	EventWikiPage:          (*Normalizer).wiki,
	EventWiki:              (*Normalizer).wiki,
	EventPipeline:          (*Normalizer).placeholder,
	EventBuild:             (*Normalizer).placeholder,
	EventJob:               (*Normalizer).placeholder,
	EventConfidentialIssue: (*Normalizer).placeholder,
	EventConfidentialNote:  (*Normalizer).placeholder,
	EventFakeError:         (*Normalizer).fakeError,
}

// New builds a Normalizer. A BaseURL that does not parse is ignored and
// root-relative avatars are passed through unchanged.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		limits:   opts.Limits.withDefaults(),
		palette:  opts.Palette.withDefaults(),
		footer:   Footer{IconURL: opts.FooterIcon, Text: opts.FooterText},
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.now == nil {
		n.now = time.Now
	}
	if opts.BaseURL != "" {
		if u, err := url.Parse(opts.BaseURL); err == nil && u.IsAbs() {
			n.baseURL = u
		} else {
			n.logger.Warn("ignoring invalid embed base url", "base_url", opts.BaseURL)
		}
	}
	return n
}

// Limits returns the effective caps.
func (n *Normalizer) Limits() Limits { return n.limits }

// Palette returns the effective colors.
func (n *Normalizer) Palette() Palette { return n.palette }

// Normalize maps one event to a Record. It never fails: unknown types get a
// placeholder and any failure while reading the payload yields an error record.
func (n *Normalizer) Normalize(eventType string, raw []byte) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("normalizer panic", "event_type", eventType, "panic", r)
			rec = n.ErrorRecord(eventType, failure.New(failure.NormalizeFailure, eventType, fmt.Sprint(r)), raw)
		}
	}()

	h, ok := handlers[eventType]
	if !ok {
		return n.unknown(n.base(), eventType, raw).Clamp(n.limits)
	}

	out, err := h(n, eventType, n.base(), raw)
	if err != nil {
		n.logger.Warn("normalize failed", "event_type", eventType, "error", err)
		return n.ErrorRecord(eventType, failure.Wrap(failure.NormalizeFailure, eventType, err), raw)
	}
	return out.Clamp(n.limits)
}

// ErrorRecord builds the record shown when a request could not be turned into
// a notification. raw, when present, is attached for diagnosis.
func (n *Normalizer) ErrorRecord(eventType string, err error, raw []byte) Record {
	rec := n.base()
	rec.Color = n.palette.Error
	rec.Title = "Error Reading HTTP Request Data: " + eventType
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			rec.Description = fe.Message
		} else {
			rec.Description = err.Error()
		}
	}
	if len(raw) > 0 {
		rec.Fields = append(rec.Fields, Field{Name: "Raw Body", Value: string(raw)})
	}
	return rec.Clamp(n.limits)
}

// StatusRecord builds an informational record, such as the recovery notice.
func (n *Normalizer) StatusRecord(title, description string) Record {
	rec := n.base()
	rec.Color = n.palette.Status
	rec.Title = title
	rec.Description = description
	return rec.Clamp(n.limits)
}

func (n *Normalizer) base() Record {
	return Record{
		Color:     n.palette.Default,
		Timestamp: n.now().UTC(),
		Footer:    n.footer,
	}
}

func (n *Normalizer) setActor(rec *Record, a actor) {
	name, avatar := a.identity()
	rec.Username = name
	rec.AvatarURL = n.resolveURL(avatar)
}

// resolveURL resolves root-relative paths against the configured base URL.
func (n *Normalizer) resolveURL(raw string) string {
	if raw == "" || n.baseURL == nil || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return n.baseURL.ResolveReference(ref).String()
}

func (n *Normalizer) observe(eventType, reason string, raw []byte) {
	if n.observer != nil {
		n.observer(eventType, reason, raw)
	}
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (n *Normalizer) placeholder(eventType string, rec Record, raw []byte) (Record, error) {
	var p struct {
		actor
		Project *projectRef `json:"project"`
	}
	// Placeholders must render even when the body is not the expected shape.
	_ = json.Unmarshal(raw, &p)

	n.logger.Info("event type not implemented", "event_type", eventType)

	n.setActor(&rec, p.actor)
	rec.Permalink = p.Project.url()
	rec.Title = eventType
	if p.Project != nil {
		rec.Title = fmt.Sprintf("[%s] %s", p.Project.namespace(), eventType)
	}
	rec.Description = fmt.Sprintf("**%s** This feature is not yet implemented", eventType)
	return rec, nil
}

func (n *Normalizer) unknown(rec Record, eventType string, raw []byte) Record {
	n.logger.Info("unrecognized event type", "event_type", eventType)

	shown := eventType
	if shown == "" {
		shown = "(none)"
	}
	rec.Title = "Type: " + shown
	rec.Description = "This feature is not yet implemented"
	if len(raw) > 0 {
		rec.Fields = append(rec.Fields, Field{Name: "Raw Payload", Value: compactJSON(raw)})
	}
	return rec
}

func (n *Normalizer) fakeError(_ string, _ Record, raw []byte) (Record, error) {
	var p fakeErrorPayload
	_ = json.Unmarshal(raw, &p)
	if p.Fake != nil && p.Fake.Error != "" {
		return Record{}, errors.New(p.Fake.Error)
	}
	return Record{}, errors.New("payload has no fake.error field")
}

func compactJSON(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}
