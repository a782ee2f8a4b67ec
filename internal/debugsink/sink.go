// Package debugsink records raw webhook bodies while debug mode is on.
// Entries are appended as gzip-compressed JSON lines, one file per
// enable/disable cycle. Without a directory the bodies are only logged.
package debugsink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/mattjoyce/dgw/internal/webhook"
)

// Entry is one captured request.
type Entry struct {
	ReceivedAt  time.Time `json:"received_at"`
	RequestID   string    `json:"request_id"`
	EventType   string    `json:"event_type"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int       `json:"size"`
	Body        string    `json:"body"`
}

type Sink struct {
	dir     string
	logger  *slog.Logger
	enabled atomic.Bool

	mu   sync.Mutex
	path string
	file *os.File
	gz   *gzip.Writer
	enc  *json.Encoder
}

func New(dir string, enabled bool, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{dir: dir, logger: logger}
	s.enabled.Store(enabled)
	return s
}

func (s *Sink) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled toggles capture. Disabling closes the current spool file.
func (s *Sink) SetEnabled(on bool) error {
	if s.enabled.Swap(on) == on {
		return nil
	}
	s.logger.Info("debug capture toggled", "enabled", on)
	if !on {
		return s.Close()
	}
	return nil
}

// Path is the current spool file, empty when none is open.
func (s *Sink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Capture implements webhook.Tap.
func (s *Sink) Capture(d webhook.Delivery) {
	if !s.enabled.Load() {
		return
	}
	entry := Entry{
		ReceivedAt:  d.ReceivedAt,
		RequestID:   d.RequestID,
		EventType:   d.EventType,
		ContentType: d.ContentType,
		Size:        len(d.Raw),
		Body:        string(d.Raw),
	}
	if s.dir == "" {
		s.logger.Info("raw webhook body", "request_id", entry.RequestID, "event_type", entry.EventType, "body", entry.Body)
		return
	}
	if err := s.write(entry); err != nil {
		s.logger.Error("debug capture failed", "request_id", entry.RequestID, "error", err)
	}
}

func (s *Sink) write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Capture may have passed its check just before a disable closed the
	// spool; do not open a new one behind it.
	if !s.enabled.Load() {
		return nil
	}
	if s.file == nil {
		if err := s.openLocked(); err != nil {
			return err
		}
	}
	if err := s.enc.Encode(e); err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	// Flush so a crash leaves a readable prefix.
	if err := s.gz.Flush(); err != nil {
		return fmt.Errorf("flush spool: %w", err)
	}
	return nil
}

func (s *Sink) openLocked() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	name := fmt.Sprintf("raw-%s.jsonl.gz", time.Now().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	gz, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("gzip writer: %w", err)
	}
	s.file, s.gz, s.enc, s.path = f, gz, json.NewEncoder(gz), path
	s.logger.Info("debug spool opened", "path", path)
	return nil
}

// Close finishes the gzip stream and closes the spool file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	gzErr := s.gz.Close()
	fErr := s.file.Close()
	s.file, s.gz, s.enc, s.path = nil, nil, nil, ""
	if gzErr != nil {
		return fmt.Errorf("close gzip: %w", gzErr)
	}
	if fErr != nil {
		return fmt.Errorf("close spool: %w", fErr)
	}
	return nil
}

var _ webhook.Tap = (*Sink)(nil)
