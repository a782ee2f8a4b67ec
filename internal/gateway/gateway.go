// Package gateway assembles the relay from configuration and owns its
// lifecycle: one Service per process, built once at startup.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mattjoyce/dgw/internal/api"
	"github.com/mattjoyce/dgw/internal/buffer"
	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/chat/discord"
	"github.com/mattjoyce/dgw/internal/chat/telegram"
	"github.com/mattjoyce/dgw/internal/commands"
	"github.com/mattjoyce/dgw/internal/config"
	"github.com/mattjoyce/dgw/internal/debugsink"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/events"
	"github.com/mattjoyce/dgw/internal/lock"
	"github.com/mattjoyce/dgw/internal/log"
	"github.com/mattjoyce/dgw/internal/monitor"
	"github.com/mattjoyce/dgw/internal/relay"
	"github.com/mattjoyce/dgw/internal/samples"
	"github.com/mattjoyce/dgw/internal/storage"
	"github.com/mattjoyce/dgw/internal/webhook"
)

const (
	hubCapacity     = 256
	shutdownTimeout = 5 * time.Second
	debugNoteLimit  = 1500
)

// Option customizes a Service before its components are built.
type Option func(*Service)

// WithConnection replaces the platform adapter chosen by chat.platform.
func WithConnection(conn chat.Connection) Option {
	return func(s *Service) { s.conn = conn }
}

// WithHub supplies the events hub. The connection passed to WithConnection
// must publish on the same hub.
func WithHub(hub *events.Hub) Option {
	return func(s *Service) { s.hub = hub }
}

// WithLogger overrides the root logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service is the running relay: every component plus the resources they
// share. Build it with New, drive it with Run, release it with Close.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	pidLock *lock.PIDLock
	db      *sql.DB

	hub        *events.Hub
	conn       chat.Connection
	buffer     buffer.Buffer
	normalizer *embed.Normalizer
	reporter   *relay.Reporter
	dispatcher *relay.Dispatcher
	monitor    *monitor.Monitor
	debug      *debugsink.Sink
	webhook    *webhook.Server
	commands   *commands.Router
	api        *api.Server

	closeOnce sync.Once
}

// New builds every component from cfg. On error, anything already acquired
// is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (svc *Service, err error) {
	if cfg == nil {
		return nil, errors.New("gateway: nil config")
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithComponent("gateway")
	}
	if s.hub == nil {
		s.hub = events.NewHub(hubCapacity)
	}

	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if cfg.Service.LockPath != "" {
		s.pidLock, err = lock.Acquire(cfg.Service.LockPath)
		if err != nil {
			return nil, err
		}
		s.logger.Info("acquired PID lock", "path", cfg.Service.LockPath)
	}

	if err = s.openBuffer(ctx); err != nil {
		return nil, err
	}

	if s.conn == nil {
		if s.conn, err = newConnection(cfg, s.hub); err != nil {
			return nil, err
		}
	}

	s.debug = debugsink.New(cfg.Debug.Dir, cfg.Debug.Enabled, log.WithComponent("debug"))

	s.normalizer = embed.New(embed.Options{
		Limits:     cfg.Embed.Limits,
		Palette:    cfg.Embed.Palette,
		BaseURL:    cfg.Embed.BaseURL,
		FooterText: cfg.Embed.FooterText,
		FooterIcon: cfg.Embed.FooterIcon,
		Observer:   s.observe,
		Logger:     log.WithComponent("embed"),
	})

	s.reporter = relay.NewReporter(s.conn, cfg.Service.Name, cfg.Relay.ReportRatePerSec, log.WithComponent("reporter"))
	s.dispatcher = relay.New(relay.Options{
		Conn:       s.conn,
		Buffer:     s.buffer,
		Normalizer: s.normalizer,
		Reporter:   s.reporter,
		Hub:        s.hub,
		Logger:     log.WithComponent("relay"),
		Name:       cfg.Service.Name,
	})

	s.monitor = monitor.New(monitor.Options{
		Conn:             s.conn,
		Recoverer:        s.dispatcher,
		Reporter:         s.reporter,
		Hub:              s.hub,
		Interval:         cfg.Chat.HealthInterval,
		ReconnectTimeout: cfg.Chat.ReconnectTimeout,
		ReadyMessage:     cfg.Chat.ReadyMessage,
		Logger:           log.WithComponent("monitor"),
	})

	webhookConfig, err := webhook.FromConfig(cfg.Webhook)
	if err != nil {
		return nil, fmt.Errorf("configure webhook listener: %w", err)
	}
	s.webhook = webhook.New(webhookConfig, s.dispatcher, log.WithComponent("webhook"))
	s.webhook.SetTap(s.debug)
	s.webhook.SetHub(s.hub)

	s.commands = commands.New(commands.Options{
		Conn:         s.conn,
		Relay:        s.dispatcher,
		Normalizer:   s.normalizer,
		Samples:      samples.New(cfg.Samples.Dir),
		Reporter:     s.reporter,
		Monitor:      s.monitor,
		Debug:        s.debug,
		Buffer:       s.buffer,
		MasterUserID: masterUserID(cfg),
		Name:         cfg.Service.Name,
		Logger:       log.WithComponent("commands"),
	})
	if src, ok := s.conn.(chat.CommandSource); ok {
		src.OnMessage(s.commands.Handle)
	}

	if cfg.API.Enabled {
		s.api = api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, api.Deps{
			Status: s.monitor,
			Buffer: s.buffer,
			Debug:  s.debug,
			Hub:    s.hub,
		}, log.WithComponent("api"))
	}

	return s, nil
}

func (s *Service) openBuffer(ctx context.Context) error {
	capacity := s.cfg.Buffer.MaxRecords
	if !s.cfg.Buffer.Persist {
		s.buffer = buffer.NewMemory(capacity, log.WithComponent("buffer"))
		return nil
	}
	db, err := storage.OpenSQLite(ctx, s.cfg.Buffer.Path)
	if err != nil {
		return fmt.Errorf("open buffer database %s: %w", s.cfg.Buffer.Path, err)
	}
	s.db = db
	s.buffer = buffer.NewSQLite(db, capacity, log.WithComponent("buffer"))

	if n, err := s.buffer.Len(ctx); err == nil && n > 0 {
		s.logger.Info("buffered deliveries carried over from previous run, replaying on first ready", "count", n)
	}
	return nil
}

func newConnection(cfg *config.Config, hub *events.Hub) (chat.Connection, error) {
	switch cfg.Chat.Platform {
	case config.PlatformDiscord:
		d := cfg.Chat.Discord
		return discord.New(discord.Config{
			BotToken:       d.BotToken,
			ChannelID:      d.ChannelID,
			DebugChannelID: d.DebugChannelID,
			WebhookID:      d.WebhookID,
			WebhookToken:   d.WebhookToken,
			Prefix:         d.Prefix,
			Name:           cfg.Service.Name,
		}, hub, log.WithComponent("discord"))
	case config.PlatformTelegram:
		t := cfg.Chat.Telegram
		return telegram.New(telegram.Config{
			BotToken:    t.BotToken,
			ChatID:      t.ChatID,
			DebugChatID: t.DebugChatID,
			Prefix:      t.Prefix,
			PollTimeout: t.PollTimeout,
		}, hub, log.WithComponent("telegram"))
	default:
		return nil, fmt.Errorf("unsupported chat platform %q", cfg.Chat.Platform)
	}
}

func masterUserID(cfg *config.Config) string {
	if cfg.Chat.Platform == config.PlatformTelegram {
		return cfg.Chat.Telegram.MasterUserID
	}
	return cfg.Chat.Discord.MasterUserID
}

// observe receives payloads the normalizer could not render fully. While
// debug capture is on, a short note also goes to the debug channel.
func (s *Service) observe(eventType, reason string, raw []byte) {
	s.logger.Info("payload not fully rendered", "event_type", eventType, "reason", reason, "size", len(raw))
	if s.debug == nil || !s.debug.Enabled() {
		return
	}
	ds, ok := s.conn.(chat.DebugSender)
	if !ok {
		return
	}
	note := fmt.Sprintf("Unhandled %s (%s)\n```json\n%s\n```", orUnknown(eventType), reason, embed.Truncate(string(raw), debugNoteLimit))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ds.SendDebug(ctx, note); err != nil && !errors.Is(err, chat.ErrNoDebugChannel) {
			s.logger.Warn("failed to post debug note", "error", err)
		}
	}()
}

func orUnknown(s string) string {
	if s == "" {
		return "event"
	}
	return s
}

// Run starts the webhook listener, the chat session, the connection monitor
// and the admin API, then blocks until ctx is cancelled or a component fails.
// The listener comes up first so requests are accepted while chat is still
// connecting.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("webhook", s.webhook.Start)
	start("monitor", s.monitor.Run)
	if s.api != nil {
		start("api", s.api.Start)
		s.logger.Info("API server enabled", "listen", s.cfg.API.Listen)
	}

	if err := s.conn.Open(ctx); err != nil {
		// The monitor picks up the Disconnected status and retries.
		s.logger.Error("failed to open chat connection", "platform", s.cfg.Chat.Platform, "error", err)
	}
	s.logger.Info("dgw running", "platform", s.cfg.Chat.Platform, "listen", s.cfg.Webhook.Listen)

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case runErr = <-errCh:
		s.logger.Error("component failed", "error", runErr)
	}
	cancel()
	wg.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := s.conn.Close(closeCtx); err != nil {
		s.logger.Warn("failed to close chat connection", "error", err)
	}
	return runErr
}

// WebhookHandler exposes the ingest handler without binding a listener.
func (s *Service) WebhookHandler() http.Handler { return s.webhook.Handler() }

// Hub returns the lifecycle events hub.
func (s *Service) Hub() *events.Hub { return s.hub }

// Snapshot reports the connection monitor state.
func (s *Service) Snapshot() monitor.Snapshot { return s.monitor.Snapshot() }

// Close releases the debug spool, the buffer database and the PID lock.
// It is safe to call more than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.webhook != nil {
			s.webhook.Wait()
		}
		if s.debug != nil {
			if err := s.debug.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close debug spool: %w", err))
			}
		}
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close buffer database: %w", err))
			}
		}
		if s.pidLock != nil {
			if err := s.pidLock.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release PID lock: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
