// Package telegram adapts a telebot long-poll bot to chat.Connection.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/events"
)

type Config struct {
	BotToken    string
	ChatID      int64
	DebugChatID int64
	Prefix      string
	PollTimeout time.Duration
}

// bot is the subset of *tele.Bot the adapter drives.
type bot interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
	Start()
	Stop()
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Reply(to *tele.Message, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// botFactory builds a fresh bot; onError receives poller failures.
type botFactory func(onError func(error)) (bot, error)

type Adapter struct {
	cfg     Config
	hub     *events.Hub
	logger  *slog.Logger
	factory botFactory

	status atomic.Int32
	opMu   sync.Mutex
	// gen identifies the current poller; errors from older ones are ignored.
	gen atomic.Uint64

	mu      sync.Mutex
	bot     bot
	baseCtx context.Context
	handler chat.MessageHandler
}

func New(cfg Config, hub *events.Hub, logger *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	factory := func(onError func(error)) (bot, error) {
		return tele.NewBot(tele.Settings{
			Token:   cfg.BotToken,
			Poller:  &tele.LongPoller{Timeout: timeout},
			OnError: func(err error, _ tele.Context) { onError(err) },
		})
	}
	return newAdapter(cfg, factory, hub, logger), nil
}

func newAdapter(cfg Config, factory botFactory, hub *events.Hub, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	a := &Adapter{cfg: cfg, hub: hub, logger: logger, factory: factory, baseCtx: context.Background()}
	a.status.Store(int32(chat.StatusConnecting))
	return a
}

func (a *Adapter) Status() chat.Status {
	return chat.Status(a.status.Load())
}

func (a *Adapter) setStatus(s chat.Status) {
	a.status.Store(int32(s))
}

// Open builds the bot (which validates the token against the API) and starts
// long polling. Telegram has no gateway handshake, so a started poller is Ready.
func (a *Adapter) Open(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	a.baseCtx = context.WithoutCancel(ctx)
	a.mu.Unlock()

	a.setStatus(chat.StatusConnecting)
	return a.startLocked()
}

func (a *Adapter) Reconnect(context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.setStatus(chat.StatusReconnecting)
	a.publish(events.ChatReconnecting, nil)
	a.logger.Info("reconnecting to telegram")
	a.stopLocked()
	return a.startLocked()
}

func (a *Adapter) Close(context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.setStatus(chat.StatusDestroyed)
	a.stopLocked()
	return nil
}

func (a *Adapter) startLocked() error {
	g := a.gen.Add(1)
	b, err := a.factory(func(err error) { a.onPollError(g, err) })
	if err != nil {
		a.setStatus(chat.StatusDisconnected)
		a.publish(events.ChatError, map[string]any{"error": err.Error()})
		return fmt.Errorf("start telegram bot: %w", err)
	}
	b.Handle(tele.OnText, func(c tele.Context) error {
		a.onText(c.Message())
		return nil
	})

	a.mu.Lock()
	a.bot = b
	a.mu.Unlock()

	go b.Start()

	a.setStatus(chat.StatusReady)
	a.logger.Info("telegram polling started")
	a.publish(events.ChatReady, map[string]any{"platform": "telegram"})
	return nil
}

func (a *Adapter) stopLocked() {
	a.mu.Lock()
	b := a.bot
	a.bot = nil
	a.mu.Unlock()
	a.gen.Add(1)
	if b != nil {
		// Stop waits for the in-flight long poll; don't hold the caller.
		go b.Stop()
	}
}

func (a *Adapter) onPollError(gen uint64, err error) {
	if gen != a.gen.Load() {
		a.logger.Debug("ignoring error from stopped poller", "error", err)
		return
	}
	a.logger.Warn("telegram poller error", "error", err)
	if a.Status() != chat.StatusReady {
		a.publish(events.ChatWarn, map[string]any{"warning": err.Error()})
		return
	}
	a.setStatus(chat.StatusDisconnected)
	a.publish(events.ChatDisconnect, map[string]any{"platform": "telegram", "error": err.Error()})
}

func (a *Adapter) current() (bot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot == nil {
		return nil, errors.New("telegram bot not started")
	}
	return a.bot, nil
}

func (a *Adapter) sendHTML(to int64, text string) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	_, err = b.Send(&tele.Chat{ID: to}, clip(text), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	return err
}

// Send posts text, then each record, in order. Telegram has no multi-embed
// message, so a batch becomes consecutive messages.
func (a *Adapter) Send(ctx context.Context, text string, records ...embed.Record) error {
	if text != "" {
		if err := a.sendHTML(a.cfg.ChatID, escapeText(text)); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.sendHTML(a.cfg.ChatID, renderHTML(rec)); err != nil {
			return fmt.Errorf("send record %d/%d: %w", i+1, len(records), err)
		}
	}
	return nil
}

func (a *Adapter) Reply(_ context.Context, to chat.Message, text string) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(to.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", to.ChannelID, err)
	}
	msgID, err := strconv.Atoi(to.ID)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", to.ID, err)
	}
	_, err = b.Reply(&tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}}, escapeText(text), &tele.SendOptions{ParseMode: tele.ModeHTML})
	return err
}

func (a *Adapter) SendToChannel(_ context.Context, channelID, text string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", channelID, err)
	}
	return a.sendHTML(chatID, escapeText(text))
}

func (a *Adapter) SendDebug(_ context.Context, text string) error {
	if a.cfg.DebugChatID == 0 {
		return chat.ErrNoDebugChannel
	}
	return a.sendHTML(a.cfg.DebugChatID, escapeText(text))
}

func (a *Adapter) OnMessage(h chat.MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// onText forwards prefixed messages. A "/cmd@botname" suffix is dropped.
func (a *Adapter) onText(m *tele.Message) {
	if m == nil || m.Chat == nil || !strings.HasPrefix(m.Text, a.cfg.Prefix) {
		return
	}
	a.mu.Lock()
	h := a.handler
	ctx := a.baseCtx
	a.mu.Unlock()
	if h == nil {
		return
	}

	content := strings.TrimPrefix(m.Text, a.cfg.Prefix)
	cmd, rest, _ := strings.Cut(content, " ")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if rest != "" {
		cmd += " " + rest
	}

	msg := chat.Message{
		ID:        strconv.Itoa(m.ID),
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Content:   cmd,
	}
	if m.Sender != nil {
		msg.AuthorID = strconv.FormatInt(m.Sender.ID, 10)
		msg.AuthorName = m.Sender.Username
	}
	h(ctx, msg)
}

func (a *Adapter) publish(eventType string, data any) {
	if a.hub != nil {
		a.hub.Publish(eventType, data)
	}
}

var (
	_ chat.Connection    = (*Adapter)(nil)
	_ chat.Replier       = (*Adapter)(nil)
	_ chat.DebugSender   = (*Adapter)(nil)
	_ chat.CommandSource = (*Adapter)(nil)
)
