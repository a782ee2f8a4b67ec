// Package discord adapts a discordgo bot session to chat.Connection.
//
// The gateway session carries lifecycle and commands. Deliveries go through
// a channel webhook when one is configured, otherwise the bot posts to the
// delivery channel directly.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/events"
)

// Config holds the Discord identifiers the adapter needs.
type Config struct {
	BotToken       string
	ChannelID      string
	DebugChannelID string
	WebhookID      string
	WebhookToken   string
	Prefix         string
	Name           string
}

// session is the subset of *discordgo.Session the adapter drives.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bulk delete only accepts messages younger than two weeks, at most 100 per call.
const (
	bulkDeleteMaxAge = 14 * 24 * time.Hour
	fetchPageSize    = 100
)

var channelMention = regexp.MustCompile(`<#(\d+)>`)

type Adapter struct {
	cfg    Config
	sess   session
	hub    *events.Hub
	logger *slog.Logger

	status atomic.Int32
	opMu   sync.Mutex // serializes Open/Reconnect/Close

	mu      sync.Mutex
	baseCtx context.Context
	handler chat.MessageHandler
	// live is set while the gateway socket is up. ownCloses counts the
	// disconnect events our own Close calls still owe us.
	live      bool
	ownCloses int
}

func New(cfg Config, hub *events.Hub, logger *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("discord bot token is empty")
	}
	s, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.ShouldReconnectOnError = false
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	a := newAdapter(cfg, s, hub, logger)
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { a.onReady(r) })
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) { a.onResumed(r) })
	s.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) { a.onDisconnect(d) })
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.RateLimit) { a.onRateLimit(r) })
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { a.onMessageCreate(m) })
	return a, nil
}

func newAdapter(cfg Config, s session, hub *events.Hub, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	a := &Adapter{cfg: cfg, sess: s, hub: hub, logger: logger, baseCtx: context.Background()}
	a.status.Store(int32(chat.StatusConnecting))
	return a
}

func (a *Adapter) Status() chat.Status {
	return chat.Status(a.status.Load())
}

func (a *Adapter) setStatus(s chat.Status) {
	a.status.Store(int32(s))
}

// Open starts the gateway session. Ready is reported asynchronously through
// the chat.ready event.
func (a *Adapter) Open(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	a.baseCtx = context.WithoutCancel(ctx)
	a.mu.Unlock()

	a.setStatus(chat.StatusConnecting)
	if err := a.sess.Open(); err != nil {
		a.setStatus(chat.StatusDisconnected)
		a.publish(events.ChatError, map[string]any{"error": err.Error()})
		return fmt.Errorf("open discord session: %w", err)
	}
	a.setLive()
	return nil
}

func (a *Adapter) Reconnect(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.setStatus(chat.StatusReconnecting)
	a.publish(events.ChatReconnecting, nil)
	a.logger.Info("reconnecting to discord")

	a.closeSession()
	a.setStatus(chat.StatusReconnecting)
	if err := a.sess.Open(); err != nil {
		a.setStatus(chat.StatusDisconnected)
		a.publish(events.ChatError, map[string]any{"error": err.Error()})
		return fmt.Errorf("reopen discord session: %w", err)
	}
	a.setLive()
	return nil
}

func (a *Adapter) Close(context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.setStatus(chat.StatusDestroyed)
	if err := a.closeSession(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

// closeSession closes the socket. discordgo only emits a disconnect event
// when a socket was actually open, so only then is one expected back.
func (a *Adapter) closeSession() error {
	a.mu.Lock()
	if a.live {
		a.live = false
		a.ownCloses++
	}
	a.mu.Unlock()
	return a.sess.Close()
}

func (a *Adapter) setLive() {
	a.mu.Lock()
	a.live = true
	a.mu.Unlock()
}

// Send posts text and records to the delivery channel. More than ten
// records are split across several messages; the text rides on the first.
func (a *Adapter) Send(ctx context.Context, text string, records ...embed.Record) error {
	groups := batches(records)
	if len(groups) == 0 {
		if text == "" {
			return nil
		}
		groups = [][]*discordgo.MessageEmbed{nil}
	}
	for i, group := range groups {
		content := ""
		if i == 0 {
			content = text
		}
		if err := a.post(ctx, content, group); err != nil {
			return fmt.Errorf("send batch %d/%d: %w", i+1, len(groups), err)
		}
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, content string, group []*discordgo.MessageEmbed) error {
	opt := discordgo.WithContext(ctx)
	if a.cfg.WebhookID != "" && a.cfg.WebhookToken != "" {
		_, err := a.sess.WebhookExecute(a.cfg.WebhookID, a.cfg.WebhookToken, true, &discordgo.WebhookParams{
			Content:  content,
			Username: a.cfg.Name,
			Embeds:   group,
		}, opt)
		return err
	}
	_, err := a.sess.ChannelMessageSendComplex(a.cfg.ChannelID, &discordgo.MessageSend{
		Content: content,
		Embeds:  group,
	}, opt)
	return err
}

func (a *Adapter) Reply(ctx context.Context, to chat.Message, text string) error {
	_, err := a.sess.ChannelMessageSendReply(to.ChannelID, text, &discordgo.MessageReference{
		MessageID: to.ID,
		ChannelID: to.ChannelID,
	}, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) SendToChannel(ctx context.Context, channelID, text string) error {
	_, err := a.sess.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) SendDebug(ctx context.Context, text string) error {
	if a.cfg.DebugChannelID == "" {
		return chat.ErrNoDebugChannel
	}
	return a.SendToChannel(ctx, a.cfg.DebugChannelID, text)
}

// Purge bulk-deletes up to n recent messages in channelID. The invoking user
// must hold Manage Messages there; messages older than two weeks are skipped.
func (a *Adapter) Purge(ctx context.Context, by chat.Message, channelID string, n int) (int, error) {
	opt := discordgo.WithContext(ctx)
	perms, err := a.sess.UserChannelPermissions(by.AuthorID, channelID, opt)
	if err != nil {
		return 0, fmt.Errorf("read permissions: %w", err)
	}
	if perms&discordgo.PermissionManageMessages == 0 {
		return 0, chat.ErrNotPermitted
	}

	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	var ids []string
	before := ""
	for len(ids) < n {
		page, err := a.sess.ChannelMessages(channelID, min(n-len(ids), fetchPageSize), before, "", "", opt)
		if err != nil {
			return 0, fmt.Errorf("fetch messages: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			before = m.ID
			if m.Timestamp.Before(cutoff) {
				continue
			}
			ids = append(ids, m.ID)
		}
		if len(page) < fetchPageSize {
			break
		}
	}

	deleted := 0
	for start := 0; start < len(ids); start += fetchPageSize {
		chunk := ids[start:min(start+fetchPageSize, len(ids))]
		if len(chunk) == 1 {
			err = a.sess.ChannelMessageDelete(channelID, chunk[0], opt)
		} else {
			err = a.sess.ChannelMessagesBulkDelete(channelID, chunk, opt)
		}
		if err != nil {
			return deleted, fmt.Errorf("delete messages: %w", err)
		}
		deleted += len(chunk)
	}
	return deleted, nil
}

func (a *Adapter) OnMessage(h chat.MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

func (a *Adapter) onReady(r *discordgo.Ready) {
	a.setStatus(chat.StatusReady)
	user := ""
	if r != nil && r.User != nil {
		user = r.User.Username
	}
	a.logger.Info("discord session ready", "user", user)
	a.publish(events.ChatReady, map[string]any{"platform": "discord", "user": user})
}

// A resumed session skips Ready; treat it the same way.
func (a *Adapter) onResumed(*discordgo.Resumed) {
	a.onReady(nil)
}

// onDisconnect ignores the events caused by our own Close. Any other
// disconnect is a real drop, including one that hits a session opened by
// Reconnect before it reached Ready.
func (a *Adapter) onDisconnect(*discordgo.Disconnect) {
	a.mu.Lock()
	own := a.ownCloses > 0
	if own {
		a.ownCloses--
	} else {
		a.live = false
	}
	a.mu.Unlock()
	if own || a.Status() == chat.StatusDestroyed {
		return
	}
	a.setStatus(chat.StatusDisconnected)
	a.logger.Warn("discord session disconnected")
	a.publish(events.ChatDisconnect, map[string]any{"platform": "discord"})
}

func (a *Adapter) onRateLimit(r *discordgo.RateLimit) {
	if r == nil || r.TooManyRequests == nil {
		return
	}
	a.logger.Warn("discord rate limited", "url", r.URL, "retry_after", r.RetryAfter)
	a.publish(events.ChatWarn, map[string]any{"warning": "rate limited", "url": r.URL})
}

// onMessageCreate forwards prefixed guild-channel messages from humans.
func (a *Adapter) onMessageCreate(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}
	if !strings.HasPrefix(m.Content, a.cfg.Prefix) {
		return
	}

	a.mu.Lock()
	h := a.handler
	ctx := a.baseCtx
	a.mu.Unlock()
	if h == nil {
		return
	}

	msg := chat.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    strings.TrimPrefix(m.Content, a.cfg.Prefix),
	}
	for _, match := range channelMention.FindAllStringSubmatch(m.Content, -1) {
		msg.MentionedChannels = append(msg.MentionedChannels, match[1])
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
	_ chat.Purger        = (*Adapter)(nil)
	_ chat.DebugSender   = (*Adapter)(nil)
	_ chat.CommandSource = (*Adapter)(nil)
)
