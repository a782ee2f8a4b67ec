package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/events"
	"github.com/mattjoyce/dgw/internal/log"
)

type complexSend struct {
	channel string
	data    *discordgo.MessageSend
}

type fakeSession struct {
	mu        sync.Mutex
	openErr   error
	opens     int
	closes    int
	complex   []complexSend
	webhooks  []*discordgo.WebhookParams
	plain     []string
	replies   []*discordgo.MessageReference
	perms     int64
	history   []*discordgo.Message
	bulk      [][]string
	singleDel []string
}

func (f *fakeSession) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plain = append(f.plain, channelID+":"+content)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complex = append(f.complex, complexSend{channel: channelID, data: data})
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageSendReply(_ string, _ string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, ref)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singleDel = append(f.singleDel, messageID)
	return nil
}

// ChannelMessages pages through history newest first.
func (f *fakeSession) ChannelMessages(_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := 0
	if beforeID != "" {
		for i, m := range f.history {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(f.history))
	return f.history[start:end], nil
}

func (f *fakeSession) ChannelMessagesBulkDelete(_ string, messages []string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, messages)
	return nil
}

func (f *fakeSession) UserChannelPermissions(_, _ string, _ ...discordgo.RequestOption) (int64, error) {
	return f.perms, nil
}

func (f *fakeSession) WebhookExecute(_, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, data)
	return &discordgo.Message{}, nil
}

func newTestAdapter(cfg Config) (*Adapter, *fakeSession, *events.Hub) {
	fs := &fakeSession{}
	hub := events.NewHub(32)
	if cfg.ChannelID == "" {
		cfg.ChannelID = "chan-1"
	}
	return newAdapter(cfg, fs, hub, log.Discard()), fs, hub
}

func records(n int) []embed.Record {
	out := make([]embed.Record, n)
	for i := range out {
		out[i] = embed.Record{Title: fmt.Sprintf("r%d", i)}
	}
	return out
}

func TestToEmbed(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := toEmbed(embed.Record{
		Color:       0xff0000,
		Title:       "[x/y] 1 new commit",
		Username:    "alice",
		AvatarURL:   "http://a",
		Permalink:   "http://x",
		Description: "fix bug",
		Fields:      []embed.Field{{Name: "Labeled As", Value: ""}, {Name: "", Value: "v", Inline: true}},
		Timestamp:   ts,
		Footer:      embed.Footer{Text: "dgw"},
	})

	assert.Equal(t, discordgo.EmbedTypeRich, e.Type)
	assert.Equal(t, "[x/y] 1 new commit", e.Title)
	assert.Equal(t, "http://x", e.URL)
	assert.Equal(t, 0xff0000, e.Color)
	assert.Equal(t, "2024-03-01T12:00:00Z", e.Timestamp)
	require.NotNil(t, e.Author)
	assert.Equal(t, "alice", e.Author.Name)
	assert.Equal(t, "http://a", e.Author.IconURL)
	require.NotNil(t, e.Footer)
	assert.Equal(t, "dgw", e.Footer.Text)
	require.Len(t, e.Fields, 2)
	assert.Equal(t, "\u200b", e.Fields[0].Value)
	assert.Equal(t, "\u200b", e.Fields[1].Name)
	assert.True(t, e.Fields[1].Inline)
}

func TestToEmbedOmitsEmptyAuthorAndFooter(t *testing.T) {
	e := toEmbed(embed.Record{Title: "t"})
	assert.Nil(t, e.Author)
	assert.Nil(t, e.Footer)
	assert.Empty(t, e.Timestamp)
}

func TestSendBatchesByTen(t *testing.T) {
	a, fs, _ := newTestAdapter(Config{})

	require.NoError(t, a.Send(context.Background(), "Recovered 24 requests", records(25)...))

	require.Len(t, fs.complex, 3)
	assert.Len(t, fs.complex[0].data.Embeds, 10)
	assert.Len(t, fs.complex[1].data.Embeds, 10)
	assert.Len(t, fs.complex[2].data.Embeds, 5)
	assert.Equal(t, "Recovered 24 requests", fs.complex[0].data.Content)
	assert.Empty(t, fs.complex[1].data.Content)
	assert.Equal(t, "r0", fs.complex[0].data.Embeds[0].Title)
	assert.Equal(t, "r24", fs.complex[2].data.Embeds[4].Title)
	assert.Equal(t, "chan-1", fs.complex[0].channel)
}

func TestSendTextOnly(t *testing.T) {
	a, fs, _ := newTestAdapter(Config{})

	require.NoError(t, a.Send(context.Background(), "hello"))
	require.Len(t, fs.complex, 1)
	assert.Equal(t, "hello", fs.complex[0].data.Content)
	assert.Empty(t, fs.complex[0].data.Embeds)

	require.NoError(t, a.Send(context.Background(), ""))
	assert.Len(t, fs.complex, 1, "empty send is a no-op")
}

func TestSendPrefersWebhook(t *testing.T) {
	a, fs, _ := newTestAdapter(Config{WebhookID: "id", WebhookToken: "tok", Name: "dgw"})

	require.NoError(t, a.Send(context.Background(), "", records(2)...))
	assert.Empty(t, fs.complex)
	require.Len(t, fs.webhooks, 1)
	assert.Equal(t, "dgw", fs.webhooks[0].Username)
	assert.Len(t, fs.webhooks[0].Embeds, 2)
}

func TestLifecycleStatus(t *testing.T) {
	a, fs, hub := newTestAdapter(Config{})
	ctx := context.Background()

	assert.Equal(t, chat.StatusConnecting, a.Status())
	require.NoError(t, a.Open(ctx))
	a.onReady(&discordgo.Ready{User: &discordgo.User{Username: "bot"}})
	assert.Equal(t, chat.StatusReady, a.Status())

	a.onDisconnect(&discordgo.Disconnect{})
	assert.Equal(t, chat.StatusDisconnected, a.Status())

	require.NoError(t, a.Reconnect(ctx))
	assert.Equal(t, chat.StatusReconnecting, a.Status())
	assert.Equal(t, 2, fs.opens)
	a.onResumed(&discordgo.Resumed{})
	assert.Equal(t, chat.StatusReady, a.Status())

	require.NoError(t, a.Close(ctx))
	a.onDisconnect(&discordgo.Disconnect{})
	assert.Equal(t, chat.StatusDestroyed, a.Status(), "operator close stays destroyed")

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.ChatReady,
		events.ChatDisconnect,
		events.ChatReconnecting,
		events.ChatReady,
	}, types)
}

func TestDropDuringReconnectIsReported(t *testing.T) {
	a, fs, hub := newTestAdapter(Config{})
	ctx := context.Background()

	require.NoError(t, a.Open(ctx))
	a.onReady(&discordgo.Ready{})

	require.NoError(t, a.Reconnect(ctx))
	assert.Equal(t, 1, fs.closes)

	// Disconnect from closing the old socket.
	a.onDisconnect(&discordgo.Disconnect{})
	assert.Equal(t, chat.StatusReconnecting, a.Status())

	// The new socket drops before Ready.
	a.onDisconnect(&discordgo.Disconnect{})
	assert.Equal(t, chat.StatusDisconnected, a.Status())

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.ChatReady,
		events.ChatReconnecting,
		events.ChatDisconnect,
	}, types)
}

func TestReconnectFailureLeavesDisconnected(t *testing.T) {
	a, fs, _ := newTestAdapter(Config{})
	fs.openErr = errors.New("gateway unavailable")

	err := a.Reconnect(context.Background())
	require.Error(t, err)
	assert.Equal(t, chat.StatusDisconnected, a.Status())
}

func TestMessageCreateFiltering(t *testing.T) {
	a, _, _ := newTestAdapter(Config{Prefix: "!"})

	var got []chat.Message
	a.OnMessage(func(_ context.Context, msg chat.Message) { got = append(got, msg) })

	mk := func(content, guild string, bot bool) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        "m1",
			ChannelID: "c1",
			GuildID:   guild,
			Content:   content,
			Author:    &discordgo.User{ID: "u1", Username: "op", Bot: bot},
		}}
	}

	a.onMessageCreate(mk("!clear 10 <#555>", "g1", false))
	a.onMessageCreate(mk("no prefix", "g1", false))
	a.onMessageCreate(mk("!ping", "", false))
	a.onMessageCreate(mk("!ping", "g1", true))

	require.Len(t, got, 1)
	assert.Equal(t, "clear 10 <#555>", got[0].Content)
	assert.Equal(t, []string{"555"}, got[0].MentionedChannels)
	assert.Equal(t, "u1", got[0].AuthorID)
}

func TestReplyAndDebug(t *testing.T) {
	a, fs, _ := newTestAdapter(Config{})
	ctx := context.Background()

	require.NoError(t, a.Reply(ctx, chat.Message{ID: "m1", ChannelID: "c1"}, "pong"))
	require.Len(t, fs.replies, 1)
	assert.Equal(t, "m1", fs.replies[0].MessageID)

	assert.ErrorIs(t, a.SendDebug(ctx, "boom"), chat.ErrNoDebugChannel)

	a.cfg.DebugChannelID = "dbg"
	require.NoError(t, a.SendDebug(ctx, "boom"))
	assert.Equal(t, []string{"dbg:boom"}, fs.plain)
}

func TestPurge(t *testing.T) {
	a, fs, _ := newTestAdapter(Config{})
	ctx := context.Background()
	by := chat.Message{AuthorID: "u1"}

	_, err := a.Purge(ctx, by, "c1", 5)
	assert.ErrorIs(t, err, chat.ErrNotPermitted)

	fs.perms = discordgo.PermissionManageMessages
	now := time.Now()
	for i := 0; i < 150; i++ {
		fs.history = append(fs.history, &discordgo.Message{ID: fmt.Sprintf("%d", i), Timestamp: now})
	}
	fs.history[3].Timestamp = now.Add(-15 * 24 * time.Hour)

	n, err := a.Purge(ctx, by, "c1", 120)
	require.NoError(t, err)
	assert.Equal(t, 120, n)
	require.Len(t, fs.bulk, 2)
	assert.Len(t, fs.bulk[0], 100)
	assert.Len(t, fs.bulk[1], 20)
	assert.NotContains(t, fs.bulk[0], "3", "messages older than two weeks are skipped")
}
