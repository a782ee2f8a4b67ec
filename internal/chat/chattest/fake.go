// Package chattest provides an in-memory chat.Connection for tests.
package chattest

import (
	"context"
	"sync"

	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/events"
)

// Sent is one captured outbound delivery.
type Sent struct {
	Channel string
	Text    string
	Records []embed.Record
}

// Fake records every outbound call and lets tests script the status.
// When AutoReady is set, Open and Reconnect move straight to Ready and
// publish chat.ready on the hub.
type Fake struct {
	AutoReady bool

	mu         sync.Mutex
	hub        *events.Hub
	status     chat.Status
	sendErr    error
	replyErr   error
	purgeErr   error
	sends      []Sent
	replies    []Sent
	debug      []string
	reconnects int
	closes     int
	handler    chat.MessageHandler
	purged     []int
}

func New(hub *events.Hub) *Fake {
	return &Fake{hub: hub, status: chat.StatusConnecting}
}

func (f *Fake) Status() chat.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Fake) Open(context.Context) error {
	if f.AutoReady {
		f.GoReady()
	}
	return nil
}

func (f *Fake) Reconnect(context.Context) error {
	f.mu.Lock()
	f.reconnects++
	f.status = chat.StatusReconnecting
	f.mu.Unlock()
	if f.AutoReady {
		f.GoReady()
	}
	return nil
}

func (f *Fake) Close(context.Context) error {
	f.mu.Lock()
	f.closes++
	f.status = chat.StatusDestroyed
	f.mu.Unlock()
	return nil
}

func (f *Fake) Send(_ context.Context, text string, records ...embed.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, Sent{Text: text, Records: append([]embed.Record(nil), records...)})
	return nil
}

func (f *Fake) Reply(_ context.Context, to chat.Message, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, Sent{Channel: to.ChannelID, Text: text})
	return nil
}

func (f *Fake) SendToChannel(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, Sent{Channel: channelID, Text: text})
	return nil
}

func (f *Fake) SendDebug(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debug = append(f.debug, text)
	return nil
}

func (f *Fake) Purge(_ context.Context, _ chat.Message, _ string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.purgeErr != nil {
		return 0, f.purgeErr
	}
	f.purged = append(f.purged, n)
	return n, nil
}

func (f *Fake) OnMessage(h chat.MessageHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Deliver feeds an inbound message to the registered handler.
func (f *Fake) Deliver(ctx context.Context, msg chat.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

// SetStatus changes the status without publishing anything.
func (f *Fake) SetStatus(s chat.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

// GoReady marks the connection Ready and publishes chat.ready.
func (f *Fake) GoReady() {
	f.SetStatus(chat.StatusReady)
	if f.hub != nil {
		f.hub.Publish(events.ChatReady, nil)
	}
}

// Drop marks the connection Disconnected and publishes chat.disconnect.
func (f *Fake) Drop() {
	f.SetStatus(chat.StatusDisconnected)
	if f.hub != nil {
		f.hub.Publish(events.ChatDisconnect, nil)
	}
}

func (f *Fake) FailSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *Fake) FailReplies(err error) {
	f.mu.Lock()
	f.replyErr = err
	f.mu.Unlock()
}

func (f *Fake) FailPurges(err error) {
	f.mu.Lock()
	f.purgeErr = err
	f.mu.Unlock()
}

func (f *Fake) Sends() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sends...)
}

func (f *Fake) Replies() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.replies...)
}

func (f *Fake) Debug() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.debug...)
}

func (f *Fake) Purged() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.purged...)
}

func (f *Fake) Reconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

var (
	_ chat.Connection    = (*Fake)(nil)
	_ chat.Replier       = (*Fake)(nil)
	_ chat.Purger        = (*Fake)(nil)
	_ chat.DebugSender   = (*Fake)(nil)
	_ chat.CommandSource = (*Fake)(nil)
)
