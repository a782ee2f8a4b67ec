// Package chat defines the boundary between the relay and a chat platform.
//
// The core only reads Status, calls Send, and reacts to lifecycle events the
// adapter publishes on the events hub. Command handling, replies and bulk
// deletes are optional capabilities discovered with type assertions.
package chat

import (
	"context"
	"errors"

	"github.com/mattjoyce/dgw/internal/embed"
)

//go:generate mockgen -destination=mocks/mock_connection.go -package=mocks github.com/mattjoyce/dgw/internal/chat Connection,Replier,DebugSender

// Status is the connection state reported by an adapter.
type Status int

const (
	StatusConnecting Status = iota
	StatusReady
	StatusReconnecting
	StatusDisconnected
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDisconnected:
		return "disconnected"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ErrNotPermitted is returned when the invoking user lacks a required permission.
var ErrNotPermitted = errors.New("not permitted")

// ErrNoDebugChannel is returned by SendDebug when no debug channel is configured.
var ErrNoDebugChannel = errors.New("no debug channel configured")

// Connection is a live session with a chat platform.
type Connection interface {
	Status() Status
	Open(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close(ctx context.Context) error
	// Send delivers text and records to the default delivery channel as a
	// single logical delivery.
	Send(ctx context.Context, text string, records ...embed.Record) error
}

// Message is an inbound chat message that may carry an operator command.
type Message struct {
	ID                string
	ChannelID         string
	AuthorID          string
	AuthorName        string
	Content           string
	MentionedChannels []string
}

// MessageHandler receives every command-prefixed message.
type MessageHandler func(ctx context.Context, msg Message)

// CommandSource is implemented by adapters that read operator commands.
type CommandSource interface {
	OnMessage(h MessageHandler)
}

// Replier answers the message that triggered a command.
type Replier interface {
	Reply(ctx context.Context, to Message, text string) error
	SendToChannel(ctx context.Context, channelID, text string) error
}

// Purger deletes recent messages in bulk on behalf of a user.
type Purger interface {
	Purge(ctx context.Context, by Message, channelID string, n int) (int, error)
}

// DebugSender posts to the operator debug channel, if one is configured.
type DebugSender interface {
	SendDebug(ctx context.Context, text string) error
}
