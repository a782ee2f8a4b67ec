package webhook

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// Config holds the ingestor settings. Sizes are already parsed to bytes.
type Config struct {
	Listen      string
	Token       string
	TokenHeader string
	EventHeader string
	MaxBodySize int64
	ChunkSize   int
}

// Delivery is one authenticated webhook after the body has been read.
// Exactly one of Payload and ParseErr is set.
type Delivery struct {
	RequestID   string
	EventType   string
	ContentType string
	Payload     json.RawMessage
	Raw         []byte
	ParseErr    error
	ReceivedAt  time.Time
}

// Sink consumes accepted deliveries. Accept runs on its own goroutine after
// the HTTP response has been written.
type Sink interface {
	Accept(ctx context.Context, d Delivery)
}

// Tap observes raw bodies before they are parsed.
type Tap interface {
	Capture(d Delivery)
}

// Echo is the diagnostic response body for both accepted and rejected requests.
type Echo struct {
	Headers map[string]string `json:"headers"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    string            `json:"body"`
}

// requestState tracks validation across the chunks of one request.
type requestState int

const (
	stateUnchecked requestState = iota
	stateValid
	stateInvalid
)

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
	DefaultChunkSize   = 32 * 1024
	DefaultTokenHeader = "X-Gitlab-Token"
	DefaultEventHeader = "X-Gitlab-Event"
)
