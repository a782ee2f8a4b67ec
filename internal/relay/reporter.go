package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/failure"
)

// Origin identifies what triggered a failing operation. A nil Message means
// the failure came from webhook traffic or the connection lifecycle.
type Origin struct {
	Message *chat.Message
}

// Reporter tells an operator about errors through the first path that works:
// a reply to the command message, the debug channel, then the delivery
// channel itself.
type Reporter struct {
	conn    chat.Connection
	name    string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewReporter builds a Reporter allowing perSecond reports with a burst of 5.
// A non-positive rate disables throttling.
func NewReporter(conn chat.Connection, name string, perSecond float64, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Reporter{
		conn:    conn,
		name:    name,
		limiter: rate.NewLimiter(limit, 5),
		logger:  logger,
	}
}

// Report logs err and forwards it to the operator unless throttled.
func (r *Reporter) Report(ctx context.Context, err error, origin Origin) {
	if err == nil {
		return
	}
	kind, where := failure.KindOf(err), ""
	var fe *failure.Error
	if errors.As(err, &fe) {
		where = fe.Context
	}
	r.logger.Error("operation failed", "kind", kind.String(), "context", where, "error", err)

	if !r.limiter.Allow() {
		r.logger.Warn("error report throttled", "kind", kind.String())
		return
	}

	if origin.Message != nil {
		if replier, ok := r.conn.(chat.Replier); ok {
			replyErr := replier.Reply(ctx, *origin.Message, "encountered an error: "+message(err))
			if replyErr == nil {
				return
			}
			r.logger.Warn("error reply failed", "error", replyErr)
		}
	}

	who := "Someone"
	if origin.Message != nil && origin.Message.AuthorName != "" {
		who = origin.Message.AuthorName
	}
	debugText := fmt.Sprintf("%s encountered an error...\nContext: %s\nError: %s", who, orDash(where), message(err))

	var debugErr error = chat.ErrNoDebugChannel
	if ds, ok := r.conn.(chat.DebugSender); ok {
		debugErr = ds.SendDebug(ctx, debugText)
		if debugErr == nil {
			return
		}
	}
	if !errors.Is(debugErr, chat.ErrNoDebugChannel) {
		r.logger.Warn("debug channel report failed", "error", debugErr)
	}

	fallback := fmt.Sprintf("[%s] encountered an error...\nContext: %s\nError: %s", r.name, orDash(where), message(err))
	if !errors.Is(debugErr, chat.ErrNoDebugChannel) {
		fallback += "\nReporting Error: " + debugErr.Error()
	}
	if sendErr := r.conn.Send(ctx, fallback); sendErr != nil {
		r.logger.Error("error report undeliverable", "error", sendErr)
	}
}

func message(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
