// Package commands implements the operator commands read from the chat
// platform: ping, embed, debug, disconnect, test, clear, status and help.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/dgw/internal/buffer"
	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/failure"
	"github.com/mattjoyce/dgw/internal/monitor"
	"github.com/mattjoyce/dgw/internal/relay"
	"github.com/mattjoyce/dgw/internal/samples"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultDisconnect = 5000 * time.Millisecond
	// Bulk delete bounds, both exclusive.
	minClear = 2
	maxClear = 200
)

type Access int

const (
	AccessEveryone Access = iota
	AccessMasterOnly
)

// Deliverer hands a record to the relay.
type Deliverer interface {
	Handle(ctx context.Context, rec embed.Record) error
}

// Maintainer is the part of the connection monitor commands can drive.
type Maintainer interface {
	BeginMaintenance(ctx context.Context, d time.Duration) (time.Duration, error)
	Snapshot() monitor.Snapshot
}

// DebugToggle switches raw body capture on and off.
type DebugToggle interface {
	SetEnabled(on bool) error
	Enabled() bool
}

// HandlerFunc runs one command. A returned error is reported to the invoker.
type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Usage       string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is one parsed invocation.
type Request struct {
	Message chat.Message
	Command string
	Args    []string
}

// Arg returns the i-th argument or "".
func (r *Request) Arg(i int) string {
	if i < len(r.Args) {
		return r.Args[i]
	}
	return ""
}

type Options struct {
	Conn         chat.Connection
	Relay        Deliverer
	Normalizer   *embed.Normalizer
	Samples      *samples.Registry
	Reporter     *relay.Reporter
	Monitor      Maintainer
	Debug        DebugToggle
	Buffer       buffer.Buffer
	MasterUserID string
	Name         string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Router parses inbound messages and runs the matching command.
type Router struct {
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	commands map[string]Command
}

func New(opts Options) *Router {
	r := &Router{
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
		commands: make(map[string]Command),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.opts.Reporter == nil {
		r.opts.Reporter = relay.NewReporter(opts.Conn, opts.Name, 0, r.logger)
	}
	for _, c := range r.builtins() {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a command.
func (r *Router) Register(c Command) {
	r.commands[strings.ToLower(c.Name)] = c
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits content into a lower-cased command name and its arguments.
func Parse(content string) (string, []string) {
	fields := strings.Fields(strings.ToLower(content))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// Handle implements chat.MessageHandler. Unknown commands are ignored.
func (r *Router) Handle(ctx context.Context, msg chat.Message) {
	name, args := Parse(msg.Content)
	cmd, ok := r.commands[name]
	if !ok {
		r.logger.Debug("ignoring unknown command", "command", name, "author", msg.AuthorID)
		return
	}
	req := &Request{Message: msg, Command: name, Args: args}
	logger := r.logger.With("command", name, "author", msg.AuthorID, "channel", msg.ChannelID)

	if cmd.Access == AccessMasterOnly && (r.opts.MasterUserID == "" || msg.AuthorID != r.opts.MasterUserID) {
		logger.Warn("command refused", "reason", "not master user")
		r.reply(ctx, req, fmt.Sprintf("You're not allowed to %s the bot!", name))
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("command panic", "panic", p)
			r.report(ctx, req, fmt.Errorf("panic: %v", p))
		}
	}()

	start := r.now()
	if err := cmd.Handle(cctx, req); err != nil {
		r.report(ctx, req, err)
		return
	}
	logger.Info("command handled", "args", args, "duration_ms", r.now().Sub(start).Milliseconds())
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	var err error
	if replier, ok := r.opts.Conn.(chat.Replier); ok {
		err = replier.Reply(ctx, req.Message, text)
	} else {
		err = r.opts.Conn.Send(ctx, text)
	}
	if err != nil {
		r.report(ctx, req, fmt.Errorf("sending a reply: %w", err))
	}
}

func (r *Router) report(ctx context.Context, req *Request, err error) {
	where := "[" + strings.ToUpper(req.Command)
	if len(req.Args) > 0 {
		where += ":" + strings.Join(req.Args, ",")
	}
	where += "]"
	if failure.KindOf(err) == failure.Unknown {
		err = failure.Wrap(failure.DeliveryFailure, where, err)
	}
	msg := req.Message
	r.opts.Reporter.Report(ctx, err, relay.Origin{Message: &msg})
}

func channelRef(id string) string {
	return "<#" + id + ">"
}

func (r *Router) builtins() []Command {
	return []Command{
		{Name: "ping", Description: "reply with pong", Handle: r.ping},
		{Name: "embed", Usage: "embed <sample>", Description: "send a sample notification", Handle: r.embed},
		{Name: "debug", Usage: "debug <true|false>", Description: "toggle raw body capture", Handle: r.debug},
		{Name: "disconnect", Usage: "disconnect [ms]", Description: "take the bot offline for a while", Access: AccessMasterOnly, Handle: r.disconnect},
		{Name: "test", Description: "send a test embed", Handle: r.test},
		{Name: "clear", Usage: "clear <n> [#channel]", Description: "bulk delete recent messages", Handle: r.clear},
		{Name: "status", Description: "show connection and buffer state", Handle: r.status},
		{Name: "help", Description: "list commands", Handle: r.help},
	}
}

func (r *Router) ping(ctx context.Context, req *Request) error {
	if replier, ok := r.opts.Conn.(chat.Replier); ok {
		return replier.SendToChannel(ctx, req.Message.ChannelID, "pong")
	}
	return r.opts.Conn.Send(ctx, "pong")
}

func (r *Router) embed(ctx context.Context, req *Request) error {
	key := req.Arg(0)
	if key == "" || r.opts.Samples == nil || !r.opts.Samples.Has(key) {
		r.reply(ctx, req, "Not a recognized argument")
		return nil
	}
	s, err := r.opts.Samples.Load(key)
	if err != nil {
		r.logger.Error("sample load failed", "sample", key, "error", err)
		r.reply(ctx, req, "There was a problem loading the sample data: "+key)
		return nil
	}
	r.reply(ctx, req, "Sending a sample embed: "+key)
	return r.opts.Relay.Handle(ctx, r.opts.Normalizer.Normalize(s.EventType, s.Payload))
}

func (r *Router) debug(ctx context.Context, req *Request) error {
	if r.opts.Debug == nil {
		r.reply(ctx, req, "Debug capture is not available")
		return nil
	}
	var on bool
	switch req.Arg(0) {
	case "true", "on":
		on = true
	case "false", "off":
		on = false
	case "":
		r.reply(ctx, req, fmt.Sprintf("Debug capture is %s", onOff(r.opts.Debug.Enabled())))
		return nil
	default:
		r.reply(ctx, req, "Usage: debug <true|false>")
		return nil
	}
	if err := r.opts.Debug.SetEnabled(on); err != nil {
		return fmt.Errorf("toggle debug capture: %w", err)
	}
	r.reply(ctx, req, fmt.Sprintf("Debug capture is %s", onOff(on)))
	return nil
}

func (r *Router) disconnect(ctx context.Context, req *Request) error {
	d := defaultDisconnect
	if ms, err := strconv.Atoi(req.Arg(0)); err == nil {
		d = time.Duration(ms) * time.Millisecond
	}
	d = min(max(d, monitor.MinMaintenance), monitor.MaxMaintenance)

	// The reply has to go out before the connection is closed.
	r.reply(ctx, req, fmt.Sprintf("Taking bot offline for %d ms. Any commands will be ignored until after that time, but the server will still attempt to listen for HTTP requests.", d.Milliseconds()))
	if _, err := r.opts.Monitor.BeginMaintenance(ctx, d); err != nil {
		return fmt.Errorf("destroying the client session: %w", err)
	}
	return nil
}

func (r *Router) test(ctx context.Context, req *Request) error {
	r.reply(ctx, req, "Sending a sample embed")
	rec := embed.Record{
		Color:       3447003,
		Title:       "This is an embed",
		Username:    r.opts.Name,
		Permalink:   "https://example.com",
		Description: `[abcdef](https://example.com "A title") A commit message... -` + r.opts.Name,
		Fields: []embed.Field{
			{Name: "Fields", Value: "They can have different fields with small headlines."},
			{Name: "Masked links", Value: "You can put [masked links](https://example.com) inside of rich embeds."},
			{Name: "Markdown", Value: "You can put all the *usual* **__Markdown__** inside of them."},
		},
		Timestamp: r.now().UTC(),
		Footer:    embed.Footer{Text: "© Example"},
	}
	return r.opts.Relay.Handle(ctx, rec)
}

func (r *Router) clear(ctx context.Context, req *Request) error {
	n, err := strconv.Atoi(req.Arg(0))
	if err != nil || n <= minClear || n >= maxClear {
		r.reply(ctx, req, "You must specify a number between 2 and 200, exclusive.")
		return nil
	}
	purger, ok := r.opts.Conn.(chat.Purger)
	if !ok {
		r.reply(ctx, req, "This chat platform does not support bulk deletes.")
		return nil
	}
	channel := req.Message.ChannelID
	if len(req.Message.MentionedChannels) > 0 {
		channel = req.Message.MentionedChannels[0]
	}
	deleted, err := purger.Purge(ctx, req.Message, channel, n)
	if errors.Is(err, chat.ErrNotPermitted) {
		r.reply(ctx, req, "Sorry, but you are not permitted to manage messages in "+channelRef(channel))
		return nil
	}
	if err != nil {
		return fmt.Errorf("bulk delete %d in %s: %w", n, channel, err)
	}
	r.reply(ctx, req, fmt.Sprintf("Successfully deleted %d recent messages (from within the past 2 weeks) in %s", deleted, channelRef(channel)))
	return nil
}

func (r *Router) status(ctx context.Context, req *Request) error {
	var b strings.Builder
	if r.opts.Monitor != nil {
		snap := r.opts.Monitor.Snapshot()
		fmt.Fprintf(&b, "Connection: %s\nRecovery pending: %s\n", snap.Status, yesNo(snap.RecoveryPending))
		if snap.Maintenance {
			fmt.Fprintf(&b, "Maintenance until: %s\n", snap.MaintenanceUntil.UTC().Format(time.RFC3339))
		}
	} else {
		fmt.Fprintf(&b, "Connection: %s\n", r.opts.Conn.Status())
	}
	if r.opts.Buffer != nil {
		n, err := r.opts.Buffer.Len(ctx)
		if err != nil {
			return fmt.Errorf("count buffered records: %w", err)
		}
		fmt.Fprintf(&b, "Buffered: %d\n", n)
	}
	if r.opts.Debug != nil {
		fmt.Fprintf(&b, "Debug capture: %s\n", onOff(r.opts.Debug.Enabled()))
	}
	r.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *Router) help(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range r.Commands() {
		usage := c.Usage
		if usage == "" {
			usage = c.Name
		}
		fmt.Fprintf(&b, "\n%s - %s", usage, c.Description)
		if c.Access == AccessMasterOnly {
			b.WriteString(" (master only)")
		}
	}
	r.reply(ctx, req, b.String())
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
