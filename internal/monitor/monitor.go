// Package monitor watches the chat connection and drives reconnection and
// recovery replay.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/events"
	"github.com/mattjoyce/dgw/internal/failure"
	"github.com/mattjoyce/dgw/internal/relay"
)

const (
	DefaultInterval         = 3 * time.Second
	DefaultReconnectTimeout = 30 * time.Second
	MinMaintenance          = 5 * time.Second
	MaxMaintenance          = time.Hour
)

// Recoverer replays whatever was buffered while the connection was down.
type Recoverer interface {
	OnRecovered(ctx context.Context) (int, error)
	Buffered(ctx context.Context) (int, error)
}

type Options struct {
	Conn      chat.Connection
	Recoverer Recoverer
	Reporter  *relay.Reporter
	Hub       *events.Hub
	Interval  time.Duration
	// ReconnectTimeout bounds how long a reconnect may stay unfinished
	// before it is retried.
	ReconnectTimeout time.Duration
	// ReadyMessage is announced on a ready that is not a recovery.
	ReadyMessage string
	Logger       *slog.Logger
}

// Snapshot is the monitor state exposed on the status endpoint.
type Snapshot struct {
	Status           string    `json:"status"`
	RecoveryPending  bool      `json:"recovery_pending"`
	Maintenance      bool      `json:"maintenance"`
	MaintenanceUntil time.Time `json:"maintenance_until,omitempty"`
}

type Monitor struct {
	conn      chat.Connection
	recoverer Recoverer
	reporter  *relay.Reporter
	hub       *events.Hub
	interval  time.Duration
	timeout   time.Duration
	readyMsg  string
	logger    *slog.Logger

	minMaint, maxMaint time.Duration

	recoveryPending atomic.Bool
	// readyHandled is set once per ready transition and cleared whenever the
	// connection is seen in any other state.
	readyHandled atomic.Bool
	// reconnectAt is when the last reconnect attempt started, in unix nanos.
	reconnectAt atomic.Int64

	mu               sync.Mutex
	maintenanceUntil time.Time
	maintTimer       *time.Timer
}

func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.ReconnectTimeout
	if timeout <= 0 {
		timeout = DefaultReconnectTimeout
	}
	return &Monitor{
		conn:      opts.Conn,
		recoverer: opts.Recoverer,
		reporter:  opts.Reporter,
		hub:       opts.Hub,
		interval:  interval,
		timeout:   timeout,
		readyMsg:  opts.ReadyMessage,
		logger:    logger,
		minMaint:  MinMaintenance,
		maxMaint:  MaxMaintenance,
	}
}

// Run polls the connection and reacts to ready events until ctx is done.
// Polls and ready handling share one goroutine, so a recovery never
// overlaps a reconnect decision. The ready subscription only speeds things
// up: every poll also acts on a Ready status it has not handled yet.
func (m *Monitor) Run(ctx context.Context) error {
	var ready <-chan events.Event
	if m.hub != nil {
		ch, cancel := m.hub.SubscribeTypes(events.ChatReady)
		defer cancel()
		ready = ch
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("connection monitor started", "interval", m.interval, "reconnect_timeout", m.timeout)
	for {
		select {
		case <-ctx.Done():
			m.stopMaintenanceTimer()
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		case _, ok := <-ready:
			if !ok {
				ready = nil
				continue
			}
			if m.conn.Status() == chat.StatusReady {
				m.checkReady(ctx)
			}
		}
	}
}

// Check runs one health poll. A Disconnected connection outside a
// maintenance window triggers exactly one reconnect until recovery finishes,
// unless that reconnect is still unfinished after the reconnect timeout.
// A Ready connection gets its ready handling if nothing has done it yet.
func (m *Monitor) Check(ctx context.Context) {
	status := m.conn.Status()
	if status == chat.StatusReady {
		m.checkReady(ctx)
		return
	}
	m.readyHandled.Store(false)

	if m.InMaintenance() {
		return
	}
	if m.recoveryPending.Load() {
		if status != chat.StatusDestroyed && m.reconnectExpired() {
			m.logger.Warn("reconnect did not complete, retrying", "status", status.String(), "timeout", m.timeout)
			m.publish(events.ChatWarn, map[string]any{"warning": "reconnect timed out", "status": status.String()})
			m.reconnect(ctx)
		}
		return
	}
	if status != chat.StatusDisconnected {
		return
	}
	if !m.recoveryPending.CompareAndSwap(false, true) {
		return
	}
	m.reconnect(ctx)
}

func (m *Monitor) reconnectExpired() bool {
	started := m.reconnectAt.Load()
	return started != 0 && time.Since(time.Unix(0, started)) > m.timeout
}

func (m *Monitor) reconnect(ctx context.Context) {
	m.logger.Warn("chat connection lost, reconnecting")
	m.readyHandled.Store(false)
	m.reconnectAt.Store(time.Now().UnixNano())
	if err := m.conn.Reconnect(ctx); err != nil {
		// Let the next poll try again.
		m.recoveryPending.Store(false)
		m.logger.Error("reconnect failed", "error", err)
		m.publish(events.ChatWarn, map[string]any{"warning": "reconnect failed", "error": err.Error()})
	}
}

// checkReady runs HandleReady once per ready transition. Later polls only
// pick up records that were buffered just as the status flipped to Ready.
func (m *Monitor) checkReady(ctx context.Context) {
	if m.readyHandled.CompareAndSwap(false, true) {
		m.HandleReady(ctx)
		return
	}
	if m.recoveryPending.Load() || m.buffered(ctx) > 0 {
		m.replay(ctx)
	}
}

// HandleReady replays the buffer after a recovery, or announces the bot
// when the connection came up on its own. Records buffered before the
// first ready, or carried over from a previous run, are replayed after
// the announcement.
func (m *Monitor) HandleReady(ctx context.Context) {
	if m.recoveryPending.Load() {
		m.replay(ctx)
		return
	}

	m.announce(ctx)
	if m.buffered(ctx) > 0 {
		m.replay(ctx)
	}
}

func (m *Monitor) replay(ctx context.Context) {
	n, err := m.recoverer.OnRecovered(ctx)
	m.recoveryPending.Store(false)
	m.reconnectAt.Store(0)
	if err != nil {
		m.logger.Error("recovery replay failed", "error", err)
		return
	}
	m.logger.Info("recovered buffered deliveries", "replayed", n)
}

func (m *Monitor) buffered(ctx context.Context) int {
	n, err := m.recoverer.Buffered(ctx)
	if err != nil {
		m.logger.Warn("failed to read buffer size", "error", err)
		return 0
	}
	return n
}

func (m *Monitor) announce(ctx context.Context) {
	if m.readyMsg == "" {
		return
	}
	if err := m.conn.Send(ctx, m.readyMsg); err != nil {
		m.logger.Error("ready announcement failed", "error", err)
		if m.reporter != nil {
			m.reporter.Report(ctx, failure.Wrap(failure.DeliveryFailure, "announcing ready", err), relay.Origin{})
		}
	}
}

// BeginMaintenance takes the connection offline for d, clamped to
// [5s, 1h]. Health checks are suppressed until it ends, then the connection
// is reopened and anything buffered meanwhile is replayed.
func (m *Monitor) BeginMaintenance(ctx context.Context, d time.Duration) (time.Duration, error) {
	d = min(max(d, m.minMaint), m.maxMaint)

	m.mu.Lock()
	if m.maintTimer != nil {
		m.maintTimer.Stop()
	}
	m.maintenanceUntil = time.Now().Add(d)
	until := m.maintenanceUntil
	m.mu.Unlock()
	m.readyHandled.Store(false)

	m.logger.Info("maintenance disconnect", "duration", d, "until", until)
	m.publish(events.MaintenanceStarted, map[string]any{"duration_ms": d.Milliseconds(), "until": until})

	if err := m.conn.Close(ctx); err != nil {
		m.endMaintenance()
		return d, fmt.Errorf("close chat connection: %w", err)
	}

	base := context.WithoutCancel(ctx)
	m.mu.Lock()
	m.maintTimer = time.AfterFunc(d, func() {
		m.endMaintenance()
		m.recoveryPending.Store(true)
		m.reconnect(base)
	})
	m.mu.Unlock()
	return d, nil
}

func (m *Monitor) endMaintenance() {
	m.mu.Lock()
	m.maintenanceUntil = time.Time{}
	m.maintTimer = nil
	m.mu.Unlock()
	m.logger.Info("maintenance window over")
	m.publish(events.MaintenanceEnded, nil)
}

func (m *Monitor) stopMaintenanceTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maintTimer != nil {
		m.maintTimer.Stop()
		m.maintTimer = nil
	}
}

// InMaintenance reports whether an operator disconnect is in effect.
func (m *Monitor) InMaintenance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.maintenanceUntil.IsZero() && time.Now().Before(m.maintenanceUntil)
}

func (m *Monitor) RecoveryPending() bool {
	return m.recoveryPending.Load()
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	until := m.maintenanceUntil
	m.mu.Unlock()
	inMaint := !until.IsZero() && time.Now().Before(until)
	if !inMaint {
		until = time.Time{}
	}
	return Snapshot{
		Status:           m.conn.Status().String(),
		RecoveryPending:  m.recoveryPending.Load(),
		Maintenance:      inMaint,
		MaintenanceUntil: until,
	}
}

func (m *Monitor) publish(eventType string, data any) {
	if m.hub != nil {
		m.hub.Publish(eventType, data)
	}
}
