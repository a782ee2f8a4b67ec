// Package relay moves normalized records to the chat connection, buffering
// them while the connection is down and replaying them on recovery.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/dgw/internal/buffer"
	"github.com/mattjoyce/dgw/internal/chat"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/events"
	"github.com/mattjoyce/dgw/internal/failure"
	"github.com/mattjoyce/dgw/internal/webhook"
)

type Options struct {
	Conn       chat.Connection
	Buffer     buffer.Buffer
	Normalizer *embed.Normalizer
	Reporter   *Reporter
	Hub        *events.Hub
	Logger     *slog.Logger
	// Name is the bot name used in the empty-recovery notice.
	Name string
}

type Dispatcher struct {
	conn       chat.Connection
	buf        buffer.Buffer
	normalizer *embed.Normalizer
	reporter   *Reporter
	hub        *events.Hub
	logger     *slog.Logger
	name       string

	recoverMu sync.Mutex
}

func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = NewReporter(opts.Conn, opts.Name, 0, logger)
	}
	return &Dispatcher{
		conn:       opts.Conn,
		buf:        opts.Buffer,
		normalizer: opts.Normalizer,
		reporter:   reporter,
		hub:        opts.Hub,
		logger:     logger,
		name:       opts.Name,
	}
}

// Handle sends rec now if the connection is Ready and buffers it otherwise.
// A failed send is reported and the record is dropped; only a failure to
// buffer is returned.
func (d *Dispatcher) Handle(ctx context.Context, rec embed.Record) error {
	if d.conn.Status() != chat.StatusReady {
		if err := d.buf.Enqueue(ctx, rec); err != nil {
			ferr := failure.Wrap(failure.DeliveryFailure, "buffering "+rec.Title, err)
			d.reporter.Report(ctx, ferr, Origin{})
			return ferr
		}
		d.logger.Info("chat not ready, buffered record", "title", rec.Title, "status", d.conn.Status().String())
		d.publish(events.DeliveryBuffered, map[string]any{"title": rec.Title})
		return nil
	}

	if err := d.conn.Send(ctx, "", rec); err != nil {
		d.publish(events.DeliveryFailed, map[string]any{"title": rec.Title, "error": err.Error()})
		d.reporter.Report(ctx, failure.Wrap(failure.DeliveryFailure, "sending "+rec.Title, err), Origin{})
		return nil
	}
	d.logger.Debug("record delivered", "title", rec.Title)
	d.publish(events.DeliverySent, map[string]any{"title": rec.Title})
	return nil
}

// OnRecovered drains the buffer once and sends everything as one delivery,
// led by a "Recovered N requests" status record. With nothing buffered only
// a short notice is sent. Records enqueued after the drain wait for the next
// recovery. It returns the number of records replayed.
func (d *Dispatcher) OnRecovered(ctx context.Context) (int, error) {
	d.recoverMu.Lock()
	defer d.recoverMu.Unlock()

	records, err := d.buf.DrainAll(ctx)
	if err != nil {
		ferr := failure.Wrap(failure.DeliveryFailure, "draining buffer", err)
		d.reporter.Report(ctx, ferr, Origin{})
		return 0, ferr
	}

	if len(records) == 0 {
		notice := fmt.Sprintf("%s reconnected. No requests were received while offline.", d.name)
		if err := d.conn.Send(ctx, notice); err != nil {
			d.reporter.Report(ctx, failure.Wrap(failure.DeliveryFailure, "sending recovery notice", err), Origin{})
		}
		d.publish(events.DeliveryRecovered, map[string]any{"count": 0})
		return 0, nil
	}

	status := d.normalizer.StatusRecord(
		fmt.Sprintf("Recovered %d requests", len(records)),
		fmt.Sprintf("%s lost its chat connection. These events arrived while it was offline.", d.name),
	)
	batch := make([]embed.Record, 0, len(records)+1)
	batch = append(batch, status)
	batch = append(batch, records...)

	d.logger.Info("replaying buffered records", "count", len(records))
	if err := d.conn.Send(ctx, "", batch...); err != nil {
		ferr := failure.Wrap(failure.DeliveryFailure, fmt.Sprintf("sending %d recovered records", len(records)), err)
		d.publish(events.DeliveryFailed, map[string]any{"count": len(records), "error": err.Error()})
		d.reporter.Report(ctx, ferr, Origin{})
		return 0, ferr
	}
	d.publish(events.DeliveryRecovered, map[string]any{"count": len(records)})
	return len(records), nil
}

// Buffered is the number of records waiting for the next recovery.
func (d *Dispatcher) Buffered(ctx context.Context) (int, error) {
	return d.buf.Len(ctx)
}

// Accept turns an ingested webhook into a record and hands it to Handle.
func (d *Dispatcher) Accept(ctx context.Context, del webhook.Delivery) {
	logger := d.logger.With("request_id", del.RequestID, "event_type", del.EventType)

	var rec embed.Record
	if del.ParseErr != nil {
		logger.Warn("webhook body did not parse", "error", del.ParseErr)
		rec = d.normalizer.ErrorRecord(del.EventType, failure.Wrap(failure.ParseFailure, "parsing request body", del.ParseErr), del.Raw)
	} else {
		rec = d.normalizer.Normalize(del.EventType, del.Payload)
	}

	if err := d.Handle(ctx, rec); err != nil {
		logger.Error("record lost", "error", err)
	}
}

// Reporter exposes the error reporter for command handlers.
func (d *Dispatcher) Reporter() *Reporter { return d.reporter }

func (d *Dispatcher) publish(eventType string, data any) {
	if d.hub != nil {
		d.hub.Publish(eventType, data)
	}
}
