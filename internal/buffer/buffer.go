// Package buffer holds notifications that could not be delivered while the
// chat connection was down.
//
// Both implementations are FIFO and drain atomically: a record enqueued while
// DrainAll runs is returned either by that call or by the next one, never by
// both and never by neither.
package buffer

import (
	"context"

	"github.com/mattjoyce/dgw/internal/embed"
)

// Buffer is an ordered holding area for undelivered records.
type Buffer interface {
	Enqueue(ctx context.Context, rec embed.Record) error
	DrainAll(ctx context.Context) ([]embed.Record, error)
	Len(ctx context.Context) (int, error)
}

// Stats reports buffer counters for the status endpoint.
type Stats struct {
	Buffered int   `json:"buffered"`
	Dropped  int64 `json:"dropped"`
}

// StatsReporter is implemented by buffers that track counters.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}
