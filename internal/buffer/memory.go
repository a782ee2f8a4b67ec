package buffer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mattjoyce/dgw/internal/embed"
)

// Memory is a process-lifetime buffer. With a positive capacity the oldest
// record is discarded once the buffer is full.
type Memory struct {
	mu       sync.Mutex
	records  []embed.Record
	capacity int
	dropped  int64
	logger   *slog.Logger
}

func NewMemory(capacity int, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{capacity: capacity, logger: logger}
}

func (m *Memory) Enqueue(_ context.Context, rec embed.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 && len(m.records) >= m.capacity {
		m.records = m.records[1:]
		m.dropped++
		m.logger.Warn("delivery buffer full, dropped oldest record", "capacity", m.capacity, "dropped_total", m.dropped)
	}
	m.records = append(m.records, rec)
	return nil
}

// DrainAll swaps the backing slice out under the lock.
func (m *Memory) DrainAll(_ context.Context) ([]embed.Record, error) {
	m.mu.Lock()
	out := m.records
	m.records = nil
	m.mu.Unlock()
	return out, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Buffered: len(m.records), Dropped: m.dropped}, nil
}
