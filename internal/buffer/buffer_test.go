package buffer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/log"
	"github.com/mattjoyce/dgw/internal/storage"
)

func rec(title string) embed.Record {
	return embed.Record{
		Title:     title,
		Color:     7506394,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Fields:    []embed.Field{{Name: "n", Value: title}},
	}
}

func openSQLiteBuffer(t *testing.T, path string, capacity int) *SQLite {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLite(db, capacity, log.Discard())
}

// implementations runs a test against every Buffer implementation.
func implementations(t *testing.T, capacity int) map[string]Buffer {
	return map[string]Buffer{
		"memory": NewMemory(capacity, log.Discard()),
		"sqlite": openSQLiteBuffer(t, filepath.Join(t.TempDir(), "buffer.db"), capacity),
	}
}

func titles(recs []embed.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Title)
	}
	return out
}

func TestBufferFIFO(t *testing.T) {
	ctx := context.Background()
	for name, b := range implementations(t, 0) {
		t.Run(name, func(t *testing.T) {
			for _, title := range []string{"A", "B", "C"} {
				require.NoError(t, b.Enqueue(ctx, rec(title)))
			}
			n, err := b.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			got, err := b.DrainAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B", "C"}, titles(got))
			assert.Equal(t, rec("A"), got[0])

			again, err := b.DrainAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, again)
		})
	}
}

func TestBufferCapacityDropsOldest(t *testing.T) {
	ctx := context.Background()
	for name, b := range implementations(t, 2) {
		t.Run(name, func(t *testing.T) {
			for _, title := range []string{"A", "B", "C", "D"} {
				require.NoError(t, b.Enqueue(ctx, rec(title)))
			}
			got, err := b.DrainAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"C", "D"}, titles(got))

			stats, err := b.(StatsReporter).Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), stats.Dropped)
			assert.Equal(t, 0, stats.Buffered)
		})
	}
}

// Concurrent enqueues racing repeated drains: every record comes out exactly once.
func TestBufferDrainRaceExactlyOnce(t *testing.T) {
	ctx := context.Background()
	const producers, perProducer = 4, 50

	for name, b := range implementations(t, 0) {
		t.Run(name, func(t *testing.T) {
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				drained []embed.Record
			)
			done := make(chan struct{})

			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < perProducer; i++ {
						assert.NoError(t, b.Enqueue(ctx, rec(fmt.Sprintf("%d-%03d", p, i))))
					}
				}(p)
			}

			drainerDone := make(chan struct{})
			go func() {
				defer close(drainerDone)
				for {
					got, err := b.DrainAll(ctx)
					assert.NoError(t, err)
					mu.Lock()
					drained = append(drained, got...)
					mu.Unlock()
					select {
					case <-done:
						return
					default:
					}
				}
			}()

			wg.Wait()
			close(done)
			<-drainerDone

			rest, err := b.DrainAll(ctx)
			require.NoError(t, err)
			drained = append(drained, rest...)

			require.Len(t, drained, producers*perProducer)
			seen := make(map[string]bool, len(drained))
			last := make(map[byte]string)
			for _, r := range drained {
				assert.False(t, seen[r.Title], "duplicate %s", r.Title)
				seen[r.Title] = true
				// Per-producer order is preserved.
				p := r.Title[0]
				assert.Greater(t, r.Title, last[p])
				last[p] = r.Title
			}
		})
	}
}

func TestSQLiteBufferSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "buffer.db")

	db, err := storage.OpenSQLite(ctx, path)
	require.NoError(t, err)
	first := NewSQLite(db, 0, log.Discard())
	require.NoError(t, first.Enqueue(ctx, rec("before-restart")))
	require.NoError(t, db.Close())

	second := openSQLiteBuffer(t, path, 0)
	got, err := second.DrainAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"before-restart"}, titles(got))
}

func TestSQLiteBufferSkipsCorruptRows(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	b := NewSQLite(db, 0, log.Discard())

	require.NoError(t, b.Enqueue(ctx, rec("good")))
	_, err = db.ExecContext(ctx, `INSERT INTO delivery_buffer(id, record, created_at) VALUES('bad', 'not json', 'now');`)
	require.NoError(t, err)

	got, err := b.DrainAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, titles(got))

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
