package debugsink

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dgw/internal/log"
	"github.com/mattjoyce/dgw/internal/webhook"
)

func delivery(id, body string) webhook.Delivery {
	return webhook.Delivery{
		RequestID:  id,
		EventType:  "Push Hook",
		Raw:        []byte(body),
		ReceivedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func readSpool(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var out []Entry
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestCaptureWritesWhileEnabled(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false, log.Discard())

	s.Capture(delivery("ignored", "{}"))
	assert.Empty(t, s.Path())

	require.NoError(t, s.SetEnabled(true))
	s.Capture(delivery("r1", `{"a":1}`))
	s.Capture(delivery("r2", "not-json"))
	path := s.Path()
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))

	require.NoError(t, s.SetEnabled(false))
	assert.Empty(t, s.Path())
	s.Capture(delivery("after", "{}"))

	entries := readSpool(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "r1", entries[0].RequestID)
	assert.Equal(t, `{"a":1}`, entries[0].Body)
	assert.Equal(t, 7, entries[0].Size)
	assert.Equal(t, "not-json", entries[1].Body)
}

func TestSetEnabledIsIdempotent(t *testing.T) {
	s := New(t.TempDir(), true, log.Discard())
	assert.True(t, s.Enabled())
	require.NoError(t, s.SetEnabled(true))
	require.NoError(t, s.SetEnabled(false))
	require.NoError(t, s.SetEnabled(false))
	assert.False(t, s.Enabled())
}

func TestCaptureWithoutDirOnlyLogs(t *testing.T) {
	s := New("", true, log.Discard())
	s.Capture(delivery("r1", "{}"))
	assert.Empty(t, s.Path())
	require.NoError(t, s.Close())
}

func TestWriteAfterDisableOpensNoSpool(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	s := New(dir, true, log.Discard())
	require.NoError(t, s.SetEnabled(false))

	// A capture that passed its enabled check just before the disable.
	require.NoError(t, s.write(Entry{RequestID: "late"}))
	assert.Empty(t, s.Path())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "spool dir created after disable")
}

func TestDisableDuringCapturesLeavesNoSpoolOpen(t *testing.T) {
	s := New(t.TempDir(), true, log.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Capture(delivery("r", "{}"))
			}
		}()
	}
	require.NoError(t, s.SetEnabled(false))
	wg.Wait()

	assert.Empty(t, s.Path())
}
