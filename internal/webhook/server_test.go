package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dgw/internal/config"
	"github.com/mattjoyce/dgw/internal/embed"
	"github.com/mattjoyce/dgw/internal/events"
	"github.com/mattjoyce/dgw/internal/log"
)

const testToken = "s3cret-token"

// captureSink records deliveries and signals each one.
type captureSink struct {
	mu   sync.Mutex
	got  []Delivery
	done chan Delivery
}

func newCaptureSink() *captureSink {
	return &captureSink{done: make(chan Delivery, 8)}
}

func (c *captureSink) Accept(_ context.Context, d Delivery) {
	c.mu.Lock()
	c.got = append(c.got, d)
	c.mu.Unlock()
	c.done <- d
}

func (c *captureSink) wait(t *testing.T) Delivery {
	t.Helper()
	select {
	case d := <-c.done:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("sink not called")
		return Delivery{}
	}
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type captureTap struct {
	mu  sync.Mutex
	got [][]byte
}

func (c *captureTap) Capture(d Delivery) {
	c.mu.Lock()
	c.got = append(c.got, d.Raw)
	c.mu.Unlock()
}

func newTestServer(sink Sink) *Server {
	return New(Config{Token: testToken}, sink, log.Discard())
}

func post(t *testing.T, h http.Handler, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEcho(t *testing.T, body []byte) Echo {
	t.Helper()
	var e Echo
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestRejectsMissingToken(t *testing.T) {
	sink := newCaptureSink()
	s := newTestServer(sink)
	hub := events.NewHub(10)
	s.SetHub(hub)

	rec := post(t, s.Handler(), "/hooks", map[string]string{"X-Gitlab-Event": "Push Hook"}, `{"a":1}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "close", rec.Header().Get("Connection"))
	echo := decodeEcho(t, rec.Body.Bytes())
	assert.Equal(t, "POST", echo.Method)
	assert.Equal(t, "/hooks", echo.URL)
	assert.Equal(t, "Push Hook", echo.Headers["x-gitlab-event"])

	s.Wait()
	assert.Equal(t, 0, sink.count(), "rejected requests never reach the pipeline")

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.Equal(t, events.WebhookRejected, snap[0].Type)
}

func TestRejectsWrongToken(t *testing.T) {
	sink := newCaptureSink()
	s := newTestServer(sink)

	rec := post(t, s.Handler(), "/", map[string]string{"X-Gitlab-Token": "nope"}, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	echo := decodeEcho(t, rec.Body.Bytes())
	assert.Equal(t, "[redacted]", echo.Headers["x-gitlab-token"])
	s.Wait()
	assert.Equal(t, 0, sink.count())
}

func TestRejectsEmptyBodyWithoutToken(t *testing.T) {
	s := newTestServer(newCaptureSink())
	rec := post(t, s.Handler(), "/", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnconfiguredTokenRejectsEverything(t *testing.T) {
	sink := newCaptureSink()
	s := New(Config{}, sink, log.Discard())

	rec := post(t, s.Handler(), "/", map[string]string{"X-Gitlab-Token": ""}, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnlyPostIsHandled(t *testing.T) {
	s := newTestServer(newCaptureSink())
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAcceptsPushAndNormalizes(t *testing.T) {
	sink := newCaptureSink()
	s := newTestServer(sink)
	tap := &captureTap{}
	s.SetTap(tap)

	body := `{"commits":[{"message":"fix bug","modified":[],"added":["a"],"removed":[]}], "total_commits_count":1, "project":{"path_with_namespace":"x/y","web_url":"http://x"}, "user_name":"alice","user_avatar":"http://a"}`
	rec := post(t, s.Handler(), "/any/path", map[string]string{
		"X-Gitlab-Token": testToken,
		"X-Gitlab-Event": "Push Hook",
		"Content-Type":   "application/json",
	}, body)

	assert.Equal(t, http.StatusOK, rec.Code)
	echo := decodeEcho(t, rec.Body.Bytes())
	assert.Equal(t, "POST", echo.Method)
	assert.Equal(t, "/any/path", echo.URL)

	d := sink.wait(t)
	require.NoError(t, d.ParseErr)
	assert.Equal(t, "Push Hook", d.EventType)
	assert.NotEmpty(t, d.RequestID)
	assert.JSONEq(t, body, string(d.Payload))

	n := embed.New(embed.Options{Logger: log.Discard()})
	out := n.Normalize(d.EventType, d.Payload)
	assert.Contains(t, out.Title, "1 new commit")
	assert.Contains(t, out.Description, "fix bug")

	s.Wait()
	require.Len(t, tap.got, 1)
	assert.Equal(t, body, string(tap.got[0]))
}

func TestMalformedBodyStillAnswered(t *testing.T) {
	sink := newCaptureSink()
	s := newTestServer(sink)

	rec := post(t, s.Handler(), "/", map[string]string{
		"X-Gitlab-Token": testToken,
		"X-Gitlab-Event": "Push Hook",
		"Content-Type":   "application/json",
	}, "not-json")

	assert.Equal(t, http.StatusOK, rec.Code)
	d := sink.wait(t)
	require.Error(t, d.ParseErr)
	assert.Contains(t, d.ParseErr.Error(), "declared application/json but body is not valid JSON")
	assert.Equal(t, "not-json", string(d.Raw))
	assert.Nil(t, d.Payload)

	n := embed.New(embed.Options{Logger: log.Discard()})
	out := n.ErrorRecord(d.EventType, d.ParseErr, d.Raw)
	assert.Equal(t, "Error Reading HTTP Request Data: Push Hook", out.Title)
}

func TestEmptyBodyWithValidToken(t *testing.T) {
	sink := newCaptureSink()
	s := newTestServer(sink)

	rec := post(t, s.Handler(), "/", map[string]string{"X-Gitlab-Token": testToken}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	d := sink.wait(t)
	require.Error(t, d.ParseErr)
	assert.Contains(t, d.ParseErr.Error(), "body is empty")
	assert.Empty(t, d.EventType)
}

func TestBodyIsReadInChunks(t *testing.T) {
	sink := newCaptureSink()
	s := New(Config{Token: testToken, ChunkSize: 4}, sink, log.Discard())

	body := `{"object_kind":"push","commits":[]}`
	rec := post(t, s.Handler(), "/", map[string]string{"X-Gitlab-Token": testToken}, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	d := sink.wait(t)
	assert.Equal(t, body, string(d.Raw))
}

func TestOversizeBodyBecomesParseError(t *testing.T) {
	sink := newCaptureSink()
	s := New(Config{Token: testToken, MaxBodySize: 16, ChunkSize: 8}, sink, log.Discard())

	rec := post(t, s.Handler(), "/", map[string]string{"X-Gitlab-Token": testToken}, `{"padding":"`+strings.Repeat("x", 100)+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	d := sink.wait(t)
	require.Error(t, d.ParseErr)
	assert.Contains(t, d.ParseErr.Error(), "exceeds 16 bytes")
	assert.LessOrEqual(t, len(d.Raw), 16)
}

// firstChunkReader fails the test if anything past the first read is requested.
type firstChunkReader struct {
	t     *testing.T
	reads int
}

func (f *firstChunkReader) Read(p []byte) (int, error) {
	f.reads++
	if f.reads > 1 {
		f.t.Error("body read after rejection")
		return 0, io.EOF
	}
	return copy(p, bytes.Repeat([]byte("x"), len(p))), nil
}

func TestRejectionStopsReadingBody(t *testing.T) {
	s := newTestServer(newCaptureSink())
	body := &firstChunkReader{t: t}
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("X-Gitlab-Token", "wrong")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, body.reads)
}

func TestRejectionOverRealConnection(t *testing.T) {
	s := newTestServer(newCaptureSink())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/x", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	echo := decodeEcho(t, mustRead(t, resp.Body))
	assert.Equal(t, "POST", echo.Method)
	assert.True(t, resp.Close, "server asks the client to drop the connection")
}

func mustRead(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.WebhookConfig{
		Listen:      ":8080",
		Token:       "t",
		MaxBodySize: "2MB",
		ChunkSize:   "16KB",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), cfg.MaxBodySize)
	assert.Equal(t, 16*1024, cfg.ChunkSize)
	assert.Equal(t, DefaultTokenHeader, cfg.TokenHeader)
	assert.Equal(t, DefaultEventHeader, cfg.EventHeader)

	_, err = FromConfig(config.WebhookConfig{})
	assert.Error(t, err)

	_, err = FromConfig(config.WebhookConfig{Token: "t", MaxBodySize: "lots"})
	assert.Error(t, err)
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"1024", 1024, false},
		{"32KB", 32 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"0", 0, true},
		{"-5KB", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMaxBodySize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
