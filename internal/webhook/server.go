package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/mattjoyce/dgw/internal/auth"
	"github.com/mattjoyce/dgw/internal/events"
)

// Server represents the webhook HTTP server.
type Server struct {
	config Config
	sink   Sink
	logger *slog.Logger
	server *http.Server

	mu  sync.RWMutex
	tap Tap
	hub *events.Hub

	// inflight tracks deliveries still being handed to the sink.
	inflight sync.WaitGroup
	baseCtx  context.Context
}

// New creates a new webhook server instance.
func New(config Config, sink Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  config.withDefaults(),
		sink:    sink,
		logger:  logger,
		baseCtx: context.Background(),
	}
}

// SetTap installs (or, with nil, removes) the raw body observer.
func (s *Server) SetTap(t Tap) {
	s.mu.Lock()
	s.tap = t
	s.mu.Unlock()
}

// SetHub publishes webhook accept/reject events to hub.
func (s *Server) SetHub(h *events.Hub) {
	s.mu.Lock()
	s.hub = h
	s.mu.Unlock()
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		s.Wait()
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Wait blocks until every accepted delivery has reached the sink.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// Handler returns the routed handler with the standard middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Any path; the router answers other methods with 405.
	r.Post("/", s.handleWebhook)
	r.Post("/*", s.handleWebhook)

	return r
}

// loggingMiddleware logs HTTP requests (excludes tokens and payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleWebhook reads the body chunk by chunk. The token is checked exactly
// once, when the first chunk (or EOF on an empty body) arrives.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	logger := s.logger.With("request_id", reqID)

	var (
		state     = stateUnchecked
		eventType string
		body      []byte
		oversize  bool
		readErr   error
	)
	chunk := make([]byte, s.config.ChunkSize)

	for {
		n, err := r.Body.Read(chunk)
		eof := errors.Is(err, io.EOF)

		if state == stateUnchecked && (n > 0 || eof) {
			if reason := s.validate(r); reason != "" {
				state = stateInvalid
				logger.Warn("webhook rejected", "reason", reason, "path", r.URL.Path)
				s.publish(events.WebhookRejected, map[string]any{"reason": reason, "path": r.URL.Path})
				s.reject(w, r)
				return
			}
			state = stateValid
			eventType = r.Header.Get(s.config.EventHeader)
		}

		if n > 0 && !oversize {
			if int64(len(body)+n) > s.config.MaxBodySize {
				oversize = true
			} else {
				body = append(body, chunk[:n]...)
			}
		}

		if eof {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if oversize {
			break
		}
	}

	if readErr != nil && state != stateValid {
		logger.Warn("webhook body read failed before validation", "error", readErr)
		return
	}

	s.respond(w, http.StatusOK, s.echo(r))

	del := Delivery{
		RequestID:   reqID,
		EventType:   eventType,
		ContentType: r.Header.Get("Content-Type"),
		Raw:         body,
		ReceivedAt:  time.Now().UTC(),
	}
	switch {
	case oversize:
		del.ParseErr = fmt.Errorf("body exceeds %d bytes", s.config.MaxBodySize)
	case readErr != nil:
		del.ParseErr = fmt.Errorf("body read interrupted after %d bytes: %w", len(body), readErr)
	}

	logger.Info("webhook accepted", "event_type", eventType, "bytes", len(body))
	s.publish(events.WebhookAccepted, map[string]any{"event_type": eventType, "bytes": len(body)})

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(del)
	}()
}

// validate returns a non-empty reason when the request must be rejected.
func (s *Server) validate(r *http.Request) string {
	values, ok := r.Header[http.CanonicalHeaderKey(s.config.TokenHeader)]
	if !ok || len(values) == 0 {
		return "missing token header"
	}
	if !auth.IsValidString(values[0], s.config.Token) {
		return "invalid token"
	}
	return ""
}

// deliver taps and parses the body, then hands it to the sink.
func (s *Server) deliver(del Delivery) {
	s.mu.RLock()
	tap, ctx := s.tap, s.baseCtx
	s.mu.RUnlock()
	if tap != nil {
		tap.Capture(del)
	}

	if del.ParseErr == nil {
		del.Payload, del.ParseErr = parseBody(del.ContentType, del.Raw)
	}
	if s.sink != nil {
		s.sink.Accept(ctx, del)
	}
}

// parseBody checks the body is JSON. The error names the declared content
// type so the operator can see what the sender claimed.
func parseBody(contentType string, body []byte) (json.RawMessage, error) {
	if json.Valid(body) {
		return json.RawMessage(body), nil
	}
	declared := contentType
	if declared == "" {
		declared = "no content type"
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("declared %s but body is empty", declared)
	}
	return nil, fmt.Errorf("declared %s but body is not valid JSON", declared)
}

// reject writes the 400 echo and drops the connection so the client stops
// sending. Writers that cannot be hijacked get Connection: close instead.
func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	payload, _ := json.Marshal(s.echo(r))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(payload)

	rc := http.NewResponseController(w)
	_ = rc.Flush()
	conn, _, err := rc.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

// echo builds the diagnostic body. Header keys are lower-cased and the token
// value is never reflected.
func (s *Server) echo(r *http.Request) Echo {
	headers := make(map[string]string, len(r.Header))
	tokenKey := strings.ToLower(s.config.TokenHeader)
	for k, v := range r.Header {
		key := strings.ToLower(k)
		if key == tokenKey {
			headers[key] = "[redacted]"
			continue
		}
		headers[key] = strings.Join(v, ", ")
	}
	return Echo{
		Headers: headers,
		Method:  r.Method,
		URL:     r.URL.RequestURI(),
		Body:    "",
	}
}

// respond sends a JSON response.
func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) publish(eventType string, data any) {
	s.mu.RLock()
	hub := s.hub
	s.mu.RUnlock()
	if hub != nil {
		hub.Publish(eventType, data)
	}
}
