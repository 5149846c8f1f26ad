// Package server is the HTTP front the client talks to, grounded on the
// teacher's internal/server/server.go for its Start/Shutdown shape, with the
// router itself rewired onto go-chi/chi (the teacher hand-rolls
// http.ServeMux) per SPEC_FULL §B.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/relaykit/clauded/internal/adapter"
	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/transform"
)

// InstanceHeader is the sentinel header /healthz answers with, so
// internal/procguard can tell a running instance of this proxy apart from
// anything else bound to the port (spec §4.6, SPEC_FULL §C.7).
const InstanceHeader = "X-Clauded-Instance"

const shutdownDrain = 10 * time.Second

// Server is the HTTP front for one Adapter.
type Server struct {
	adapter adapter.Adapter
	logger  *slog.Logger
	http    *http.Server
}

// New builds a Server bound to addr, backed by the given Adapter.
func New(addr string, ad adapter.Adapter, logger *slog.Logger) *Server {
	s := &Server{adapter: ad, logger: logger}

	router := chi.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	}))

	router.Get("/healthz", s.handleHealthz)
	router.Post("/v1/messages", s.handleMessages)
	router.NotFound(s.handleNotFound)
	router.MethodNotAllowed(s.handleNotFound)

	s.http = &http.Server{Addr: addr, Handler: router}
	return s
}

// Start binds and serves, blocking until the process asks it to stop via
// Shutdown. It never falls back to a different port (spec §4.6).
func (s *Server) Start() error {
	s.logger.Info("proxy listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and drains in-flight requests for
// up to 10s before forcing close, per spec §5.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, shutdownDrain)
	defer cancel()
	return s.http.Shutdown(drainCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(InstanceHeader, "1")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleNotFound reflects a minimal Anthropic-shaped 404 so the client's own
// error handling stays meaningful, per spec §4.6.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "not_found_error", "message": "not found"},
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	// The client may send a dummy authorization credential; the proxy
	// ignores it, real credentials live in the Adapter's Client (spec §4.6).
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		s.writeAPIError(w, apierr.Wrap(apierr.KindInvalidClientRequest, "failed to read request body", err))
		return
	}

	msg, err := decodeClientMessage(body)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	inputTokens := transform.CountInputTokens(string(body), s.logger)

	if msg.Stream {
		s.handleStreamingMessage(w, r, msg, inputTokens)
		return
	}

	resp, err := s.adapter.Handle(r.Context(), msg, inputTokens)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, encodeClientResponse(resp))
}

func (s *Server) handleStreamingMessage(w http.ResponseWriter, r *http.Request, msg transform.ClientMessage, inputTokens int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeAPIError(w, apierr.New(apierr.KindInternalError, "streaming unsupported by response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sentBytes := false
	emit := func(ev transform.ClientEvent) error {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, data); err != nil {
			return err
		}
		sentBytes = true
		flusher.Flush()
		return nil
	}

	err := s.adapter.HandleStream(r.Context(), msg, inputTokens, emit)
	if err == nil {
		return
	}

	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.Internal(err)
	}
	if apiErr.Kind == apierr.KindUpstreamCancelled {
		return
	}

	if !sentBytes {
		// nothing reached the client yet; nothing more to do over an
		// already-declared text/event-stream response.
		s.logger.Error("stream failed before any bytes were sent", "error", apiErr)
		return
	}

	// A failure after bytes were sent still needs a terminal frame, per
	// spec §7's "never a mid-stream abrupt close" rule.
	_ = emit(transform.ClientEvent{Event: "message_delta", Data: map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "error"},
	}})
	_ = emit(transform.ClientEvent{Event: "message_stop", Data: map[string]any{"type": "message_stop"}})
}

func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.Internal(err)
	}
	if apiErr.Kind == apierr.KindInternalError {
		s.logger.Error("internal error", "incident_id", apiErr.IncidentID, "cause", apiErr.Unwrap())
	}
	writeError(w, apiErr.Kind.HTTPStatus(), apiErr.ClientBody())
}

func writeError(w http.ResponseWriter, status int, body map[string]any) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// loggingMiddleware logs method, path, status and duration. It never logs
// request or response bodies (spec §4.6 hard requirement).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"bytes", sw.bytes,
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

// Flush passes through to the wrapped writer so streaming handlers behind
// this middleware can still flush SSE frames.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
