// Package sse is the HTTP adapter that turns manager connection handles into
// Server-Sent Event streams and exposes the read-only status surface.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/streamhub/internal/domain/event"
	"github.com/clipforge/streamhub/internal/stream"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the streaming and observability endpoints.
type Handler struct {
	Manager *stream.Manager
	Logger  *slog.Logger
}

// Mount registers the SSE routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/events", h.stream)
	r.Get("/status", h.status)
	r.Get("/healthz", h.healthz)
}

// stream admits the caller and drains its queue as an SSE stream until the
// client goes away. Query parameters: client_id (optional, reconnects keep
// their id) and types (optional comma-separated subscription list).
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	conn, err := h.Manager.Admit(clientOrigin(r), r.UserAgent(), r.URL.Query().Get("client_id"), parseTypes(r.URL.Query().Get("types")))
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrPoolFull), errors.Is(err, stream.ErrOriginLimit):
			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusTooManyRequests, "capacity exceeded, try again later")
		case errors.Is(err, stream.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "event stream is shutting down")
		default:
			writeError(w, http.StatusInternalServerError, "admission failed")
		}
		return
	}
	// Remove this connection instance, not whatever currently owns the id.
	// A reconnect with the same client_id replaces us in the pool; when this
	// handler unwinds it must not take the replacement down with it.
	defer h.Manager.DisconnectConn(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case ev := <-conn.Events():
			if err := writeFrame(w, ev); err != nil {
				h.logger().Debug("stream write failed", "id", conn.ID(), "error", err)
				return
			}
			flusher.Flush()
			conn.Touch()
		}
	}
}

// writeFrame emits one SSE frame: event, data, blank line.
func writeFrame(w http.ResponseWriter, ev stream.QueuedEvent) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
	return err
}

// status reports the composed health snapshot, pool statistics, compression
// aggregate, and active alerts. Read-only; nothing here can mutate the pool.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"health":      h.Manager.Health(),
		"pool":        h.Manager.PoolStats(),
		"compression": h.Manager.CodecStats(),
		"alerts":      h.Manager.Alerts(),
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.Manager.Health().Status)})
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// clientOrigin extracts the client IP, trusting chi's RealIP middleware to
// have rewritten RemoteAddr when forwarding headers are present.
func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseTypes splits a comma-separated subscription list, dropping blanks.
func parseTypes(raw string) []event.Type {
	if raw == "" {
		return nil
	}
	var out []event.Type
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, event.Type(part))
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
