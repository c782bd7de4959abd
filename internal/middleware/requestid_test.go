package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clipforge/streamhub/internal/logger"
)

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", http.NoBody))

	if seen == "" {
		t.Fatal("expected a generated request id in context")
	}
	if got := rec.Header().Get(headerRequestID); got != seen {
		t.Fatalf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/events", http.NoBody)
	req.Header.Set(headerRequestID, "trace-me-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "trace-me-123" {
		t.Fatalf("expected caller-supplied id, got %q", seen)
	}
}
