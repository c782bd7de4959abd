//go:build integration

// Package integration_test drives the full HTTP surface in-process: router,
// middleware, SSE adapter, and stream manager wired the way main does it.
// Run with: go test -tags=integration ./tests/integration/...
package integration_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clipforge/streamhub/internal/adapter/sse"
	"github.com/clipforge/streamhub/internal/domain/event"
	"github.com/clipforge/streamhub/internal/middleware"
	"github.com/clipforge/streamhub/internal/stream"
)

func startStack(t *testing.T) (*stream.Manager, *httptest.Server) {
	t.Helper()

	cfg := stream.DefaultConfig()
	cfg.MaxConnections = 8
	cfg.MaxPerOrigin = 8
	cfg.HeartbeatInterval = time.Hour
	cfg.HealthSampleInterval = time.Hour
	cfg.SweepInterval = time.Hour

	mgr := stream.NewManager(cfg, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = mgr.Stop(context.Background()) })

	r := chi.NewRouter()
	r.Use(middleware.CORS("*"))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)

	(&sse.Handler{Manager: mgr}).Mount(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return mgr, srv
}

type frame struct {
	typ  string
	data string
}

func readFrame(t *testing.T, br *bufio.Reader) frame {
	t.Helper()
	var f frame
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			f.typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		case line == "" && f.typ != "":
			return f
		}
	}
}

func TestEndToEndDelivery(t *testing.T) {
	mgr, srv := startStack(t)

	// Two subscribers with different interests.
	progressResp, err := http.Get(srv.URL + "/events?client_id=progress-watcher&types=job_progress")
	if err != nil {
		t.Fatal(err)
	}
	defer progressResp.Body.Close()
	progressBr := bufio.NewReader(progressResp.Body)

	allResp, err := http.Get(srv.URL + "/events?client_id=all-watcher")
	if err != nil {
		t.Fatal(err)
	}
	defer allResp.Body.Close()
	allBr := bufio.NewReader(allResp.Body)

	// Both get a confirmation frame first.
	for _, br := range []*bufio.Reader{progressBr, allBr} {
		if f := readFrame(t, br); f.typ != string(event.TypeConnected) {
			t.Fatalf("expected connected frame, got %q", f.typ)
		}
	}

	if err := mgr.SendProgress("job-42", 0.25, "downloading"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.SendCompletion("job-42", json.RawMessage(`{"url":"https://cdn.example/42.mp4"}`)); err != nil {
		t.Fatal(err)
	}

	// progress-watcher sees only the progress event.
	f := readFrame(t, progressBr)
	if f.typ != string(event.TypeJobProgress) {
		t.Fatalf("progress watcher got %q", f.typ)
	}
	var ev event.Event
	if err := json.Unmarshal([]byte(f.data), &ev); err != nil {
		t.Fatalf("progress frame is not an event: %v", err)
	}
	var p event.ProgressPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.JobID != "job-42" || p.Progress != 0.25 {
		t.Fatalf("unexpected progress payload %+v", p)
	}

	// all-watcher sees both, in order.
	if f := readFrame(t, allBr); f.typ != string(event.TypeJobProgress) {
		t.Fatalf("all watcher first frame %q", f.typ)
	}
	if f := readFrame(t, allBr); f.typ != string(event.TypeJobComplete) {
		t.Fatalf("all watcher second frame %q", f.typ)
	}

	if stats := mgr.PoolStats(); stats.Total != 2 {
		t.Fatalf("expected 2 pooled connections, got %d", stats.Total)
	}
}

func TestStatusSurface(t *testing.T) {
	_, srv := startStack(t)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Health struct {
			Status string `json:"status"`
		} `json:"health"`
		Pool struct {
			Total int `json:"total"`
		} `json:"pool"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Health.Status == "" {
		t.Fatal("expected a health status")
	}
}
