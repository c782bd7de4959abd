package sse

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

	"github.com/clipforge/streamhub/internal/domain/event"
	"github.com/clipforge/streamhub/internal/stream"
)

func testServer(t *testing.T) (*stream.Manager, *httptest.Server) {
	t.Helper()
	cfg := stream.DefaultConfig()
	cfg.MaxConnections = 4
	cfg.MaxPerOrigin = 2
	cfg.HeartbeatInterval = time.Hour
	cfg.HealthSampleInterval = time.Hour
	cfg.SweepInterval = time.Hour

	m := stream.NewManager(cfg, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	r := chi.NewRouter()
	(&Handler{Manager: m}).Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return m, srv
}

// readFrame scans one "event:"/"data:" pair off the stream.
func readFrame(t *testing.T, br *bufio.Reader) (string, string) {
	t.Helper()
	var typ, data string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && typ != "":
			return typ, data
		}
	}
}

func TestStreamDeliversConfirmationAndEvents(t *testing.T) {
	m, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/events?client_id=viewer-1&types=job_progress")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	br := bufio.NewReader(resp.Body)
	typ, data := readFrame(t, br)
	if typ != string(event.TypeConnected) {
		t.Fatalf("expected connected frame first, got %q", typ)
	}
	var ev event.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("connected frame is not an event: %v", err)
	}

	if err := m.SendProgress("job-7", 0.5, "transcoding"); err != nil {
		t.Fatal(err)
	}
	typ, _ = readFrame(t, br)
	if typ != string(event.TypeJobProgress) {
		t.Fatalf("expected progress frame, got %q", typ)
	}
}

func TestStreamRejectsWhenPoolFull(t *testing.T) {
	m, srv := testServer(t)

	// Fill the pool directly; httptest clients all share one origin so the
	// per-origin cap would trip first otherwise.
	for i := 0; i < 4; i++ {
		if _, err := m.Admit("10.0.0."+string(rune('1'+i)), "filler", "", nil); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After hint")
	}
}

func TestStreamDisconnectsOnClientClose(t *testing.T) {
	m, srv := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?client_id=leaver", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	readFrame(t, br) // connected

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for m.PoolStats().Total != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not removed after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamSurvivesSameIDReconnect(t *testing.T) {
	m, srv := testServer(t)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	req1, _ := http.NewRequestWithContext(ctx1, http.MethodGet, srv.URL+"/events?client_id=viewer-9", nil)
	resp1, err := http.DefaultClient.Do(req1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp1.Body.Close()
	readFrame(t, bufio.NewReader(resp1.Body)) // connected

	// Reconnect with the same client_id. Admission closes the first
	// connection; the first handler unwinds in the background.
	resp2, err := http.Get(srv.URL + "/events?client_id=viewer-9")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	br2 := bufio.NewReader(resp2.Body)
	readFrame(t, br2) // connected
	cancel1()

	// The unwinding first handler must not evict the replacement.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if m.PoolStats().Total == 0 {
			t.Fatal("replacement connection evicted by the stale handler")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := m.SendProgress("job-9", 0.9, "uploading"); err != nil {
		t.Fatal(err)
	}
	typ, _ := readFrame(t, br2)
	if typ != string(event.TypeJobProgress) {
		t.Fatalf("expected progress frame on the replacement stream, got %q", typ)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"health", "pool", "compression"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("status response missing %q", key)
		}
	}
}

func TestParseTypes(t *testing.T) {
	got := parseTypes(" job_progress, job_complete ,,")
	if len(got) != 2 || got[0] != event.TypeJobProgress || got[1] != event.TypeJobComplete {
		t.Fatalf("unexpected parse result %v", got)
	}
	if parseTypes("") != nil {
		t.Fatal("empty input should yield nil")
	}
}
