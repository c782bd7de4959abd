package nats

import (
	"encoding/json"
	"testing"

	"github.com/clipforge/streamhub/internal/domain/event"
)

func TestSubjectEventType(t *testing.T) {
	tests := []struct {
		subject string
		want    event.Type
		ok      bool
	}{
		{"jobs.abc123.progress", event.TypeJobProgress, true},
		{"jobs.abc123.complete", event.TypeJobComplete, true},
		{"jobs.abc123.error", event.TypeJobError, true},
		{"jobs.abc123.unknown", "", false},
		{"jobs..progress", "", false},
		{"jobs.abc123", "", false},
		{"tasks.abc123.progress", "", false},
		{"jobs.abc.def.progress", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			got, ok := subjectEventType(tt.subject)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("subjectEventType(%q) = (%q, %v), want (%q, %v)",
					tt.subject, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRawPayloadPassesJSONThrough(t *testing.T) {
	in := []byte(`{"job_id":"j1","progress":50}`)
	out := rawPayload(in)
	if string(out) != string(in) {
		t.Fatalf("expected JSON passthrough, got %s", out)
	}
}

func TestRawPayloadQuotesPlainText(t *testing.T) {
	out := rawPayload([]byte("plain text payload"))
	var s string
	if err := json.Unmarshal(out, &s); err != nil {
		t.Fatalf("expected a JSON string, got %s: %v", out, err)
	}
	if s != "plain text payload" {
		t.Fatalf("expected original text, got %q", s)
	}
}
