package logger

import (
	"log/slog"
	"testing"

	"github.com/clipforge/streamhub/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSync(t *testing.T) {
	log, closer := New(config.Logging{Level: "info", Service: "streamhub-test"})
	if log == nil {
		t.Fatal("expected a logger")
	}
	closer.Close() // nopCloser must be safe to call
}

func TestNewAsync(t *testing.T) {
	log, closer := New(config.Logging{Level: "debug", Service: "streamhub-test", Async: true})
	log.Debug("buffered record")
	closer.Close() // flushes workers without panicking
}
