package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func captureDefault(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewHandler(&buf, level, "json")))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestFromContext_Fields(t *testing.T) {
	buf := captureDefault(t, "info")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = With(ctx, "import_id", "imp-1")
	ctx = With(ctx, "entity", "prompts")

	WithFields(ctx, "line", 3).Info("row written")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"msg":        "row written",
		"request_id": "req-1",
		"import_id":  "imp-1",
		"entity":     "prompts",
		"line":       float64(3),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestNewHandler_Level(t *testing.T) {
	buf := captureDefault(t, "warn")

	FromContext(context.Background()).Info("hidden")
	FromContext(context.Background()).Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("output = %q, want only the warn line", out)
	}
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "info", "text")).Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Errorf("output = %q", buf.String())
	}
}
