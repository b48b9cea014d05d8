package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitLogFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	InitLog("warn", "json")

	Info("hidden")
	Warn("visible", "applet", "demo_test")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"visible"`) || !strings.Contains(out, `"applet":"demo_test"`) {
		t.Errorf("expected JSON record with attributes, got %s", out)
	}
}

func TestErrorfWrapsCause(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	cause := errors.New("boom")
	err := Errorf("upload failed: %w", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("Errorf result should wrap its cause")
	}
	if !strings.Contains(buf.String(), "upload failed: boom") {
		t.Errorf("Errorf should log the message, got %q", buf.String())
	}
}
