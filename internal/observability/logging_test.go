package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info("provider configured",
		"key", "sk-ant-REDACTED",
		"model", "claude-sonnet-4-20250514")

	out := buf.String()
	if strings.Contains(out, "sk-ant-") {
		t.Errorf("API key leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
	if !strings.Contains(out, "claude-sonnet-4-20250514") {
		t.Errorf("non-secret attribute should survive: %s", out)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
}

func TestNewLoggerRedactsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})

	logger.Warn("request failed with token: abc123def456ghi789")
	if strings.Contains(buf.String(), "abc123def456ghi789") {
		t.Errorf("token in message should be masked: %s", buf.String())
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn record should pass: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})
	scoped := logger.With("api_key", "sk-ant-REDACTED")

	scoped.InfoContext(context.Background(), "scoped")
	if strings.Contains(buf.String(), "sk-ant-") {
		t.Errorf("pre-bound attribute should be masked: %s", buf.String())
	}
}
