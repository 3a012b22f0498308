package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Defaults to "info".
	Level string

	// Format is "json" or "text". Defaults to "json".
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource includes file and line in records.
	AddSource bool

	// RedactPatterns are additional regexes whose matches are masked.
	// Provider API keys and common secret shapes are masked by default.
	RedactPatterns []string
}

// DefaultRedactPatterns mask secrets that tend to leak into tool output
// and provider request logs.
var DefaultRedactPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9]{40,}`,
	`(?i)(api[_-]?key|token|secret|password)[\s:=]+["']?[^\s"']{8,}["']?`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger builds a slog.Logger with level control and secret
// redaction. The redaction runs over the message and every string
// attribute before the record is encoded.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(config.Level),
		AddSource: config.AddSource,
	}
	var inner slog.Handler
	if strings.EqualFold(config.Format, "text") {
		inner = slog.NewTextHandler(config.Output, opts)
	} else {
		inner = slog.NewJSONHandler(config.Output, opts)
	}

	patterns := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, raw := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		patterns = append(patterns, re)
	}

	return slog.New(&redactHandler{inner: inner, patterns: patterns})
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const redactedMask = "[REDACTED]"

// redactHandler masks secrets before handing records to the inner
// handler.
type redactHandler struct {
	inner    slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		masked[i] = h.redactAttr(attr)
	}
	return &redactHandler{inner: h.inner.WithAttrs(masked), patterns: h.patterns}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), patterns: h.patterns}
}

func (h *redactHandler) redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redact(attr.Value.String()))
	case slog.KindGroup:
		group := attr.Value.Group()
		masked := make([]any, 0, len(group))
		for _, member := range group {
			masked = append(masked, h.redactAttr(member))
		}
		return slog.Group(attr.Key, masked...)
	default:
		return attr
	}
}

func (h *redactHandler) redact(s string) string {
	for _, re := range h.patterns {
		s = re.ReplaceAllString(s, redactedMask)
	}
	return s
}
