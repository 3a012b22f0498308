package shell

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

func TestSplitWords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"plain", "ls -la src", []string{"ls", "-la", "src"}, false},
		{"extra whitespace", "  grep   -n  TODO ", []string{"grep", "-n", "TODO"}, false},
		{"single quotes", "grep 'two words' file", []string{"grep", "two words", "file"}, false},
		{"double quotes", `echo "a b" c`, []string{"echo", "a b", "c"}, false},
		{"escaped quote in double", `echo "say \"hi\""`, []string{"echo", `say "hi"`}, false},
		{"backslash escape", `echo a\ b`, []string{"echo", "a b"}, false},
		{"empty quoted arg", `printf ''`, []string{"printf", ""}, false},
		{"adjacent quoting", `echo a'b c'd`, []string{"echo", "ab cd"}, false},
		{"unterminated single", "echo 'oops", nil, true},
		{"unterminated double", `echo "oops`, nil, true},
		{"trailing backslash", `echo oops\`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitWords(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitWords(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitWords(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner(t.TempDir())
	result := r.Run(context.Background(), "echo hello world", 0)
	if result.IsError() {
		t.Fatalf("run failed: %+v", result.Error)
	}
	if !strings.Contains(result.Data.(string), "hello world") {
		t.Errorf("stdout not captured: %q", result.Data)
	}
	if result.Metadata["exit_code"] != 0 {
		t.Errorf("expected exit code 0, got %v", result.Metadata["exit_code"])
	}
}

func TestRunStreamsLines(t *testing.T) {
	r := NewRunner(t.TempDir())
	var lines []OutputLine
	r.OnOutput = func(line OutputLine) { lines = append(lines, line) }

	result := r.Run(context.Background(), "printf 'a\\nb\\n'", 0)
	if result.IsError() {
		t.Fatalf("run failed: %+v", result.Error)
	}
	if len(lines) != 2 || lines[0].Text != "a" || lines[1].Text != "b" {
		t.Errorf("unexpected streamed lines: %+v", lines)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := NewRunner(t.TempDir())
	result := r.Run(context.Background(), "false", 0)
	if !result.IsError() || result.Error.Code != protocol.ErrCodeCommandError {
		t.Errorf("expected COMMAND_ERROR for non-zero exit, got %+v", result)
	}
	if result.Metadata["exit_code"] != 1 {
		t.Errorf("expected exit code 1, got %v", result.Metadata["exit_code"])
	}
}

func TestRunTimeout(t *testing.T) {
	r := NewRunner(t.TempDir())
	start := time.Now()
	result := r.Run(context.Background(), "sleep 5", 200*time.Millisecond)
	if !result.IsError() || result.Error.Code != protocol.ErrCodeCommandTimeout {
		t.Fatalf("expected COMMAND_TIMEOUT, got %+v", result)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not kill the process promptly")
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := NewRunner(t.TempDir())
	result := r.Run(context.Background(), "definitely-not-a-binary-zzz", 0)
	if !result.IsError() || result.Error.Code != protocol.ErrCodeCommandError {
		t.Errorf("expected COMMAND_ERROR, got %+v", result)
	}
}

func TestMinimalEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("SECRET_TOKEN", "hunter2")
	env := minimalEnv()
	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "PATH=/usr/bin") {
		t.Error("PATH must pass through")
	}
	if strings.Contains(joined, "SECRET_TOKEN") {
		t.Error("unlisted variables must not leak into the child environment")
	}
}
