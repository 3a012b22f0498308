package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gambiarra-ai/gambiarra/internal/filectx"
	"github.com/gambiarra-ai/gambiarra/internal/sandbox"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

func newTestRunner(t *testing.T) (*Runner, *filectx.Tracker, string) {
	t.Helper()
	root := t.TempDir()
	paths, err := sandbox.NewPathSandbox(root)
	if err != nil {
		t.Fatal(err)
	}
	tracker := filectx.New(0)
	return NewRunner(paths, tracker, nil), tracker, paths.Root()
}

func TestRunnerWriteThenRead(t *testing.T) {
	r, tracker, root := newTestRunner(t)
	ctx := context.Background()

	write := r.Execute(ctx, "write_to_file", map[string]any{
		"path": "notes.txt", "content": "alpha\nbeta\n", "line_count": 2,
	})
	if write.IsError() {
		t.Fatalf("write failed: %+v", write.Error)
	}

	read := r.Execute(ctx, "read_file", map[string]any{"path": "notes.txt"})
	if read.IsError() {
		t.Fatalf("read failed: %+v", read.Error)
	}
	if read.Data != "alpha\nbeta\n" {
		t.Errorf("unexpected content: %q", read.Data)
	}

	resolved := filepath.Join(root, "notes.txt")
	if stale, _ := tracker.Check(resolved); stale {
		t.Error("file read after writing must not be stale")
	}
}

func TestRunnerWriteAfterReadMarksStale(t *testing.T) {
	r, tracker, root := newTestRunner(t)
	ctx := context.Background()

	r.Execute(ctx, "write_to_file", map[string]any{
		"path": "a.txt", "content": "v1\n", "line_count": 1,
	})
	r.Execute(ctx, "read_file", map[string]any{"path": "a.txt"})
	r.Execute(ctx, "write_to_file", map[string]any{
		"path": "a.txt", "content": "v2\n", "line_count": 1,
	})

	stale, reason := tracker.Check(filepath.Join(root, "a.txt"))
	if !stale || !strings.Contains(reason, "modified by tool") {
		t.Errorf("write after read should mark stale, got stale=%v reason=%q", stale, reason)
	}
}

func TestRunnerReadLineRangeFromWireFloats(t *testing.T) {
	r, _, root := newTestRunner(t)
	if err := os.WriteFile(filepath.Join(root, "n.txt"), []byte("1\n2\n3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// JSON decoding delivers numbers as float64.
	result := r.Execute(context.Background(), "read_file", map[string]any{
		"path": "n.txt", "line_range": []any{float64(2), float64(3)},
	})
	if result.IsError() || result.Data != "2\n3" {
		t.Errorf("expected lines 2-3, got %+v", result)
	}
}

func TestRunnerRejectsEscapingPath(t *testing.T) {
	r, _, _ := newTestRunner(t)
	result := r.Execute(context.Background(), "read_file", map[string]any{
		"path": "../../../etc/passwd",
	})
	if !result.IsError() || result.Error.Code != protocol.ErrCodeSecurity {
		t.Errorf("expected SECURITY_ERROR, got %+v", result)
	}
}

func TestRunnerRejectsIgnoredPath(t *testing.T) {
	r, _, _ := newTestRunner(t)
	result := r.Execute(context.Background(), "write_to_file", map[string]any{
		"path": ".env", "content": "SECRET=1\n", "line_count": 1,
	})
	if !result.IsError() || result.Error.Code != protocol.ErrCodeSecurity {
		t.Errorf("expected SECURITY_ERROR for ignored path, got %+v", result)
	}
}

func TestRunnerRejectsBlockedCommand(t *testing.T) {
	r, _, _ := newTestRunner(t)
	result := r.Execute(context.Background(), "execute_command", map[string]any{
		"command": "echo hi; rm -rf /",
	})
	if !result.IsError() || result.Error.Code != protocol.ErrCodeSecurity {
		t.Errorf("expected SECURITY_ERROR, got %+v", result)
	}
}

func TestRunnerRunsAllowedCommand(t *testing.T) {
	r, _, _ := newTestRunner(t)
	result := r.Execute(context.Background(), "execute_command", map[string]any{
		"command": "echo sandboxed",
	})
	if result.IsError() {
		t.Fatalf("command failed: %+v", result.Error)
	}
	if !strings.Contains(result.Data.(string), "sandboxed") {
		t.Errorf("missing output: %q", result.Data)
	}
}

func TestRunnerInsertAndReplace(t *testing.T) {
	r, _, root := newTestRunner(t)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("one\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	insert := r.Execute(ctx, "insert_content", map[string]any{
		"path": "f.txt", "line_number": float64(2), "content": "two",
	})
	if insert.IsError() {
		t.Fatalf("insert failed: %+v", insert.Error)
	}

	replace := r.Execute(ctx, "search_and_replace", map[string]any{
		"path": "f.txt", "search": "three", "replace": "3",
	})
	if replace.IsError() {
		t.Fatalf("replace failed: %+v", replace.Error)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "one\ntwo\n3\n" {
		t.Errorf("unexpected content: %q", got)
	}
}

func TestRunnerSearchAndList(t *testing.T) {
	r, _, root := newTestRunner(t)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(root, "x.go"), []byte("package x\n// TODO later\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	search := r.Execute(ctx, "search_files", map[string]any{"path": ".", "regex": "TODO"})
	if search.IsError() {
		t.Fatalf("search failed: %+v", search.Error)
	}

	list := r.Execute(ctx, "list_files", map[string]any{"path": ".", "recursive": true})
	if list.IsError() {
		t.Fatalf("list failed: %+v", list.Error)
	}
}

func TestRunnerFollowupQuestion(t *testing.T) {
	r, _, _ := newTestRunner(t)

	noUser := r.Execute(context.Background(), "ask_followup_question",
		map[string]any{"question": "which one?"})
	if !noUser.IsError() {
		t.Error("expected failure without an answer source")
	}

	r.AskUser = func(_ context.Context, question string) (string, error) {
		return "answer to " + question, nil
	}
	result := r.Execute(context.Background(), "ask_followup_question",
		map[string]any{"question": "which one?"})
	if result.IsError() || result.Data != "answer to which one?" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRunnerCompletionAndTodos(t *testing.T) {
	r, _, _ := newTestRunner(t)
	var completed, todos string
	r.OnCompletion = func(result string) { completed = result }
	r.OnTodos = func(list string) { todos = list }

	done := r.Execute(context.Background(), "attempt_completion",
		map[string]any{"result": "all tests pass"})
	if done.IsError() || completed != "all tests pass" {
		t.Errorf("completion not delivered: %+v", done)
	}

	todo := r.Execute(context.Background(), "update_todo_list",
		map[string]any{"todos": "[x] step one"})
	if todo.IsError() || todos != "[x] step one" {
		t.Errorf("todos not delivered: %+v", todo)
	}
}

func TestRunnerUnknownTool(t *testing.T) {
	r, _, _ := newTestRunner(t)
	result := r.Execute(context.Background(), "browser_action", map[string]any{"action": "launch"})
	if !result.IsError() || result.Error.Code != protocol.ErrCodeToolNotFound {
		t.Errorf("expected TOOL_NOT_FOUND, got %+v", result)
	}
}
