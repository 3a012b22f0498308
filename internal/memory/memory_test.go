package memory

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

func TestAppendAndExport(t *testing.T) {
	m := New(Config{})
	m.AddSystem("system prompt")
	m.AddUser("hello")
	m.AddAssistant("hi there")
	m.AddToolCall("list_files", map[string]any{"path": "."})
	m.AddToolResult("list_files", "Directories: src", true)

	exported := m.Export(true)
	if len(exported) != 5 {
		t.Fatalf("expected 5 exported messages, got %d", len(exported))
	}
	wantRoles := []string{"system", "user", "assistant", "user", "user"}
	for i, want := range wantRoles {
		if exported[i].Role != want {
			t.Errorf("message %d: role %s, want %s", i, exported[i].Role, want)
		}
	}

	withoutSystem := m.Export(false)
	if len(withoutSystem) != 4 {
		t.Errorf("expected system suppressed, got %d messages", len(withoutSystem))
	}
}

func TestToolResultTruncation(t *testing.T) {
	m := New(Config{})
	long := strings.Repeat("x", 500)
	m.AddToolResult("read_file", long, true)
	msgs := m.Messages()
	if len(msgs[0].Content) != 200 {
		t.Errorf("expected 200-char truncation, got %d", len(msgs[0].Content))
	}
	if full, _ := msgs[0].Metadata["full_result"].(string); len(full) != 500 {
		t.Errorf("full result not kept in metadata")
	}
}

func TestToolResultTruncationKeepsRunesWhole(t *testing.T) {
	m := New(Config{})
	// Multi-byte runes straddling the byte limit must not be split.
	long := strings.Repeat("é", 300)
	m.AddToolResult("read_file", long, true)
	msgs := m.Messages()
	content := msgs[0].Content
	if !utf8.ValidString(content) {
		t.Fatalf("truncation produced invalid UTF-8: %q", content[len(content)-4:])
	}
	if len(content) > toolResultTruncate {
		t.Errorf("content is %d bytes, want at most %d", len(content), toolResultTruncate)
	}
}

func TestReset(t *testing.T) {
	m := New(Config{})
	m.AddUser("hello")
	m.AddAssistant("hi")
	m.Reset()
	if m.Len() != 0 {
		t.Fatalf("expected empty history after reset, got %d messages", m.Len())
	}
	m.AddUser("fresh start")
	if m.Len() != 1 {
		t.Errorf("memory must stay usable after reset")
	}
}

func TestCompactionFoldsToolRuns(t *testing.T) {
	m := New(Config{MaxTokens: 1000, WindowRatio: 0.8})
	m.AddSystem("prompt")
	m.AddUser("do twenty things")
	for i := 0; i < 20; i++ {
		m.AddToolResult("write_to_file", fmt.Sprintf("Created file f%d.txt (%d bytes) %s", i, i*100, strings.Repeat("pad ", 50)), true)
	}

	msgs := m.Messages()
	if m.TotalTokens() > 800 {
		t.Errorf("still over budget after compaction: %d tokens", m.TotalTokens())
	}
	var summary *models.ConversationMessage
	for i := range msgs {
		if strings.HasPrefix(msgs[i].Content, "Tool execution summary:") {
			summary = &msgs[i]
			break
		}
	}
	if summary == nil {
		t.Fatal("expected a tool execution summary message")
	}
	if !strings.Contains(summary.Content, "successful, 0 errors") {
		t.Errorf("summary shape: %q", summary.Content)
	}
	if !strings.Contains(summary.Content, "write_to_file") {
		t.Errorf("summary missing tool name: %q", summary.Content)
	}

	// Last 5 messages survive verbatim.
	tail := msgs[len(msgs)-5:]
	for _, msg := range tail {
		if msg.Metadata["compacted"] == true {
			t.Errorf("recent message was compacted: %q", msg.Content)
		}
	}
}

func TestCompactionPreservesOrder(t *testing.T) {
	m := New(Config{MaxTokens: 600, WindowRatio: 0.8})
	m.AddUser("first")
	for i := 0; i < 10; i++ {
		m.AddToolResult("list_files", strings.Repeat("files ", 30), true)
	}
	m.AddAssistant("middle")
	m.AddUser("last")

	msgs := m.Messages()
	idxFirst, idxMiddle, idxLast := -1, -1, -1
	for i, msg := range msgs {
		switch msg.Content {
		case "first":
			idxFirst = i
		case "middle":
			idxMiddle = i
		case "last":
			idxLast = i
		}
	}
	if idxMiddle == -1 || idxLast == -1 {
		t.Fatal("recent messages must survive compaction")
	}
	if idxFirst != -1 && idxFirst > idxMiddle {
		t.Error("compaction reordered messages")
	}
	if idxMiddle > idxLast {
		t.Error("compaction reordered recent messages")
	}
}

func TestExportReimportRoundTrip(t *testing.T) {
	m := New(Config{})
	m.AddSystem("prompt")
	m.AddUser("question")
	m.AddAssistant("answer")
	first := m.Export(true)

	m2 := New(Config{})
	for _, msg := range first {
		switch msg.Role {
		case "system":
			m2.AddSystem(msg.Content)
		case "user":
			m2.AddUser(msg.Content)
		case "assistant":
			m2.AddAssistant(msg.Content)
		}
	}
	second := m2.Export(true)
	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("message %d mismatch: %+v vs %+v", i, first[i], second[i])
		}
	}
}
